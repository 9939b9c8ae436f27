package subs

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	reASSDrawingBlock = regexp.MustCompile(`\{\\p1\}.*?\{\\p0\}`)
	reASSStyleRun     = regexp.MustCompile(`\{\\[^}]*\}`)
	reHTMLTag         = regexp.MustCompile(`<[^>]*>`)
	reWhitespace      = regexp.MustCompile(`\s+`)
	reBracketCue      = regexp.MustCompile(`[\[(][^\]\)]*[\])]`)
	reURLOnly         = regexp.MustCompile(`^\s*https?://\S+\s*$`)
	reCreditLine      = regexp.MustCompile(`(?i)^\s*(captioning|synced|subtitle|translat|encoded)\w*\s+.*\bby\b`)
	reMusicalNote     = regexp.MustCompile(`[\x{266A}\x{266B}\x{2669}]`)
)

var assEscapes = strings.NewReplacer(
	`\N`, " ",
	`\n`, " ",
	`\h`, " ",
	`\t`, " ",
)

// StripMarkup runs the markup-stripping pass, applied before
// a line is sent to a translation backend: it removes ASS drawing blocks, ASS
// style runs, HTML-like tags, ASS escape sequences, bracketed sound cues,
// URL-only lines and credit lines, then collapses whitespace. The result is
// idempotent: stripping its own output is a no-op.
func StripMarkup(s string) string {
	s = reASSDrawingBlock.ReplaceAllString(s, "")
	s = reASSStyleRun.ReplaceAllString(s, "")
	s = reHTMLTag.ReplaceAllString(s, "")
	s = assEscapes.Replace(s)
	s = reMusicalNote.ReplaceAllString(s, "")
	s = reBracketCue.ReplaceAllString(s, "")

	if reURLOnly.MatchString(s) || reCreditLine.MatchString(s) {
		return ""
	}

	s = reWhitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// drawingCommandLetters are the single-letter ASS drawing commands recognized
// by IsDrawing's tokenizer (move/line/bezier/spline/close-path).
const drawingCommandLetters = "mnlbspc"

func isDrawingToken(tok string) bool {
	if len(tok) == 1 {
		lower := unicode.ToLower(rune(tok[0]))
		if strings.ContainsRune(drawingCommandLetters, lower) {
			return true
		}
	}
	if _, ok := parseNumberToken(tok); ok {
		return true
	}
	return false
}

func parseNumberToken(tok string) (float64, bool) {
	if tok == "" {
		return 0, false
	}
	seenDigit, seenDot := false, false
	for i, r := range tok {
		switch {
		case r == '-' && i == 0:
			continue
		case r == '.' && !seenDot:
			seenDot = true
		case unicode.IsDigit(r):
			seenDigit = true
		default:
			return 0, false
		}
	}
	if !seenDigit {
		return 0, false
	}
	return 0, true
}

// IsDrawing classifies a post-strip line as an untranslatable ASS drawing
// command versus real text, per a token-majority rule. Lines
// classified as drawings (or as garbage single characters) are filtered out
// of the batch translator's eligible-line set and carried over untranslated.
func IsDrawing(line string) bool {
	tokens := strings.Fields(line)
	switch len(tokens) {
	case 0:
		return false
	case 1:
		tok := tokens[0]
		if len([]rune(tok)) > 1 {
			return false // a lone multi-character word is real text
		}
		if tok == "i" || tok == "I" || tok == "a" || tok == "A" {
			return false
		}
		if _, ok := parseNumberToken(tok); ok {
			return false
		}
		return true // single non-digit, non-i/a character: garbage, treated as drawing
	case 2:
		allDrawingLike := true
		hasCommandLetter := false
		for _, tok := range tokens {
			if !isDrawingToken(tok) {
				allDrawingLike = false
			}
			if len(tok) == 1 {
				lower := unicode.ToLower(rune(tok[0]))
				if strings.ContainsRune(drawingCommandLetters, lower) {
					hasCommandLetter = true
				}
			}
		}
		return allDrawingLike && hasCommandLetter
	default:
		drawingCount := 0
		for _, tok := range tokens {
			if isDrawingToken(tok) {
				drawingCount++
			}
		}
		ratio := float64(drawingCount) / float64(len(tokens))
		return ratio > 0.8
	}
}

// IsEligible reports whether a raw line should be sent to the translation
// backend at all: a line is ineligible (and counts as already translated)
// when stripping yields an empty string or an ASS drawing command.
func IsEligible(raw string) (stripped string, eligible bool) {
	stripped = StripMarkup(raw)
	if stripped == "" {
		return "", false
	}
	if IsDrawing(stripped) {
		return stripped, false
	}
	return stripped, true
}
