// Package lang normalizes language codes and scores embedded-subtitle
// candidates against a configured language-preference list (C2). It is built
// on the same ISO 639-3 table the original media pipeline uses for its own
// language matching, generalized here into the fixed-table folding rule and
// scoring formula the translation pipeline needs.
package lang

import (
	"strings"

	iso "github.com/barbashov/iso639-3"
)

// Candidate is the subset of an embedded subtitle the scorer needs. It is
// intentionally narrower than domain.EmbeddedSubtitle so this package has no
// dependency on the persistence layer.
type Candidate struct {
	Language string
	Title    string
	IsForced bool
	IsDefault bool
}

// normalize folds any recognized ISO 639-1/2/3 code, optionally carrying a
// BCP-47 region/script subtag (e.g. "pt-BR", "zh-Hant"), down to its 2-letter
// base. Unrecognized codes fall back to lower-casing the first two letters,
// matching the "unknown 3-letter -> first two letters" fallback rule.
func Normalize(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	base := code
	if i := strings.IndexAny(code, "-_"); i > 0 {
		base = code[:i]
	}
	base = strings.ToLower(base)

	if l := iso.FromAnyCode(base); l != nil {
		switch {
		case l.Part1 != "":
			return l.Part1
		case l.Part3 != "":
			return firstTwo(l.Part3)
		case l.Part2T != "":
			return firstTwo(l.Part2T)
		case l.Part2B != "":
			return firstTwo(l.Part2B)
		}
	}
	return firstTwo(base)
}

func firstTwo(s string) string {
	if len(s) <= 2 {
		return s
	}
	return s[:2]
}

// Matches reports whether two language codes normalize to the same base.
// Empty inputs never match, including against each other.
func Matches(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return Normalize(a) == Normalize(b)
}

// qualityThreshold is the minimum candidate score at which the language
// priority bonus in FindBestMatch applies (the "quality threshold" glossary
// term): it keeps a high-priority language's signs/songs track from beating
// a lower-priority language's full-dialogue track.
const qualityThreshold = 40

// ScoreCandidate sums the per-signal scoring formula for a single
// embedded-subtitle candidate against one preferred language.
func ScoreCandidate(c Candidate, preferredLang string) int {
	if !Matches(c.Language, preferredLang) {
		return 0
	}
	score := 50
	title := strings.ToLower(c.Title)
	if strings.Contains(title, "full") {
		score += 25
	}
	if strings.Contains(title, "dialog") || strings.Contains(title, "dialogue") {
		score += 20
	}
	if strings.Contains(title, "sub") || strings.Contains(title, "subtitle") {
		score += 10
	}
	if strings.Contains(title, "signs") || strings.Contains(title, "songs") || strings.Contains(title, "karaoke") {
		score -= 40
	}
	if c.IsForced {
		score -= 10
	} else {
		score += 5
	}
	if c.IsDefault {
		score += 5
	}
	return score
}

// Match is one scored (candidate, configured-language) pairing.
type Match struct {
	Index int // index into the candidates slice passed to FindBestMatch
	Score int
	Total int // score plus the priority bonus, used to rank candidates
}

// FindBestMatch scores every candidate against every configured language and
// returns the index of the overall winner: candidates
// whose score reaches the quality threshold also receive a bonus proportional
// to how early their matching language appears in the configured list, so a
// higher-priority language only wins outright when its track actually looks
// like real dialogue. Ties are broken by candidate appearance order. Returns
// -1 if no candidate matches any configured language.
func FindBestMatch(candidates []Candidate, configuredLangs []string) int {
	best := -1
	var bestTotal int
	n := len(configuredLangs)
	for ci, c := range candidates {
		for i, want := range configuredLangs {
			if !Matches(c.Language, want) {
				continue
			}
			score := ScoreCandidate(c, want)
			total := score
			if score >= qualityThreshold {
				total += (n - i) * 80
			}
			if best == -1 || total > bestTotal {
				best = ci
				bestTotal = total
			}
		}
	}
	return best
}
