package mediastate

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/lang"
)

// subtitleExtensions mirrors the codec's supported container formats.
var subtitleExtensions = map[string]bool{
	".srt": true, ".ass": true, ".ssa": true, ".vtt": true,
}

// ExternalSubtitle is a sidecar subtitle file discovered next to the media,
// not a stream embedded in the container (that's domain.EmbeddedSubtitle).
type ExternalSubtitle struct {
	Path     string
	Language string // guessed from the filename, "" if unknown
}

// discoverExternalSubtitles lists m.Directory and keeps files whose basename
// (extension stripped) starts with the media's base filename — the same
// sidecar-discovery rule the original pipeline's Autosub used.
func discoverExternalSubtitles(dir, baseFilename string) []ExternalSubtitle {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []ExternalSubtitle
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !subtitleExtensions[ext] {
			continue
		}
		trimmed := strings.TrimSuffix(name, filepath.Ext(name))
		if !strings.HasPrefix(trimmed, baseFilename) {
			continue
		}
		out = append(out, ExternalSubtitle{
			Path:     filepath.Join(dir, name),
			Language: guessLangFromSuffix(trimmed, baseFilename),
		})
	}
	return out
}

// guessLangFromSuffix reads the `.<code>` token immediately after the base
// filename, e.g. "movie.en.forced" → "en". Returns "" when absent.
func guessLangFromSuffix(trimmed, baseFilename string) string {
	rest := strings.TrimPrefix(trimmed, baseFilename)
	rest = strings.TrimPrefix(rest, ".")
	if rest == "" {
		return ""
	}
	parts := strings.Split(rest, ".")
	return lang.Normalize(parts[0])
}

// hasLanguageMatch reports whether any subtitle in subs matches one of langs.
func hasLanguageMatch(langCodes []string, configured []string) bool {
	for _, c := range langCodes {
		for _, want := range configured {
			if lang.Matches(c, want) {
				return true
			}
		}
	}
	return false
}

func externalLanguages(subs []ExternalSubtitle) []string {
	out := make([]string, 0, len(subs))
	for _, s := range subs {
		if s.Language != "" {
			out = append(out, s.Language)
		}
	}
	return out
}

func embeddedTextLanguages(embedded []domain.EmbeddedSubtitle) []string {
	out := make([]string, 0, len(embedded))
	for _, e := range embedded {
		if e.IsTextBased {
			out = append(out, e.Language)
		}
	}
	return out
}
