// Package subs wraps go-astisub's SRT/ASS/SSA parsing into the uniform
// in-memory shape the rest of the translation pipeline works with (C1), and
// implements the markup-stripping and drawing-detection passes this package
// requires before any line reaches a translation backend.
package subs

import (
	"fmt"
	"time"

	astisub "github.com/asticode/go-astisub"
)

// Subtitles wraps an astisub document, the same embedding the original media
// pipeline used to add project-specific behaviour on top of the library type.
type Subtitles struct {
	*astisub.Subtitles
}

// SubtitleItem is the uniform projection of one subtitle cue that the batch
// translator, job runner and integrity service operate on, so none of them
// need to know about astisub's item/line/line-item tree.
type SubtitleItem struct {
	Position        int
	StartAt         time.Duration
	EndAt           time.Duration
	Lines           []string
	TranslatedLines []string
}

// OpenFile reads an SRT or ASS/SSA file into a Subtitles document.
func OpenFile(filename string) (*Subtitles, error) {
	s, err := astisub.OpenFile(filename)
	if err != nil {
		return nil, fmt.Errorf("opening subtitle file: %w", err)
	}
	return &Subtitles{s}, nil
}

// WriteFile serializes back to disk in whatever format the extension implies,
// by delegating to astisub the same way the file was opened.
func (s *Subtitles) WriteFile(filename string) error {
	return s.Subtitles.Write(filename)
}

// Items projects the astisub item tree into the uniform SubtitleItem slice.
// Inter-line structure (one string per astisub.Line) is preserved.
func (s *Subtitles) Items() []SubtitleItem {
	out := make([]SubtitleItem, 0, len(s.Subtitles.Items))
	for i, item := range s.Subtitles.Items {
		lines := make([]string, 0, len(item.Lines))
		for _, l := range item.Lines {
			lines = append(lines, l.String())
		}
		out = append(out, SubtitleItem{
			Position: i,
			StartAt:  item.StartAt,
			EndAt:    item.EndAt,
			Lines:    lines,
		})
	}
	return out
}

// ApplyTranslations writes translated text back onto the underlying astisub
// items by position, one line per original line, preserving timing exactly.
// It returns an error, without panicking, when items have drifted in length
// or line count relative to what Items() produced, since that would mean a
// caller translated a different document than the one it read.
func (s *Subtitles) ApplyTranslations(items []SubtitleItem) error {
	if len(items) != len(s.Subtitles.Items) {
		return fmt.Errorf("applying translations: %d items vs %d in document", len(items), len(s.Subtitles.Items))
	}
	for i, it := range items {
		target := s.Subtitles.Items[i]
		if len(it.TranslatedLines) != len(target.Lines) {
			return fmt.Errorf("applying translations: item %d has %d translated lines, document has %d lines", i, len(it.TranslatedLines), len(target.Lines))
		}
		for j, text := range it.TranslatedLines {
			target.Lines[j] = astisub.Line{Items: []astisub.LineItem{{Text: text}}}
		}
	}
	return nil
}

// merge folds astisub items the way the upstream parser occasionally splits
// a single cue into an empty continuation item, and drops lines that are
// pure repeats of the previous cue. Used by extraction cleanup (C3) on
// freshly-extracted SRT streams, which are more prone to this than
// professionally authored files.
func merge(items []*astisub.Item) []*astisub.Item {
	merged := make([]*astisub.Item, 0, len(items))

	var last *astisub.Item
	for _, item := range items {
		if last != nil && len(last.Lines) == 0 {
			mergeWithPrev(last, item)
			continue
		}
		if last != nil && len(item.Lines) > 0 {
			removeOverlap(last, item)
			if len(item.Lines) == 0 {
				mergeWithPrev(last, item)
				continue
			}
		}
		merged = append(merged, item)
		last = item
	}
	return merged
}

func mergeWithPrev(prev, next *astisub.Item) {
	prev.Lines = append(prev.Lines, next.Lines...)
	prev.EndAt = next.EndAt
}

func removeOverlap(prev, next *astisub.Item) {
	for n := minInt(len(prev.Lines), len(next.Lines)); n > 0; n-- {
		if linesEqualTail(prev.Lines, next.Lines, n) {
			next.Lines = next.Lines[n:]
			return
		}
	}
}

func linesEqualTail(prev, next []astisub.Line, n int) bool {
	for i, j := len(prev)-n, 0; i >= 0 && j <= len(next)-1; i, j = i-1, j+1 {
		if prev[i].String() != next[j].String() {
			return false
		}
	}
	return true
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
