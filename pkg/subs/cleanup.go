package subs

import (
	"time"

	astisub "github.com/asticode/go-astisub"
)

// CleanupExtractedSRT implements the post-extraction cleanup pass
// requires: drop blocks whose text is an ASS drawing, dedupe consecutive
// entries whose cleaned text is identical (merging their time ranges when the
// gap between them is within 100ms), and strip markup on what remains. It
// operates in place on the freshly extracted file.
func CleanupExtractedSRT(path string) error {
	s, err := OpenFile(path)
	if err != nil {
		return err
	}

	items := s.Subtitles.Items
	items = merge(items)

	const mergeGap = 100 * time.Millisecond

	cleaned := make([]*astisub.Item, 0, len(items))
	for _, item := range items {
		text := joinLines(item)
		stripped := StripMarkup(text)
		if stripped == "" || IsDrawing(stripped) {
			continue
		}
		item.Lines = []astisub.Line{{Items: []astisub.LineItem{{Text: stripped}}}}

		if n := len(cleaned); n > 0 {
			prev := cleaned[n-1]
			if joinLines(prev) == stripped && item.StartAt-prev.EndAt <= mergeGap {
				prev.EndAt = item.EndAt
				continue
			}
		}
		cleaned = append(cleaned, item)
	}

	s.Subtitles.Items = cleaned
	return s.WriteFile(path)
}

func joinLines(item *astisub.Item) string {
	out := ""
	for i, l := range item.Lines {
		if i > 0 {
			out += " "
		}
		out += l.String()
	}
	return out
}
