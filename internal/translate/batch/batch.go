// Package batch implements the batch translator (C5): chunking, alignment
// validation, and the immediate-split / deferred-repair fallback strategies.
// The ordered collection of per-group results
// mirrors the fan-out/fan-in "waiting room" pattern the original media
// pipeline used in its worker pool and supervisor (internal/core/worker_pool.go,
// concurrency.go), adapted here to a single in-process call sequence rather
// than a concurrent goroutine pool, since one job's batch call is itself the
// unit of work the scheduler parallelizes across jobs.
package batch

import (
	"context"
	"errors"
	"fmt"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/translate"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/pkg/subs"
)

// RetryMode selects the fallback strategy on a batch failure.
type RetryMode string

const (
	ModeImmediate RetryMode = "immediate"
	ModeDeferred  RetryMode = "deferred"
)

// Options carries the per-run batching and fallback configuration.
type Options struct {
	StripFormatting       bool
	MaxBatchSize          int // 0 means unbounded
	RetryMode             RetryMode
	MaxBatchSplitAttempts int
	RepairContextRadius   int
	RepairMaxRetries      int

	// ContextBefore/ContextAfter are counts of neighbouring source lines
	// (by document position, regardless of eligibility) supplied alongside
	// every group's own call to translate_batch as non-translated context.
	// Distinct from RepairContextRadius, which only applies to the
	// deferred-repair phase and supplies already-translated neighbours.
	ContextBefore int
	ContextAfter  int
}

// line is the translator's working unit: one subtitle line plus its
// eligibility and translation state.
type line struct {
	text       string // text actually sent to the backend (post-strip if StripFormatting)
	original   string // text to keep verbatim if ineligible
	eligible   bool
	translated string
	done       bool
}

// ProgressFunc is invoked after each successful group call, after each
// immediate-mode split fallback, after each deferred gap's repair, and once
// at the end (a deferred-mode group that fails reports nothing until its
// repair), with
// floor(100 * translated_lines / eligible_lines), monotone non-decreasing
// within a single Translate call.
type ProgressFunc func(percent int)

// Translate runs the full batching/fallback/repair algorithm over rawLines
// and returns the translated text aligned 1:1 with the input. The length of
// the result always equals len(rawLines).
func Translate(ctx context.Context, bt translate.BatchTranslator, rawLines []string, srcLang, tgtLang string, opts Options, onProgress ProgressFunc) ([]string, error) {
	lines := make([]*line, len(rawLines))
	eligibleTotal := 0
	for i, raw := range rawLines {
		l := &line{original: raw}
		stripped, eligible := subs.IsEligible(raw)
		l.eligible = eligible
		if opts.StripFormatting {
			l.text = stripped
		} else {
			l.text = raw
		}
		if !eligible {
			l.translated = raw
			l.done = true
		} else {
			eligibleTotal++
		}
		lines[i] = l
	}

	emit := func() {
		if onProgress == nil {
			return
		}
		if eligibleTotal == 0 {
			onProgress(100)
			return
		}
		translated := 0
		for _, l := range lines {
			if l.eligible && l.done {
				translated++
			}
		}
		onProgress((translated * 100) / eligibleTotal)
	}

	if eligibleTotal == 0 {
		emit()
		return extractResult(lines), nil
	}

	eligibleIdx := make([]int, 0, eligibleTotal)
	for i, l := range lines {
		if l.eligible {
			eligibleIdx = append(eligibleIdx, i)
		}
	}

	groups := chunk(eligibleIdx, opts.MaxBatchSize)

	var gaps [][]int
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := translateGroup(ctx, bt, lines, group, srcLang, tgtLang, opts.ContextBefore, opts.ContextAfter)
		if err != nil {
			return nil, err
		}
		if ok {
			emit()
			continue
		}

		switch opts.RetryMode {
		case ModeImmediate:
			resolveImmediate(ctx, bt, lines, group, srcLang, tgtLang, opts.MaxBatchSplitAttempts, opts.ContextBefore, opts.ContextAfter)
			emit()
		default: // ModeDeferred
			gaps = append(gaps, group)
		}
	}

	if opts.RetryMode == ModeDeferred {
		for _, gap := range gaps {
			repairGap(ctx, bt, lines, gap, srcLang, tgtLang, opts.RepairContextRadius, opts.RepairMaxRetries)
			emit()
		}
	}

	emit()
	return extractResult(lines), nil
}

func extractResult(lines []*line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		if l.done {
			out[i] = l.translated
		} else {
			out[i] = l.original
		}
	}
	return out
}

func chunk(idx []int, maxSize int) [][]int {
	if maxSize <= 0 || len(idx) <= maxSize {
		return [][]int{idx}
	}
	var groups [][]int
	for len(idx) > 0 {
		n := maxSize
		if n > len(idx) {
			n = len(idx)
		}
		groups = append(groups, idx[:n])
		idx = idx[n:]
	}
	return groups
}

// translateGroup calls TranslateBatch for the given indices and writes the
// results back on success. Returns ok=false (not an error) on an alignment
// failure, so callers can branch into the configured fallback. ctxBefore/
// ctxAfter neighbouring source lines (by document position) are attached as
// non-translated context on every call, independent of the repair phase.
func translateGroup(ctx context.Context, bt translate.BatchTranslator, lines []*line, group []int, srcLang, tgtLang string, ctxBefore, ctxAfter int) (bool, error) {
	texts := make([]string, len(group))
	for i, idx := range group {
		texts[i] = lines[idx].text
	}
	before := sourceContext(lines, group[0]-1, -1, ctxBefore)
	after := sourceContext(lines, group[len(group)-1]+1, 1, ctxAfter)

	out, err := bt.TranslateBatch(ctx, texts, before, after, srcLang, tgtLang)
	if err != nil {
		// An adapter that validates alignment itself reports a misaligned
		// reply as InvalidResponse; that is an alignment failure too.
		var te *translate.Error
		if translate.IsRetryable(err) || (errors.As(err, &te) && te.Kind == translate.KindInvalidResponse) {
			return false, nil
		}
		return false, err
	}
	if !alignmentOK(texts, out) {
		return false, nil
	}

	for i, idx := range group {
		lines[idx].translated = out[i]
		lines[idx].done = true
	}
	return true, nil
}

func alignmentOK(in, out []string) bool {
	if len(in) != len(out) {
		return false
	}
	for i, src := range in {
		if src != "" && out[i] == "" {
			return false
		}
	}
	return true
}

// resolveImmediate halves a failed group and recurses up to maxAttempts,
// leaving a surviving size-1 group unresolved (and therefore untranslated)
// if it still fails.
func resolveImmediate(ctx context.Context, bt translate.BatchTranslator, lines []*line, group []int, srcLang, tgtLang string, maxAttempts, ctxBefore, ctxAfter int) {
	if maxAttempts <= 0 || len(group) <= 1 {
		return // leave as an unresolved gap; extractResult falls back to original text
	}
	mid := len(group) / 2
	left, right := group[:mid], group[mid:]

	if ok, err := translateGroup(ctx, bt, lines, left, srcLang, tgtLang, ctxBefore, ctxAfter); err == nil && !ok {
		resolveImmediate(ctx, bt, lines, left, srcLang, tgtLang, maxAttempts-1, ctxBefore, ctxAfter)
	}
	if ok, err := translateGroup(ctx, bt, lines, right, srcLang, tgtLang, ctxBefore, ctxAfter); err == nil && !ok {
		resolveImmediate(ctx, bt, lines, right, srcLang, tgtLang, maxAttempts-1, ctxBefore, ctxAfter)
	}
}

// repairGap retries a deferred gap, supplying up to radius already-translated
// neighbours on each side as non-translated context so the backend can infer
// continuity. Alignment validation on the reply only checks the in-gap
// indices — context lines the backend echoes back are discarded.
func repairGap(ctx context.Context, bt translate.BatchTranslator, lines []*line, gap []int, srcLang, tgtLang string, radius, maxRetries int) {
	beforeIdx := contextNeighbours(lines, gap[0]-1, -1, radius)
	afterIdx := contextNeighbours(lines, gap[len(gap)-1]+1, 1, radius)
	before := translatedTexts(lines, beforeIdx)
	after := translatedTexts(lines, afterIdx)

	texts := make([]string, len(gap))
	for i, idx := range gap {
		texts[i] = lines[idx].text
	}

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return
		}
		out, err := bt.TranslateBatch(ctx, texts, before, after, srcLang, tgtLang)
		if err != nil {
			var te *translate.Error
			if translate.IsRetryable(err) || (errors.As(err, &te) && te.Kind == translate.KindInvalidResponse) {
				continue
			}
			return
		}
		if !alignmentOK(texts, out) {
			continue
		}
		for i, idx := range gap {
			lines[idx].translated = out[i]
			lines[idx].done = true
		}
		return
	}
}

func translatedTexts(lines []*line, idx []int) []string {
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = lines[j].translated
	}
	return out
}

// sourceContext collects up to n neighbouring lines by document position,
// starting at start and moving by step, regardless of eligibility or
// translation state — the raw source text supplied as always-on context for
// a group's own translate_batch call (distinct from repairGap's
// already-translated, eligibility-filtered neighbours).
func sourceContext(lines []*line, start, step, n int) []string {
	var out []string
	for i := start; n > 0 && i >= 0 && i < len(lines); i, n = i+step, n-1 {
		out = append(out, lines[i].text)
	}
	if step < 0 {
		for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
			out[l], out[r] = out[r], out[l]
		}
	}
	return out
}

func contextNeighbours(lines []*line, start, step, radius int) []int {
	var out []int
	for i := start; radius > 0 && i >= 0 && i < len(lines); i += step {
		if lines[i].eligible && lines[i].done {
			out = append(out, i)
			radius--
		} else if !lines[i].eligible {
			continue
		} else {
			break
		}
	}
	if step < 0 {
		// reverse so context reads in document order
		for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
			out[l], out[r] = out[r], out[l]
		}
	}
	return out
}

// Validate is a standalone guard job runner/integrity code can call before
// writing output: it re-confirms the universal invariant that the result
// length always matches the input length.
func Validate(input, output []string) error {
	if len(input) != len(output) {
		return fmt.Errorf("batch translate: result length %d != input length %d", len(output), len(input))
	}
	return nil
}
