package batch

import (
	"context"
	"fmt"
	"testing"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/translate"
)

type fakeBackend struct {
	name  string
	calls int
	fn    func(lines []string) ([]string, error)
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) TranslateLine(ctx context.Context, text, src, tgt string) (string, error) {
	out, err := f.TranslateBatch(ctx, []string{text}, nil, nil, src, tgt)
	if err != nil {
		return "", err
	}
	return out[0], nil
}

func (f *fakeBackend) TranslateBatch(ctx context.Context, lines, contextBefore, contextAfter []string, src, tgt string) ([]string, error) {
	f.calls++
	return f.fn(lines)
}

func upper(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l + "_" + "FR"
	}
	return out
}

func TestHappyBatch(t *testing.T) {
	backend := &fakeBackend{name: "fake", fn: func(lines []string) ([]string, error) {
		return upper(lines), nil
	}}
	input := []string{"Hi", "How are you?", "Good, and you?"}
	var progresses []int
	out, err := Translate(context.Background(), backend, input, "en", "fr", Options{MaxBatchSize: 3}, func(p int) {
		progresses = append(progresses, p)
	})
	if err != nil {
		t.Fatalf("Translate error: %v", err)
	}
	if len(out) != len(input) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(input))
	}
	for i, want := range input {
		if out[i] != want+"_FR" {
			t.Errorf("out[%d] = %q, want %q", i, out[i], want+"_FR")
		}
	}
	for i := 1; i < len(progresses); i++ {
		if progresses[i] < progresses[i-1] {
			t.Errorf("progress not monotone: %v", progresses)
		}
	}
}

func TestImmediateSplitRecovers(t *testing.T) {
	attempt := 0
	backend := &fakeBackend{name: "fake", fn: func(lines []string) ([]string, error) {
		attempt++
		if len(lines) == 4 && attempt == 1 {
			// Misaligned reply on the first, full-size attempt.
			return []string{"x"}, nil
		}
		return upper(lines), nil
	}}
	input := []string{"one", "two", "three", "four"}
	out, err := Translate(context.Background(), backend, input, "en", "fr", Options{
		MaxBatchSize:          4,
		RetryMode:             ModeImmediate,
		MaxBatchSplitAttempts: 3,
	}, nil)
	if err != nil {
		t.Fatalf("Translate error: %v", err)
	}
	for i, want := range input {
		if out[i] != want+"_FR" {
			t.Errorf("out[%d] = %q, want %q", i, out[i], want+"_FR")
		}
	}
}

func TestDeferredRepair(t *testing.T) {
	var calls int
	backend := &fakeBackend{name: "fake", fn: func(lines []string) ([]string, error) {
		calls++
		if calls == 2 && len(lines) == 5 && lines[0] == "l5" {
			// second top-level batch: misaligned (returns 4 for 5 input)
			return upper(lines)[:4], nil
		}
		return upper(lines), nil
	}}
	input := make([]string, 10)
	for i := range input {
		input[i] = fmt.Sprintf("l%d", i)
	}
	out, err := Translate(context.Background(), backend, input, "en", "fr", Options{
		MaxBatchSize:        5,
		RetryMode:           ModeDeferred,
		RepairContextRadius: 2,
		RepairMaxRetries:    1,
	}, nil)
	if err != nil {
		t.Fatalf("Translate error: %v", err)
	}
	if len(out) != len(input) {
		t.Fatalf("len(out) = %d, want %d", len(out), len(input))
	}
	for i, want := range input {
		if out[i] != want+"_FR" {
			t.Errorf("out[%d] = %q, want %q (gap repair should translate everything)", i, out[i], want+"_FR")
		}
	}
}

func TestAllDrawingsNoBackendCall(t *testing.T) {
	backend := &fakeBackend{name: "fake", fn: func(lines []string) ([]string, error) {
		t.Fatal("backend should not be called when every line is a drawing")
		return nil, nil
	}}
	input := []string{"{\\p1}m 0 0 l 100 0{\\p0}", "   "}
	out, err := Translate(context.Background(), backend, input, "en", "fr", Options{}, nil)
	if err != nil {
		t.Fatalf("Translate error: %v", err)
	}
	for i, want := range input {
		if out[i] != want {
			t.Errorf("out[%d] = %q, want unchanged %q", i, out[i], want)
		}
	}
	if backend.calls != 0 {
		t.Errorf("backend.calls = %d, want 0", backend.calls)
	}
}

func TestNonRetryableErrorPropagates(t *testing.T) {
	backend := &fakeBackend{name: "fake", fn: func(lines []string) ([]string, error) {
		return nil, translate.NonRetryable(fmt.Errorf("boom"))
	}}
	_, err := Translate(context.Background(), backend, []string{"hi"}, "en", "fr", Options{}, nil)
	if err == nil {
		t.Fatal("expected a non-retryable error to propagate")
	}
}
