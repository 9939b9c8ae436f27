package integrity

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func writeSRT(t *testing.T, dir, name string, cueCount int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	for i := 0; i < cueCount; i++ {
		start, end := i*2, i*2+1
		fmt.Fprintf(f, "%d\n%02d:%02d:%02d,000 --> %02d:%02d:%02d,000\nline %d\n\n",
			i+1, 0, start/60, start%60, 0, end/60, end%60, i+1)
	}
	return path
}

func TestCheckPassesOnEqualLineCount(t *testing.T) {
	dir := t.TempDir()
	src := writeSRT(t, dir, "src.srt", 10)
	tgt := writeSRT(t, dir, "tgt.srt", 10)

	assert.True(t, Check(zerolog.Nop(), src, tgt))
}

func TestCheckFailsWhenTargetLostTooManyLines(t *testing.T) {
	dir := t.TempDir()
	src := writeSRT(t, dir, "src.srt", 100)
	tgt := writeSRT(t, dir, "tgt.srt", 50) // well below the 5% tolerance

	assert.False(t, Check(zerolog.Nop(), src, tgt))
}

func TestCheckTreatsUnreadableSourceAsValid(t *testing.T) {
	dir := t.TempDir()
	tgt := writeSRT(t, dir, "tgt.srt", 10)

	assert.True(t, Check(zerolog.Nop(), filepath.Join(dir, "missing.srt"), tgt))
}
