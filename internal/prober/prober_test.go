package prober

import "testing"

func TestClassifyTextBased(t *testing.T) {
	cases := map[string]bool{
		"ass":               true,
		"srt":               true,
		"subrip":            true,
		"hdmv_pgs_subtitle":  false,
		"dvd_subtitle":      false,
		"some_unknown_codec": false,
	}
	for codec, want := range cases {
		if got := classifyTextBased(codec); got != want {
			t.Errorf("classifyTextBased(%q) = %v, want %v", codec, got, want)
		}
	}
}

func TestIsAvailableFalseForBogusPath(t *testing.T) {
	p := New("/definitely/not/a/real/ffprobe-binary", "")
	if p.IsAvailable() {
		t.Error("IsAvailable should be false for a nonexistent binary")
	}
}
