package lang

import "testing"

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"eng":    "en",
		"en":     "en",
		"jpn":    "ja",
		"pt-BR":  "pt",
		"pt_br":  "pt",
		"zh-Hant": "zh",
		"":       "",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	for _, code := range []string{"eng", "en", "pt-BR", "jpn", "xyz"} {
		n1 := Normalize(code)
		n2 := Normalize(n1)
		if n1 != n2 {
			t.Errorf("Normalize not idempotent for %q: %q != %q", code, n1, n2)
		}
	}
}

func TestMatchesEmptyNeverMatches(t *testing.T) {
	if Matches("", "") {
		t.Error("empty codes must never match")
	}
	if Matches("en", "") {
		t.Error("non-empty vs empty must not match")
	}
}

func TestFindBestMatch_EmbeddedFallback(t *testing.T) {
	// Scenario: no external English subtitle; media has two embedded
	// ASS streams. Configured sources=[en, ja]. The Japanese full track must
	// win because the English "Signs & Songs" track falls below the quality
	// threshold even though English is the higher-priority source language.
	candidates := []Candidate{
		{Language: "eng", Title: "Signs & Songs", IsForced: true, IsDefault: true},
		{Language: "jpn", Title: "Full Subtitles"},
	}
	got := FindBestMatch(candidates, []string{"en", "ja"})
	if got != 1 {
		t.Fatalf("FindBestMatch = %d, want 1 (the Japanese full track)", got)
	}
}

func TestScoreCandidateSignsAndSongs(t *testing.T) {
	c := Candidate{Language: "eng", Title: "Signs & Songs", IsForced: true, IsDefault: true}
	got := ScoreCandidate(c, "en")
	want := 50 - 40 - 10 + 5
	if got != want {
		t.Errorf("ScoreCandidate = %d, want %d", got, want)
	}
}

func TestFindBestMatchNoMatch(t *testing.T) {
	candidates := []Candidate{{Language: "fra", Title: "Full"}}
	if got := FindBestMatch(candidates, []string{"en"}); got != -1 {
		t.Errorf("FindBestMatch = %d, want -1", got)
	}
}
