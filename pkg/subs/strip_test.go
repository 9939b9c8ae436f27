package subs

import "testing"

func TestStripMarkupIdempotent(t *testing.T) {
	cases := []string{
		"{\\p1}m 0 0 l 100 0{\\p0}",
		"<i>Hello</i> {\\an8}there",
		"[wind blowing]",
		"Subtitles by John Doe",
		"https://example.com/subs",
		"Plain line with no markup",
	}
	for _, c := range cases {
		once := StripMarkup(c)
		twice := StripMarkup(once)
		if once != twice {
			t.Errorf("StripMarkup not idempotent for %q: %q != %q", c, once, twice)
		}
	}
}

func TestStripMarkupRemovesCreditAndURL(t *testing.T) {
	if got := StripMarkup("Subtitles synced by someone"); got != "" {
		t.Errorf("credit line not stripped to empty, got %q", got)
	}
	if got := StripMarkup("https://example.com/foo"); got != "" {
		t.Errorf("URL-only line not stripped to empty, got %q", got)
	}
}

func TestIsDrawing(t *testing.T) {
	cases := map[string]bool{
		"m 0 0 l 100 0 l 100 100": true,
		"Hello there, friend":     false,
		"i":                       false,
		"X":                       true,
		"m 0":                     true,
	}
	for in, want := range cases {
		if got := IsDrawing(in); got != want {
			t.Errorf("IsDrawing(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestIsEligibleFiltersDrawingsAndEmpty(t *testing.T) {
	if _, ok := IsEligible("{\\p1}m 0 0 l 100 0{\\p0}"); ok {
		t.Error("drawing command should be ineligible")
	}
	if _, ok := IsEligible("   "); ok {
		t.Error("blank line should be ineligible")
	}
	if _, ok := IsEligible("Hello world"); !ok {
		t.Error("plain text should be eligible")
	}
}
