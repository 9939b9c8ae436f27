package mediastate

import (
	"testing"
	"time"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

func baseInput() Input {
	return Input{
		Common:      &domain.MediaCommon{BaseFilename: "movie"},
		SourceLangs: []string{"en"},
		TargetLangs: []string{"fr"},
	}
}

func TestComputeStateExcludedWins(t *testing.T) {
	in := baseInput()
	in.Common.ExcludeFromTranslation = true
	in.HasActiveReq = true // would otherwise say InProgress; exclusion must win
	if got := ComputeState(in, nil); got != domain.StateNotApplicable {
		t.Errorf("got %v, want NotApplicable", got)
	}
}

func TestComputeStateShowExclusionInherited(t *testing.T) {
	in := baseInput()
	in.Ancestors.Show = &domain.Show{ExcludeFromTranslation: true}
	if got := ComputeState(in, nil); got != domain.StateNotApplicable {
		t.Errorf("got %v, want NotApplicable", got)
	}
}

func TestComputeStateEmptyLanguageLists(t *testing.T) {
	in := baseInput()
	in.TargetLangs = nil
	if got := ComputeState(in, nil); got != domain.StateNotApplicable {
		t.Errorf("got %v, want NotApplicable", got)
	}
}

func TestComputeStateActiveRequestBeatsFailed(t *testing.T) {
	in := baseInput()
	in.HasActiveReq = true
	in.HasFailedReq = true
	if got := ComputeState(in, nil); got != domain.StateInProgress {
		t.Errorf("got %v, want InProgress", got)
	}
}

func TestComputeStateFailed(t *testing.T) {
	in := baseInput()
	in.HasFailedReq = true
	if got := ComputeState(in, nil); got != domain.StateFailed {
		t.Errorf("got %v, want Failed", got)
	}
}

func TestComputeStateAwaitingSourceNoMatch(t *testing.T) {
	in := baseInput()
	ext := []ExternalSubtitle{{Path: "movie.ja.srt", Language: "ja"}}
	if got := ComputeState(in, ext); got != domain.StateAwaitingSource {
		t.Errorf("got %v, want AwaitingSource", got)
	}
}

func TestComputeStateAwaitingSourceFallsBackToEmbedded(t *testing.T) {
	in := baseInput()
	in.Common.EmbeddedSubtitles = []domain.EmbeddedSubtitle{
		{Language: "en", IsTextBased: true},
	}
	if got := ComputeState(in, nil); got == domain.StateAwaitingSource {
		t.Errorf("embedded text subtitle should satisfy the source check")
	}
}

func TestComputeStateCompleteWhenAllTargetsPresent(t *testing.T) {
	in := baseInput()
	ext := []ExternalSubtitle{
		{Path: "movie.en.srt", Language: "en"},
		{Path: "movie.fr.srt", Language: "fr"},
	}
	if got := ComputeState(in, ext); got != domain.StateComplete {
		t.Errorf("got %v, want Complete", got)
	}
}

func TestComputeStatePendingWhenTargetMissing(t *testing.T) {
	in := baseInput()
	ext := []ExternalSubtitle{{Path: "movie.en.srt", Language: "en"}}
	if got := ComputeState(in, ext); got != domain.StatePending {
		t.Errorf("got %v, want Pending", got)
	}
}

func TestShouldMarkStale(t *testing.T) {
	cases := []struct {
		state domain.TranslationState
		want  bool
	}{
		{domain.StateNotApplicable, false},
		{domain.StateUnknown, true},
		{domain.StateAwaitingSource, true},
		{domain.StatePending, true},
		{domain.StateInProgress, true},
		{domain.StateFailed, true},
		{domain.StateComplete, true},
		{domain.StateStale, true},
	}
	for _, c := range cases {
		if got := ShouldMarkStale(c.state); got != c.want {
			t.Errorf("ShouldMarkStale(%v) = %v, want %v", c.state, got, c.want)
		}
	}
}

func TestEligibleForWork(t *testing.T) {
	cases := []struct {
		state       domain.TranslationState
		everIndexed bool
		want        bool
	}{
		{domain.StatePending, true, true},
		{domain.StateStale, true, true},
		{domain.StateUnknown, false, true},
		{domain.StateAwaitingSource, false, true},
		{domain.StateAwaitingSource, true, false},
		{domain.StateComplete, false, false},
		{domain.StateInProgress, false, false},
	}
	for _, c := range cases {
		if got := EligibleForWork(c.state, c.everIndexed); got != c.want {
			t.Errorf("EligibleForWork(%v, %v) = %v, want %v", c.state, c.everIndexed, got, c.want)
		}
	}
}

func TestLessPriorityOrdering(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-time.Hour)
	a := Candidate{IsPriority: true, DateAdded: now}
	b := Candidate{IsPriority: false, DateAdded: earlier}
	if !Less(a, b) {
		t.Error("priority candidate should sort first regardless of date_added")
	}
}

func TestLessNullsFirstOnLastCheck(t *testing.T) {
	checked := time.Now()
	a := Candidate{LastSubtitleCheckAt: nil, DateAdded: time.Now()}
	b := Candidate{LastSubtitleCheckAt: &checked, DateAdded: time.Now()}
	if !Less(a, b) {
		t.Error("nil last_subtitle_check_at should sort before a populated one")
	}
}

func TestSplitBalancesMoviesAndEpisodes(t *testing.T) {
	var candidates []Candidate
	for i := 0; i < 10; i++ {
		candidates = append(candidates, Candidate{MediaKind: domain.KindMovie})
	}
	for i := 0; i < 2; i++ {
		candidates = append(candidates, Candidate{MediaKind: domain.KindEpisode})
	}
	out := Split(candidates, 6)
	var movies, episodes int
	for _, c := range out {
		if c.MediaKind == domain.KindMovie {
			movies++
		} else {
			episodes++
		}
	}
	if len(out) != 6 {
		t.Fatalf("len(out) = %d, want 6", len(out))
	}
	if episodes != 2 {
		t.Errorf("episodes = %d, want 2 (all available, since movies alone can't fill 6 without starving them)", episodes)
	}
	if movies != 4 {
		t.Errorf("movies = %d, want 4", movies)
	}
}
