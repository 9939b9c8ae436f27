// Package mediastate implements the media state engine (C6): the rule-ordered
// classification that decides whether a given piece of media needs a
// translation request, and the work-queue query the scheduler polls.
package mediastate

import (
	"context"
	"time"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/lang"
)

// Ancestors carries the season/show exclusion flags an Episode inherits.
// Both are nil for a Movie or when the ancestor could not be resolved.
type Ancestors struct {
	Season *domain.Season
	Show   *domain.Show
}

// Input is everything compute_state needs about one piece of media, gathered
// by the caller (the scheduler's indexing pass) before the call — the engine
// itself never touches the store.
type Input struct {
	Common         *domain.MediaCommon
	Ancestors      Ancestors // zero value for Movie
	SourceLangs    []string
	TargetLangs    []string
	HasActiveReq   bool
	HasFailedReq   bool
}

// excluded reports whether the media or any of its ancestors opts out.
func excluded(in Input) bool {
	if in.Common.ExcludeFromTranslation {
		return true
	}
	if in.Ancestors.Season != nil && in.Ancestors.Season.ExcludeFromTranslation {
		return true
	}
	if in.Ancestors.Show != nil && in.Ancestors.Show.ExcludeFromTranslation {
		return true
	}
	return false
}

// ComputeState applies the classification rule ordering, first match wins. The
// external-subtitle directory scan is injected via extSubs so tests can
// supply a fixed listing instead of touching the filesystem.
func ComputeState(in Input, extSubs []ExternalSubtitle) domain.TranslationState {
	if excluded(in) {
		return domain.StateNotApplicable
	}
	if len(in.SourceLangs) == 0 || len(in.TargetLangs) == 0 {
		return domain.StateNotApplicable
	}
	if in.HasActiveReq {
		return domain.StateInProgress
	}
	if in.HasFailedReq {
		return domain.StateFailed
	}

	// extSubs is expected pre-filtered to this media's basename, the same
	// filtering discoverExternalSubtitles applies during a directory scan.
	sourceFound := hasLanguageMatch(externalLanguages(extSubs), in.SourceLangs) ||
		hasLanguageMatch(embeddedTextLanguages(in.Common.EmbeddedSubtitles), in.SourceLangs)
	if !sourceFound {
		return domain.StateAwaitingSource
	}

	if allTargetsPresent(extSubs, in.TargetLangs) {
		return domain.StateComplete
	}
	return domain.StatePending
}

func allTargetsPresent(extSubs []ExternalSubtitle, targets []string) bool {
	for _, t := range targets {
		found := false
		for _, s := range extSubs {
			if s.Language != "" && lang.Matches(s.Language, t) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// DiscoverExternalSubtitles scans dir for sidecar subtitle files belonging to
// baseFilename. Exposed for the scheduler's indexing pass to call before
// building an Input.
func DiscoverExternalSubtitles(dir, baseFilename string) []ExternalSubtitle {
	return discoverExternalSubtitles(dir, baseFilename)
}

// ShouldMarkStale is the mark_all_stale rule: every media row not already
// NotApplicable flips to Stale when language_settings_version is bumped. The
// actual row mutation is store.MediaRepo.MarkAllStale; this returns the predicate the
// store's UPDATE should apply, kept here so the rule lives with its sibling
// rules instead of scattered into SQL.
func ShouldMarkStale(state domain.TranslationState) bool {
	return state != domain.StateNotApplicable
}

// WorkQuery describes a next_work call the store executes.
type WorkQuery struct {
	Limit        int
	PriorityFirst bool
}

// Candidate is one row eligible for pickup by next_work.
type Candidate struct {
	MediaID             int64
	MediaKind           domain.MediaKind
	State               domain.TranslationState
	IsPriority          bool
	PriorityDate        *time.Time
	LastSubtitleCheckAt *time.Time
	DateAdded           time.Time
}

// EligibleForWork reports whether a media's current state makes it a next_work
// candidate: Pending, Stale, Unknown unconditionally, or AwaitingSource only
// when it has never been indexed (indexed_at is null is the caller's
// responsibility to check, mirrored here via the indexed flag).
func EligibleForWork(state domain.TranslationState, everIndexed bool) bool {
	switch state {
	case domain.StatePending, domain.StateStale, domain.StateUnknown:
		return true
	case domain.StateAwaitingSource:
		return !everIndexed
	default:
		return false
	}
}

// Less orders two candidates per next_work's priority_first ordering:
// is_priority desc, priority_date asc, last_subtitle_check_at asc (nulls
// first), date_added asc.
func Less(a, b Candidate) bool {
	if a.IsPriority != b.IsPriority {
		return a.IsPriority // true sorts first
	}
	if !timeEqual(a.PriorityDate, b.PriorityDate) {
		return timeBefore(a.PriorityDate, b.PriorityDate)
	}
	if !timeEqual(a.LastSubtitleCheckAt, b.LastSubtitleCheckAt) {
		return timeBefore(a.LastSubtitleCheckAt, b.LastSubtitleCheckAt)
	}
	return a.DateAdded.Before(b.DateAdded)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// timeBefore treats nil as earliest, matching next_work's "nulls first".
func timeBefore(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}

// Split partitions a candidate pool into a balanced movies/episodes selection:
// each kind capped at limit/2, with residual capacity handed to whichever
// kind has more left after the cap.
func Split(candidates []Candidate, limit int) []Candidate {
	if limit <= 0 || len(candidates) <= limit {
		return candidates
	}
	half := limit / 2

	var movies, episodes []Candidate
	for _, c := range candidates {
		if c.MediaKind == domain.KindMovie {
			movies = append(movies, c)
		} else {
			episodes = append(episodes, c)
		}
	}

	takeMovies := min(half, len(movies))
	takeEpisodes := min(limit-takeMovies, len(episodes))
	takeMovies = min(limit-takeEpisodes, len(movies))

	out := make([]Candidate, 0, takeMovies+takeEpisodes)
	out = append(out, movies[:takeMovies]...)
	out = append(out, episodes[:takeEpisodes]...)
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// NextWork is the storage-agnostic half of next_work: given the full set of
// state-eligible candidates, sort them by Less when q.PriorityFirst is set
// (otherwise keep the given order), then apply the balanced movie/episode
// split and the final limit. The store's query does only the state
// filtering, with no ORDER BY; the ordering and the balancing rule both live
// here instead of being re-derived in SQL.
func NextWork(ctx context.Context, candidates []Candidate, q WorkQuery) []Candidate {
	if q.PriorityFirst {
		sorted := make([]Candidate, len(candidates))
		copy(sorted, candidates)
		insertionSort(sorted)
		candidates = sorted
	}
	return Split(candidates, q.Limit)
}

func insertionSort(c []Candidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && Less(c[j], c[j-1]); j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}
