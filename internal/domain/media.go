// Package domain holds the persisted entities the rest of the pipeline operates on:
// media (movies, episodes and their owning seasons/shows), the embedded subtitle
// streams discovered inside them, translation requests and their logs, and settings.
package domain

import "time"

// MediaKind distinguishes the two concrete media variants.
type MediaKind string

const (
	KindMovie   MediaKind = "movie"
	KindEpisode MediaKind = "episode"
)

// TranslationState is the per-media classification computed by the state
// engine (C6). The constant order is not the order in which compute_state
// (mediastate.ComputeState) evaluates its rules; the zero value is Unknown
// and Stale is last.
type TranslationState int

const (
	StateUnknown TranslationState = iota
	StateNotApplicable
	StateAwaitingSource
	StatePending
	StateInProgress
	StateFailed
	StateComplete
	StateStale
)

func (s TranslationState) String() string {
	switch s {
	case StateNotApplicable:
		return "not_applicable"
	case StateAwaitingSource:
		return "awaiting_source"
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in_progress"
	case StateFailed:
		return "failed"
	case StateComplete:
		return "complete"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Stamps carries the created_at/updated_at pair every persisted entity has.
type Stamps struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Show is the top-level TV grouping. Seasons and episodes reference it by id;
// it never holds owning pointers back down the tree (design note on cyclic graphs).
type Show struct {
	ID                    int64
	ExternalID            string
	Title                 string
	ExcludeFromTranslation bool
	IsPriority            bool
	Stamps
}

// Season belongs to a Show by id and carries its own exclusion flag, which
// is inherited by every Episode under it.
type Season struct {
	ID                    int64
	ShowID                int64
	Number                int
	ExcludeFromTranslation bool
	Stamps
}

// MediaCommon is the capability set the state engine and request service need
// from either concrete media kind, per the design note on avoiding inheritance
// trees: Movie and Episode each embed it rather than sharing a base class.
type MediaCommon struct {
	ID                     int64
	ExternalID             string
	Title                  string
	Directory              string
	BaseFilename           string
	ContentHash            string
	DateAdded              time.Time
	IndexedAt              *time.Time
	LastSubtitleCheckAt    *time.Time
	ExcludeFromTranslation bool
	IsPriority             bool
	PriorityDate           *time.Time
	TranslationAgeThreshold time.Duration
	TranslationState       TranslationState
	StateSettingsVersion   int64
	EmbeddedSubtitles      []EmbeddedSubtitle
	Stamps
}

// Movie is a standalone media item with no season/show ancestry.
type Movie struct {
	MediaCommon
}

// Episode belongs to a Season (and transitively a Show); both ancestors'
// exclusion flags are inherited into Excluded().
type Episode struct {
	MediaCommon
	SeasonID int64
	Number   int
}

// Excluded reports whether this media, or any ancestor, opts out of translation.
func (m *Movie) Excluded() bool { return m.ExcludeFromTranslation }

// Excluded reports whether this episode, its season, or its show is excluded.
// ancestors may be nil only when the season/show could not be resolved, in
// which case the episode's own flag is authoritative.
func (e *Episode) Excluded(season *Season, show *Show) bool {
	if e.ExcludeFromTranslation {
		return true
	}
	if season != nil && season.ExcludeFromTranslation {
		return true
	}
	if show != nil && show.ExcludeFromTranslation {
		return true
	}
	return false
}

// EmbeddedSubtitle is a subtitle stream discovered inside a container file by
// the prober (C3). Stream index is unique per media and re-numbered within
// the subtitle-only subset.
type EmbeddedSubtitle struct {
	ID            int64
	MediaID       int64
	MediaKind     MediaKind
	StreamIndex   int // re-numbered within the subtitle-only subset
	ContainerIndex int // ffprobe's stream index, needed for ffmpeg -map 0:N
	Language      string
	Title         string
	CodecName     string
	IsTextBased   bool
	IsDefault     bool
	IsForced      bool
	IsExtracted   bool
	ExtractedPath string
}
