package domain

import (
	"context"
	"time"
)

// ListedMedia is one item returned by the external media-manager port — the
// identity, location, and exclusion/priority flags the indexing pass needs to
// upsert a Movie or Episode row and its ancestors. The media manager itself
// (Radarr/Sonarr-shaped) is an external collaborator; this is only the shape
// the core consumes, per spec.md §6.
type ListedMedia struct {
	Kind         MediaKind
	ExternalID   string
	Title        string
	Directory    string
	BaseFilename string

	ExcludeFromTranslation bool
	IsPriority             bool
	PriorityDate           *time.Time

	// Episode-only fields; zero values for a Movie.
	ShowExternalID string
	ShowTitle      string
	ShowExcluded   bool
	ShowPriority   bool
	SeasonNumber   int
	SeasonExcluded bool
	EpisodeNumber  int
}

// MediaLister is the external media-manager port: two concrete systems
// (movie and TV managers) implement it. The core never talks to either
// directly — list_media() is the only capability it needs from them.
type MediaLister interface {
	ListMedia(ctx context.Context) ([]ListedMedia, error)
}

// NoopLister is a MediaLister that never finds anything. It lets the daemon
// start and run its translation pass over whatever is already in the store
// even when no concrete Radarr/Sonarr-style adapter has been wired in yet.
type NoopLister struct{}

func (NoopLister) ListMedia(ctx context.Context) ([]ListedMedia, error) { return nil, nil }
