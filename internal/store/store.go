// Package store is the persistence layer: a single SQLite database file
// holding media, requests, and settings, opened through modernc.org/sqlite
// (pure Go, no cgo) the same way the reference cache package does —
// WAL mode, a tuned connection pool, singleton-per-path access.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Store wraps the shared *sql.DB handle every repository in this package
// reads and writes through.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

var (
	instances   = map[string]*Store{}
	instancesMu sync.Mutex
)

// Open returns the Store for path, creating and migrating it on first use.
// Subsequent calls for the same path return the same instance, mirroring the
// reference cache's GetInstance singleton but keyed by path rather than
// process-global, since a daemon and its CLI companion share one binary but
// may point at different state directories in tests.
func Open(path string, log zerolog.Logger) (*Store, error) {
	instancesMu.Lock()
	defer instancesMu.Unlock()

	if s, ok := instances[path]; ok {
		return s, nil
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY churn
	db.SetMaxIdleConns(1)

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	instances[path] = s
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// schema is executed once per database file, idempotently (IF NOT EXISTS),
// on Open.
const schema = `
CREATE TABLE IF NOT EXISTS shows (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	exclude_from_translation INTEGER NOT NULL DEFAULT 0,
	is_priority INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS seasons (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	show_id INTEGER NOT NULL REFERENCES shows(id),
	number INTEGER NOT NULL,
	exclude_from_translation INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(show_id, number)
);

CREATE TABLE IF NOT EXISTS media (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL CHECK (kind IN ('movie', 'episode')),
	external_id TEXT NOT NULL,
	season_id INTEGER REFERENCES seasons(id),
	episode_number INTEGER,
	title TEXT NOT NULL,
	directory TEXT NOT NULL,
	base_filename TEXT NOT NULL,
	content_hash TEXT NOT NULL DEFAULT '',
	date_added DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	indexed_at DATETIME,
	last_subtitle_check_at DATETIME,
	exclude_from_translation INTEGER NOT NULL DEFAULT 0,
	is_priority INTEGER NOT NULL DEFAULT 0,
	priority_date DATETIME,
	translation_age_threshold_seconds INTEGER NOT NULL DEFAULT 0,
	translation_state TEXT NOT NULL DEFAULT 'unknown',
	state_settings_version INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(kind, external_id)
);

CREATE INDEX IF NOT EXISTS idx_media_state ON media(translation_state);
CREATE INDEX IF NOT EXISTS idx_media_season ON media(season_id);

CREATE TABLE IF NOT EXISTS embedded_subtitles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	media_id INTEGER NOT NULL REFERENCES media(id),
	stream_index INTEGER NOT NULL,
	container_index INTEGER NOT NULL,
	language TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	codec_name TEXT NOT NULL DEFAULT '',
	is_text_based INTEGER NOT NULL DEFAULT 0,
	is_default INTEGER NOT NULL DEFAULT 0,
	is_forced INTEGER NOT NULL DEFAULT 0,
	is_extracted INTEGER NOT NULL DEFAULT 0,
	extracted_path TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_embedded_subtitles_media ON embedded_subtitles(media_id);

CREATE TABLE IF NOT EXISTS translation_requests (
	id TEXT PRIMARY KEY,
	title_snapshot TEXT NOT NULL,
	media_id INTEGER NOT NULL,
	media_kind TEXT NOT NULL,
	source_lang TEXT NOT NULL,
	target_lang TEXT NOT NULL,
	source_path TEXT NOT NULL DEFAULT '',
	translated_path TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	is_priority INTEGER NOT NULL DEFAULT 0,
	is_active INTEGER, -- 1 while pending/in_progress, NULL once terminal; see the partial unique index below
	completed_at DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- at most one active row per (media, lang pair); is_active is NULL once a
-- request goes terminal, which SQLite's UNIQUE treats as distinct, so
-- terminal rows never collide with a fresh one or each other.
CREATE UNIQUE INDEX IF NOT EXISTS idx_requests_active_dedupe
	ON translation_requests(media_id, media_kind, source_lang, target_lang, is_active)
	WHERE is_active = 1;

CREATE INDEX IF NOT EXISTS idx_requests_status ON translation_requests(status);
CREATE INDEX IF NOT EXISTS idx_requests_media ON translation_requests(media_id, media_kind);

CREATE TABLE IF NOT EXISTS translation_request_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL REFERENCES translation_requests(id),
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	details TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_request_logs_request ON translation_request_logs(request_id);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
