package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/mediastate"
)

// MediaRepo is the media/show/season/embedded-subtitle half of the store.
type MediaRepo struct{ s *Store }

func (s *Store) Media() *MediaRepo { return &MediaRepo{s: s} }

// UpsertShow inserts or refreshes a show row keyed by its external id — the
// media-manager sync's idempotent write, following the same
// ON CONFLICT...DO UPDATE idiom the reference cache uses for repeat inserts.
func (r *MediaRepo) UpsertShow(ctx context.Context, externalID, title string, excluded, priority bool) (int64, error) {
	res, err := r.s.db.ExecContext(ctx, `
		INSERT INTO shows (external_id, title, exclude_from_translation, is_priority, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(external_id) DO UPDATE SET
			title = excluded.title,
			exclude_from_translation = excluded.exclude_from_translation,
			is_priority = excluded.is_priority,
			updated_at = CURRENT_TIMESTAMP
	`, externalID, title, boolToInt(excluded), boolToInt(priority))
	if err != nil {
		return 0, fmt.Errorf("store: upsert show: %w", err)
	}
	return lastInsertOrLookup(res, func() (int64, error) {
		var id int64
		err := r.s.db.QueryRowContext(ctx, `SELECT id FROM shows WHERE external_id = ?`, externalID).Scan(&id)
		return id, err
	})
}

func (r *MediaRepo) UpsertSeason(ctx context.Context, showID int64, number int, excluded bool) (int64, error) {
	res, err := r.s.db.ExecContext(ctx, `
		INSERT INTO seasons (show_id, number, exclude_from_translation, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(show_id, number) DO UPDATE SET
			exclude_from_translation = excluded.exclude_from_translation,
			updated_at = CURRENT_TIMESTAMP
	`, showID, number, boolToInt(excluded))
	if err != nil {
		return 0, fmt.Errorf("store: upsert season: %w", err)
	}
	return lastInsertOrLookup(res, func() (int64, error) {
		var id int64
		err := r.s.db.QueryRowContext(ctx, `SELECT id FROM seasons WHERE show_id = ? AND number = ?`, showID, number).Scan(&id)
		return id, err
	})
}

// UpsertMedia inserts or refreshes a movie or episode row. seasonID and
// episodeNumber are ignored for movies.
func (r *MediaRepo) UpsertMedia(ctx context.Context, kind domain.MediaKind, externalID, title, directory, baseFilename string, seasonID int64, episodeNumber int, excluded, priority bool) (int64, error) {
	var seasonArg, episodeArg interface{}
	if kind == domain.KindEpisode {
		seasonArg, episodeArg = seasonID, episodeNumber
	}
	res, err := r.s.db.ExecContext(ctx, `
		INSERT INTO media (kind, external_id, season_id, episode_number, title, directory, base_filename, exclude_from_translation, is_priority, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(kind, external_id) DO UPDATE SET
			title = excluded.title,
			directory = excluded.directory,
			base_filename = excluded.base_filename,
			exclude_from_translation = excluded.exclude_from_translation,
			is_priority = excluded.is_priority,
			updated_at = CURRENT_TIMESTAMP
	`, string(kind), externalID, seasonArg, episodeArg, title, directory, baseFilename, boolToInt(excluded), boolToInt(priority))
	if err != nil {
		return 0, fmt.Errorf("store: upsert media: %w", err)
	}
	return lastInsertOrLookup(res, func() (int64, error) {
		var id int64
		err := r.s.db.QueryRowContext(ctx, `SELECT id FROM media WHERE kind = ? AND external_id = ?`, string(kind), externalID).Scan(&id)
		return id, err
	})
}

// GetCommon loads the shared MediaCommon fields plus embedded subtitles for
// one media row.
func (r *MediaRepo) GetCommon(ctx context.Context, mediaID int64) (*domain.MediaCommon, error) {
	var m domain.MediaCommon
	var indexedAt, lastCheck, priorityDate sql.NullTime
	var ageSeconds int64
	var state string
	err := r.s.db.QueryRowContext(ctx, `
		SELECT id, external_id, title, directory, base_filename, content_hash,
		       date_added, indexed_at, last_subtitle_check_at,
		       exclude_from_translation, is_priority, priority_date,
		       translation_age_threshold_seconds, translation_state, state_settings_version,
		       created_at, updated_at
		FROM media WHERE id = ?
	`, mediaID).Scan(
		&m.ID, &m.ExternalID, &m.Title, &m.Directory, &m.BaseFilename, &m.ContentHash,
		&m.DateAdded, &indexedAt, &lastCheck,
		&m.ExcludeFromTranslation, &m.IsPriority, &priorityDate,
		&ageSeconds, &state, &m.StateSettingsVersion,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get media %d: %w", mediaID, err)
	}
	m.IndexedAt = nullTimePtr(indexedAt)
	m.LastSubtitleCheckAt = nullTimePtr(lastCheck)
	m.PriorityDate = nullTimePtr(priorityDate)
	m.TranslationAgeThreshold = time.Duration(ageSeconds) * time.Second
	m.TranslationState = parseState(state)

	subs, err := r.ListEmbeddedSubtitles(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	m.EmbeddedSubtitles = subs
	return &m, nil
}

// GetAncestors resolves the season (and its show) an episode belongs to.
// Returns zero values, no error, when seasonID is 0 (a movie).
func (r *MediaRepo) GetAncestors(ctx context.Context, seasonID int64) (*domain.Season, *domain.Show, error) {
	if seasonID == 0 {
		return nil, nil, nil
	}
	var season domain.Season
	err := r.s.db.QueryRowContext(ctx, `
		SELECT id, show_id, number, exclude_from_translation, created_at, updated_at
		FROM seasons WHERE id = ?
	`, seasonID).Scan(&season.ID, &season.ShowID, &season.Number, &season.ExcludeFromTranslation, &season.CreatedAt, &season.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("store: get season %d: %w", seasonID, err)
	}

	var show domain.Show
	err = r.s.db.QueryRowContext(ctx, `
		SELECT id, external_id, title, exclude_from_translation, is_priority, created_at, updated_at
		FROM shows WHERE id = ?
	`, season.ShowID).Scan(&show.ID, &show.ExternalID, &show.Title, &show.ExcludeFromTranslation, &show.IsPriority, &show.CreatedAt, &show.UpdatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("store: get show %d: %w", season.ShowID, err)
	}
	return &season, &show, nil
}

// ReplaceEmbeddedSubtitles atomically swaps the embedded-subtitle set for one
// media row — sync_embedded's "replace the set atomically" requirement
// .
func (r *MediaRepo) ReplaceEmbeddedSubtitles(ctx context.Context, mediaID int64, kind domain.MediaKind, subs []domain.EmbeddedSubtitle) error {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin replace embedded subtitles: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM embedded_subtitles WHERE media_id = ?`, mediaID); err != nil {
		return fmt.Errorf("store: clear embedded subtitles: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embedded_subtitles
			(media_id, stream_index, container_index, language, title, codec_name, is_text_based, is_default, is_forced, is_extracted, extracted_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare embedded subtitle insert: %w", err)
	}
	defer stmt.Close()

	for _, es := range subs {
		if _, err := stmt.ExecContext(ctx, mediaID, es.StreamIndex, es.ContainerIndex, es.Language, es.Title, es.CodecName,
			boolToInt(es.IsTextBased), boolToInt(es.IsDefault), boolToInt(es.IsForced), boolToInt(es.IsExtracted), es.ExtractedPath); err != nil {
			return fmt.Errorf("store: insert embedded subtitle: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE media SET indexed_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, mediaID); err != nil {
		return fmt.Errorf("store: stamp indexed_at: %w", err)
	}
	return tx.Commit()
}

func (r *MediaRepo) ListEmbeddedSubtitles(ctx context.Context, mediaID int64) ([]domain.EmbeddedSubtitle, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT id, stream_index, container_index, language, title, codec_name, is_text_based, is_default, is_forced, is_extracted, extracted_path
		FROM embedded_subtitles WHERE media_id = ? ORDER BY stream_index
	`, mediaID)
	if err != nil {
		return nil, fmt.Errorf("store: list embedded subtitles: %w", err)
	}
	defer rows.Close()

	var out []domain.EmbeddedSubtitle
	for rows.Next() {
		var es domain.EmbeddedSubtitle
		var textBased, isDefault, isForced, isExtracted int
		if err := rows.Scan(&es.ID, &es.StreamIndex, &es.ContainerIndex, &es.Language, &es.Title, &es.CodecName, &textBased, &isDefault, &isForced, &isExtracted, &es.ExtractedPath); err != nil {
			return nil, fmt.Errorf("store: scan embedded subtitle: %w", err)
		}
		es.MediaID = mediaID
		es.IsTextBased, es.IsDefault, es.IsForced, es.IsExtracted = textBased != 0, isDefault != 0, isForced != 0, isExtracted != 0
		out = append(out, es)
	}
	return out, rows.Err()
}

// UpdateState writes a freshly computed translation state and records
// settingsVersion as the row's state_settings_version. MarkAllStale does not
// read that column; it selects rows by translation_state alone.
func (r *MediaRepo) UpdateState(ctx context.Context, mediaID int64, state domain.TranslationState, settingsVersion int64) error {
	_, err := r.s.db.ExecContext(ctx, `
		UPDATE media SET translation_state = ?, state_settings_version = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, state.String(), settingsVersion, mediaID)
	return err
}

func (r *MediaRepo) TouchLastSubtitleCheck(ctx context.Context, mediaID int64) error {
	_, err := r.s.db.ExecContext(ctx, `
		UPDATE media SET last_subtitle_check_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, mediaID)
	return err
}

// MarkAllStale flips every media row whose state satisfies
// mediastate.ShouldMarkStale to Stale. Called once per
// language_settings_version bump.
func (r *MediaRepo) MarkAllStale(ctx context.Context) (int64, error) {
	var excluded []string
	for s := domain.StateUnknown; s <= domain.StateStale; s++ {
		if !mediastate.ShouldMarkStale(s) {
			excluded = append(excluded, s.String())
		}
	}

	placeholders := make([]string, len(excluded))
	args := make([]any, 0, len(excluded)+1)
	args = append(args, domain.StateStale.String())
	for i, s := range excluded {
		placeholders[i] = "?"
		args = append(args, s)
	}

	query := fmt.Sprintf(`
		UPDATE media SET translation_state = ?, updated_at = CURRENT_TIMESTAMP
		WHERE translation_state NOT IN (%s)
	`, strings.Join(placeholders, ","))
	res, err := r.s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: mark all stale: %w", err)
	}
	return res.RowsAffected()
}

// ListWorkCandidates returns every media row whose state makes it eligible
// for next_work, in no defined order (the query has no ORDER BY). Sorting and
// the balanced movie/episode split are mediastate.NextWork, applied by the
// scheduler's translation pass after this query.
func (r *MediaRepo) ListWorkCandidates(ctx context.Context) ([]mediastate.Candidate, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT id, kind, translation_state, is_priority, priority_date, last_subtitle_check_at, date_added, indexed_at
		FROM media
		WHERE translation_state IN (?, ?, ?, ?)
	`, domain.StatePending.String(), domain.StateStale.String(), domain.StateUnknown.String(), domain.StateAwaitingSource.String())
	if err != nil {
		return nil, fmt.Errorf("store: list work candidates: %w", err)
	}
	defer rows.Close()

	var out []mediastate.Candidate
	for rows.Next() {
		var c mediastate.Candidate
		var kind, state string
		var priorityDate, lastCheck, indexedAt sql.NullTime
		if err := rows.Scan(&c.MediaID, &kind, &state, &c.IsPriority, &priorityDate, &lastCheck, &c.DateAdded, &indexedAt); err != nil {
			return nil, fmt.Errorf("store: scan work candidate: %w", err)
		}
		c.MediaKind = domain.MediaKind(kind)
		c.State = parseState(state)
		c.PriorityDate = nullTimePtr(priorityDate)
		c.LastSubtitleCheckAt = nullTimePtr(lastCheck)
		if !mediastate.EligibleForWork(c.State, indexedAt.Valid) {
			continue
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func parseState(s string) domain.TranslationState {
	switch s {
	case domain.StateNotApplicable.String():
		return domain.StateNotApplicable
	case domain.StateAwaitingSource.String():
		return domain.StateAwaitingSource
	case domain.StatePending.String():
		return domain.StatePending
	case domain.StateInProgress.String():
		return domain.StateInProgress
	case domain.StateFailed.String():
		return domain.StateFailed
	case domain.StateComplete.String():
		return domain.StateComplete
	case domain.StateStale.String():
		return domain.StateStale
	default:
		return domain.StateUnknown
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// lastInsertOrLookup returns res.LastInsertId() when it is non-zero (a fresh
// insert), otherwise falls back to lookup — ON CONFLICT...DO UPDATE leaves
// LastInsertId at 0 on SQLite when it rewrites rather than inserts.
func lastInsertOrLookup(res sql.Result, lookup func() (int64, error)) (int64, error) {
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if id != 0 {
		return id, nil
	}
	return lookup()
}
