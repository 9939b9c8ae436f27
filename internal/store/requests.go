package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

// RequestRepo is the translation_requests / translation_request_logs half of
// the store.
type RequestRepo struct{ s *Store }

func (s *Store) Requests() *RequestRepo { return &RequestRepo{s: s} }

// ErrNoRows is returned by single-row lookups that miss, re-exported so
// callers don't need to import database/sql to compare against it.
var ErrNoRows = sql.ErrNoRows

// Create inserts a new request with a client-generated id. If an active row
// already exists for (media_id, media_kind, source_lang, target_lang) the
// partial unique index rejects the insert; Create detects that case (via
// the distinguishable SQLite constraint error text) and returns the existing
// active row instead, giving create(...) its short-circuit-on-duplicate
// behavior without a read-then-write race.
func (r *RequestRepo) Create(ctx context.Context, attrs domain.RequestAttrs) (*domain.TranslationRequest, error) {
	req := &domain.TranslationRequest{
		ID:            uuid.NewString(),
		TitleSnapshot: attrs.TitleSnapshot,
		MediaID:       attrs.MediaID,
		MediaKind:     attrs.MediaKind,
		SourceLang:    attrs.SourceLang,
		TargetLang:    attrs.TargetLang,
		SourcePath:    attrs.SourcePath,
		Status:        domain.StatusPending,
		IsPriority:    attrs.IsPriority,
		IsActive:      true,
	}

	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO translation_requests
			(id, title_snapshot, media_id, media_kind, source_lang, target_lang, source_path, status, is_priority, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`, req.ID, req.TitleSnapshot, req.MediaID, string(req.MediaKind), req.SourceLang, req.TargetLang, req.SourcePath, string(req.Status), boolToInt(req.IsPriority))
	if err != nil {
		if isUniqueConstraint(err) {
			existing, lookupErr := r.GetActive(ctx, attrs.MediaID, attrs.MediaKind, attrs.SourceLang, attrs.TargetLang)
			if lookupErr != nil {
				return nil, fmt.Errorf("store: create request: conflict but active row not found: %w", lookupErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("store: create request: %w", err)
	}
	return req, nil
}

func (r *RequestRepo) GetActive(ctx context.Context, mediaID int64, kind domain.MediaKind, srcLang, tgtLang string) (*domain.TranslationRequest, error) {
	row := r.s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM translation_requests
		WHERE media_id = ? AND media_kind = ? AND source_lang = ? AND target_lang = ? AND is_active = 1
	`, mediaID, string(kind), srcLang, tgtLang)
	return scanRequest(row)
}

func (r *RequestRepo) Get(ctx context.Context, id string) (*domain.TranslationRequest, error) {
	row := r.s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM translation_requests WHERE id = ?`, id)
	return scanRequest(row)
}

func (r *RequestRepo) ListFailed(ctx context.Context, mediaID int64, kind domain.MediaKind) ([]*domain.TranslationRequest, error) {
	return r.listWhere(ctx, `media_id = ? AND media_kind = ? AND status = ?`, mediaID, string(kind), string(domain.StatusFailed))
}

func (r *RequestRepo) ListAllFailed(ctx context.Context) ([]*domain.TranslationRequest, error) {
	return r.listWhere(ctx, `status = ?`, string(domain.StatusFailed))
}

func (r *RequestRepo) ListQueued(ctx context.Context) ([]*domain.TranslationRequest, error) {
	return r.listWhere(ctx, `status = ?`, string(domain.StatusPending))
}

func (r *RequestRepo) ListInProgress(ctx context.Context) ([]*domain.TranslationRequest, error) {
	return r.listWhere(ctx, `status = ?`, string(domain.StatusInProgress))
}

// HasActive reports whether any active (pending/in_progress) request exists
// for mediaID across every language pair, the per-media signal
// compute_state needs rather than the per-pair one GetActive answers.
func (r *RequestRepo) HasActive(ctx context.Context, mediaID int64, kind domain.MediaKind) (bool, error) {
	var count int
	err := r.s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM translation_requests WHERE media_id = ? AND media_kind = ? AND is_active = 1
	`, mediaID, string(kind)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("store: has active request: %w", err)
	}
	return count > 0, nil
}

func (r *RequestRepo) listWhere(ctx context.Context, where string, args ...interface{}) ([]*domain.TranslationRequest, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM translation_requests WHERE `+where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list requests: %w", err)
	}
	defer rows.Close()

	var out []*domain.TranslationRequest
	for rows.Next() {
		req, err := scanRequestRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// UpdateStatus transitions a request's status. Moving to a terminal status
// (Failed/Cancelled/Completed) sets is_active to NULL, releasing its dedupe
// slot, and stamps completed_at; moving to Pending/InProgress sets is_active
// back to 1 and clears completed_at.
func (r *RequestRepo) UpdateStatus(ctx context.Context, id string, status domain.RequestStatus) error {
	var isActive interface{}
	if status.Active() {
		isActive = 1
	}
	terminal := !status.Active()
	_, err := r.s.db.ExecContext(ctx, `
		UPDATE translation_requests
		SET status = ?, is_active = ?, completed_at = CASE WHEN ? THEN CURRENT_TIMESTAMP ELSE NULL END, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, string(status), isActive, terminal, id)
	return err
}

func (r *RequestRepo) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := r.s.db.ExecContext(ctx, `
		UPDATE translation_requests SET progress = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, progress, id)
	return err
}

func (r *RequestRepo) SetTranslatedPath(ctx context.Context, id, path string) error {
	_, err := r.s.db.ExecContext(ctx, `
		UPDATE translation_requests SET translated_path = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, path, id)
	return err
}

// Retry resets a terminal request back to Pending, re-acquiring the dedupe
// slot. Fails with a wrapped constraint error if another active row has
// since been created for the same tuple.
func (r *RequestRepo) Retry(ctx context.Context, id string) error {
	return r.UpdateStatus(ctx, id, domain.StatusPending)
}

func (r *RequestRepo) Cancel(ctx context.Context, id string) error {
	return r.UpdateStatus(ctx, id, domain.StatusCancelled)
}

func (r *RequestRepo) AppendLog(ctx context.Context, requestID string, level domain.LogLevel, message, details string) error {
	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO translation_request_logs (request_id, level, message, details)
		VALUES (?, ?, ?, ?)
	`, requestID, string(level), message, details)
	return err
}

func (r *RequestRepo) ListLogs(ctx context.Context, requestID string) ([]domain.TranslationRequestLog, error) {
	rows, err := r.s.db.QueryContext(ctx, `
		SELECT id, request_id, level, message, details, created_at
		FROM translation_request_logs WHERE request_id = ? ORDER BY created_at
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("store: list request logs: %w", err)
	}
	defer rows.Close()

	var out []domain.TranslationRequestLog
	for rows.Next() {
		var l domain.TranslationRequestLog
		var level string
		if err := rows.Scan(&l.ID, &l.RequestID, &level, &l.Message, &l.Details, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan request log: %w", err)
		}
		l.Level = domain.LogLevel(level)
		out = append(out, l)
	}
	return out, rows.Err()
}

const requestColumns = `id, title_snapshot, media_id, media_kind, source_lang, target_lang, source_path, translated_path, status, progress, is_priority, is_active, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row *sql.Row) (*domain.TranslationRequest, error) {
	return scanRequestScanner(row)
}

func scanRequestRows(rows *sql.Rows) (*domain.TranslationRequest, error) {
	return scanRequestScanner(rows)
}

func scanRequestScanner(s rowScanner) (*domain.TranslationRequest, error) {
	var req domain.TranslationRequest
	var kind, status string
	var isActive sql.NullInt64
	var completedAt sql.NullTime
	err := s.Scan(
		&req.ID, &req.TitleSnapshot, &req.MediaID, &kind, &req.SourceLang, &req.TargetLang,
		&req.SourcePath, &req.TranslatedPath, &status, &req.Progress, &req.IsPriority,
		&isActive, &completedAt, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.MediaKind = domain.MediaKind(kind)
	req.Status = domain.RequestStatus(status)
	req.IsActive = isActive.Valid && isActive.Int64 == 1
	req.CompletedAt = nullTimePtr(completedAt)
	return &req, nil
}

// isUniqueConstraint reports whether err came from the dedupe partial unique
// index. modernc.org/sqlite doesn't export a typed constraint-violation
// error, so this matches on the driver's message text, same as the SQLite
// error-string checks the reference cache package's callers rely on. SQLite
// names the index's columns (not the index) in that text, so the check keys
// on the media_id column, which a primary-key collision on id never lists.
func isUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, "translation_requests.media_id")
}
