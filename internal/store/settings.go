package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

// SettingsRepo is the key/value settings table.
type SettingsRepo struct{ s *Store }

func (s *Store) Settings() *SettingsRepo { return &SettingsRepo{s: s} }

func (r *SettingsRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get setting %q: %w", key, err)
	}
	return value, true, nil
}

func (r *SettingsRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// LanguageSettingsVersion reads the monotonic counter language changes bump,
// defaulting to 0 when it has never been set.
func (r *SettingsRepo) LanguageSettingsVersion(ctx context.Context) (int64, error) {
	value, ok, err := r.Get(ctx, domain.SettingLanguageVersion)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("store: parse %s: %w", domain.SettingLanguageVersion, err)
	}
	return v, nil
}

// BumpLanguageSettingsVersion increments the counter and returns the new
// value. Callers use the new value to mark every media row stale.
func (r *SettingsRepo) BumpLanguageSettingsVersion(ctx context.Context) (int64, error) {
	current, err := r.LanguageSettingsVersion(ctx)
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := r.Set(ctx, domain.SettingLanguageVersion, strconv.FormatInt(next, 10)); err != nil {
		return 0, err
	}
	return next, nil
}

// ReconcileLanguageSettings compares the currently configured source/target
// language codes against what was persisted on the previous call and, on a
// change (including the very first call with any languages configured),
// bumps language_settings_version and marks every non-NotApplicable media
// Stale before recording the new codes. Returns the current version and
// whether a change was detected.
func (s *Store) ReconcileLanguageSettings(ctx context.Context, sourceLangs, targetLangs []string) (int64, bool, error) {
	settings := s.Settings()
	source := strings.Join(sourceLangs, ",")
	target := strings.Join(targetLangs, ",")

	prevSource, _, err := settings.Get(ctx, domain.SettingKnownSourceLanguages)
	if err != nil {
		return 0, false, err
	}
	prevTarget, _, err := settings.Get(ctx, domain.SettingKnownTargetLanguages)
	if err != nil {
		return 0, false, err
	}

	if prevSource == source && prevTarget == target {
		version, err := settings.LanguageSettingsVersion(ctx)
		return version, false, err
	}

	version, err := settings.BumpLanguageSettingsVersion(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("store: reconcile language settings: bump version: %w", err)
	}
	if _, err := s.Media().MarkAllStale(ctx); err != nil {
		return 0, false, fmt.Errorf("store: reconcile language settings: mark all stale: %w", err)
	}
	if err := settings.Set(ctx, domain.SettingKnownSourceLanguages, source); err != nil {
		return 0, false, err
	}
	if err := settings.Set(ctx, domain.SettingKnownTargetLanguages, target); err != nil {
		return 0, false, err
	}
	return version, true, nil
}
