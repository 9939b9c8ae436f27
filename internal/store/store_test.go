package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertMediaIsIdempotent(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	id1, err := s.Media().UpsertMedia(ctx, domain.KindMovie, "ext-1", "Movie One", "/media/movie1", "movie1", 0, 0, false, false)
	if err != nil {
		t.Fatalf("UpsertMedia: %v", err)
	}
	id2, err := s.Media().UpsertMedia(ctx, domain.KindMovie, "ext-1", "Movie One (renamed)", "/media/movie1", "movie1", 0, 0, false, false)
	if err != nil {
		t.Fatalf("UpsertMedia (update): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same id across upserts, got %d and %d", id1, id2)
	}

	common, err := s.Media().GetCommon(ctx, id1)
	if err != nil {
		t.Fatalf("GetCommon: %v", err)
	}
	if common.Title != "Movie One (renamed)" {
		t.Errorf("title = %q, want updated title", common.Title)
	}
}

func TestRequestDedupeOnActive(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	mediaID, _ := s.Media().UpsertMedia(ctx, domain.KindMovie, "ext-1", "Movie One", "/media/movie1", "movie1", 0, 0, false, false)

	attrs := domain.RequestAttrs{MediaID: mediaID, MediaKind: domain.KindMovie, SourceLang: "en", TargetLang: "fr"}
	req1, err := s.Requests().Create(ctx, attrs)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	req2, err := s.Requests().Create(ctx, attrs)
	if err != nil {
		t.Fatalf("Create (duplicate): %v", err)
	}
	if req2.ID != req1.ID {
		t.Errorf("expected duplicate create to return the existing active request, got a different id")
	}

	if err := s.Requests().UpdateStatus(ctx, req1.ID, domain.StatusCompleted); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	req3, err := s.Requests().Create(ctx, attrs)
	if err != nil {
		t.Fatalf("Create after terminal: %v", err)
	}
	if req3.ID == req1.ID {
		t.Errorf("expected a fresh request id once the prior one went terminal")
	}
}

func TestMarkAllStaleSkipsNotApplicable(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	id, _ := s.Media().UpsertMedia(ctx, domain.KindMovie, "ext-1", "Movie One", "/media/movie1", "movie1", 0, 0, false, false)
	if err := s.Media().UpdateState(ctx, id, domain.StateNotApplicable, 1); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	id2, _ := s.Media().UpsertMedia(ctx, domain.KindMovie, "ext-2", "Movie Two", "/media/movie2", "movie2", 0, 0, false, false)
	if err := s.Media().UpdateState(ctx, id2, domain.StatePending, 1); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	if _, err := s.Media().MarkAllStale(ctx); err != nil {
		t.Fatalf("MarkAllStale: %v", err)
	}

	c1, _ := s.Media().GetCommon(ctx, id)
	if c1.TranslationState != domain.StateNotApplicable {
		t.Errorf("NotApplicable media should not be marked stale, got %v", c1.TranslationState)
	}
	c2, _ := s.Media().GetCommon(ctx, id2)
	if c2.TranslationState != domain.StateStale {
		t.Errorf("Pending media should be marked stale, got %v", c2.TranslationState)
	}
}

func TestLanguageSettingsVersionBump(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()
	v, err := s.Settings().LanguageSettingsVersion(ctx)
	if err != nil {
		t.Fatalf("LanguageSettingsVersion: %v", err)
	}
	if v != 0 {
		t.Fatalf("expected default version 0, got %d", v)
	}
	next, err := s.Settings().BumpLanguageSettingsVersion(ctx)
	if err != nil {
		t.Fatalf("BumpLanguageSettingsVersion: %v", err)
	}
	if next != 1 {
		t.Errorf("next = %d, want 1", next)
	}
}

func TestReconcileLanguageSettingsBumpsOnChangeAndMarksStale(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	id, _ := s.Media().UpsertMedia(ctx, domain.KindMovie, "ext-1", "Movie One", "/media/movie1", "movie1", 0, 0, false, false)
	if err := s.Media().UpdateState(ctx, id, domain.StatePending, 0); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	version, changed, err := s.ReconcileLanguageSettings(ctx, []string{"en"}, []string{"fr"})
	if err != nil {
		t.Fatalf("ReconcileLanguageSettings: %v", err)
	}
	if !changed {
		t.Errorf("expected a change on first configuration of languages")
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}
	common, _ := s.Media().GetCommon(ctx, id)
	if common.TranslationState != domain.StateStale {
		t.Errorf("expected existing media to be marked stale after a language change, got %v", common.TranslationState)
	}

	version2, changed2, err := s.ReconcileLanguageSettings(ctx, []string{"en"}, []string{"fr"})
	if err != nil {
		t.Fatalf("ReconcileLanguageSettings (repeat): %v", err)
	}
	if changed2 {
		t.Errorf("expected no change when languages are unchanged")
	}
	if version2 != version {
		t.Errorf("version2 = %d, want unchanged %d", version2, version)
	}

	_, changed3, err := s.ReconcileLanguageSettings(ctx, []string{"en"}, []string{"fr", "de"})
	if err != nil {
		t.Fatalf("ReconcileLanguageSettings (target changed): %v", err)
	}
	if !changed3 {
		t.Errorf("expected a change when target languages differ")
	}
}
