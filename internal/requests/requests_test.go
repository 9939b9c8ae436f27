package requests

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, nil, zerolog.Nop())
}

func attrsFor(mediaID int64) domain.RequestAttrs {
	return domain.RequestAttrs{MediaID: mediaID, MediaKind: domain.KindMovie, SourceLang: "en", TargetLang: "fr"}
}

func TestCreateDedupesActive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	req1, err := svc.Create(ctx, attrsFor(1), false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	req2, err := svc.Create(ctx, attrsFor(1), false)
	if err != nil {
		t.Fatalf("Create (dup): %v", err)
	}
	if req1.ID != req2.ID {
		t.Errorf("expected same request returned on duplicate create")
	}
}

func TestCancelPending(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	req, _ := svc.Create(ctx, attrsFor(1), false)
	if err := svc.Cancel(ctx, req.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, err := svc.store.Requests().Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusCancelled {
		t.Errorf("status = %v, want Cancelled", got.Status)
	}
	if got.IsActive {
		t.Errorf("cancelled request should not remain active")
	}
}

func TestRetryPreservesHistoryAndCreatesFreshRow(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	req, _ := svc.Create(ctx, attrsFor(1), false)
	if err := svc.store.Requests().UpdateStatus(ctx, req.ID, domain.StatusFailed); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	fresh, err := svc.Retry(ctx, req.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if fresh.ID == req.ID {
		t.Errorf("retry should create a new row, not reuse the old id")
	}
	if fresh.Status != domain.StatusPending {
		t.Errorf("fresh request status = %v, want Pending", fresh.Status)
	}

	old, err := svc.store.Requests().Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get old: %v", err)
	}
	if old.Status != domain.StatusFailed {
		t.Errorf("old request status changed to %v, want it to remain Failed", old.Status)
	}
}

func TestRetryRejectsNonTerminal(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	req, _ := svc.Create(ctx, attrsFor(1), false)
	if _, err := svc.Retry(ctx, req.ID); err == nil {
		t.Error("expected an error retrying a Pending request")
	}
}

func TestCancelAllQueued(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	svc.Create(ctx, attrsFor(1), false)
	svc.Create(ctx, attrsFor(2), false)

	n, err := svc.CancelAllQueued(ctx)
	if err != nil {
		t.Fatalf("CancelAllQueued: %v", err)
	}
	if n != 2 {
		t.Errorf("cancelled %d requests, want 2", n)
	}
}
