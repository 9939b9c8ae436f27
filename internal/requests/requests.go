// Package requests implements the request service (C7): the lifecycle of a
// TranslationRequest above the store's dedupe guarantee — create, cancel,
// retry, and the batch forms the scheduler's reconciliation pass calls.
package requests

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/store"
)

// Canceller is implemented by whatever tracks in-flight job cancellation
// tokens (internal/jobrunner). The request service signals through it rather
// than owning cancellation state itself, since a Pending request has no
// token yet and an InProgress one is owned by the runner.
type Canceller interface {
	// Cancel signals the running job for requestID, if any, and reports
	// whether a running job was found and signalled.
	Cancel(requestID string) bool
}

// Service is the request lifecycle API.
type Service struct {
	store     *store.Store
	canceller Canceller
	log       zerolog.Logger
	mu        sync.Mutex // serializes create() against itself; the store's partial unique index still owns correctness
}

func New(s *store.Store, canceller Canceller, log zerolog.Logger) *Service {
	return &Service{store: s, canceller: canceller, log: log}
}

// Create returns the active request for (media, src, tgt) if one exists,
// otherwise inserts a fresh Pending row. force is accepted for parity with
// force; true dedupe is the store's partial unique index, so
// force has no additional effect beyond what Create already does — a
// pre-existing active row is always returned rather than duplicated,
// regardless of force, since two concurrent active translations of the same
// (media, src, tgt) would race on writing the same output file.
func (s *Service) Create(ctx context.Context, attrs domain.RequestAttrs, force bool) (*domain.TranslationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.store.Requests().Create(ctx, attrs)
	if err != nil {
		return nil, fmt.Errorf("requests: create: %w", err)
	}
	if req.Status == domain.StatusPending && req.Progress == 0 {
		s.AppendLog(ctx, req.ID, domain.LogInfo, "request created", "")
	}
	return req, nil
}

// Cancel moves a Pending request straight to Cancelled, or signals the
// running job for an InProgress one; the job runner itself performs the
// Cancelled transition once it observes the token.
func (s *Service) Cancel(ctx context.Context, id string) error {
	req, err := s.store.Requests().Get(ctx, id)
	if err != nil {
		return fmt.Errorf("requests: cancel: get %s: %w", id, err)
	}

	switch req.Status {
	case domain.StatusPending:
		if err := s.store.Requests().UpdateStatus(ctx, id, domain.StatusCancelled); err != nil {
			return fmt.Errorf("requests: cancel pending %s: %w", id, err)
		}
		s.AppendLog(ctx, id, domain.LogInfo, "request cancelled", "")
	case domain.StatusInProgress:
		if s.canceller != nil {
			s.canceller.Cancel(id)
		}
		s.AppendLog(ctx, id, domain.LogInfo, "cancellation signalled", "")
	default:
		// Already terminal; cancelling is a no-op.
	}
	return nil
}

// Retry inserts a fresh Pending row carrying the same attributes as a
// Failed or Cancelled request, leaving the original row untouched so its
// history (logs, timestamps, final status) survives.
func (s *Service) Retry(ctx context.Context, id string) (*domain.TranslationRequest, error) {
	old, err := s.store.Requests().Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("requests: retry: get %s: %w", id, err)
	}
	if old.Status != domain.StatusFailed && old.Status != domain.StatusCancelled {
		return nil, fmt.Errorf("requests: retry %s: status %s is not retryable", id, old.Status)
	}
	return s.Create(ctx, domain.RequestAttrs{
		TitleSnapshot: old.TitleSnapshot,
		MediaID:       old.MediaID,
		MediaKind:     old.MediaKind,
		SourceLang:    old.SourceLang,
		TargetLang:    old.TargetLang,
		SourcePath:    old.SourcePath,
		IsPriority:    old.IsPriority,
	}, true)
}

// RetryAllFailed retries every currently Failed request, collecting and
// returning per-request errors rather than aborting the whole batch on the
// first one.
func (s *Service) RetryAllFailed(ctx context.Context) ([]*domain.TranslationRequest, []error) {
	failed, err := s.store.Requests().ListAllFailed(ctx)
	if err != nil {
		return nil, []error{fmt.Errorf("requests: retry all failed: list: %w", err)}
	}
	var retried []*domain.TranslationRequest
	var errs []error
	for _, req := range failed {
		fresh, err := s.Retry(ctx, req.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		retried = append(retried, fresh)
	}
	return retried, errs
}

// ReenqueueQueued is a no-op beyond re-touching updated_at on every Pending
// request: Pending rows are already eligible for pickup by the scheduler's
// worker pool, so nothing is re-inserted. Dispatch orders by is_priority and
// then created_at, so touching updated_at does not change a request's place
// in the queue.
func (s *Service) ReenqueueQueued(ctx context.Context) (int, error) {
	queued, err := s.store.Requests().ListQueued(ctx)
	if err != nil {
		return 0, fmt.Errorf("requests: reenqueue queued: list: %w", err)
	}
	for _, req := range queued {
		if err := s.store.Requests().UpdateProgress(ctx, req.ID, req.Progress); err != nil {
			return 0, fmt.Errorf("requests: reenqueue queued: touch %s: %w", req.ID, err)
		}
	}
	return len(queued), nil
}

// CancelAllQueued cancels every Pending request.
func (s *Service) CancelAllQueued(ctx context.Context) (int, error) {
	queued, err := s.store.Requests().ListQueued(ctx)
	if err != nil {
		return 0, fmt.Errorf("requests: cancel all queued: list: %w", err)
	}
	for _, req := range queued {
		if err := s.Cancel(ctx, req.ID); err != nil {
			return 0, err
		}
	}
	return len(queued), nil
}

// AppendLog is the single channel of user-visible progress.
// Store errors are logged, not returned, so a logging failure never aborts
// the caller's actual work.
func (s *Service) AppendLog(ctx context.Context, requestID string, level domain.LogLevel, message, details string) {
	if err := s.store.Requests().AppendLog(ctx, requestID, level, message, details); err != nil {
		s.log.Warn().Err(err).Str("request_id", requestID).Msg("failed to append request log")
	}
}
