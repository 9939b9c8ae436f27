// Package jobrunner executes one TranslationRequest at a time (C8): source
// resolution, parsing, translation (batch or per-line), integrity
// validation, and the temp-then-rename write that guarantees a translated
// file is either complete and correct or absent.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/integrity"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/lang"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/prober"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/requests"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/store"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/translate"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/translate/batch"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/pkg/subs"
)

// Config is the per-job settings snapshot, read once at job start: a
// mid-job settings change has no effect on a job already running.
type Config struct {
	UseBatchTranslation    bool
	Batch                  batch.Options
	MaxRetries             int
	RetryDelay             time.Duration
	RetryDelayMultiplier   float64
	RequestTimeout         time.Duration
	IntegrityValidation    bool
	UseSubtitleTagging     bool
	SubtitleTag            string
}

// Runner owns the cancellation-token registry and directory locks shared by
// every concurrently running job, and executes requests one at a time when
// called by the scheduler's worker pool.
type Runner struct {
	store      *store.Store
	reqs       *requests.Service
	prober     *prober.Prober
	translator translate.Translator
	log        zerolog.Logger

	tokens   sync.Map // request id -> context.CancelFunc
	dirLocks sync.Map // directory -> *sync.Mutex, serializes this runner's final renames per directory (see DESIGN.md open question 3)
}

func New(s *store.Store, reqs *requests.Service, p *prober.Prober, translator translate.Translator, log zerolog.Logger) *Runner {
	return &Runner{store: s, reqs: reqs, prober: p, translator: translator, log: log}
}

// SetRequests wires the request service in after construction, for the one
// caller (cmd/run) that needs the runner as requests.Canceller before the
// service that owns it exists.
func (r *Runner) SetRequests(reqs *requests.Service) { r.reqs = reqs }

// Cancel implements requests.Canceller: it signals the running job's
// context, if one is registered for requestID.
func (r *Runner) Cancel(requestID string) bool {
	v, ok := r.tokens.Load(requestID)
	if !ok {
		return false
	}
	v.(context.CancelFunc)()
	return true
}

func (r *Runner) lockDir(dir string) func() {
	v, _ := r.dirLocks.LoadOrStore(dir, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Run executes req to completion, failure, or cancellation, mutating its
// status/progress/logs as it goes. The caller (the scheduler's worker pool)
// owns pulling Pending requests; Run assumes req is already InProgress or
// about to become so.
func (r *Runner) Run(parent context.Context, req *domain.TranslationRequest, cfg Config, common *domain.MediaCommon) error {
	ctx, cancel := context.WithCancel(parent)
	r.tokens.Store(req.ID, cancel)
	defer func() {
		r.tokens.Delete(req.ID)
		cancel()
	}()

	if err := r.store.Requests().UpdateStatus(ctx, req.ID, domain.StatusInProgress); err != nil {
		return fmt.Errorf("jobrunner: transition to in_progress: %w", err)
	}
	r.reqs.AppendLog(ctx, req.ID, domain.LogInfo, "translation started", fmt.Sprintf("%s -> %s", req.SourceLang, req.TargetLang))

	sourcePath, cleanupTemp, err := r.resolveSource(ctx, req, common)
	if cleanupTemp != nil {
		defer cleanupTemp()
	}
	if err != nil {
		return r.fail(ctx, req, newErr(ErrSourceUnavailable, err))
	}

	if err := ctx.Err(); err != nil {
		return r.cancelled(ctx, req, cleanupTemp)
	}

	parsed, err := subs.OpenFile(sourcePath)
	if err != nil {
		return r.fail(ctx, req, newErr(ErrIO, err))
	}
	items := parsed.Items()
	r.reqs.AppendLog(ctx, req.ID, domain.LogInfo, "parsed source subtitle", fmt.Sprintf("%d lines", len(items)))

	translated, err := r.translateItems(ctx, req, items, cfg)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return r.cancelled(ctx, req, cleanupTemp)
		}
		return r.fail(ctx, req, err)
	}

	for i := range items {
		items[i].TranslatedLines = splitTranslatedLines(translated[i], len(items[i].Lines))
	}
	if err := parsed.ApplyTranslations(items); err != nil {
		return r.fail(ctx, req, newErr(ErrAlignment, err))
	}

	targetPath := outputPath(common, req.TargetLang, cfg.UseSubtitleTagging, cfg.SubtitleTag, filepath.Ext(sourcePath))

	if cfg.IntegrityValidation {
		tmp, err := r.writeTemp(parsed, sourcePath)
		if err != nil {
			return r.fail(ctx, req, newErr(ErrIO, err))
		}
		defer os.Remove(tmp)
		if !integrity.Check(r.log, sourcePath, tmp) {
			return r.fail(ctx, req, newErr(ErrIntegrity, fmt.Errorf("translated line count too low")))
		}
		if err := r.commitWrite(common.Directory, tmp, targetPath); err != nil {
			return r.fail(ctx, req, newErr(ErrIO, err))
		}
	} else {
		tmp, err := r.writeTemp(parsed, sourcePath)
		if err != nil {
			return r.fail(ctx, req, newErr(ErrIO, err))
		}
		if err := r.commitWrite(common.Directory, tmp, targetPath); err != nil {
			os.Remove(tmp)
			return r.fail(ctx, req, newErr(ErrIO, err))
		}
	}

	now := time.Now()
	req.CompletedAt = &now
	if err := r.store.Requests().SetTranslatedPath(ctx, req.ID, targetPath); err != nil {
		r.log.Warn().Err(err).Msg("failed to record translated path")
	}
	if err := r.store.Requests().UpdateProgress(ctx, req.ID, 100); err != nil {
		r.log.Warn().Err(err).Msg("failed to record final progress")
	}
	if err := r.store.Requests().UpdateStatus(ctx, req.ID, domain.StatusCompleted); err != nil {
		return fmt.Errorf("jobrunner: transition to completed: %w", err)
	}
	r.reqs.AppendLog(ctx, req.ID, domain.LogInfo, "translation completed", targetPath)
	return nil
}

// resolveSource prefers an explicit source_path, else picks the
// best-matching text-based embedded subtitle and
// extract it to a temp file. The returned cleanup func is nil when no temp
// file was created.
func (r *Runner) resolveSource(ctx context.Context, req *domain.TranslationRequest, common *domain.MediaCommon) (string, func(), error) {
	if req.SourcePath != "" {
		if _, err := os.Stat(req.SourcePath); err == nil {
			return req.SourcePath, nil, nil
		}
	}
	if common == nil {
		return "", nil, fmt.Errorf("no source_path and no media to probe embedded subtitles from")
	}

	var candidates []lang.Candidate
	var bySubIndex = map[int]domain.EmbeddedSubtitle{}
	for _, es := range common.EmbeddedSubtitles {
		if !es.IsTextBased {
			continue
		}
		// keyed by position in candidates, which is what FindBestMatch returns
		bySubIndex[len(candidates)] = es
		candidates = append(candidates, lang.Candidate{
			Language:  es.Language,
			Title:     es.Title,
			IsForced:  es.IsForced,
			IsDefault: es.IsDefault,
		})
	}
	if len(candidates) == 0 {
		return "", nil, fmt.Errorf("no text-based embedded subtitle available")
	}

	best := lang.FindBestMatch(candidates, []string{req.SourceLang})
	if best < 0 {
		return "", nil, fmt.Errorf("no embedded subtitle matches source language %q", req.SourceLang)
	}
	chosen := bySubIndex[best]

	containerPath, err := prober.ResolvePath(common.Directory, common.BaseFilename)
	if err != nil {
		return "", nil, fmt.Errorf("resolving container file: %w", err)
	}
	extractedPath, err := r.prober.Extract(ctx, containerPath, chosen.ContainerIndex, chosen.CodecName, chosen.Language)
	if err != nil {
		return "", nil, fmt.Errorf("extracting embedded subtitle: %w", err)
	}
	cleanup := func() { os.Remove(extractedPath) }
	return extractedPath, cleanup, nil
}

func (r *Runner) translateItems(ctx context.Context, req *domain.TranslationRequest, items []subs.SubtitleItem, cfg Config) ([]string, error) {
	raw := make([]string, len(items))
	for i, it := range items {
		raw[i] = strings.Join(it.Lines, "\n")
	}

	bt, isBatch := r.translator.(translate.BatchTranslator)
	if isBatch && cfg.UseBatchTranslation {
		return batch.Translate(ctx, bt, raw, req.SourceLang, req.TargetLang, cfg.Batch, func(pct int) {
			if err := r.store.Requests().UpdateProgress(ctx, req.ID, pct); err != nil {
				r.log.Warn().Err(err).Msg("failed to record progress")
			}
		})
	}
	return r.translateLinesWithBackoff(ctx, req, raw, cfg)
}

// translateLinesWithBackoff is the per-line fallback path: exponential
// backoff on RateLimited/ServiceFailure, capped at cfg.MaxRetries retries
// (cfg.MaxRetries+1 attempts in all).
func (r *Runner) translateLinesWithBackoff(ctx context.Context, req *domain.TranslationRequest, raw []string, cfg Config) ([]string, error) {
	out := make([]string, len(raw))
	for i, text := range raw {
		stripped, eligible := subs.IsEligible(text)
		if !eligible {
			out[i] = text
			continue
		}
		input := text
		if cfg.Batch.StripFormatting {
			input = stripped
		}

		var translated string
		delay := cfg.RetryDelay
		var lastErr error
		for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			translated, lastErr = r.translator.TranslateLine(ctx, input, req.SourceLang, req.TargetLang)
			if lastErr == nil {
				break
			}
			if !translate.IsRetryable(lastErr) {
				return nil, newErr(ErrBackendFatal, lastErr)
			}
			if attempt == cfg.MaxRetries {
				return nil, newErr(ErrBackendTransient, lastErr)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * cfg.RetryDelayMultiplier)
		}
		out[i] = translated

		pct := ((i + 1) * 100) / len(raw)
		if err := r.store.Requests().UpdateProgress(ctx, req.ID, pct); err != nil {
			r.log.Warn().Err(err).Msg("failed to record progress")
		}
	}
	return out, nil
}

func splitTranslatedLines(joined string, wantLines int) []string {
	lines := strings.Split(joined, "\n")
	if len(lines) == wantLines {
		return lines
	}
	// Backend collapsed or expanded the line break structure; keep it as one
	// line rather than guessing a re-split, since a wrong guess would
	// silently corrupt timing-independent text content.
	out := make([]string, wantLines)
	out[0] = joined
	return out
}

// writeTemp renders parsed to a temp file in the same directory as
// sourcePath (so the final rename is same-filesystem and therefore atomic).
func (r *Runner) writeTemp(parsed *subs.Subtitles, sourcePath string) (string, error) {
	// Keep the source's extension last: WriteFile picks the format from it.
	tmp := sourcePath + ".tmp-" + randomSuffix() + filepath.Ext(sourcePath)
	if err := parsed.WriteFile(tmp); err != nil {
		return "", fmt.Errorf("writing temp output: %w", err)
	}
	return tmp, nil
}

// commitWrite renames tmp onto targetPath under the directory lock, so two
// jobs writing into the same directory rename one at a time. No other code
// in this repository takes the lock; there is no orphan-cleanup pass.
func (r *Runner) commitWrite(dir, tmp, targetPath string) error {
	unlock := r.lockDir(dir)
	defer unlock()
	if err := os.Rename(tmp, targetPath); err != nil {
		return fmt.Errorf("renaming temp output to %s: %w", targetPath, err)
	}
	return nil
}

func (r *Runner) fail(ctx context.Context, req *domain.TranslationRequest, err error) error {
	var je *JobError
	kind := Kind(ErrBackendFatal)
	if errors.As(err, &je) {
		kind = je.Kind
	}
	r.reqs.AppendLog(ctx, req.ID, domain.LogError, "translation failed", fmt.Sprintf("%s: %v", kind, err))
	if uerr := r.store.Requests().UpdateStatus(context.Background(), req.ID, domain.StatusFailed); uerr != nil {
		return fmt.Errorf("jobrunner: recording failure for %s: %w (original error: %v)", req.ID, uerr, err)
	}
	return err
}

func (r *Runner) cancelled(ctx context.Context, req *domain.TranslationRequest, cleanupTemp func()) error {
	if cleanupTemp != nil {
		cleanupTemp()
	}
	r.reqs.AppendLog(context.Background(), req.ID, domain.LogWarn, "translation cancelled", "")
	return r.store.Requests().UpdateStatus(context.Background(), req.ID, domain.StatusCancelled)
}

// outputPath builds "<media_base>.<subtitle_tag?>.<tgt>.<ext>".
func outputPath(common *domain.MediaCommon, targetLang string, tagged bool, tag, ext string) string {
	name := common.BaseFilename
	if tagged && tag != "" {
		name += "." + tag
	}
	name += "." + targetLang + ext
	return filepath.Join(common.Directory, name)
}

var suffixCounter uint64
var suffixMu sync.Mutex

// randomSuffix avoids colliding temp filenames across concurrently running
// jobs in the same directory; a monotonic counter plus pid is unique enough
// for a same-process temp file.
func randomSuffix() string {
	suffixMu.Lock()
	suffixCounter++
	n := suffixCounter
	suffixMu.Unlock()
	return fmt.Sprintf("%d-%d", os.Getpid(), n)
}
