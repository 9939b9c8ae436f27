// Package scheduler drives the two periodic duties the rest of the pipeline
// waits on (C9): the indexing pass, which keeps media state current, and the
// translation pass, which turns stale/pending media into translation
// requests. A bounded worker pool dispatches those requests to the job
// runner under per-provider admission control, following the same cron-job
// wrapping the reference fiber starter used around go-co-op/gocron,
// generalized from a generic event scheduler into these two concrete passes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/jobrunner"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/lang"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/mediastate"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/prober"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/requests"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/store"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/translate"
)

// systemCeiling bounds max_parallel_translations regardless of config, so a
// misconfigured value can't exhaust the process's file/socket limits.
const systemCeiling = 16

// indexingFanout caps how many media items the indexing pass probes at once.
const indexingFanout = 8

// dispatchInterval is how often the worker pool looks for new Pending work
// between translation-pass runs.
const dispatchInterval = 3 * time.Second

// Config is the scheduler's full runtime configuration, built by the caller
// (cmd/subtransd) from config.Settings.
type Config struct {
	IndexingCron    string
	TranslationCron string

	MaxParallelTranslations int
	WorkBatchSize           int // next_work(N); 0 defaults to defaultWorkBatchSize

	SourceLangs []string
	TargetLangs []string

	ProviderDailyQuota       int
	ProviderQuotaBuffer      int
	ProviderBreakerThreshold int
	ProviderBreakerCooldown  time.Duration

	Job jobrunner.Config
}

const defaultWorkBatchSize = 50

// Scheduler owns the cron jobs, the worker pool, and per-provider admission
// control. It never talks to a translation backend directly — that's the job
// runner's concern, reached through Runner.
type Scheduler struct {
	store  *store.Store
	reqs   *requests.Service
	runner *jobrunner.Runner
	prober *prober.Prober
	lister domain.MediaLister

	admission *ProviderAdmission
	cfg       Config
	log       zerolog.Logger

	cron *gocron.Scheduler
	sem  chan struct{}
	wg   sync.WaitGroup

	activeMu sync.Mutex
	active   map[string]struct{}

	dispatchStop chan struct{}
	dispatchDone chan struct{}
}

func New(s *store.Store, reqs *requests.Service, runner *jobrunner.Runner, p *prober.Prober, lister domain.MediaLister, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.WorkBatchSize <= 0 {
		cfg.WorkBatchSize = defaultWorkBatchSize
	}
	return &Scheduler{
		store:  s,
		reqs:   reqs,
		runner: runner,
		prober: p,
		lister: lister,

		admission: NewProviderAdmission(cfg.ProviderDailyQuota, cfg.ProviderQuotaBuffer, cfg.ProviderBreakerThreshold, cfg.ProviderBreakerCooldown),
		cfg:       cfg,
		log:       log,

		cron: gocron.NewScheduler(time.UTC),
		sem:  make(chan struct{}, clampWorkers(cfg.MaxParallelTranslations)),

		active: make(map[string]struct{}),

		dispatchStop: make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}
}

func clampWorkers(n int) int {
	if n <= 0 {
		return 1
	}
	if n > systemCeiling {
		return systemCeiling
	}
	return n
}

// Start schedules both cron passes, starts the worker-pool dispatch loop,
// and recovers any request left InProgress by a prior process that never
// transitioned it (a crash mid-run).
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recoverInProgress(ctx); err != nil {
		s.log.Warn().Err(err).Msg("scheduler: failed to recover in-progress requests at startup")
	}

	s.cron.SingletonModeAll()
	if _, err := s.cron.Cron(s.cfg.IndexingCron).Do(func() { s.runIndexingPass(ctx) }); err != nil {
		return fmt.Errorf("scheduler: schedule indexing pass: %w", err)
	}
	if _, err := s.cron.Cron(s.cfg.TranslationCron).Do(func() { s.runTranslationPass(ctx) }); err != nil {
		return fmt.Errorf("scheduler: schedule translation pass: %w", err)
	}
	s.cron.StartAsync()

	go s.dispatchLoop(ctx)
	return nil
}

// Stop signals every in-flight worker token and waits up to timeout for
// acknowledgement, per spec's cancellation-propagation requirement.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.cron.Stop()
	close(s.dispatchStop)
	<-s.dispatchDone

	ids := s.activeIDs()
	for _, id := range ids {
		s.runner.Cancel(id)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler: shutdown timed out after %s waiting for %d job(s)", timeout, len(ids))
	}
}

func (s *Scheduler) recoverInProgress(ctx context.Context) error {
	stuck, err := s.store.Requests().ListInProgress(ctx)
	if err != nil {
		return fmt.Errorf("list in-progress: %w", err)
	}
	for _, req := range stuck {
		if err := s.store.Requests().UpdateStatus(ctx, req.ID, domain.StatusFailed); err != nil {
			s.log.Warn().Err(err).Str("request_id", req.ID).Msg("scheduler: failed to fail stuck in-progress request")
			continue
		}
		s.reqs.AppendLog(ctx, req.ID, domain.LogWarn, "request left in_progress by a prior process, marked failed", "")
	}
	return nil
}

// runIndexingPass lists every externally known media item and brings its
// stored state up to date: ancestors, embedded-subtitle sync when the
// directory looks newer than the last check, and a fresh compute_state.
func (s *Scheduler) runIndexingPass(ctx context.Context) {
	items, err := s.lister.ListMedia(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("indexing pass: list media")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(indexingFanout)
	for _, item := range items {
		item := item
		g.Go(func() error {
			if err := s.indexOne(gctx, item); err != nil {
				s.log.Warn().Err(err).Str("external_id", item.ExternalID).Msg("indexing pass: media")
			}
			return nil // one item's failure never aborts the pass
		})
	}
	g.Wait()
}

func (s *Scheduler) indexOne(ctx context.Context, item domain.ListedMedia) error {
	var seasonID int64
	if item.Kind == domain.KindEpisode {
		showID, err := s.store.Media().UpsertShow(ctx, item.ShowExternalID, item.ShowTitle, item.ShowExcluded, item.ShowPriority)
		if err != nil {
			return fmt.Errorf("upsert show: %w", err)
		}
		seasonID, err = s.store.Media().UpsertSeason(ctx, showID, item.SeasonNumber, item.SeasonExcluded)
		if err != nil {
			return fmt.Errorf("upsert season: %w", err)
		}
	}

	mediaID, err := s.store.Media().UpsertMedia(ctx, item.Kind, item.ExternalID, item.Title, item.Directory, item.BaseFilename, seasonID, item.EpisodeNumber, item.ExcludeFromTranslation, item.IsPriority)
	if err != nil {
		return fmt.Errorf("upsert media: %w", err)
	}

	common, err := s.store.Media().GetCommon(ctx, mediaID)
	if err != nil {
		return fmt.Errorf("get common: %w", err)
	}

	if needsReindex(common) {
		containerPath, err := prober.ResolvePath(common.Directory, common.BaseFilename)
		if err != nil {
			return fmt.Errorf("resolving container file: %w", err)
		}
		if !s.prober.IsAvailable() {
			s.log.Warn().Int64("media_id", mediaID).Msg("indexing pass: ffprobe unavailable, embedded subtitles not probed")
		}
		embedded := s.prober.Probe(ctx, containerPath)
		if err := s.store.Media().ReplaceEmbeddedSubtitles(ctx, mediaID, item.Kind, embedded); err != nil {
			return fmt.Errorf("sync embedded subtitles: %w", err)
		}
		if err := s.store.Media().TouchLastSubtitleCheck(ctx, mediaID); err != nil {
			return fmt.Errorf("touch last subtitle check: %w", err)
		}
		common, err = s.store.Media().GetCommon(ctx, mediaID)
		if err != nil {
			return fmt.Errorf("get common after sync: %w", err)
		}
	}

	var season *domain.Season
	var show *domain.Show
	if seasonID != 0 {
		season, show, err = s.store.Media().GetAncestors(ctx, seasonID)
		if err != nil {
			s.log.Warn().Err(err).Int64("media_id", mediaID).Msg("indexing pass: failed to resolve ancestors")
		}
	}

	hasActive, err := s.store.Requests().HasActive(ctx, mediaID, item.Kind)
	if err != nil {
		return fmt.Errorf("has active: %w", err)
	}
	failed, err := s.store.Requests().ListFailed(ctx, mediaID, item.Kind)
	if err != nil {
		return fmt.Errorf("list failed: %w", err)
	}

	extSubs := mediastate.DiscoverExternalSubtitles(common.Directory, common.BaseFilename)
	in := mediastate.Input{
		Common:       common,
		Ancestors:    mediastate.Ancestors{Season: season, Show: show},
		SourceLangs:  s.cfg.SourceLangs,
		TargetLangs:  s.cfg.TargetLangs,
		HasActiveReq: hasActive,
		HasFailedReq: len(failed) > 0,
	}
	state := mediastate.ComputeState(in, extSubs)

	version, err := s.store.Settings().LanguageSettingsVersion(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("indexing pass: failed to read language settings version")
	}
	return s.store.Media().UpdateState(ctx, mediaID, state, version)
}

// needsReindex reports whether the media's directory has changed since the
// last embedded-subtitle sync, by mtime. A never-checked media, or a stat
// failure, is conservatively treated as needing a sync.
func needsReindex(common *domain.MediaCommon) bool {
	if common.LastSubtitleCheckAt == nil {
		return true
	}
	info, err := os.Stat(common.Directory)
	if err != nil {
		return true
	}
	return info.ModTime().After(*common.LastSubtitleCheckAt)
}

// runTranslationPass pulls next_work(N) and, for every returned media,
// enqueues a request for each configured (source, target) pair whose target
// doesn't already have an external subtitle.
func (s *Scheduler) runTranslationPass(ctx context.Context) {
	candidates, err := s.store.Media().ListWorkCandidates(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("translation pass: list work candidates")
		return
	}
	work := mediastate.NextWork(ctx, candidates, mediastate.WorkQuery{Limit: s.cfg.WorkBatchSize, PriorityFirst: true})
	for _, c := range work {
		if err := s.enqueueMedia(ctx, c); err != nil {
			s.log.Warn().Err(err).Int64("media_id", c.MediaID).Msg("translation pass: enqueue")
		}
	}
}

func (s *Scheduler) enqueueMedia(ctx context.Context, c mediastate.Candidate) error {
	common, err := s.store.Media().GetCommon(ctx, c.MediaID)
	if err != nil {
		return fmt.Errorf("get common: %w", err)
	}
	extSubs := mediastate.DiscoverExternalSubtitles(common.Directory, common.BaseFilename)

	for _, src := range s.cfg.SourceLangs {
		for _, tgt := range s.cfg.TargetLangs {
			if targetAlreadyPresent(extSubs, tgt) {
				continue
			}
			attrs := domain.RequestAttrs{
				TitleSnapshot: common.Title,
				MediaID:       c.MediaID,
				MediaKind:     c.MediaKind,
				SourceLang:    src,
				TargetLang:    tgt,
				IsPriority:    c.IsPriority,
			}
			if _, err := s.reqs.Create(ctx, attrs, false); err != nil {
				return fmt.Errorf("create request %s->%s: %w", src, tgt, err)
			}
		}
	}
	return nil
}

func targetAlreadyPresent(extSubs []mediastate.ExternalSubtitle, tgt string) bool {
	for _, es := range extSubs {
		if es.Language != "" && lang.Matches(es.Language, tgt) {
			return true
		}
	}
	return false
}

// dispatchLoop periodically hands Pending requests to the job runner, up to
// the worker pool's capacity and the provider's admission control.
func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer close(s.dispatchDone)
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dispatchStop:
			return
		case <-ticker.C:
			s.dispatchOnce(ctx)
		}
	}
}

func (s *Scheduler) dispatchOnce(ctx context.Context) {
	for {
		select {
		case s.sem <- struct{}{}:
		default:
			return // pool is at capacity
		}

		req, common, ok := s.popNextPending(ctx)
		if !ok {
			<-s.sem
			return
		}
		if !s.admission.Allow() {
			<-s.sem
			return // leave it Pending; retried on a later tick
		}

		s.wg.Add(1)
		s.markActive(req.ID)
		go func() {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			defer s.unmarkActive(req.ID)
			err := s.runner.Run(ctx, req, s.cfg.Job, common)
			// Only provider-side refusals (rate/daily limit, non-retryable
			// 4xx) count against the breaker; other outcomes count as success.
			var te *translate.Error
			if errors.As(err, &te) && (te.Kind == translate.KindRateLimited || te.Kind == translate.KindNonRetryable) {
				s.admission.Record(err)
			} else {
				s.admission.Record(nil)
			}
		}()
	}
}

// popNextPending returns the highest-priority Pending request not already
// claimed by this tick's earlier iterations, along with its media.
func (s *Scheduler) popNextPending(ctx context.Context) (*domain.TranslationRequest, *domain.MediaCommon, bool) {
	queued, err := s.store.Requests().ListQueued(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("dispatch: list queued")
		return nil, nil, false
	}
	sortPriorityFirst(queued)

	for _, req := range queued {
		if s.isActive(req.ID) {
			continue
		}
		common, err := s.store.Media().GetCommon(ctx, req.MediaID)
		if err != nil {
			s.log.Warn().Err(err).Str("request_id", req.ID).Msg("dispatch: get media")
			continue
		}
		return req, common, true
	}
	return nil, nil, false
}

// sortPriorityFirst orders is_priority desc, then created_at asc. It shares
// only its first key with next_work's media ordering (mediastate.Less).
func sortPriorityFirst(reqs []*domain.TranslationRequest) {
	sort.SliceStable(reqs, func(i, j int) bool {
		if reqs[i].IsPriority != reqs[j].IsPriority {
			return reqs[i].IsPriority
		}
		return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
	})
}

func (s *Scheduler) markActive(id string) {
	s.activeMu.Lock()
	s.active[id] = struct{}{}
	s.activeMu.Unlock()
}

func (s *Scheduler) unmarkActive(id string) {
	s.activeMu.Lock()
	delete(s.active, id)
	s.activeMu.Unlock()
}

func (s *Scheduler) isActive(id string) bool {
	s.activeMu.Lock()
	_, ok := s.active[id]
	s.activeMu.Unlock()
	return ok
}

func (s *Scheduler) activeIDs() []string {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}
