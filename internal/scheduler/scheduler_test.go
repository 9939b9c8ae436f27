package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/jobrunner"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/mediastate"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/prober"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/requests"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/store"
)

func TestClampWorkers(t *testing.T) {
	assert.Equal(t, 1, clampWorkers(0))
	assert.Equal(t, 1, clampWorkers(-3))
	assert.Equal(t, 4, clampWorkers(4))
	assert.Equal(t, systemCeiling, clampWorkers(systemCeiling+50))
}

func TestProviderAdmissionQuota(t *testing.T) {
	a := NewProviderAdmission(3, 1, 5, time.Minute)
	assert.True(t, a.Allow())
	a.Record(nil)
	assert.True(t, a.Allow())
	a.Record(nil)
	// quota 3, buffer 1: dispatch stops once used >= 3-1 = 2
	assert.False(t, a.Allow())
}

func TestProviderAdmissionUnboundedQuota(t *testing.T) {
	a := NewProviderAdmission(0, 0, 5, time.Minute)
	for i := 0; i < 50; i++ {
		assert.True(t, a.Allow())
		a.Record(nil)
	}
}

func TestProviderAdmissionBreakerTrips(t *testing.T) {
	a := NewProviderAdmission(0, 0, 2, time.Hour)
	assert.True(t, a.Allow())
	a.Record(assertErr)
	assert.True(t, a.Allow())
	a.Record(assertErr)
	assert.False(t, a.Allow(), "breaker should be open after reaching the failure threshold")
}

var assertErr = errDummy{}

type errDummy struct{}

func (errDummy) Error() string { return "dummy failure" }

func TestNeedsReindexNeverCheckedIsTrue(t *testing.T) {
	common := &domain.MediaCommon{Directory: t.TempDir()}
	assert.True(t, needsReindex(common))
}

func TestNeedsReindexFreshCheckIsFalse(t *testing.T) {
	dir := t.TempDir()
	future := time.Now().Add(time.Hour)
	common := &domain.MediaCommon{Directory: dir, LastSubtitleCheckAt: &future}
	assert.False(t, needsReindex(common))
}

func TestSortPriorityFirst(t *testing.T) {
	now := time.Now()
	reqs := []*domain.TranslationRequest{
		{ID: "a", IsPriority: false, Stamps: domain.Stamps{CreatedAt: now}},
		{ID: "b", IsPriority: true, Stamps: domain.Stamps{CreatedAt: now.Add(time.Minute)}},
		{ID: "c", IsPriority: false, Stamps: domain.Stamps{CreatedAt: now.Add(-time.Minute)}},
	}
	sortPriorityFirst(reqs)
	require.Len(t, reqs, 3)
	assert.Equal(t, "b", reqs[0].ID, "priority request should sort first regardless of age")
	assert.Equal(t, "c", reqs[1].ID, "oldest non-priority request should sort before a newer one")
	assert.Equal(t, "a", reqs[2].ID)
}

func TestTargetAlreadyPresent(t *testing.T) {
	extSubs := []mediastate.ExternalSubtitle{{Language: "fr"}, {Language: ""}}
	assert.True(t, targetAlreadyPresent(extSubs, "fr"))
	assert.False(t, targetAlreadyPresent(extSubs, "de"))
}

type stubLister struct{}

func (stubLister) ListMedia(ctx context.Context) ([]domain.ListedMedia, error) { return nil, nil }

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reqSvc := requests.New(s, nil, zerolog.Nop())
	runner := jobrunner.New(s, reqSvc, prober.New("", ""), nil, zerolog.Nop())

	cfg := Config{
		IndexingCron:    "0 */6 * * *",
		TranslationCron: "*/5 * * * *",
		SourceLangs:     []string{"en"},
		TargetLangs:     []string{"fr", "de"},
		Job:             jobrunner.Config{},
	}
	return New(s, reqSvc, runner, prober.New("", ""), stubLister{}, cfg, zerolog.Nop()), s
}

func TestEnqueueMediaCreatesOneRequestPerMissingTarget(t *testing.T) {
	sch, s := newTestScheduler(t)
	ctx := context.Background()

	mediaID, err := s.Media().UpsertMedia(ctx, domain.KindMovie, "ext-1", "Movie One", t.TempDir(), "movie1", 0, 0, false, false)
	require.NoError(t, err)

	err = sch.enqueueMedia(ctx, mediastate.Candidate{MediaID: mediaID, MediaKind: domain.KindMovie})
	require.NoError(t, err)

	queued, err := s.Requests().ListQueued(ctx)
	require.NoError(t, err)
	assert.Len(t, queued, 2, "one request per configured target language")
}

func TestEnqueueMediaIsIdempotent(t *testing.T) {
	sch, s := newTestScheduler(t)
	ctx := context.Background()

	mediaID, err := s.Media().UpsertMedia(ctx, domain.KindMovie, "ext-1", "Movie One", t.TempDir(), "movie1", 0, 0, false, false)
	require.NoError(t, err)

	require.NoError(t, sch.enqueueMedia(ctx, mediastate.Candidate{MediaID: mediaID, MediaKind: domain.KindMovie}))
	require.NoError(t, sch.enqueueMedia(ctx, mediastate.Candidate{MediaID: mediaID, MediaKind: domain.KindMovie}))

	queued, err := s.Requests().ListQueued(ctx)
	require.NoError(t, err)
	assert.Len(t, queued, 2, "re-running the translation pass must not duplicate active requests")
}

func TestRecoverInProgressFailsStuckRequests(t *testing.T) {
	sch, s := newTestScheduler(t)
	ctx := context.Background()

	mediaID, err := s.Media().UpsertMedia(ctx, domain.KindMovie, "ext-1", "Movie One", t.TempDir(), "movie1", 0, 0, false, false)
	require.NoError(t, err)
	req, err := s.Requests().Create(ctx, domain.RequestAttrs{MediaID: mediaID, MediaKind: domain.KindMovie, SourceLang: "en", TargetLang: "fr"})
	require.NoError(t, err)
	require.NoError(t, s.Requests().UpdateStatus(ctx, req.ID, domain.StatusInProgress))

	require.NoError(t, sch.recoverInProgress(ctx))

	got, err := s.Requests().Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.False(t, got.IsActive)
}
