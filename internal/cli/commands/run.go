package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/config"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/domain"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/jobrunner"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/prober"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/requests"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/scheduler"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/store"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/translate/batch"
	"github.com/tassa-yoniso-manasi-karoto/subtrans/internal/translate/providers"
)

// shutdownTimeout bounds how long Stop waits for in-flight jobs to
// acknowledge cancellation before run reports a forced exit.
const shutdownTimeout = 30 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start the daemon: indexing pass, translation pass, and worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()

		cfg, err := config.LoadSettings()
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}

		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("creating data dir: %w", err)
		}
		s, err := store.Open(filepath.Join(cfg.DataDir, "subtrans.db"), log)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}

		version, changed, err := s.ReconcileLanguageSettings(cmd.Context(), cfg.SourceLangCodes(), cfg.TargetLangCodes())
		if err != nil {
			return fmt.Errorf("reconciling language settings: %w", err)
		}
		if changed {
			log.Info().Int64("language_settings_version", version).Msg("source/target languages changed, marked all media stale")
		}

		p := prober.New(cfg.FFProbePath, cfg.FFMpegPath)
		translator := providers.New(cfg.Endpoint, cfg.Model, cfg.APIKey)

		// jobrunner.Runner.Cancel only reads its token registry, so it can
		// serve as requests.Canceller before its reqs field is known; build
		// the runner first, then the service, then hand the service back in.
		runner := jobrunner.New(s, nil, p, translator, log)
		reqSvc := requests.New(s, runner, log)
		runner.SetRequests(reqSvc)

		sched := scheduler.New(s, reqSvc, runner, p, domain.NoopLister{}, schedulerConfig(cfg), log)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		log.Info().Msg("subtransd started")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		log.Info().Msg("shutting down")
		cancel()
		if err := sched.Stop(shutdownTimeout); err != nil {
			exitOnError(err)
		}
		return nil
	},
}

// schedulerConfig builds the scheduler's runtime config from loaded
// settings, the same field-by-field translation cmd/subtransd does once at
// startup since config.Settings is the on-disk shape and scheduler.Config is
// the shape the scheduler actually consumes.
func schedulerConfig(cfg config.Settings) scheduler.Config {
	return scheduler.Config{
		IndexingCron:    cfg.IndexingCron,
		TranslationCron: cfg.TranslationCron,

		MaxParallelTranslations: cfg.MaxParallelTranslations,

		SourceLangs: cfg.SourceLangCodes(),
		TargetLangs: cfg.TargetLangCodes(),

		ProviderDailyQuota:       cfg.ProviderDailyQuota,
		ProviderQuotaBuffer:      cfg.ProviderQuotaBuffer,
		ProviderBreakerThreshold: cfg.ProviderBreakerThreshold,
		ProviderBreakerCooldown:  time.Duration(cfg.ProviderBreakerCooldown) * time.Second,

		Job: jobrunnerConfig(cfg),
	}
}

func jobrunnerConfig(cfg config.Settings) jobrunner.Config {
	return jobrunner.Config{
		UseBatchTranslation: cfg.UseBatchTranslation,
		Batch: batch.Options{
			StripFormatting:       cfg.StripSubtitleFormatting,
			MaxBatchSize:          cfg.MaxBatchSize,
			RetryMode:             batch.RetryMode(cfg.BatchRetryMode),
			MaxBatchSplitAttempts: cfg.MaxBatchSplitAttempts,
			RepairContextRadius:   cfg.RepairContextRadius,
			RepairMaxRetries:      cfg.RepairMaxRetries,
			ContextBefore:         cfg.ContextBefore,
			ContextAfter:          cfg.ContextAfter,
		},
		MaxRetries:           cfg.MaxRetries,
		RetryDelay:           time.Duration(cfg.RetryDelay) * time.Second,
		RetryDelayMultiplier: cfg.RetryDelayMultiplier,
		RequestTimeout:       time.Duration(cfg.RequestTimeout) * time.Second,
		IntegrityValidation:  cfg.IntegrityValidationEnabled,
		UseSubtitleTagging:   cfg.UseSubtitleTagging,
		SubtitleTag:          cfg.SubtitleTag,
	}
}

// newLogger builds the console logger every subcommand shares, the same
// zerolog.ConsoleWriter-plus-timestamp construction the original media
// pipeline's CLI handler used.
func newLogger() zerolog.Logger {
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	return zerolog.New(writer).With().Timestamp().Logger()
}
