// cmd/worker/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"comic-orchestrator/internal/assembly"
	"comic-orchestrator/internal/config"
	"comic-orchestrator/internal/ledger"
	"comic-orchestrator/internal/logger"
	"comic-orchestrator/internal/notify"
	"comic-orchestrator/internal/provider/gemini"
	"comic-orchestrator/internal/repository/postgresql"
	"comic-orchestrator/internal/service"
	"comic-orchestrator/internal/storage"
	"comic-orchestrator/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("production", "info")
		bootLog.Fatal().Err(err).Msg("config")
	}
	log := logger.New(cfg.AppEnv, cfg.LogLevel).With().Str("component", "worker").Logger()

	log.Info().
		Int("workers", cfg.Workers).
		Str("redis_addr", cfg.RedisAddr).
		Str("key_prefix", cfg.RedisKeyPrefix).
		Str("postgres_dsn", config.RedactDSN(cfg.PostgresDSN)).
		Str("storage_mode", cfg.StorageMode).
		Dur("step_delay", cfg.StepDelay).
		Int("qa_fix_max_attempts", cfg.QAFixMaxAttempts).
		Msg("config")

	// Postgres
	pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("pg")
	}
	defer pool.Close()

	// Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis")
	}
	defer rdb.Close()

	store, err := storage.Open(ctx, storage.Options{
		Mode:   cfg.StorageMode,
		Path:   cfg.StoragePath,
		Bucket: cfg.S3Bucket,
		Region: cfg.AWSRegion,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("storage")
	}

	gen, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, store, gemini.Options{
		ImageModel: cfg.GeminiImageModel,
		TextModel:  cfg.GeminiTextModel,
		QAModel:    cfg.GeminiQAModel,
	}, log.With().Str("component", "gemini").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("gemini")
	}

	notifier, err := openNotifier(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("notifier")
	}

	// DI
	repo := postgresql.NewJobRepository(pool)
	queue := service.NewRedisStepQueue(rdb, service.DefaultQueueKeys(cfg.RedisKeyPrefix))
	failures := service.NewFailureHandler(repo, ledger.New(pool), log)

	processor := worker.NewProcessor(
		repo,
		gen,
		gen,
		assembly.NewClient(cfg.AssemblyBaseURL, cfg.AssemblyTimeout),
		notifier,
		failures,
		worker.Config{
			StepDelay:   cfg.StepDelay,
			StepTimeout: cfg.StepTimeout,
			Retry: worker.RetryPolicy{
				MaxValidationRetries: cfg.MaxValidationRetries,
				MaxTransientRetries:  cfg.MaxTransientRetries,
				BaseDelay:            cfg.RetryBaseDelay,
			},
			QAFixMaxAttempts: cfg.QAFixMaxAttempts,
		},
		log,
	)
	workers := worker.NewPool(queue, processor, cfg.Workers, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return workers.Run(gctx) })
	g.Go(func() error { return worker.RunPromoter(gctx, queue, cfg.PromoteInterval, log) })
	// Reaper: hands steps of crashed workers back to the ready list
	g.Go(func() error { return worker.RunReaper(gctx, queue, cfg.StaleAfter, log) })
	g.Go(func() error { return worker.RunSweeper(gctx, repo, queue, cfg.StaleAfter, log) })

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("worker exited")
	}
	log.Info().Msg("worker stopped")
}

func openNotifier(ctx context.Context, cfg config.Config, log zerolog.Logger) (notify.Notifier, error) {
	if cfg.NotifyProvider != "ses" {
		return notify.NewLogNotifier(log.With().Str("component", "notify").Logger()), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, err
	}
	return notify.NewSESNotifier(ses.NewFromConfig(awsCfg), cfg.NotifyFromAddress), nil
}
