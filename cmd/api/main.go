// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "comic-orchestrator/docs"
	"comic-orchestrator/internal/config"
	"comic-orchestrator/internal/ledger"
	"comic-orchestrator/internal/logger"
	"comic-orchestrator/internal/provider/gemini"
	"comic-orchestrator/internal/repository/postgresql"
	"comic-orchestrator/internal/service"
	"comic-orchestrator/internal/storage"
	httptransport "comic-orchestrator/internal/transport/http"
)

// @title Comic Orchestrator API
// @version 1.0
// @description Creates comic generation jobs, gates them on page approval and assembles the finished book.
// @BasePath /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("production", "info")
		bootLog.Fatal().Err(err).Msg("config")
	}
	log := logger.New(cfg.AppEnv, cfg.LogLevel).With().Str("component", "api").Logger()

	log.Info().
		Str("http_addr", cfg.HTTPAddr).
		Str("redis_addr", cfg.RedisAddr).
		Str("key_prefix", cfg.RedisKeyPrefix).
		Str("postgres_dsn", config.RedactDSN(cfg.PostgresDSN)).
		Int("generation_cost", cfg.GenerationCost).
		Int("edit_cost", cfg.EditCost).
		Msg("config")

	// Postgres
	pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("pg")
	}
	defer pool.Close()

	if err := postgresql.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	if err := ledger.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

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

	// edits run inline on the request path
	gen, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, store, gemini.Options{
		ImageModel: cfg.GeminiImageModel,
		TextModel:  cfg.GeminiTextModel,
	}, log.With().Str("component", "gemini").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("gemini")
	}

	// DI
	repo := postgresql.NewJobRepository(pool)
	credits := ledger.New(pool)
	queue := service.NewRedisStepQueue(rdb, service.DefaultQueueKeys(cfg.RedisKeyPrefix))
	jobSvc := service.NewJobService(repo, credits, queue, gen, service.Options{
		GenerationCost:  cfg.GenerationCost,
		EditCost:        cfg.EditCost,
		MaxEditsPerPage: cfg.MaxEditsPerPage,
	}, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.Routes(httptransport.NewHandler(jobSvc, credits), log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("api started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http")
	}
	log.Info().Msg("api stopped")
}
