package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medical-ai-platform/internal/ai"
	"medical-ai-platform/internal/ai/gcpspeech"
	"medical-ai-platform/internal/ai/openai"
	"medical-ai-platform/internal/audiostore"
	"medical-ai-platform/internal/audit"
	"medical-ai-platform/internal/auth"
	"medical-ai-platform/internal/config"
	"medical-ai-platform/internal/httpapi"
	"medical-ai-platform/internal/pipeline"
	"medical-ai-platform/internal/recordings"
	"medical-ai-platform/internal/reporting"
	"medical-ai-platform/internal/telemetry"
	"medical-ai-platform/migrations"
	"medical-ai-platform/pkg/logger"
	"medical-ai-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(rootCtx, stop, cfg, log); err != nil {
		log.Error("api stopped", "err", err)
		os.Exit(1)
	}
}

func run(rootCtx context.Context, stop context.CancelFunc, cfg config.Config, log *slog.Logger) error {
	shutdownTracing, err := telemetry.Setup(rootCtx, cfg.Telemetry, cfg.App.Env, log)
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{
		MaxOpenConns: cfg.DB.MaxOpenConns,
		MaxIdleConns: cfg.DB.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("postgres init: %w", err)
	}
	defer db.Close()

	if cfg.DB.AutoMigrate {
		if err := utils.Migrate(rootCtx, db, migrations.FS, log); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		return fmt.Errorf("redis init: %w", err)
	}
	defer rdb.Close()

	audio, err := openAudioStore(rootCtx, cfg.Storage, cfg.AI.GoogleCredentialsFile)
	if err != nil {
		return fmt.Errorf("audio store init: %w", err)
	}

	oai, err := openai.New(openai.Config{
		APIKey:     cfg.AI.OpenAIKey,
		BaseURL:    cfg.AI.OpenAIBaseURL,
		MaxRetries: cfg.AI.MaxRetries,
	}, log)
	if err != nil {
		return fmt.Errorf("openai init: %w", err)
	}
	transcriber, closeTranscriber, err := openTranscriber(rootCtx, cfg.AI, oai, log)
	if err != nil {
		return fmt.Errorf("transcriber init: %w", err)
	}
	defer closeTranscriber()

	auditor := audit.NewService(audit.NewPostgresRepo(db))
	recRepo := recordings.NewPostgresRepo(db)

	orchestrator := pipeline.New(pipeline.Deps{
		Store:       recRepo,
		Audio:       audio,
		Transcriber: transcriber,
		Generator:   oai,
		Guard:       pipeline.NewRedisGuard(rdb, cfg.Pipeline.StudioConcurrency, cfg.Pipeline.RunTimeout+time.Minute),
		Audit:       auditor,
	}, pipeline.Config{
		ReportModel:          cfg.AI.ReportModel,
		ChartModel:           cfg.AI.ChartModel,
		TranscriptionTimeout: cfg.AI.TranscriptionTimeout,
		ReportTimeout:        cfg.AI.ReportTimeout,
		ChartTimeout:         cfg.AI.ChartTimeout,
		RunTimeout:           cfg.Pipeline.RunTimeout,
		StaleAfter:           cfg.Pipeline.StaleAfter,
	})

	h := httpapi.Handlers{
		Auth:       authManager,
		Recordings: recordings.NewService(recRepo, audio, auditor),
		Pipeline:   orchestrator,
		Reporting:  reporting.NewService(reporting.NewPostgresRepo(db)),
		Audio:      audio,
		MaxUpload:  cfg.Storage.MaxUpload,
		Ready: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           newRouter(cfg, log, h, auth.RequireAccessToken(authManager)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		// process answers only once the pipeline has finished
		WriteTimeout: cfg.Pipeline.RunTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown failed", "err", err)
	}
	return nil
}

func openAudioStore(ctx context.Context, cfg config.StorageConfig, credentials string) (audiostore.Store, error) {
	switch cfg.Backend {
	case "gcs":
		return audiostore.NewGCSStore(ctx, audiostore.GCSConfig{
			Bucket:          cfg.GCSBucket,
			KeyPrefix:       "recordings",
			PublicPrefix:    cfg.PublicPrefix,
			CredentialsFile: credentials,
		})
	default:
		return audiostore.NewLocalStore(cfg.LocalDir, cfg.PublicPrefix)
	}
}

func openTranscriber(ctx context.Context, cfg config.AIConfig, oai *openai.Client, log *slog.Logger) (ai.Transcriber, func(), error) {
	if cfg.TranscriptionProvider == "google" {
		t, err := gcpspeech.New(ctx, gcpspeech.Config{
			Language:        cfg.Language,
			Model:           cfg.TranscriptionModel,
			CredentialsFile: cfg.GoogleCredentialsFile,
			MaxRetries:      cfg.MaxRetries,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return t, func() { _ = t.Close() }, nil
	}
	return openai.NewTranscriber(oai, cfg.TranscriptionModel, cfg.Language), func() {}, nil
}
