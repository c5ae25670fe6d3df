package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vibecraft/orchestrator/internal/api"
	"github.com/vibecraft/orchestrator/internal/audioanalysis"
	"github.com/vibecraft/orchestrator/internal/clipcoordinator"
	"github.com/vibecraft/orchestrator/internal/composition"
	"github.com/vibecraft/orchestrator/internal/config"
	"github.com/vibecraft/orchestrator/internal/db"
	"github.com/vibecraft/orchestrator/internal/observability"
	"github.com/vibecraft/orchestrator/internal/orchestrator"
	"github.com/vibecraft/orchestrator/internal/queue"
	"github.com/vibecraft/orchestrator/internal/storage"
	"github.com/vibecraft/orchestrator/internal/videogen"
	"github.com/vibecraft/orchestrator/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	if err := observability.Init(cfg.LogLevel, cfg.Production); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	defer observability.Sync()
	observability.L().Info("starting orchestrator API")

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		observability.L().Fatal("failed to connect to database: " + err.Error())
	}
	defer database.Close()

	q, err := queue.New(cfg.RedisURL)
	if err != nil {
		observability.L().Fatal("failed to connect to queue: " + err.Error())
	}
	defer q.Close()

	stor := storage.New(cfg.StorageURL, cfg.StorageServiceKey, cfg.StorageBucket)

	orch := orchestrator.New(database, q, cfg.Environment)

	vgClient := videogen.New(cfg.VideoGenEndpoint, cfg.VideoGenAPIKey, time.Duration(cfg.VideoGenTimeoutSec)*time.Second)
	clips := clipcoordinator.New(database, q, vgClient, cfg.Environment, cfg.WorkerConcurrencyPerSong, cfg.MaxAttempts)

	handler := api.NewHandler(database, q, stor, orch, clips, cfg.TargetFPS, cfg.MinClipSec, cfg.MaxClipSec)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		observability.L().Info("API key authentication enabled")
	} else {
		observability.L().Warn("BACKEND_API_KEY not set — API is unprotected")
	}

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	var workerCancel context.CancelFunc
	if cfg.WorkerEnabled {
		observability.L().Info("worker enabled, starting background processing")

		analysisEngine := audioanalysis.New(audioanalysis.Config{
			MinSectionSec:            cfg.MinSectionSec,
			StructureServiceEndpoint: cfg.StructureServiceEndpoint,
			StructureServiceAPIKey:   cfg.StructureServiceAPIKey,
			TranscriptionAPIKey:      cfg.TranscriptionAPIKey,
			WaveformSamples:          1024,
		})

		compositionEngine := composition.New(database, stor, composition.Config{
			TargetWidth:                   cfg.TargetWidth,
			TargetHeight:                  cfg.TargetHeight,
			TargetFPS:                     cfg.TargetFPS,
			CRF:                           cfg.CRF,
			Preset:                        cfg.Preset,
			MaxSongDurationSec:            cfg.MaxSongDurationSec,
			MaxExtendSec:                  cfg.MaxExtendSec,
			NormalizeWorkerPoolSize:       cfg.NormalizeWorkerPoolSize,
			BeatEffectEnabled:             cfg.BeatEffectEnabled,
			BeatEffectType:                composition.BeatEffect(cfg.BeatEffectType),
			BeatAlignedTransitionsEnabled: cfg.BeatAlignedTransitionsEnabled,
			TempDir:                       "/tmp/orchestrator",
		})

		w := worker.New(database, q, stor, orch, analysisEngine, clips, compositionEngine, cfg.WorkerConcurrencyPerSong, cfg.Environment)

		var workerCtx context.Context
		workerCtx, workerCancel = context.WithCancel(context.Background())
		go w.Start(workerCtx, cfg.WorkerConcurrencyPerSong)
	}

	go func() {
		observability.L().Info("API server listening on :" + cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observability.L().Fatal("server error: " + err.Error())
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	observability.L().Info("shutting down")

	if workerCancel != nil {
		workerCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		observability.L().Fatal("server forced to shutdown: " + err.Error())
	}

	observability.L().Info("server exited")
}
