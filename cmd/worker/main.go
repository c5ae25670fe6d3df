// cmd/worker runs the dispatch loop standalone, for deployments that scale
// API and worker processes independently rather than running the worker
// embedded in the API process (cfg.WorkerEnabled toggles the latter).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	observability.L().Info("starting orchestrator worker")

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

	ctx, cancel := context.WithCancel(context.Background())
	go w.Start(ctx, cfg.WorkerConcurrencyPerSong)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	observability.L().Info("shutting down worker")
	cancel()
}
