// Package composition drives the CompositionJob state machine (§4.6):
// validate → download → normalize → (beat-align) → concatenate →
// (beat effects) → mux → verify → upload. Grounded on the teacher's
// internal/services/ffmpeg.go (zoompan motion filters repurposed for
// beat-pulse effects, concat demuxer, amix, ffprobe probing), generalized
// from Ken-Burns-still-image rendering to stitching already-generated
// clips with beat-synchronous effects.
package composition

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/vibecraft/orchestrator/internal/db"
	"github.com/vibecraft/orchestrator/internal/models"
	"github.com/vibecraft/orchestrator/internal/observability"
	"github.com/vibecraft/orchestrator/internal/orchestration"
	"github.com/vibecraft/orchestrator/internal/storage"
)

// BeatEffect is one of the frame-indexed beat-reactive filters (§4.6).
// Mirrors internal/config.BeatEffectType's values without importing that
// package, matching the rest of this pack's narrow-per-package-config
// convention (cmd/ wiring converts the configured value into this type).
type BeatEffect string

const (
	BeatEffectFlash      BeatEffect = "flash"
	BeatEffectColorBurst BeatEffect = "color_burst"
	BeatEffectZoomPulse  BeatEffect = "zoom_pulse"
	BeatEffectGlitch     BeatEffect = "glitch"
)

// Config carries composition's rendering target + feature flags (§6).
type Config struct {
	TargetWidth  int
	TargetHeight int
	TargetFPS    int
	CRF          int
	Preset       string

	MaxSongDurationSec float64 // hard cap, default 300 (§4.6)
	MaxExtendSec       float64 // max_extend, default 3

	NormalizeWorkerPoolSize int // bounded parallel normalize pool, default 4

	BeatEffectEnabled             bool
	BeatEffectType                BeatEffect
	BeatAlignedTransitionsEnabled bool

	TempDir string
}

// Engine runs composition jobs against the record store and blob store.
type Engine struct {
	db      *db.DB
	storage *storage.Storage
	cfg     Config
}

func New(database *db.DB, stor *storage.Storage, cfg Config) *Engine {
	if cfg.NormalizeWorkerPoolSize <= 0 {
		cfg.NormalizeWorkerPoolSize = 4
	}
	if cfg.MaxExtendSec <= 0 {
		cfg.MaxExtendSec = 3
	}
	if cfg.MaxSongDurationSec <= 0 {
		cfg.MaxSongDurationSec = 300
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Engine{db: database, storage: stor, cfg: cfg}
}

// errCanceled is returned internally by a checkpoint that observed a
// cancel request; Run translates it into a clean nil return (the job row
// already carries the terminal canceled state, so the caller — the
// worker's job dispatch loop — treats this as success, not failure).
var errCanceled = fmt.Errorf("composition canceled at checkpoint")

// Run drives one CompositionJob through every state-machine step (§4.6),
// honoring a cancel request at each checkpoint (§5: "checkpoints at every
// subprocess boundary and between per-clip normalizations").
func (e *Engine) Run(ctx context.Context, jobID uuid.UUID) error {
	job, err := e.db.GetCompositionJob(ctx, jobID)
	if err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "composition", "Run", "failed to load job", err)
	}

	workDir := filepath.Join(e.cfg.TempDir, "composition-"+jobID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "composition", "Run", "failed to create work dir", err)
	}
	defer os.RemoveAll(workDir)

	run := &jobRun{engine: e, job: job, workDir: workDir}

	steps := []struct {
		state models.CompositionState
		pct   float64
		fn    func(context.Context) error
	}{
		{models.CompositionValidating, 5, run.validate},
		{models.CompositionDownloading, 15, run.download},
		{models.CompositionNormalizing, 40, run.normalize},
		{models.CompositionBeatAligning, 50, run.beatAlign},
		{models.CompositionConcatenating, 65, run.concatenate},
		{models.CompositionBeatEffects, 75, run.applyBeatEffects},
		{models.CompositionMuxing, 85, run.mux},
		{models.CompositionVerifying, 95, run.verify},
		{models.CompositionUploading, 99, run.upload},
	}

	for _, step := range steps {
		canceled, err := e.checkpoint(ctx, jobID)
		if err != nil {
			return err
		}
		if canceled {
			return nil
		}

		if err := e.db.UpdateCompositionState(ctx, jobID, step.state, step.pct); err != nil {
			observability.L().Warn("failed to record composition state", observability.JobID(jobID.String()))
		}

		started := time.Now()
		stepErr := step.fn(ctx)
		observability.CompositionStageDuration.WithLabelValues(string(step.state)).Observe(time.Since(started).Seconds())

		if stepErr == errCanceled {
			// A nested checkpoint (inside normalize's worker pool) already
			// observed and finalized the cancellation; nothing left to do.
			return nil
		}
		if stepErr != nil {
			_ = e.db.FailComposition(ctx, jobID, stepErr.Error())
			return stepErr
		}
	}

	if err := e.db.UpdateCompositionState(ctx, jobID, models.CompositionCompleted, 100); err != nil {
		observability.L().Warn("failed to record composition completion", observability.JobID(jobID.String()))
	}
	return nil
}

// checkpoint honors a pending cancel request (§5). It is called between
// every step and, inside normalize/beat-align, before every per-clip
// unit of work.
func (e *Engine) checkpoint(ctx context.Context, jobID uuid.UUID) (canceled bool, err error) {
	requested, err := e.db.IsCancelRequested(ctx, jobID)
	if err != nil {
		return false, orchestration.Wrap(orchestration.KindInternal, "composition", "checkpoint", "failed to check cancel state", err)
	}
	if !requested {
		return false, nil
	}
	if err := e.db.MarkCanceled(ctx, jobID); err != nil {
		return false, orchestration.Wrap(orchestration.KindInternal, "composition", "checkpoint", "failed to finalize cancellation", err)
	}
	return true, nil
}
