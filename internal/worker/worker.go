// Package worker implements the dispatch loop that dequeues jobs from
// internal/queue and drives them through the domain packages: analyze_song
// into internal/audioanalysis, generate_clip into internal/clipcoordinator,
// and compose_video into internal/composition, with internal/orchestrator
// owning the Song/Job state transitions around each. Grounded on the
// teacher's worker.go processQueue/Start loop shape (one goroutine per
// queue slot, blocking dequeue, status bookkeeping around the handler
// call), generalized from three fixed queue names to the kind-dispatch
// table below.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vibecraft/orchestrator/internal/audioanalysis"
	"github.com/vibecraft/orchestrator/internal/clipcoordinator"
	"github.com/vibecraft/orchestrator/internal/composition"
	"github.com/vibecraft/orchestrator/internal/db"
	"github.com/vibecraft/orchestrator/internal/models"
	"github.com/vibecraft/orchestrator/internal/observability"
	"github.com/vibecraft/orchestrator/internal/orchestration"
	"github.com/vibecraft/orchestrator/internal/orchestrator"
	"github.com/vibecraft/orchestrator/internal/queue"
	"github.com/vibecraft/orchestrator/internal/storage"
)

type Worker struct {
	db              *db.DB
	queue           *queue.Queue
	storage         *storage.Storage
	orchestrator    *orchestrator.Orchestrator
	analysis        *audioanalysis.Engine
	clips           *clipcoordinator.Coordinator
	composer        *composition.Engine
	clipConcurrency int // goroutines draining the clip-generation queue
	env             string
}

func New(
	database *db.DB,
	q *queue.Queue,
	stor *storage.Storage,
	orch *orchestrator.Orchestrator,
	analysisEngine *audioanalysis.Engine,
	clipCoordinator *clipcoordinator.Coordinator,
	compositionEngine *composition.Engine,
	clipConcurrency int,
	env string,
) *Worker {
	if clipConcurrency <= 0 {
		clipConcurrency = 4
	}
	return &Worker{
		db:              database,
		queue:           q,
		storage:         stor,
		orchestrator:    orch,
		analysis:        analysisEngine,
		clips:           clipCoordinator,
		composer:        compositionEngine,
		clipConcurrency: clipConcurrency,
		env:             env,
	}
}

// Start runs concurrency dispatch goroutines against the default queue and
// the per-environment clip-generation queue, mirroring the teacher's
// one-goroutine-per-queue-per-slot fan-out. clipConcurrency is
// deliberately decoupled from the per-song cap C — clipcoordinator
// enforces C itself by releasing claims back to queued.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	observability.L().Info("worker started", observability.Component("worker"))

	for i := 0; i < concurrency; i++ {
		go w.processQueue(ctx, queue.QueueDefault)
	}
	for i := 0; i < w.clipConcurrency; i++ {
		go w.processQueue(ctx, queue.ClipGenerationQueue(w.env))
	}

	<-ctx.Done()
	observability.L().Info("worker shutting down", observability.Component("worker"))
}

func (w *Worker) processQueue(ctx context.Context, queueName string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := w.queue.Dequeue(ctx, queueName, 5*time.Second)
		if err != nil {
			observability.L().Warn(fmt.Sprintf("dequeue from %s failed: %v", queueName, err), observability.Component("worker"))
			continue
		}
		if job == nil {
			continue
		}

		observability.L().Info("processing job",
			observability.JobID(job.ID.String()), observability.SongID(job.SongID.String()),
			observability.Component("worker"))

		if err := w.dispatch(ctx, job); err != nil {
			observability.L().Warn(fmt.Sprintf("job %s failed: %v", job.ID, err), observability.JobID(job.ID.String()))
		}
	}
}

func (w *Worker) dispatch(ctx context.Context, job *queue.Job) error {
	switch job.Kind {
	case queue.KindAnalyzeSong:
		return w.handleAnalyzeSong(ctx, job)
	case queue.KindGenerateClip:
		return w.handleGenerateClip(ctx, job)
	case queue.KindComposeVideo:
		return w.handleComposeVideo(ctx, job)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// handleAnalyzeSong drives the §4.1 pipeline: download source audio,
// decode to PCM, run audioanalysis.Engine.Analyze with progress reported
// through the orchestrator, then persist the analysis and mark the song
// ready.
func (w *Worker) handleAnalyzeSong(ctx context.Context, job *queue.Job) error {
	if err := w.orchestrator.BeginAnalysisProcessing(ctx, job.SongID); err != nil {
		return err
	}

	song, err := w.db.GetSong(ctx, job.SongID)
	if err != nil {
		return w.failAnalysis(ctx, job, fmt.Errorf("failed to load song: %w", err))
	}

	sourceBytes, err := w.storage.Download(ctx, song.SourceBlobKey)
	if err != nil {
		return w.failAnalysis(ctx, job, orchestration.Wrap(orchestration.KindTransientExternal,
			"worker", "handleAnalyzeSong", "failed to download source audio", err))
	}
	w.analysis.SetSourceBytes(sourceBytes)

	pcm, sampleRate, err := decodePCM(ctx, sourceBytes)
	if err != nil {
		return w.failAnalysis(ctx, job, orchestration.Wrap(orchestration.KindValidation,
			"worker", "handleAnalyzeSong", "failed to decode source audio", err))
	}

	progress := func(pct float64) {
		if err := w.orchestrator.ReportProgress(ctx, job.ID, models.JobStatusProcessing, pct); err != nil {
			observability.L().Warn(fmt.Sprintf("failed to report analysis progress: %v", err), observability.JobID(job.ID.String()))
		}
	}

	analysis, durationSec, err := w.analysis.Analyze(ctx, job.SongID.String(), pcm, sampleRate, progress)
	if err != nil {
		return w.failAnalysis(ctx, job, err)
	}
	analysis.ID = uuid.New()
	analysis.SongID = job.SongID

	if song.DurationSec == nil {
		if err := w.db.SetSongDuration(ctx, job.SongID, durationSec); err != nil {
			return w.failAnalysis(ctx, job, fmt.Errorf("failed to persist song duration: %w", err))
		}
	}
	if err := w.db.CreateAnalysis(ctx, analysis); err != nil {
		return w.failAnalysis(ctx, job, fmt.Errorf("failed to persist analysis: %w", err))
	}

	return w.orchestrator.CompleteAnalysis(ctx, job.ID, job.SongID)
}

func (w *Worker) failAnalysis(ctx context.Context, job *queue.Job, cause error) error {
	_ = w.orchestrator.FailAnalysis(ctx, job.ID, job.SongID, cause.Error())
	return cause
}

// handleGenerateClip drives one per-clip generation job through
// clipcoordinator.ProcessOne; all claim/concurrency/retry/poll logic lives
// in that package, this is just the envelope unwrap.
func (w *Worker) handleGenerateClip(ctx context.Context, job *queue.Job) error {
	if job.ClipID == nil {
		return fmt.Errorf("generate_clip job %s missing clip_id", job.ID)
	}
	return w.clips.ProcessOne(ctx, *job.ClipID, parseAttempt(job.Data))
}

// parseAttempt reads the generate_clip envelope's "attempt" field, which
// arrives as a float64 after a JSON round-trip through Redis but may be a
// string if constructed by hand (tests, manual requeue). Defaults to 1.
func parseAttempt(data map[string]interface{}) int {
	raw, ok := data["attempt"]
	if !ok {
		return 1
	}
	switch v := raw.(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 1
}

// handleComposeVideo drives composition.Engine.Run, which owns the entire
// CompositionJob state machine and cancellation checkpointing internally.
// This job's envelope carries song_id, not the composition_job_id
// directly, so it resolves the active job first.
func (w *Worker) handleComposeVideo(ctx context.Context, job *queue.Job) error {
	compJob, err := w.db.ActiveCompositionJob(ctx, job.SongID)
	if err != nil {
		return fmt.Errorf("failed to resolve active composition job for song %s: %w", job.SongID, err)
	}
	return w.composer.Run(ctx, compJob.ID)
}

// decodePCM shells out to ffmpeg to decode arbitrary source audio into
// 32-bit float mono PCM at 44.1kHz, the same os/exec subprocess idiom
// internal/composition's ffmpeg.go uses for video encoding, applied here
// to decoding instead.
func decodePCM(ctx context.Context, sourceBytes []byte) ([]float32, int, error) {
	const sampleRate = 44100

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", "pipe:0",
		"-f", "f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(sourceBytes)

	out, err := cmd.Output()
	if err != nil {
		return nil, 0, fmt.Errorf("ffmpeg decode failed: %w", err)
	}
	if len(out)%4 != 0 {
		out = out[:len(out)-len(out)%4]
	}

	pcm := make([]float32, len(out)/4)
	for i := range pcm {
		bits := uint32(out[i*4]) | uint32(out[i*4+1])<<8 | uint32(out[i*4+2])<<16 | uint32(out[i*4+3])<<24
		pcm[i] = math.Float32frombits(bits)
	}
	return pcm, sampleRate, nil
}
