// Package clipcoordinator plans, enqueues, monitors, retries, and cancels
// per-clip generation tasks against the external video generator,
// enforcing per-song concurrency (§4.4). Grounded on the teacher's
// worker.go handleProcessClip (claim via CAS status transition, per-service
// semaphore, errgroup fan-out), generalized to a per-song concurrency cap
// C and at-most-once claim semantics.
package clipcoordinator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/vibecraft/orchestrator/internal/beatalign"
	"github.com/vibecraft/orchestrator/internal/db"
	"github.com/vibecraft/orchestrator/internal/models"
	"github.com/vibecraft/orchestrator/internal/observability"
	"github.com/vibecraft/orchestrator/internal/orchestration"
	"github.com/vibecraft/orchestrator/internal/queue"
	"github.com/vibecraft/orchestrator/internal/sceneplanner"
	"github.com/vibecraft/orchestrator/internal/videogen"
)

// Coordinator implements the §4.4 operations.
type Coordinator struct {
	db          *db.DB
	queue       *queue.Queue
	videogen    *videogen.Client
	env         string
	concurrency int // C, default 4
	maxAttempts int
}

func New(database *db.DB, q *queue.Queue, vg *videogen.Client, env string, concurrency, maxAttempts int) *Coordinator {
	if concurrency <= 0 {
		concurrency = 4
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Coordinator{db: database, queue: q, videogen: vg, env: env, concurrency: concurrency, maxAttempts: maxAttempts}
}

// Plan regenerates the ClipPlan from the current Analysis (§4.4 plan()).
// Fails with KindPrecondition if no Analysis exists.
func (c *Coordinator) Plan(ctx context.Context, song *models.Song, targetFPS int, minClipSec, maxClipSec float64) (*models.ClipPlan, error) {
	analysis, err := c.db.GetLatestAnalysis(ctx, song.ID)
	if err == db.ErrNotFound {
		return nil, orchestration.Wrap(orchestration.KindPrecondition, "clipcoordinator", "Plan",
			"no analysis exists for song", nil)
	}
	if err != nil {
		return nil, orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "Plan", "load analysis", err)
	}

	start, end := song.EffectiveRegion()
	result, err := beatalign.Align(beatalign.Params{
		BeatTimes:  analysis.BeatTimes,
		Duration:   end,
		MinClipSec: minClipSec,
		MaxClipSec: maxClipSec,
		TargetFPS:  float64(targetFPS),
		StartSec:   start,
		EndSec:     end,
	})
	if err != nil {
		return nil, err
	}

	entries := make([]models.ClipPlanEntry, len(result.Boundaries))
	clips := make([]models.Clip, len(result.Boundaries))
	for i, b := range result.Boundaries {
		beatIndices := make([]int, 0, b.EndBeat-b.StartBeat+1)
		for bi := b.StartBeat; bi <= b.EndBeat; bi++ {
			beatIndices = append(beatIndices, bi)
		}
		entries[i] = models.ClipPlanEntry{
			Index:       i,
			StartSec:    b.StartSec,
			EndSec:      b.EndSec,
			FrameCount:  b.EndFrame - b.StartFrame,
			BeatIndices: beatIndices,
		}

		var section models.Section
		for _, s := range analysis.Sections {
			if b.StartSec >= s.StartSec && b.StartSec < s.EndSec {
				section = s
				break
			}
		}
		scene := sceneplanner.Plan(sceneplanner.Input{
			Section:           section,
			BPM:               analysis.BPM,
			Mood:              analysis.Mood,
			MoodTags:          analysis.MoodTags,
			PrimaryGenre:      analysis.PrimaryGenre,
			TargetDurationSec: b.DurationSec,
			ReferenceImageURL: nil,
		})

		clips[i] = models.Clip{
			ID:              uuid.New(),
			SongID:          song.ID,
			PlanIndex:       i,
			PromptText:      scene.PromptText,
			RequestedFrames: b.EndFrame - b.StartFrame,
			RequestedFPS:    targetFPS,
			Status:          models.ClipStatusQueued,
		}
	}

	plan := &models.ClipPlan{SongID: song.ID, Entries: entries, TargetFPS: targetFPS}
	if err := c.db.ReplaceClipPlan(ctx, song.ID, plan, clips); err != nil {
		return nil, orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "Plan", "persist plan", err)
	}
	return plan, nil
}

// Generate enqueues one job per Clip whose status ∈ {queued, failed,
// canceled} (§4.4 generate()).
func (c *Coordinator) Generate(ctx context.Context, songID uuid.UUID) (int, error) {
	clips, err := c.db.GetSongClips(ctx, songID)
	if err != nil {
		return 0, orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "Generate", "load clips", err)
	}

	count := 0
	for _, clip := range clips {
		switch clip.Status {
		case models.ClipStatusQueued, models.ClipStatusFailed, models.ClipStatusCanceled:
		default:
			continue
		}
		jobID := uuid.New()
		if err := c.queue.EnqueueClipGeneration(ctx, c.env, songID, clip.ID, jobID, clip.AttemptCount); err != nil {
			return count, orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "Generate", "enqueue clip job", err)
		}
		count++
	}
	observability.QueueDepth.WithLabelValues(queue.ClipGenerationQueue(c.env)).Add(float64(count))
	return count, nil
}

// Retry resets a failed/canceled Clip to queued and enqueues it again
// (§4.4 retry()).
func (c *Coordinator) Retry(ctx context.Context, clip *models.Clip) error {
	ok, err := c.db.RetryClip(ctx, clip.ID)
	if err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "Retry", "reset clip status", err)
	}
	if !ok {
		return orchestration.Wrap(orchestration.KindPrecondition, "clipcoordinator", "Retry",
			"clip is not in a retriable state", nil)
	}
	jobID := uuid.New()
	return c.queue.EnqueueClipGeneration(ctx, c.env, clip.SongID, clip.ID, jobID, clip.AttemptCount+1)
}

// StatusSummary is the §4.4 status() aggregate.
type StatusSummary struct {
	Counts            map[models.ClipStatus]int
	Total             int
	Completed         int
	ComposedVideoURL  *string
}

func (c *Coordinator) Status(ctx context.Context, songID uuid.UUID) (*StatusSummary, error) {
	counts, err := c.db.StatusCounts(ctx, songID)
	if err != nil {
		return nil, orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "Status", "aggregate counts", err)
	}
	summary := &StatusSummary{Counts: counts}
	for status, n := range counts {
		summary.Total += n
		if status == models.ClipStatusCompleted {
			summary.Completed = n
		}
	}
	video, err := c.db.CurrentComposedVideo(ctx, songID)
	if err == nil {
		summary.ComposedVideoURL = &video.BlobKey
	} else if err != db.ErrNotFound {
		return nil, orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "Status", "load composed video", err)
	}
	return summary, nil
}

// Cancel marks a clip canceled; it is a no-op once the clip is terminal
// (completed/canceled), matching §4.4 cancel()'s cooperative semantics.
func (c *Coordinator) Cancel(ctx context.Context, clipID uuid.UUID) error {
	if err := c.db.CancelClip(ctx, clipID); err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "Cancel", "cancel clip", err)
	}
	return nil
}

// shouldRelease reports whether a just-claimed clip must be released back
// to queued because the per-song concurrency cap C is saturated (§4.4,
// §8 "count(Clip.status=processing for song=S) ≤ C"). processing already
// counts the clip that was just claimed, so the cap is exceeded once
// processing > cap.
func shouldRelease(processing, capacity int) bool {
	return processing > capacity
}

// claimJitter returns a short randomized delay to avoid a stampede when a
// claim is released back to queued because the concurrency cap is
// saturated (§4.4 "Delay jitter avoids stampede").
func claimJitter() time.Duration {
	return time.Duration(200+rand.Intn(800)) * time.Millisecond
}

// ProcessOne runs one per-clip job to completion: claim, concurrency-cap
// check, submit-or-resume, poll-to-terminal, then persist the result. It
// is invoked by the worker's clip-generation dispatch loop per job.
func (c *Coordinator) ProcessOne(ctx context.Context, clipID uuid.UUID, attempt int) error {
	clip, err := c.db.GetClip(ctx, clipID)
	if err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "ProcessOne", "load clip", err)
	}

	claimed, err := c.db.ClaimClip(ctx, clipID)
	if err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "ProcessOne", "claim clip", err)
	}
	if !claimed {
		// Another worker already claimed it, or it was canceled out from
		// under us — drop the job (§4.4 "at most one active generation").
		return nil
	}

	processing, err := c.db.CountProcessing(ctx, clip.SongID)
	if err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "ProcessOne", "count processing", err)
	}
	observability.ClipsProcessing.WithLabelValues(clip.SongID.String()).Set(float64(processing))

	if shouldRelease(processing, c.concurrency) {
		if err := c.db.ReleaseClip(ctx, clipID); err != nil {
			return orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "ProcessOne", "release clip", err)
		}
		time.Sleep(claimJitter())
		jobID := uuid.New()
		return c.queue.EnqueueClipGeneration(ctx, c.env, clip.SongID, clipID, jobID, attempt)
	}

	externalJobID := ""
	if clip.ExternalJobID != nil && *clip.ExternalJobID != "" {
		// Idempotent resume: a worker restart mid-poll re-queries the
		// stored external job id rather than re-submitting (§4.4, §9).
		externalJobID = *clip.ExternalJobID
	} else {
		var refImageURL string
		id, err := c.videogen.Submit(ctx, clip.PromptText, clip.RequestedFrames, float64(clip.RequestedFPS), clip.Seed, refImageURL)
		if err != nil {
			return c.handleFailure(ctx, clip, attempt, err)
		}
		if err := c.db.SetExternalJobID(ctx, clip.ID, id); err != nil {
			return orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "ProcessOne", "persist external job id", err)
		}
		externalJobID = id
	}

	result, err := c.pollToTerminal(ctx, externalJobID)
	if err != nil {
		return c.handleFailure(ctx, clip, attempt, err)
	}

	switch result.Status {
	case videogen.StatusSucceeded:
		if err := c.db.CompleteClip(ctx, clip.ID, result.ResultURL, 0, 0, float64(clip.RequestedFPS)); err != nil {
			return orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "ProcessOne", "persist completion", err)
		}
		return nil
	case videogen.StatusFailed:
		return c.handleFailure(ctx, clip, attempt, orchestration.Wrap(orchestration.KindPermanentExternal,
			"clipcoordinator", "ProcessOne", result.Error, nil))
	case videogen.StatusTimedOut:
		// §4.5: timed_out is retriable on the first two attempts, fatal
		// thereafter.
		kind := orchestration.KindTransientExternal
		if attempt >= 2 {
			kind = orchestration.KindPermanentExternal
		}
		return c.handleFailure(ctx, clip, attempt, orchestration.Wrap(kind, "clipcoordinator", "ProcessOne", "generation timed out", nil))
	default:
		return orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "ProcessOne",
			fmt.Sprintf("unexpected terminal status %q", result.Status), nil)
	}
}

// pollToTerminal polls until a terminal status, bounded by the client's
// configured wall-clock cap (§4.5).
func (c *Coordinator) pollToTerminal(ctx context.Context, externalJobID string) (*videogen.PollResult, error) {
	deadline := time.Now().Add(c.videogen.MaxWait())
	interval := 3 * time.Second

	for {
		if time.Now().After(deadline) {
			return &videogen.PollResult{Status: videogen.StatusTimedOut}, nil
		}

		result, err := c.videogen.Poll(ctx, externalJobID)
		if err != nil {
			if !orchestration.Retriable(err) {
				return nil, err
			}
			observability.ExternalCallRetries.WithLabelValues("videogen").Inc()
		} else {
			switch result.Status {
			case videogen.StatusSucceeded, videogen.StatusFailed:
				return result, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
		if interval < 10*time.Second {
			interval += time.Second
		}
	}
}

// handleFailure applies the §4.4 retry policy: retriable errors retry up
// to maxAttempts with exponential backoff by re-enqueueing; non-retriable
// errors fail the clip immediately with the provider message.
func (c *Coordinator) handleFailure(ctx context.Context, clip *models.Clip, attempt int, cause error) error {
	if orchestration.Retriable(cause) && attempt < c.maxAttempts {
		// The clip is still claimed (processing): record the failure first
		// so RetryClip's failed -> queued reset applies to it.
		if err := c.db.FailClip(ctx, clip.ID, cause.Error()); err != nil {
			return orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "handleFailure", "record retriable failure", err)
		}
		if _, err := c.db.RetryClip(ctx, clip.ID); err != nil {
			return orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "handleFailure", "reset for retry", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(2<<attempt) * time.Second):
		}
		jobID := uuid.New()
		return c.queue.EnqueueClipGeneration(ctx, c.env, clip.SongID, clip.ID, jobID, attempt+1)
	}
	if err := c.db.FailClip(ctx, clip.ID, cause.Error()); err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "clipcoordinator", "handleFailure", "persist failure", err)
	}
	return nil
}
