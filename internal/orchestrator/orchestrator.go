// Package orchestrator owns the per-song job lifecycle and progress model
// (§4.7): upload → analyze → select video type (+ segment for short-form)
// → plan/generate clips → compose, enforcing the precedence constraints
// §3's invariants imply and reconstructing "in-flight" status from the
// latest job row per (song, kind) rather than any client-side session
// state. Grounded on the teacher's worker.go job-status transition
// helpers (UpdateProjectStatus/UpdateJobStatus/UpdateJobError),
// generalized from a fixed 3-stage pipeline to this precedence chain.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vibecraft/orchestrator/internal/db"
	"github.com/vibecraft/orchestrator/internal/models"
	"github.com/vibecraft/orchestrator/internal/orchestration"
	"github.com/vibecraft/orchestrator/internal/queue"
)

// Orchestrator mediates song/job lifecycle transitions. It holds no
// pipeline logic itself — analysis, clip generation, and composition are
// driven by their own packages; this package only enforces precedence and
// publishes/reconstructs progress.
type Orchestrator struct {
	db    *db.DB
	queue *queue.Queue
	env   string
}

func New(database *db.DB, q *queue.Queue, env string) *Orchestrator {
	return &Orchestrator{db: database, queue: q, env: env}
}

// UploadSong persists a new Song row for an already-uploaded blob (§4.7
// "upload persists the Song").
func (o *Orchestrator) UploadSong(ctx context.Context, sourceBlobKey string) (*models.Song, error) {
	song := &models.Song{
		ID:            uuid.New(),
		SourceBlobKey: sourceBlobKey,
		VideoType:     models.VideoTypeUnset,
		AnalysisState: models.AnalysisStateIdle,
	}
	if err := o.db.CreateSong(ctx, song); err != nil {
		return nil, orchestration.Wrap(orchestration.KindInternal, "orchestrator", "UploadSong", "failed to create song", err)
	}
	return song, nil
}

// StartAnalysis transitions Song.analysis_state idle|failed|completed →
// queued, creates the analysis Job row, and enqueues the work (§4.7).
// Re-running analysis on a previously analyzed song is allowed (the new
// analysis supersedes the old one), but not while one is already
// queued/processing, per §3's single-analysis-in-flight assumption.
func (o *Orchestrator) StartAnalysis(ctx context.Context, songID uuid.UUID) (*models.Job, error) {
	song, err := o.db.GetSong(ctx, songID)
	if err != nil {
		return nil, notFoundOr(err, "orchestrator", "StartAnalysis", "song not found")
	}
	if song.AnalysisState != models.AnalysisStateIdle && song.AnalysisState != models.AnalysisStateFailed &&
		song.AnalysisState != models.AnalysisStateCompleted {
		return nil, orchestration.Wrap(orchestration.KindPrecondition, "orchestrator", "StartAnalysis",
			fmt.Sprintf("analysis already %s", song.AnalysisState), nil)
	}

	job := &models.Job{ID: uuid.New(), Kind: queue.KindAnalyzeSong, SongID: songID, Status: models.JobStatusQueued}
	if err := o.db.CreateJob(ctx, job); err != nil {
		return nil, orchestration.Wrap(orchestration.KindInternal, "orchestrator", "StartAnalysis", "failed to create job", err)
	}
	if err := o.db.SetAnalysisState(ctx, songID, models.AnalysisStateQueued); err != nil {
		return nil, orchestration.Wrap(orchestration.KindInternal, "orchestrator", "StartAnalysis", "failed to set analysis state", err)
	}
	if err := o.queue.EnqueueAnalysis(ctx, songID, job.ID); err != nil {
		return nil, orchestration.Wrap(orchestration.KindTransientExternal, "orchestrator", "StartAnalysis", "failed to enqueue analysis", err)
	}
	return job, nil
}

// BeginAnalysisProcessing and the Complete/Fail pair below are called by
// the worker dispatch loop around the audioanalysis.Engine invocation —
// this package owns the state transitions, not the analysis itself.
func (o *Orchestrator) BeginAnalysisProcessing(ctx context.Context, songID uuid.UUID) error {
	return o.db.SetAnalysisState(ctx, songID, models.AnalysisStateProcessing)
}

func (o *Orchestrator) CompleteAnalysis(ctx context.Context, jobID, songID uuid.UUID) error {
	if err := o.db.SetAnalysisState(ctx, songID, models.AnalysisStateCompleted); err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "orchestrator", "CompleteAnalysis", "failed to set analysis state", err)
	}
	if err := o.db.MarkAnalysisReady(ctx, songID); err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "orchestrator", "CompleteAnalysis", "failed to mark analysis ready", err)
	}
	if err := o.db.CompleteJob(ctx, jobID, nil); err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "orchestrator", "CompleteAnalysis", "failed to complete job", err)
	}
	return nil
}

func (o *Orchestrator) FailAnalysis(ctx context.Context, jobID, songID uuid.UUID, message string) error {
	if err := o.db.SetAnalysisState(ctx, songID, models.AnalysisStateFailed); err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "orchestrator", "FailAnalysis", "failed to set analysis state", err)
	}
	return o.db.FailJob(ctx, jobID, message)
}

// SetVideoType requires analysis to be ready before a length class may be
// chosen (§4.7 "after analysis, the user must select video_type").
func (o *Orchestrator) SetVideoType(ctx context.Context, songID uuid.UUID, videoType models.VideoType) error {
	song, err := o.db.GetSong(ctx, songID)
	if err != nil {
		return notFoundOr(err, "orchestrator", "SetVideoType", "song not found")
	}
	if !song.AnalysisReady {
		return orchestration.Wrap(orchestration.KindPrecondition, "orchestrator", "SetVideoType", "analysis is not ready", nil)
	}
	changed, err := o.db.SetVideoType(ctx, songID, videoType)
	if err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "orchestrator", "SetVideoType", "failed to set video type", err)
	}
	if !changed {
		return orchestration.Wrap(orchestration.KindPrecondition, "orchestrator", "SetVideoType", "video_type has already been set", nil)
	}
	return nil
}

// SetAudioSelection requires short_form to already be chosen (§4.7 "for
// short-form an audio segment" must be selected before planning).
func (o *Orchestrator) SetAudioSelection(ctx context.Context, songID uuid.UUID, startSec, endSec float64) error {
	song, err := o.db.GetSong(ctx, songID)
	if err != nil {
		return notFoundOr(err, "orchestrator", "SetAudioSelection", "song not found")
	}
	if song.VideoType != models.VideoTypeShortForm {
		return orchestration.Wrap(orchestration.KindPrecondition, "orchestrator", "SetAudioSelection", "video_type is not short_form", nil)
	}
	if startSec < 0 || endSec <= startSec {
		return orchestration.Wrap(orchestration.KindValidation, "orchestrator", "SetAudioSelection", "invalid selection bounds", nil)
	}
	if song.DurationSec != nil && endSec > *song.DurationSec {
		return orchestration.Wrap(orchestration.KindValidation, "orchestrator", "SetAudioSelection", "selection exceeds song duration", nil)
	}
	if err := o.db.SetAudioSelection(ctx, songID, startSec, endSec); err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "orchestrator", "SetAudioSelection", "failed to set audio selection", err)
	}
	return nil
}

// CanPlanClips reports whether clip planning may proceed for songID, and
// if not, why (§4.7 precedence: analysis ready, video_type chosen, and a
// segment selected when short_form).
func (o *Orchestrator) CanPlanClips(ctx context.Context, songID uuid.UUID) (bool, string, error) {
	song, err := o.db.GetSong(ctx, songID)
	if err != nil {
		return false, "", notFoundOr(err, "orchestrator", "CanPlanClips", "song not found")
	}
	ok, reason := planPrecondition(song)
	return ok, reason, nil
}

// planPrecondition is CanPlanClips' decision in isolation (§4.7 precedence:
// analysis ready, video_type chosen, segment selected when short_form),
// pulled out of the DB-bound method so it is unit-testable directly.
func planPrecondition(song *models.Song) (bool, string) {
	if !song.AnalysisReady {
		return false, "analysis is not ready"
	}
	if song.VideoType == models.VideoTypeUnset {
		return false, "video_type has not been selected"
	}
	if song.VideoType == models.VideoTypeShortForm && !song.HasSelection() {
		return false, "short_form requires an audio segment selection"
	}
	return true, ""
}

// CanCompose reports whether composition may be enqueued: every clip
// chosen for the plan must be completed (§4.7 "composition requires all
// chosen clips in completed").
func (o *Orchestrator) CanCompose(ctx context.Context, songID uuid.UUID) (bool, string, error) {
	clips, err := o.db.GetSongClips(ctx, songID)
	if err != nil {
		return false, "", orchestration.Wrap(orchestration.KindInternal, "orchestrator", "CanCompose", "failed to load clips", err)
	}
	ok, reason := composePrecondition(clips)
	return ok, reason, nil
}

// composePrecondition is CanCompose's decision in isolation: every planned
// clip must be completed, and at least one clip must exist.
func composePrecondition(clips []models.Clip) (bool, string) {
	if len(clips) == 0 {
		return false, "no clips have been planned"
	}
	for _, c := range clips {
		if !c.IsComplete() {
			return false, fmt.Sprintf("clip %s is not completed", c.ID)
		}
	}
	return true, ""
}

// StartComposition enforces CanCompose, then creates the composition Job
// + CompositionJob rows and enqueues the work.
func (o *Orchestrator) StartComposition(ctx context.Context, songID uuid.UUID) (*models.Job, error) {
	ok, reason, err := o.CanCompose(ctx, songID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, orchestration.Wrap(orchestration.KindPrecondition, "orchestrator", "StartComposition", reason, nil)
	}
	if _, err := o.db.ActiveCompositionJob(ctx, songID); err == nil {
		return nil, orchestration.Wrap(orchestration.KindPrecondition, "orchestrator", "StartComposition",
			"a composition is already active for this song", nil)
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, orchestration.Wrap(orchestration.KindInternal, "orchestrator", "StartComposition", "failed to check active composition", err)
	}

	clips, err := o.db.GetSongClips(ctx, songID)
	if err != nil {
		return nil, orchestration.Wrap(orchestration.KindInternal, "orchestrator", "StartComposition", "failed to load clips", err)
	}
	clipIDs := make([]uuid.UUID, len(clips))
	for i, c := range clips {
		clipIDs[i] = c.ID
	}

	compJob := &models.CompositionJob{
		ID: uuid.New(), SongID: songID, ClipIDs: clipIDs, Status: models.CompositionQueued,
	}
	if err := o.db.CreateCompositionJob(ctx, compJob); err != nil {
		return nil, orchestration.Wrap(orchestration.KindInternal, "orchestrator", "StartComposition", "failed to create composition job", err)
	}

	job := &models.Job{ID: uuid.New(), Kind: queue.KindComposeVideo, SongID: songID, Status: models.JobStatusQueued}
	if err := o.db.CreateJob(ctx, job); err != nil {
		return nil, orchestration.Wrap(orchestration.KindInternal, "orchestrator", "StartComposition", "failed to create job", err)
	}
	if err := o.queue.EnqueueComposition(ctx, songID, job.ID); err != nil {
		return nil, orchestration.Wrap(orchestration.KindTransientExternal, "orchestrator", "StartComposition", "failed to enqueue composition", err)
	}
	return job, nil
}

// ReportProgress enforces the §4.7 "monotonic non-decreasing percent"
// progress model: a report that would regress the stored percent is
// silently dropped rather than erroring, since a slow duplicate delivery
// of an earlier milestone is expected under at-least-once queue delivery.
func (o *Orchestrator) ReportProgress(ctx context.Context, jobID uuid.UUID, status models.JobStatus, percent float64) error {
	current, err := o.db.GetJob(ctx, jobID)
	if err != nil {
		return notFoundOr(err, "orchestrator", "ReportProgress", "job not found")
	}
	percent = clampMonotonic(current.ProgressPct, percent)
	if err := o.db.UpdateJobProgress(ctx, jobID, status, percent); err != nil {
		return orchestration.Wrap(orchestration.KindInternal, "orchestrator", "ReportProgress", "failed to update job progress", err)
	}
	return nil
}

// LatestJobStatus reconstructs in-flight status for (song, kind) from the
// most recent job row — §4.7 "no client-side session state is required".
func (o *Orchestrator) LatestJobStatus(ctx context.Context, songID uuid.UUID, kind string) (*models.Job, error) {
	job, err := o.db.LatestJob(ctx, songID, kind)
	if err != nil {
		return nil, notFoundOr(err, "orchestrator", "LatestJobStatus", "no job found")
	}
	return job, nil
}

// clampMonotonic enforces the §4.7 "monotonic non-decreasing percent"
// progress model in isolation.
func clampMonotonic(current, reported float64) float64 {
	if reported < current {
		return current
	}
	return reported
}

func notFoundOr(err error, component, op, message string) error {
	if errors.Is(err, db.ErrNotFound) || errors.Is(err, sql.ErrNoRows) {
		return orchestration.Wrap(orchestration.KindPrecondition, component, op, message, err)
	}
	return orchestration.Wrap(orchestration.KindInternal, component, op, "unexpected error", err)
}
