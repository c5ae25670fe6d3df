package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/vibecraft/orchestrator/internal/models"
)

func (db *DB) CreateCompositionJob(ctx context.Context, job *models.CompositionJob) error {
	clipIDsJSON, err := jsonMarshal(job.ClipIDs)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO composition_jobs (id, song_id, clip_ids, status, progress_pct)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	return db.QueryRowContext(ctx, query, job.ID, job.SongID, clipIDsJSON, job.Status, job.ProgressPct).
		Scan(&job.CreatedAt, &job.UpdatedAt)
}

// ActiveCompositionJob returns the song's non-terminal composition job, if
// any (§3: "At most one non-terminal composition per song").
func (db *DB) ActiveCompositionJob(ctx context.Context, songID uuid.UUID) (*models.CompositionJob, error) {
	query := `
		SELECT id, song_id, clip_ids, status, progress_pct, error_message, created_at, updated_at
		FROM composition_jobs
		WHERE song_id = $1 AND status NOT IN ($2, $3, $4)
		ORDER BY created_at DESC LIMIT 1
	`
	return db.scanCompositionJob(db.QueryRowContext(ctx, query, songID,
		models.CompositionCompleted, models.CompositionFailed, models.CompositionCanceled))
}

func (db *DB) GetCompositionJob(ctx context.Context, id uuid.UUID) (*models.CompositionJob, error) {
	query := `
		SELECT id, song_id, clip_ids, status, progress_pct, error_message, created_at, updated_at
		FROM composition_jobs WHERE id = $1
	`
	return db.scanCompositionJob(db.QueryRowContext(ctx, query, id))
}

func (db *DB) scanCompositionJob(row *sql.Row) (*models.CompositionJob, error) {
	job := &models.CompositionJob{}
	var clipIDsJSON []byte
	err := row.Scan(&job.ID, &job.SongID, &clipIDsJSON, &job.Status, &job.ProgressPct,
		&job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get composition job: %w", err)
	}
	if err := jsonUnmarshal(clipIDsJSON, &job.ClipIDs); err != nil {
		return nil, err
	}
	return job, nil
}

func (db *DB) UpdateCompositionState(ctx context.Context, id uuid.UUID, state models.CompositionState, progressPct float64) error {
	query := `UPDATE composition_jobs SET status = $1, progress_pct = $2, updated_at = NOW() WHERE id = $3`
	_, err := db.ExecContext(ctx, query, state, progressPct, id)
	return err
}

func (db *DB) FailComposition(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE composition_jobs SET status = $1, error_message = $2, updated_at = NOW() WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, models.CompositionFailed, message, id)
	return err
}

// RequestCancelComposition writes status=canceling onto the job (§5
// "A cancel request writes status=canceling on the target job"); the
// worker driving the job checks for this at every checkpoint and
// transitions to canceled itself once it honors the request.
func (db *DB) RequestCancelComposition(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE composition_jobs SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status NOT IN ($3, $4, $5, $6)
	`
	_, err := db.ExecContext(ctx, query, models.CompositionCanceling, id,
		models.CompositionCompleted, models.CompositionFailed, models.CompositionCanceling, models.CompositionCanceled)
	return err
}

// IsCancelRequested reports whether a cancel has been requested for the
// job, for the cooperative checkpoint checks in internal/composition.
func (db *DB) IsCancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var status models.CompositionState
	err := db.QueryRowContext(ctx, `SELECT status FROM composition_jobs WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to check cancel status: %w", err)
	}
	return status == models.CompositionCanceling, nil
}

// MarkCanceled finalizes a canceling job as canceled, the terminal state
// workers transition to once a checkpoint honors the cancel request.
func (db *DB) MarkCanceled(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE composition_jobs SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, models.CompositionCanceled, id)
	return err
}

func (db *DB) CreateComposedVideo(ctx context.Context, v *models.ComposedVideo) error {
	clipIDsJSON, err := jsonMarshal(v.ClipIDs)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO composed_videos (
			id, song_id, blob_key, width, height, fps, duration_sec, byte_size, composition_job_id, clip_ids
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	return db.QueryRowContext(ctx, query, v.ID, v.SongID, v.BlobKey, v.Width, v.Height, v.FPS,
		v.DurationSec, v.ByteSize, v.CompositionJobID, clipIDsJSON).Scan(&v.CreatedAt)
}

// CurrentComposedVideo returns the most recent artifact for a song (§3:
// "the most recent is the current artifact").
func (db *DB) CurrentComposedVideo(ctx context.Context, songID uuid.UUID) (*models.ComposedVideo, error) {
	query := `
		SELECT id, song_id, blob_key, width, height, fps, duration_sec, byte_size,
			composition_job_id, clip_ids, created_at
		FROM composed_videos WHERE song_id = $1 ORDER BY created_at DESC LIMIT 1
	`
	v := &models.ComposedVideo{}
	var clipIDsJSON []byte
	err := db.QueryRowContext(ctx, query, songID).Scan(
		&v.ID, &v.SongID, &v.BlobKey, &v.Width, &v.Height, &v.FPS, &v.DurationSec, &v.ByteSize,
		&v.CompositionJobID, &clipIDsJSON, &v.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get composed video: %w", err)
	}
	if err := jsonUnmarshal(clipIDsJSON, &v.ClipIDs); err != nil {
		return nil, err
	}
	return v, nil
}
