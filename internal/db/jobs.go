package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/vibecraft/orchestrator/internal/models"
)

func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (id, kind, song_id, status, progress_pct)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	return db.QueryRowContext(ctx, query, job.ID, job.Kind, job.SongID, job.Status, job.ProgressPct).
		Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `
		SELECT id, kind, song_id, status, progress_pct, error, result, created_at, updated_at
		FROM jobs WHERE id = $1
	`
	j := &models.Job{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&j.ID, &j.Kind, &j.SongID, &j.Status, &j.ProgressPct, &j.Error, &j.Result,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// LatestJob reconstructs "in-flight" status on page reload by reading the
// most recent job row per (song, kind) — §4.7: "no client-side session
// state is required".
func (db *DB) LatestJob(ctx context.Context, songID uuid.UUID, kind string) (*models.Job, error) {
	query := `
		SELECT id, kind, song_id, status, progress_pct, error, result, created_at, updated_at
		FROM jobs WHERE song_id = $1 AND kind = $2 ORDER BY created_at DESC LIMIT 1
	`
	j := &models.Job{}
	err := db.QueryRowContext(ctx, query, songID, kind).Scan(
		&j.ID, &j.Kind, &j.SongID, &j.Status, &j.ProgressPct, &j.Error, &j.Result,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest job: %w", err)
	}
	return j, nil
}

// UpdateJobProgress writes a monotonic non-decreasing percent; callers are
// responsible for never regressing progress (§4.7 progress model).
func (db *DB) UpdateJobProgress(ctx context.Context, id uuid.UUID, status models.JobStatus, progressPct float64) error {
	query := `UPDATE jobs SET status = $1, progress_pct = $2, updated_at = NOW() WHERE id = $3`
	_, err := db.ExecContext(ctx, query, status, progressPct, id)
	return err
}

func (db *DB) FailJob(ctx context.Context, id uuid.UUID, message string) error {
	query := `UPDATE jobs SET status = $1, error = $2, updated_at = NOW() WHERE id = $3`
	_, err := db.ExecContext(ctx, query, models.JobStatusFailed, message, id)
	return err
}

func (db *DB) CompleteJob(ctx context.Context, id uuid.UUID, result models.JSONB) error {
	query := `UPDATE jobs SET status = $1, progress_pct = 100, result = $2, updated_at = NOW() WHERE id = $3`
	_, err := db.ExecContext(ctx, query, models.JobStatusCompleted, result, id)
	return err
}
