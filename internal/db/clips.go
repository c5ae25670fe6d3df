package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/vibecraft/orchestrator/internal/models"
)

func (db *DB) ReplaceClipPlan(ctx context.Context, songID uuid.UUID, plan *models.ClipPlan, clips []models.Clip) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	// §4.4 plan(): delete prior Clips not yet generated (queued/failed/
	// canceled); clips already processing/completed are left untouched so
	// a re-plan never discards in-flight or finished generation work.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM clips WHERE song_id = $1 AND status IN ($2, $3, $4)
	`, songID, models.ClipStatusQueued, models.ClipStatusFailed, models.ClipStatusCanceled); err != nil {
		return fmt.Errorf("failed to clear prior plan clips: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM clip_plans WHERE song_id = $1`, songID); err != nil {
		return fmt.Errorf("failed to clear prior plan: %w", err)
	}

	entriesJSON, err := jsonMarshal(plan.Entries)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO clip_plans (song_id, entries, target_fps) VALUES ($1, $2, $3)
	`, songID, entriesJSON, plan.TargetFPS); err != nil {
		return fmt.Errorf("failed to insert plan: %w", err)
	}

	for i := range clips {
		c := &clips[i]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO clips (id, song_id, plan_index, prompt_text, seed, requested_frames, requested_fps, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, c.ID, c.SongID, c.PlanIndex, c.PromptText, c.Seed, c.RequestedFrames, c.RequestedFPS, c.Status); err != nil {
			return fmt.Errorf("failed to insert clip %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func (db *DB) GetClipPlan(ctx context.Context, songID uuid.UUID) (*models.ClipPlan, error) {
	query := `SELECT song_id, entries, target_fps, created_at FROM clip_plans WHERE song_id = $1`
	plan := &models.ClipPlan{}
	var entriesJSON []byte
	err := db.QueryRowContext(ctx, query, songID).Scan(&plan.SongID, &entriesJSON, &plan.TargetFPS, &plan.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clip plan: %w", err)
	}
	if err := jsonUnmarshal(entriesJSON, &plan.Entries); err != nil {
		return nil, err
	}
	return plan, nil
}

func (db *DB) GetClip(ctx context.Context, id uuid.UUID) (*models.Clip, error) {
	query := `
		SELECT id, song_id, plan_index, prompt_text, seed, requested_frames, requested_fps,
			status, external_job_id, result_url, result_width, result_height, result_fps,
			error_message, attempt_count, created_at, updated_at
		FROM clips WHERE id = $1
	`
	c := &models.Clip{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.SongID, &c.PlanIndex, &c.PromptText, &c.Seed, &c.RequestedFrames, &c.RequestedFPS,
		&c.Status, &c.ExternalJobID, &c.ResultURL, &c.ResultWidth, &c.ResultHeight, &c.ResultFPS,
		&c.ErrorMessage, &c.AttemptCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get clip: %w", err)
	}
	return c, nil
}

func (db *DB) GetSongClips(ctx context.Context, songID uuid.UUID) ([]models.Clip, error) {
	query := `
		SELECT id, song_id, plan_index, prompt_text, seed, requested_frames, requested_fps,
			status, external_job_id, result_url, result_width, result_height, result_fps,
			error_message, attempt_count, created_at, updated_at
		FROM clips WHERE song_id = $1 ORDER BY plan_index
	`
	rows, err := db.QueryContext(ctx, query, songID)
	if err != nil {
		return nil, fmt.Errorf("failed to query clips: %w", err)
	}
	defer rows.Close()

	var clips []models.Clip
	for rows.Next() {
		var c models.Clip
		if err := rows.Scan(
			&c.ID, &c.SongID, &c.PlanIndex, &c.PromptText, &c.Seed, &c.RequestedFrames, &c.RequestedFPS,
			&c.Status, &c.ExternalJobID, &c.ResultURL, &c.ResultWidth, &c.ResultHeight, &c.ResultFPS,
			&c.ErrorMessage, &c.AttemptCount, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan clip: %w", err)
		}
		clips = append(clips, c)
	}
	return clips, nil
}

// ClaimClip is the at-most-one-active-generation compare-and-set of §4.4:
// it transitions status queued -> processing only if the row is still
// queued, and reports whether the claim succeeded. A failed claim means
// another worker already dequeued this clip or it changed state
// (canceled) out from under us — the caller must drop the job.
func (db *DB) ClaimClip(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE clips SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	res, err := db.ExecContext(ctx, query, models.ClipStatusProcessing, id, models.ClipStatusQueued)
	if err != nil {
		return false, fmt.Errorf("failed to claim clip: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReleaseClip reverts a claimed clip back to queued, used when the
// per-song concurrency cap is already saturated (§4.4: "it releases the
// claim (reverts to queued with a short delay)").
func (db *DB) ReleaseClip(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE clips SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
	_, err := db.ExecContext(ctx, query, models.ClipStatusQueued, id, models.ClipStatusProcessing)
	return err
}

// CountProcessing returns count(status=processing for song), the quantity
// the per-song concurrency cap C bounds (§4.4, §8).
func (db *DB) CountProcessing(ctx context.Context, songID uuid.UUID) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM clips WHERE song_id = $1 AND status = $2
	`, songID, models.ClipStatusProcessing).Scan(&count)
	return count, err
}

func (db *DB) SetExternalJobID(ctx context.Context, id uuid.UUID, externalJobID string) error {
	query := `UPDATE clips SET external_job_id = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, externalJobID, id)
	return err
}

func (db *DB) CompleteClip(ctx context.Context, id uuid.UUID, resultURL string, width, height int, fps float64) error {
	query := `
		UPDATE clips SET status = $1, result_url = $2, result_width = $3,
			result_height = $4, result_fps = $5, error_message = NULL, updated_at = NOW()
		WHERE id = $6
	`
	_, err := db.ExecContext(ctx, query, models.ClipStatusCompleted, resultURL, width, height, fps, id)
	return err
}

func (db *DB) FailClip(ctx context.Context, id uuid.UUID, message string) error {
	query := `UPDATE clips SET status = $1, error_message = $2, updated_at = NOW() WHERE id = $3`
	_, err := db.ExecContext(ctx, query, models.ClipStatusFailed, message, id)
	return err
}

// RetryClip resets a failed/canceled clip to queued and clears its error
// (§4.4 retry(), §8 "subsequent completed is indistinguishable from a
// first-time completion").
func (db *DB) RetryClip(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE clips SET status = $1, error_message = NULL, attempt_count = attempt_count + 1, updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)
	`
	res, err := db.ExecContext(ctx, query, models.ClipStatusQueued, id, models.ClipStatusFailed, models.ClipStatusCanceled)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *DB) CancelClip(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE clips SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status NOT IN ($3, $4)
	`
	_, err := db.ExecContext(ctx, query, models.ClipStatusCanceled, id, models.ClipStatusCompleted, models.ClipStatusCanceled)
	return err
}

// StatusCounts aggregates clip counts per status for the §4.4 status()
// operation.
func (db *DB) StatusCounts(ctx context.Context, songID uuid.UUID) (map[models.ClipStatus]int, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM clips WHERE song_id = $1 GROUP BY status
	`, songID)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate clip status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.ClipStatus]int)
	for rows.Next() {
		var status models.ClipStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, nil
}
