package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/vibecraft/orchestrator/internal/models"
)

func (db *DB) CreateSong(ctx context.Context, song *models.Song) error {
	query := `
		INSERT INTO songs (id, source_blob_key, video_type, analysis_state, analysis_ready)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	return db.QueryRowContext(ctx, query,
		song.ID, song.SourceBlobKey, song.VideoType, song.AnalysisState, song.AnalysisReady,
	).Scan(&song.CreatedAt, &song.UpdatedAt)
}

func (db *DB) GetSong(ctx context.Context, id uuid.UUID) (*models.Song, error) {
	query := `
		SELECT id, source_blob_key, duration_sec, selection_start_sec, selection_end_sec,
			video_type, character_ref_blob_key, analysis_state, analysis_ready,
			created_at, updated_at
		FROM songs WHERE id = $1
	`
	s := &models.Song{}
	err := db.QueryRowContext(ctx, query, id).Scan(
		&s.ID, &s.SourceBlobKey, &s.DurationSec, &s.SelectionStartSec, &s.SelectionEndSec,
		&s.VideoType, &s.CharacterRefBlobKey, &s.AnalysisState, &s.AnalysisReady,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get song: %w", err)
	}
	return s, nil
}

// SetSongDuration sets Song.duration_sec exactly once (§3: "immutable thereafter").
func (db *DB) SetSongDuration(ctx context.Context, id uuid.UUID, durationSec float64) error {
	query := `UPDATE songs SET duration_sec = $1, updated_at = NOW() WHERE id = $2 AND duration_sec IS NULL`
	_, err := db.ExecContext(ctx, query, durationSec, id)
	return err
}

// SetVideoType sets Song.video_type exactly once: the update applies only
// while video_type is still unset, and the bool reports whether it did.
// The caller maps a false result to a precondition error (db has no
// opinion on 409 mapping, just the compare-and-set).
func (db *DB) SetVideoType(ctx context.Context, id uuid.UUID, videoType models.VideoType) (bool, error) {
	query := `
		UPDATE songs SET video_type = $1, updated_at = NOW()
		WHERE id = $2 AND video_type = $3
	`
	res, err := db.ExecContext(ctx, query, videoType, id, models.VideoTypeUnset)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *DB) SetAudioSelection(ctx context.Context, id uuid.UUID, startSec, endSec float64) error {
	query := `
		UPDATE songs SET selection_start_sec = $1, selection_end_sec = $2, updated_at = NOW()
		WHERE id = $3
	`
	_, err := db.ExecContext(ctx, query, startSec, endSec, id)
	return err
}

func (db *DB) SetCharacterReference(ctx context.Context, id uuid.UUID, blobKey string) error {
	query := `UPDATE songs SET character_ref_blob_key = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, blobKey, id)
	return err
}

func (db *DB) SetAnalysisState(ctx context.Context, id uuid.UUID, state models.AnalysisState) error {
	query := `UPDATE songs SET analysis_state = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, state, id)
	return err
}

func (db *DB) MarkAnalysisReady(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE songs SET analysis_ready = true, analysis_state = $1, updated_at = NOW() WHERE id = $2`
	_, err := db.ExecContext(ctx, query, models.AnalysisStateCompleted, id)
	return err
}
