package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/vibecraft/orchestrator/internal/models"
)

// CreateAnalysis inserts a new SongAnalysis version; latest-wins reads
// (GetLatestAnalysis) order by version descending, so older analyses are
// never deleted, only superseded (§3: "later analyses supersede earlier
// ones").
func (db *DB) CreateAnalysis(ctx context.Context, a *models.SongAnalysis) error {
	sectionsJSON, err := json.Marshal(a.Sections)
	if err != nil {
		return fmt.Errorf("failed to marshal sections: %w", err)
	}
	var moodJSON []byte
	if a.Mood != nil {
		moodJSON, err = json.Marshal(a.Mood)
		if err != nil {
			return fmt.Errorf("failed to marshal mood: %w", err)
		}
	}
	moodTagsJSON, _ := json.Marshal(a.MoodTags)

	query := `
		INSERT INTO song_analyses (
			id, song_id, bpm, beat_times, sections, mood, mood_tags,
			primary_genre, waveform_summary, version
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			COALESCE((SELECT MAX(version) + 1 FROM song_analyses WHERE song_id = $2), 1))
		RETURNING version, created_at
	`
	return db.QueryRowContext(ctx, query,
		a.ID, a.SongID, a.BPM, a.BeatTimes, sectionsJSON, moodJSON, moodTagsJSON,
		a.PrimaryGenre, a.WaveformSummary,
	).Scan(&a.Version, &a.CreatedAt)
}

func (db *DB) GetLatestAnalysis(ctx context.Context, songID uuid.UUID) (*models.SongAnalysis, error) {
	query := `
		SELECT id, song_id, bpm, beat_times, sections, mood, mood_tags,
			primary_genre, waveform_summary, version, created_at
		FROM song_analyses WHERE song_id = $1 ORDER BY version DESC LIMIT 1
	`
	a := &models.SongAnalysis{}
	var sectionsJSON, moodJSON, moodTagsJSON []byte
	err := db.QueryRowContext(ctx, query, songID).Scan(
		&a.ID, &a.SongID, &a.BPM, &a.BeatTimes, &sectionsJSON, &moodJSON, &moodTagsJSON,
		&a.PrimaryGenre, &a.WaveformSummary, &a.Version, &a.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	if len(sectionsJSON) > 0 {
		if err := json.Unmarshal(sectionsJSON, &a.Sections); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sections: %w", err)
		}
	}
	if len(moodJSON) > 0 {
		a.Mood = &models.MoodVector{}
		if err := json.Unmarshal(moodJSON, a.Mood); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mood: %w", err)
		}
	}
	if len(moodTagsJSON) > 0 {
		if err := json.Unmarshal(moodTagsJSON, &a.MoodTags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mood tags: %w", err)
		}
	}
	return a, nil
}
