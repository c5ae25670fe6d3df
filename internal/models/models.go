// Package models defines the plain record types persisted by the record
// store (§3). Each type is a data record; access goes through small
// repository functions in internal/db rather than methods on these structs.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// VideoType selects the length class of the final composed video.
type VideoType string

const (
	VideoTypeUnset      VideoType = "unset"
	VideoTypeFullLength VideoType = "full_length"
	VideoTypeShortForm  VideoType = "short_form"
)

// AnalysisState tracks Song.analysis_state.
type AnalysisState string

const (
	AnalysisStateIdle       AnalysisState = "idle"
	AnalysisStateQueued     AnalysisState = "queued"
	AnalysisStateProcessing AnalysisState = "processing"
	AnalysisStateCompleted  AnalysisState = "completed"
	AnalysisStateFailed     AnalysisState = "failed"
)

// ClipStatus is the per-clip generation state.
type ClipStatus string

const (
	ClipStatusQueued     ClipStatus = "queued"
	ClipStatusProcessing ClipStatus = "processing"
	ClipStatusCompleted  ClipStatus = "completed"
	ClipStatusFailed     ClipStatus = "failed"
	ClipStatusCanceled   ClipStatus = "canceled"
)

// JobStatus is the generic batch/composition job state (GET /jobs/{job_id}).
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCanceled   JobStatus = "canceled"
)

// CompositionState is the CompositionJob state machine.
type CompositionState string

const (
	CompositionQueued        CompositionState = "queued"
	CompositionValidating    CompositionState = "validating"
	CompositionDownloading   CompositionState = "downloading"
	CompositionNormalizing   CompositionState = "normalizing"
	CompositionBeatAligning  CompositionState = "beat_aligning"
	CompositionConcatenating CompositionState = "concatenating"
	CompositionBeatEffects   CompositionState = "beat_effects"
	CompositionMuxing        CompositionState = "muxing"
	CompositionVerifying     CompositionState = "verifying"
	CompositionUploading     CompositionState = "uploading"
	CompositionCompleted     CompositionState = "completed"
	CompositionFailed        CompositionState = "failed"
	CompositionCanceling     CompositionState = "canceling" // cancel requested, honored at next checkpoint (§5)
	CompositionCanceled      CompositionState = "canceled"
)

// Terminal reports whether s is a terminal CompositionState (no further
// transitions expected).
func (s CompositionState) Terminal() bool {
	return s == CompositionCompleted || s == CompositionFailed || s == CompositionCanceled
}

// JSONB backs flexible Postgres JSONB columns (job results).
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Float64Array and IntArray back numeric array columns (beat_times,
// waveform_summary, beat indices) as JSON-encoded driver.Valuer/Scanner
// pairs, following the JSONB pattern above.
type Float64Array []float64

func (a Float64Array) Value() (driver.Value, error) { return json.Marshal(a) }

func (a *Float64Array) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, a)
}

type IntArray []int

func (a IntArray) Value() (driver.Value, error) { return json.Marshal(a) }

func (a *IntArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, a)
}

// Song is the uploaded track.
type Song struct {
	ID                  uuid.UUID     `json:"id"`
	SourceBlobKey       string        `json:"source_blob_key"`
	DurationSec         *float64      `json:"duration_sec,omitempty"` // set once known, immutable thereafter
	SelectionStartSec   *float64      `json:"selection_start_sec,omitempty"`
	SelectionEndSec     *float64      `json:"selection_end_sec,omitempty"`
	VideoType           VideoType     `json:"video_type"`
	CharacterRefBlobKey *string       `json:"character_ref_blob_key,omitempty"`
	AnalysisState       AnalysisState `json:"analysis_state"`
	AnalysisReady       bool          `json:"analysis_ready"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// HasSelection reports whether a user-selected segment has been set.
func (s *Song) HasSelection() bool {
	return s.SelectionStartSec != nil && s.SelectionEndSec != nil
}

// EffectiveRegion returns the segment later stages should operate over:
// the user selection when present, otherwise the full song.
func (s *Song) EffectiveRegion() (start, end float64) {
	if s.HasSelection() {
		return *s.SelectionStartSec, *s.SelectionEndSec
	}
	if s.DurationSec != nil {
		return 0, *s.DurationSec
	}
	return 0, 0
}

// MoodVector holds the four continuous mood dimensions, each in [0,1].
type MoodVector struct {
	Energy       float64 `json:"energy"`
	Valence      float64 `json:"valence"`
	Danceability float64 `json:"danceability"`
	Tension      float64 `json:"tension"`
}

// Section is one contiguous, non-overlapping musical section.
type Section struct {
	Index      int     `json:"index"`
	Type       string  `json:"type"` // intro, verse, chorus, drop, bridge, outro, ...
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	Confidence float64 `json:"confidence"` // [0,1]
	Label      *string `json:"label,omitempty"`
	LyricText  *string `json:"lyric_text,omitempty"`
}

func (s Section) DurationSec() float64 { return s.EndSec - s.StartSec }

// SongAnalysis is the latest-wins analysis record for a song.
type SongAnalysis struct {
	ID              uuid.UUID    `json:"id"`
	SongID          uuid.UUID    `json:"song_id"`
	BPM             *float64     `json:"bpm,omitempty"` // may be null if undetectable
	BeatTimes       Float64Array `json:"beat_times"`    // strictly increasing, within [0, duration]
	Sections        []Section    `json:"sections"`
	Mood            *MoodVector  `json:"mood,omitempty"`
	MoodTags        []string     `json:"mood_tags,omitempty"`
	PrimaryGenre    *string      `json:"primary_genre,omitempty"`
	WaveformSummary Float64Array `json:"waveform_summary"` // 512-2048 samples in [0,1]
	Version         int          `json:"version"`
	CreatedAt       time.Time    `json:"created_at"`
}

// ClipPlanEntry is one planned (not-yet-generated) clip boundary.
type ClipPlanEntry struct {
	Index       int      `json:"index"`
	StartSec    float64  `json:"start_sec"`
	EndSec      float64  `json:"end_sec"`
	FrameCount  int      `json:"frame_count"`
	BeatIndices IntArray `json:"beat_indices"`
}

func (e ClipPlanEntry) DurationSec() float64 { return e.EndSec - e.StartSec }

// ClipPlan is the ordered list of planned clips for one song.
type ClipPlan struct {
	SongID    uuid.UUID       `json:"song_id"`
	Entries   []ClipPlanEntry `json:"entries"`
	TargetFPS int             `json:"target_fps"`
	CreatedAt time.Time       `json:"created_at"`
}

// Clip is a generated visual segment.
type Clip struct {
	ID              uuid.UUID  `json:"id"`
	SongID          uuid.UUID  `json:"song_id"`
	PlanIndex       int        `json:"plan_index"`
	PromptText      string     `json:"prompt_text"`
	Seed            *int64     `json:"seed,omitempty"`
	RequestedFrames int        `json:"requested_frames"`
	RequestedFPS    int        `json:"requested_fps"`
	Status          ClipStatus `json:"status"`
	ExternalJobID   *string    `json:"external_job_id,omitempty"`
	ResultURL       *string    `json:"result_url,omitempty"`
	ResultWidth     *int       `json:"result_width,omitempty"`
	ResultHeight    *int       `json:"result_height,omitempty"`
	ResultFPS       *float64   `json:"result_fps,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	AttemptCount    int        `json:"attempt_count"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsComplete implements the status/URL half of the §3/§8 completion
// invariant only. The duration-within-tolerance half is not checked here,
// and neither clipcoordinator nor composition probes a clip's duration
// against its requested frames/fps.
func (c *Clip) IsComplete() bool {
	return c.Status == ClipStatusCompleted && c.ResultURL != nil
}

// CompositionJob is the at-most-one-active-per-song composition run.
type CompositionJob struct {
	ID           uuid.UUID        `json:"id"`
	SongID       uuid.UUID        `json:"song_id"`
	ClipIDs      []uuid.UUID      `json:"clip_ids"`
	Status       CompositionState `json:"status"`
	ProgressPct  float64          `json:"progress_pct"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ComposedVideo is the finished artifact.
type ComposedVideo struct {
	ID               uuid.UUID   `json:"id"`
	SongID           uuid.UUID   `json:"song_id"`
	BlobKey          string      `json:"blob_key"`
	Width            int         `json:"width"`
	Height           int         `json:"height"`
	FPS              int         `json:"fps"`
	DurationSec      float64     `json:"duration_sec"`
	ByteSize         int64       `json:"byte_size"`
	CompositionJobID uuid.UUID   `json:"composition_job_id"`
	ClipIDs          []uuid.UUID `json:"clip_ids"`
	CreatedAt        time.Time   `json:"created_at"`
}

// Job is the generic queue envelope row backing GET /jobs/{job_id}.
type Job struct {
	ID          uuid.UUID `json:"id"`
	Kind        string    `json:"kind"` // queue kinds: "analyze_song" | "generate_clip" | "compose_video"
	SongID      uuid.UUID `json:"song_id"`
	Status      JobStatus `json:"status"`
	ProgressPct float64   `json:"progress_pct"`
	Error       *string   `json:"error,omitempty"`
	Result      JSONB     `json:"result,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
