package orchestrator

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/vibecraft/orchestrator/internal/models"
)

func TestPlanPrecondition_RequiresAnalysisReady(t *testing.T) {
	song := &models.Song{AnalysisReady: false, VideoType: models.VideoTypeFullLength}
	ok, reason := planPrecondition(song)
	assert.False(t, ok)
	assert.Contains(t, reason, "analysis")
}

func TestPlanPrecondition_RequiresVideoType(t *testing.T) {
	song := &models.Song{AnalysisReady: true, VideoType: models.VideoTypeUnset}
	ok, _ := planPrecondition(song)
	assert.False(t, ok)
}

func TestPlanPrecondition_ShortFormRequiresSelection(t *testing.T) {
	song := &models.Song{AnalysisReady: true, VideoType: models.VideoTypeShortForm}
	ok, reason := planPrecondition(song)
	assert.False(t, ok)
	assert.Contains(t, reason, "segment")

	start, end := 10.0, 20.0
	song.SelectionStartSec, song.SelectionEndSec = &start, &end
	ok, _ = planPrecondition(song)
	assert.True(t, ok)
}

func TestPlanPrecondition_FullLengthNeedsNoSelection(t *testing.T) {
	song := &models.Song{AnalysisReady: true, VideoType: models.VideoTypeFullLength}
	ok, _ := planPrecondition(song)
	assert.True(t, ok)
}

func TestComposePrecondition_EmptyClipsFails(t *testing.T) {
	ok, reason := composePrecondition(nil)
	assert.False(t, ok)
	assert.Contains(t, reason, "no clips")
}

func TestComposePrecondition_AllMustBeCompleted(t *testing.T) {
	url := "https://cdn.example/clip.mp4"
	clips := []models.Clip{
		{ID: uuid.New(), Status: models.ClipStatusCompleted, ResultURL: &url},
		{ID: uuid.New(), Status: models.ClipStatusProcessing},
	}
	ok, reason := composePrecondition(clips)
	assert.False(t, ok)
	assert.Contains(t, reason, "not completed")
}

func TestComposePrecondition_AllCompletedSucceeds(t *testing.T) {
	url := "https://cdn.example/clip.mp4"
	clips := []models.Clip{
		{ID: uuid.New(), Status: models.ClipStatusCompleted, ResultURL: &url},
		{ID: uuid.New(), Status: models.ClipStatusCompleted, ResultURL: &url},
	}
	ok, reason := composePrecondition(clips)
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestClampMonotonic_NeverRegresses(t *testing.T) {
	assert.Equal(t, 50.0, clampMonotonic(50, 30))
	assert.Equal(t, 70.0, clampMonotonic(50, 70))
	assert.Equal(t, 100.0, clampMonotonic(100, 0))
}
