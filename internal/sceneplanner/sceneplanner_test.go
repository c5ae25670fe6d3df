package sceneplanner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vibecraft/orchestrator/internal/models"
)

func ptr(f float64) *float64 { return &f }

func TestPlan_EnergeticHighValence_IsVibrant(t *testing.T) {
	mood := &models.MoodVector{Energy: 0.8, Valence: 0.7, Danceability: 0.7, Tension: 0.3}
	plan := Plan(Input{
		Section:           models.Section{Type: "chorus"},
		BPM:               ptr(128),
		Mood:              mood,
		TargetDurationSec: 4.5,
	})
	assert.Equal(t, "#ff4da6", plan.Palette.Primary)
	assert.Equal(t, "close_to_wide", plan.ShotPattern.Framing)
	assert.Equal(t, "fast", plan.ShotPattern.Pacing)
}

func TestPlan_CalmLowEnergy_IsSoftBlues(t *testing.T) {
	mood := &models.MoodVector{Energy: 0.2, Valence: 0.6, Danceability: 0.2, Tension: 0.1}
	plan := Plan(Input{Section: models.Section{Type: "intro"}, Mood: mood})
	assert.Equal(t, "#90caf9", plan.Palette.Primary)
	assert.Equal(t, "wide", plan.ShotPattern.Framing)
	assert.Equal(t, "fade_in", plan.ShotPattern.Transitions)
}

func TestTempoDescriptor_Buckets(t *testing.T) {
	assert.Equal(t, "slow, flowing", tempoDescriptor(ptr(80)))
	assert.Equal(t, "steady, moderate", tempoDescriptor(ptr(115)))
	assert.Equal(t, "energetic, driving", tempoDescriptor(ptr(145)))
	assert.Equal(t, "frenetic, rapid", tempoDescriptor(ptr(175)))
}

func TestPlan_NilMoodDoesNotPanic(t *testing.T) {
	plan := Plan(Input{Section: models.Section{Type: "verse"}})
	assert.NotEmpty(t, plan.PromptText)
	assert.Equal(t, 0.5, plan.Intensity)
}

func TestExtractKeywords_PicksLongWords(t *testing.T) {
	kw := extractKeywords("a midnight highway burning under neon skies")
	assert.Contains(t, kw, "midnight")
}
