package beatalign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func beatGrid(bpm float64, n int) []float64 {
	interval := 60.0 / bpm
	beats := make([]float64, n)
	for i := range beats {
		beats[i] = float64(i) * interval
	}
	return beats
}

func TestAlign_ShortFormHappyPath(t *testing.T) {
	// §8 seed case 1: 120 BPM, selection [40, 70], fps 24, bounds 3-6s.
	beats := beatGrid(120, 300) // 0.5s apart, covers well past 70s
	result, err := Align(Params{
		BeatTimes:  beats,
		Duration:   180,
		MinClipSec: 3.0,
		MaxClipSec: 6.0,
		TargetFPS:  24,
		StartSec:   40.0,
		EndSec:     70.0,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Boundaries)

	assert.Equal(t, StatusValid, result.Status)
	assert.InDelta(t, 40.0, result.Boundaries[0].StartSec, 0.05)

	last := result.Boundaries[len(result.Boundaries)-1]
	assert.InDelta(t, 70.0, last.EndSec, 0.05)

	for _, b := range result.Boundaries {
		assert.GreaterOrEqual(t, b.DurationSec, 3.0-1.0/24.0)
		assert.LessOrEqual(t, b.DurationSec, 6.0+1.0/24.0)
		assert.LessOrEqual(t, b.AlignmentError, 0.050)
	}
}

func TestAlign_Idempotent(t *testing.T) {
	beats := beatGrid(128, 200)
	first, err := Align(Params{
		BeatTimes: beats, Duration: 120, MinClipSec: 3, MaxClipSec: 6, TargetFPS: 24, EndSec: 120,
	})
	require.NoError(t, err)

	var boundaryStarts []float64
	for _, b := range first.Boundaries {
		boundaryStarts = append(boundaryStarts, b.StartSec)
	}
	boundaryStarts = append(boundaryStarts, first.Boundaries[len(first.Boundaries)-1].EndSec)

	second, err := Align(Params{
		BeatTimes: beats, Duration: 120, MinClipSec: 3, MaxClipSec: 6, TargetFPS: 24,
		StartSec: boundaryStarts[0], EndSec: boundaryStarts[len(boundaryStarts)-1],
	})
	require.NoError(t, err)
	assert.Equal(t, len(first.Boundaries), len(second.Boundaries))
}

func TestAlign_TieBreakPrefersLaterBeat(t *testing.T) {
	// Beats 4.0 and 4.001 both snap to frame 96 at 24 fps: the later one
	// (index 2) should end the first clip, per the §9 decision in DESIGN.md.
	beats := []float64{0.0, 4.0, 4.0 + 1.0/1000.0, 9.0}
	result, err := Align(Params{
		BeatTimes: beats, Duration: 10, MinClipSec: 3, MaxClipSec: 6, TargetFPS: 24, EndSec: 10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.Boundaries)
	assert.Equal(t, 2, result.Boundaries[0].EndBeat)
}

func TestAlign_DropsUnreachableBeat(t *testing.T) {
	// Beat 0.5 is too close to the anchor to end a legal clip: the walk
	// passes over it and ends the first clip at 6.0 instead of stalling.
	beats := []float64{0.0, 0.5, 6.0, 9.5}
	result, err := Align(Params{
		BeatTimes: beats, Duration: 10, MinClipSec: 3, MaxClipSec: 6, TargetFPS: 24, EndSec: 10,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Boundaries)
}

func TestAlign_InvalidBounds(t *testing.T) {
	_, err := Align(Params{BeatTimes: []float64{0, 1}, MinClipSec: 0, MaxClipSec: 5, TargetFPS: 24, EndSec: 10})
	assert.Error(t, err)
}

func TestAlign_NoBeatsInRegion(t *testing.T) {
	result, err := Align(Params{BeatTimes: []float64{1, 2}, MinClipSec: 3, MaxClipSec: 6, TargetFPS: 24, StartSec: 100, EndSec: 110})
	require.NoError(t, err)
	assert.Empty(t, result.Boundaries)
}
