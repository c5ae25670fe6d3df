package audioanalysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibecraft/orchestrator/internal/models"
)

// syntheticPCM builds a deterministic click track: a short burst of energy
// every beatInterval seconds, simulating a song with a clear, regular beat.
func syntheticPCM(bpm float64, sampleRate int, seconds float64) []float32 {
	n := int(float64(sampleRate) * seconds)
	pcm := make([]float32, n)
	interval := 60.0 / bpm
	beatSamples := int(interval * float64(sampleRate))
	burst := sampleRate / 50 // 20ms burst

	for i := 0; i < n; i += beatSamples {
		for j := 0; j < burst && i+j < n; j++ {
			pcm[i+j] = float32(math.Sin(float64(j) * 0.5))
		}
	}
	return pcm
}

func TestDetectBeats_Deterministic(t *testing.T) {
	pcm := syntheticPCM(120, 44100, 10)
	bpm1, beats1 := detectBeats(pcm, 44100)
	bpm2, beats2 := detectBeats(pcm, 44100)

	assert.Equal(t, bpm1, bpm2, "re-running analysis on unchanged source must be deterministic (§8)")
	require.Equal(t, len(beats1), len(beats2))
	for i := range beats1 {
		assert.Equal(t, beats1[i], beats2[i])
	}
}

func TestDetectBeats_TooShortYieldsZero(t *testing.T) {
	bpm, beats := detectBeats(make([]float32, 100), 44100)
	assert.Equal(t, 0.0, bpm)
	assert.Empty(t, beats)
}

func TestDownsampleWaveform_FixedLength(t *testing.T) {
	pcm := make([]float32, 100000)
	for i := range pcm {
		pcm[i] = float32(i%100) / 100
	}
	out := downsampleWaveform(pcm, 512)
	assert.Len(t, out, 512)
	for _, v := range out {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestMergeUndersized_MergesIntoShorterNeighbor(t *testing.T) {
	sections := []models.Section{
		{Index: 0, Type: "intro", StartSec: 0, EndSec: 2},
		{Index: 1, Type: "verse", StartSec: 2, EndSec: 40},
		{Index: 2, Type: "outro", StartSec: 40, EndSec: 45},
	}
	merged := mergeUndersized(sections, 8)
	for _, s := range merged {
		assert.GreaterOrEqual(t, s.DurationSec(), 0.0)
	}
	assert.Less(t, len(merged), len(sections))
}

func TestClassifyGenre_NilWhenNoBPM(t *testing.T) {
	genre := classifyGenre(0, nil)
	assert.Nil(t, genre)
}

func TestComputeMood_AlwaysTagsOnSuccess(t *testing.T) {
	pcm := syntheticPCM(128, 44100, 2)
	mood, tags := computeMood(pcm, 44100, 128)
	require.NotNil(t, mood)
	assert.NotEmpty(t, tags)
}
