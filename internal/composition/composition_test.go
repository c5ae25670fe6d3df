package composition

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBeatFrames_SeedCase6 is §8 scenario 6: fps=24,
// beat_times=[0.00,0.50,1.00,1.50] must produce frames [0,12,24,36].
func TestBeatFrames_SeedCase6(t *testing.T) {
	frames := beatFrames([]float64{0.00, 0.50, 1.00, 1.50}, 24)
	assert.Equal(t, []int{0, 12, 24, 36}, frames)
}

func TestBuildBeatEffectFilter_FlashEnablesExactlyBeatFrames(t *testing.T) {
	filter := buildBeatEffectFilter([]float64{0.00, 0.50, 1.00, 1.50}, 24, BeatEffectFlash)
	require.Contains(t, filter, "eq=brightness=")
	for _, f := range []int{0, 12, 24, 36} {
		assert.Contains(t, filter, fmt.Sprintf("between(n,%d,%d)", f, f))
	}
}

func TestBuildBeatEffectFilter_ColorBurstSpansMultipleFrames(t *testing.T) {
	filter := buildBeatEffectFilter([]float64{1.0}, 24, BeatEffectColorBurst)
	assert.Contains(t, filter, "between(n,24,26)") // width-3 burst starting at frame 24
}

func TestBuildBeatEffectFilter_GlitchShiftsChannelsOppositeDirections(t *testing.T) {
	filter := buildBeatEffectFilter([]float64{0.0}, 30, BeatEffectGlitch)
	assert.Contains(t, filter, "rgbashift=")
	assert.Contains(t, filter, "between(n,0,2)")
}

func TestEnableExpr_EmptyBeatsYieldsEmptyExpr(t *testing.T) {
	assert.Equal(t, "", enableExpr(nil, 1))
}
