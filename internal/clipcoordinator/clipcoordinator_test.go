package clipcoordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestShouldRelease_ConcurrencyCap exercises the §8 property
// "count(Clip.status=processing for song=S) ≤ C" decision in isolation:
// once claiming a clip pushes the processing count past the cap, the
// claim must be released.
func TestShouldRelease_ConcurrencyCap(t *testing.T) {
	capacity := 4
	for processing := 1; processing <= capacity; processing++ {
		assert.False(t, shouldRelease(processing, capacity), "processing=%d must stay within cap=%d", processing, capacity)
	}
	for processing := capacity + 1; processing <= capacity+5; processing++ {
		assert.True(t, shouldRelease(processing, capacity), "processing=%d exceeds cap=%d and must release", processing, capacity)
	}
}

func TestClaimJitter_WithinBounds(t *testing.T) {
	for i := 0; i < 20; i++ {
		d := claimJitter()
		assert.GreaterOrEqual(t, d.Milliseconds(), int64(200))
		assert.LessOrEqual(t, d.Milliseconds(), int64(1000))
	}
}
