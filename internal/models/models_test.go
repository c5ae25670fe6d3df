package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSongEffectiveRegion(t *testing.T) {
	dur := 180.0
	start, end := 40.0, 70.0

	song := &Song{DurationSec: &dur}
	s, e := song.EffectiveRegion()
	assert.Equal(t, 0.0, s)
	assert.Equal(t, dur, e)

	song.SelectionStartSec = &start
	song.SelectionEndSec = &end
	s, e = song.EffectiveRegion()
	assert.Equal(t, start, s)
	assert.Equal(t, end, e)
	assert.True(t, song.HasSelection())
}

func TestClipIsComplete(t *testing.T) {
	url := "https://example.com/clip.mp4"
	c := &Clip{Status: ClipStatusCompleted, ResultURL: &url}
	assert.True(t, c.IsComplete())

	c2 := &Clip{Status: ClipStatusCompleted}
	assert.False(t, c2.IsComplete())

	c3 := &Clip{Status: ClipStatusProcessing, ResultURL: &url}
	assert.False(t, c3.IsComplete())
}

func TestSectionDuration(t *testing.T) {
	s := Section{StartSec: 10, EndSec: 18.5}
	assert.Equal(t, 8.5, s.DurationSec())
}

func TestJSONBRoundTrip(t *testing.T) {
	j := JSONB{"foo": "bar"}
	v, err := j.Value()
	assert.NoError(t, err)

	var out JSONB
	assert.NoError(t, out.Scan(v))
	assert.Equal(t, "bar", out["foo"])
}
