// Package beatalign converts a beat grid and duration bounds into a
// sequence of clip boundaries aligned to beats and video frames (§4.2).
// It is a pure function package: no I/O, no shared state, fully
// deterministic given its inputs.
package beatalign

import (
	"math"

	"github.com/vibecraft/orchestrator/internal/orchestration"
)

// Status reports whether the produced boundaries stayed within the
// alignment-error tolerance.
type Status string

const (
	StatusValid   Status = "valid"
	StatusWarning Status = "warning"
)

// maxValidErrorSec is the threshold beyond which the result is flagged
// StatusWarning rather than StatusValid.
const maxValidErrorSec = 0.050

// Boundary is one planned clip window, aligned to both a beat pair and a
// frame pair at the target fps.
type Boundary struct {
	StartSec       float64
	EndSec         float64
	StartBeat      int
	EndBeat        int
	StartFrame     int
	EndFrame       int
	DurationSec    float64
	BeatsInClip    int
	AlignmentError float64 // max |nominal beat time - snapped endpoint time| for this boundary
}

// Result bundles the boundary sequence with aggregate validation metrics.
type Result struct {
	Boundaries     []Boundary
	MaxAlignError  float64
	AvgAlignError  float64
	Status         Status
}

// Params configures one alignment run.
type Params struct {
	BeatTimes   []float64 // strictly increasing, seconds
	Duration    float64   // effective duration in seconds (song or selection)
	MinClipSec  float64
	MaxClipSec  float64
	TargetFPS   float64
	StartSec    float64 // region start, default 0
	EndSec      float64 // region end, default Duration
}

// Align runs the greedy left-to-right beat-walk described in §4.2.
func Align(p Params) (*Result, error) {
	if p.TargetFPS <= 0 {
		return nil, orchestration.Wrap(orchestration.KindValidation, "beatalign", "Align",
			"target fps must be positive", nil)
	}
	if p.MinClipSec <= 0 || p.MaxClipSec < p.MinClipSec {
		return nil, orchestration.Wrap(orchestration.KindValidation, "beatalign", "Align",
			"invalid clip duration bounds", nil)
	}

	regionEnd := p.EndSec
	if regionEnd <= 0 {
		regionEnd = p.Duration
	}
	regionStart := p.StartSec

	beats := filterBeats(p.BeatTimes, regionStart, regionEnd)
	if len(beats) == 0 {
		return &Result{Status: StatusValid}, nil
	}

	var boundaries []Boundary
	anchorIdx := 0
	anchorTime := regionStart

	for anchorIdx < len(beats) {
		bestIdx := -1
		bestBeatCount := -1
		bestErr := math.MaxFloat64

		for j := anchorIdx; j < len(beats); j++ {
			dur := beats[j] - anchorTime
			if dur < p.MinClipSec {
				continue
			}
			if dur > p.MaxClipSec {
				break
			}
			beatCount := j - anchorIdx + 1
			// Alignment error candidate: snap both ends to frames and see
			// how far the snapped end drifts from the nominal beat time.
			frameErr := snapError(beats[j], p.TargetFPS)

			switch {
			case beatCount > bestBeatCount:
				bestBeatCount, bestIdx, bestErr = beatCount, j, frameErr
			case beatCount == bestBeatCount:
				if frameErr < bestErr {
					bestIdx, bestErr = j, frameErr
				} else if frameErr == bestErr && j > bestIdx {
					// tie-break: prefer the later beat (§4.2, §9 Open Question decision)
					bestIdx = j
				}
			}
		}

		if bestIdx < 0 {
			// No beat yields a legal duration from this anchor: drop one
			// beat and re-anchor at the next (§4.2 "dropped ... re-anchored").
			anchorIdx++
			if anchorIdx < len(beats) {
				anchorTime = beats[anchorIdx-1]
			}
			continue
		}

		startTime := anchorTime
		endTime := beats[bestIdx]
		startFrame := snapFrame(startTime, p.TargetFPS)
		endFrame := snapFrame(endTime, p.TargetFPS)
		snappedStart := float64(startFrame) / p.TargetFPS
		snappedEnd := float64(endFrame) / p.TargetFPS

		errStart := math.Abs(snappedStart - startTime)
		errEnd := math.Abs(snappedEnd - endTime)
		boundaryErr := math.Max(errStart, errEnd)

		boundaries = append(boundaries, Boundary{
			StartSec:       snappedStart,
			EndSec:         snappedEnd,
			StartBeat:      anchorIdx,
			EndBeat:        bestIdx,
			StartFrame:     startFrame,
			EndFrame:       endFrame,
			DurationSec:    snappedEnd - snappedStart,
			BeatsInClip:    bestBeatCount,
			AlignmentError: boundaryErr,
		})

		anchorIdx = bestIdx + 1
		anchorTime = endTime
	}

	// Terminal clip covering any leftover remainder (§4.2).
	if len(boundaries) > 0 {
		last := boundaries[len(boundaries)-1]
		remainder := regionEnd - last.EndSec
		if remainder >= p.MinClipSec {
			startFrame := snapFrame(last.EndSec, p.TargetFPS)
			endFrame := snapFrame(regionEnd, p.TargetFPS)
			snappedStart := float64(startFrame) / p.TargetFPS
			snappedEnd := float64(endFrame) / p.TargetFPS
			boundaries = append(boundaries, Boundary{
				StartSec:    snappedStart,
				EndSec:      snappedEnd,
				StartBeat:   last.EndBeat,
				EndBeat:     last.EndBeat,
				StartFrame:  startFrame,
				EndFrame:    endFrame,
				DurationSec: snappedEnd - snappedStart,
			})
		}
	}

	return summarize(boundaries), nil
}

func filterBeats(beats []float64, start, end float64) []float64 {
	var out []float64
	for _, b := range beats {
		if b >= start && b <= end {
			out = append(out, b)
		}
	}
	return out
}

func snapFrame(t float64, fps float64) int {
	return int(math.Round(t * fps))
}

func snapError(t float64, fps float64) float64 {
	frame := snapFrame(t, fps)
	return math.Abs(float64(frame)/fps - t)
}

func summarize(boundaries []Boundary) *Result {
	r := &Result{Boundaries: boundaries, Status: StatusValid}
	if len(boundaries) == 0 {
		return r
	}
	var sum, max float64
	for _, b := range boundaries {
		sum += b.AlignmentError
		if b.AlignmentError > max {
			max = b.AlignmentError
		}
	}
	r.MaxAlignError = max
	r.AvgAlignError = sum / float64(len(boundaries))
	if max > maxValidErrorSec {
		r.Status = StatusWarning
	}
	return r
}
