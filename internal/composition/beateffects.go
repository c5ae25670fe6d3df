package composition

import (
	"fmt"
	"math"
	"strings"
)

// beatFrames converts beat timestamps (seconds) to frame indices at fps,
// rounding to the nearest frame (§4.6 "Alignment tolerance: ≤ 1 frame from
// the nominal beat").
func beatFrames(beatTimes []float64, fps int) []int {
	frames := make([]int, len(beatTimes))
	for i, t := range beatTimes {
		frames[i] = int(math.Round(t * float64(fps)))
	}
	return frames
}

// enableExpr builds an ffmpeg `enable` boolean expression that is true on
// any frame within [f, f+width-1] for every beat frame f, following the
// teacher's subtitles.go pattern of iterating one indexed unit (there,
// word chunks; here, beat frames) and assembling the combined expression
// with a strings.Builder rather than per-beat filter instances.
func enableExpr(frames []int, width int) string {
	var sb strings.Builder
	for i, f := range frames {
		if i > 0 {
			sb.WriteString("+")
		}
		if width <= 1 {
			fmt.Fprintf(&sb, "between(n,%d,%d)", f, f)
		} else {
			fmt.Fprintf(&sb, "between(n,%d,%d)", f, f+width-1)
		}
	}
	return sb.String()
}

// buildBeatEffectFilter builds the frame-indexed -vf filter expression for
// one beat-reactive effect (§4.6 "Apply beat effects"):
//
//   - flash: 1 frame, white-biased brightness jump, intensity 0-1
//   - color_burst: 2-3 frames, saturation boost
//   - zoom_pulse: 3-5 frames, ≤1.05x zoom centered on the beat
//   - glitch: 2-3 frames, RGB channel shift
func buildBeatEffectFilter(beatTimes []float64, fps int, effect BeatEffect) string {
	frames := beatFrames(beatTimes, fps)

	switch effect {
	case BeatEffectColorBurst:
		cond := enableExpr(frames, 3)
		return fmt.Sprintf("eq=saturation=1.6:enable='%s'", cond)
	case BeatEffectZoomPulse:
		cond := enableExpr(frames, 4)
		return fmt.Sprintf(
			"scale=iw*'if(%s,1.05,1)':ih*'if(%s,1.05,1)',crop=iw/'if(%s,1.05,1)':ih/'if(%s,1.05,1)'",
			cond, cond, cond, cond,
		)
	case BeatEffectGlitch:
		cond := enableExpr(frames, 3)
		return fmt.Sprintf("rgbashift=rh=6:bh=-6:enable='%s'", cond)
	case BeatEffectFlash:
		fallthrough
	default:
		cond := enableExpr(frames, 1)
		return fmt.Sprintf("eq=brightness=0.45:enable='%s'", cond)
	}
}
