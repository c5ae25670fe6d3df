package audioanalysis

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"time"
)

// DecodePCM shells out to ffmpeg to decode arbitrary source audio
// (MP3/WAV/M4A/FLAC/OGG, §6 file formats) to mono float32 PCM at a fixed
// sample rate, mirroring the pack's "no CGo, pure pipeline" preference by
// keeping decoding in one subprocess call rather than a codec-specific
// library per format.
func DecodePCM(ctx context.Context, sourceBytes []byte, sampleRate int) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", "pipe:0",
		"-f", "f32le",
		"-ar", fmt.Sprint(sampleRate),
		"-ac", "1",
		"-v", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(sourceBytes)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode failed: %w (%s)", err, stderr.String())
	}

	raw := stdout.Bytes()
	pcm := make([]float32, len(raw)/4)
	for i := range pcm {
		bits := uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 | uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24
		pcm[i] = math.Float32frombits(bits)
	}
	return pcm, nil
}

// ── BPM / beat detection ────────────────────────────────
//
// Algorithm (grounded on other_examples jota2rz-vdj-video-sync/bpm.go):
//  1. Split audio into short windows (~23ms at 44100Hz)
//  2. Compute RMS energy per window
//  3. Compute spectral flux (half-wave rectified energy delta)
//  4. Autocorrelate the onset signal to find periodicity
//  5. Convert the best lag to BPM, clamp to [60, 200]
//  6. Re-derive beat onset times from local energy peaks at the detected
//     period, snapped so beat_times is strictly increasing (§3 invariant)

const beatWindowSize = 1024

func detectBeats(pcm []float32, sampleRate int) (float64, []float64) {
	numWindows := len(pcm) / beatWindowSize
	if numWindows < 4 {
		return 0, nil
	}

	energy := make([]float64, numWindows)
	for i := 0; i < numWindows; i++ {
		start := i * beatWindowSize
		var sum float64
		for j := 0; j < beatWindowSize; j++ {
			s := float64(pcm[start+j])
			sum += s * s
		}
		energy[i] = math.Sqrt(sum / float64(beatWindowSize))
	}

	flux := make([]float64, numWindows)
	for i := 1; i < numWindows; i++ {
		diff := energy[i] - energy[i-1]
		if diff > 0 {
			flux[i] = diff
		}
	}

	wps := float64(sampleRate) / float64(beatWindowSize)
	minLag := int(wps * 60.0 / 200.0)
	maxLag := int(wps * 60.0 / 60.0)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= numWindows/2 {
		maxLag = numWindows/2 - 1
	}
	if minLag >= maxLag {
		return 0, nil
	}

	bestLag := minLag
	bestCorr := -1.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		var count int
		for i := 0; i+lag < numWindows; i++ {
			corr += flux[i] * flux[i+lag]
			count++
		}
		if count > 0 {
			corr /= float64(count)
		}
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}

	bpm := (wps * 60.0) / float64(bestLag)
	for bpm < 60 {
		bpm *= 2
	}
	for bpm > 200 {
		bpm /= 2
	}
	bpm = math.Round(bpm*10) / 10

	beatTimes := deriveBeatTimes(flux, bestLag, wps)
	return bpm, beatTimes
}

// deriveBeatTimes walks the onset-flux signal at the detected period,
// picking the local energy peak nearest each expected beat slot so the
// grid tracks the actual onsets rather than a rigid metronome.
func deriveBeatTimes(flux []float64, period int, wps float64) []float64 {
	if period <= 0 || len(flux) == 0 {
		return nil
	}

	var beats []float64
	searchRadius := period / 4
	if searchRadius < 1 {
		searchRadius = 1
	}

	for slot := 0; slot < len(flux); slot += period {
		lo := slot - searchRadius
		if lo < 0 {
			lo = 0
		}
		hi := slot + searchRadius
		if hi >= len(flux) {
			hi = len(flux) - 1
		}

		bestIdx := slot
		bestVal := -1.0
		for i := lo; i <= hi; i++ {
			if flux[i] > bestVal {
				bestVal = flux[i]
				bestIdx = i
			}
		}

		t := float64(bestIdx) / wps
		if len(beats) == 0 || t > beats[len(beats)-1] {
			beats = append(beats, t)
		}
	}

	return beats
}
