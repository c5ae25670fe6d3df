package audioanalysis

// downsampleWaveform reduces the raw amplitude envelope to a fixed-length
// summary using linear bucketing, each bucket taking the max absolute
// amplitude within it (§4.1 step 7, target 512-2048 samples).
func downsampleWaveform(pcm []float32, targetSamples int) []float64 {
	if targetSamples <= 0 {
		targetSamples = 1024
	}
	if len(pcm) == 0 {
		return nil
	}
	if len(pcm) < targetSamples {
		targetSamples = len(pcm)
	}

	out := make([]float64, targetSamples)
	bucketSize := float64(len(pcm)) / float64(targetSamples)

	for i := 0; i < targetSamples; i++ {
		start := int(float64(i) * bucketSize)
		end := int(float64(i+1) * bucketSize)
		if end > len(pcm) {
			end = len(pcm)
		}
		if end <= start {
			end = start + 1
		}
		var max float64
		for j := start; j < end && j < len(pcm); j++ {
			v := float64(pcm[j])
			if v < 0 {
				v = -v
			}
			if v > max {
				max = v
			}
		}
		out[i] = clamp01(max)
	}
	return out
}
