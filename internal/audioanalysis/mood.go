package audioanalysis

import (
	"math"

	"github.com/vibecraft/orchestrator/internal/models"
)

// computeMood derives the four-dimensional mood vector from aggregated
// spectral/tempo features (§4.1 step 4). Never returns a nil tags slice
// on success — "derive at least one mood tag (never empty if step
// succeeds)".
func computeMood(pcm []float32, sampleRate int, bpm float64) (*models.MoodVector, []string) {
	if len(pcm) == 0 {
		return nil, nil
	}

	rms := rmsEnergy(pcm)
	zcr := zeroCrossingRate(pcm)

	// Energy: loudness normalized against a typical mastered-track ceiling.
	energy := clamp01(rms * 6)

	// Valence: brighter/higher zero-crossing-rate material reads as more
	// "major/uplifting" in the absence of a trained classifier; tempered
	// by tempo (faster often reads brighter too).
	tempoBoost := 0.0
	if bpm > 0 {
		tempoBoost = clamp01((bpm - 80) / 120)
	}
	valence := clamp01(0.5*zcr*10 + 0.5*tempoBoost)

	// Danceability: rhythmic regularity proxy — higher for tempos in the
	// classic dance-music range.
	danceability := 0.5
	if bpm > 0 {
		danceability = clamp01(1 - math.Abs(bpm-124)/124)
	}

	// Tension: high energy with low valence reads as tense.
	tension := clamp01(energy*0.7 + (1-valence)*0.3)

	mood := &models.MoodVector{
		Energy:       energy,
		Valence:      valence,
		Danceability: danceability,
		Tension:      tension,
	}

	return mood, moodTagsFor(mood)
}

func moodTagsFor(m *models.MoodVector) []string {
	var tags []string
	switch {
	case m.Energy >= 0.6 && m.Valence >= 0.6:
		tags = append(tags, "euphoric", "energetic")
	case m.Energy >= 0.6 && m.Valence < 0.4:
		tags = append(tags, "intense", "driving")
	case m.Energy < 0.4 && m.Valence >= 0.5:
		tags = append(tags, "calm", "uplifting")
	case m.Valence < 0.35:
		tags = append(tags, "melancholic")
	default:
		tags = append(tags, "moderate")
	}
	if m.Danceability >= 0.7 {
		tags = append(tags, "danceable")
	}
	if m.Tension >= 0.7 {
		tags = append(tags, "tense")
	}
	return tags
}

// classifyGenre derives a coarse genre from BPM and mood (§4.1 step 5);
// may return nil ("primary genre ... may be null") when the signal is too
// ambiguous to classify.
func classifyGenre(bpm float64, mood *models.MoodVector) *string {
	if bpm <= 0 || mood == nil {
		return nil
	}

	var genre string
	switch {
	case bpm >= 120 && bpm <= 135 && mood.Danceability >= 0.6:
		genre = "house"
	case bpm > 135 && mood.Energy >= 0.6:
		genre = "drum_and_bass"
	case bpm >= 85 && bpm < 120 && mood.Energy >= 0.5:
		genre = "hip_hop"
	case bpm < 85 && mood.Valence >= 0.5:
		genre = "acoustic"
	case bpm < 85:
		genre = "ambient"
	default:
		genre = "pop"
	}
	return &genre
}

func rmsEnergy(pcm []float32) float64 {
	var sum float64
	for _, s := range pcm {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(pcm)))
}

func zeroCrossingRate(pcm []float32) float64 {
	if len(pcm) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(pcm); i++ {
		if (pcm[i-1] >= 0) != (pcm[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(pcm))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
