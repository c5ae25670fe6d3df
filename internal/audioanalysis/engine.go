// Package audioanalysis loads a song's source audio, computes its beat
// grid/tempo, segments it into musical sections, classifies mood/genre,
// optionally transcribes lyrics, and downsamples a waveform summary
// (§4.1). Grounded on other_examples' jota2rz-vdj-video-sync bpm.go
// (energy-window → spectral-flux → autocorrelation beat detector),
// the teacher's openai.go TranscribeAudio/WordTimestamp pattern for
// lyrics, and five82-spindle's stage.go progress-milestone /
// non-fatal-component pattern for the progress model.
package audioanalysis

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vibecraft/orchestrator/internal/models"
	"github.com/vibecraft/orchestrator/internal/observability"
	"github.com/vibecraft/orchestrator/internal/orchestration"
)

// ProgressFunc reports a monotonic non-decreasing percent milestone
// (§4.1: beat detection 25, sections 50, mood/genre 70, lyrics 85, complete 100).
type ProgressFunc func(percent float64)

// Config carries the subset of internal/config.Config the engine needs,
// kept as its own narrow struct so the package has no dependency on the
// top-level config package (§9 "explicit config object"); it is fixed
// when the Engine is built, not passed per job.
type Config struct {
	MinSectionSec            float64
	StructureServiceEndpoint string
	StructureServiceAPIKey   string
	TranscriptionAPIKey      string
	WaveformSamples          int // target 512-2048, default 1024
}

// Engine runs the audio analysis pipeline.
type Engine struct {
	cfg             Config
	structureCli    *StructureClient
	openaiClient    *openai.Client
	lastSourceBytes []byte
}

// New builds an Engine. structureEndpoint may be empty (no external
// structure service configured); transcriptionAPIKey may be empty (lyrics
// step skipped).
func New(cfg Config) *Engine {
	e := &Engine{cfg: cfg}
	if cfg.StructureServiceEndpoint != "" {
		e.structureCli = NewStructureClient(cfg.StructureServiceEndpoint, cfg.StructureServiceAPIKey)
	}
	if cfg.TranscriptionAPIKey != "" {
		e.openaiClient = openai.NewClient(cfg.TranscriptionAPIKey)
	}
	if e.cfg.WaveformSamples == 0 {
		e.cfg.WaveformSamples = 1024
	}
	return e
}

// Analyze runs the full §4.1 pipeline against decoded mono PCM and
// returns a SongAnalysis ready to persist, plus the detected duration in
// seconds (used to fill Song.DurationSec when previously unset).
func (e *Engine) Analyze(ctx context.Context, songID string, pcm []float32, sampleRate int, progress ProgressFunc) (*models.SongAnalysis, float64, error) {
	if len(pcm) == 0 || sampleRate <= 0 {
		return nil, 0, orchestration.Wrap(orchestration.KindValidation, "audioanalysis", "Analyze",
			"no decodable audio samples", nil)
	}
	durationSec := float64(len(pcm)) / float64(sampleRate)

	report := func(p float64) {
		if progress != nil {
			progress(p)
		}
	}

	// Step 1-2: beat/tempo detection.
	bpm, beatTimes := detectBeats(pcm, sampleRate)
	report(25)

	// Step 3: section inference, external-with-fallback.
	sections, err := e.segmentSections(ctx, durationSec, beatTimes, bpm)
	if err != nil {
		return nil, 0, orchestration.Wrap(orchestration.KindInternal, "audioanalysis", "segmentSections",
			"internal segmenter failed", err)
	}
	report(50)

	// Step 4-5: mood + genre. Non-fatal: failures leave fields null (§4.1,
	// §7 propagation policy "non-essential component leaves nulls").
	mood, moodTags := computeMood(pcm, sampleRate, bpm)
	genre := classifyGenre(bpm, mood)
	report(70)

	// Step 6: optional lyric transcription.
	if e.openaiClient != nil {
		words, err := e.transcribeLyrics(ctx)
		if err != nil {
			observability.L().Warn("lyric transcription failed, continuing without lyrics",
				observability.SongID(songID), observability.Component("audioanalysis"))
		} else {
			alignLyrics(sections, words)
		}
	}
	report(85)

	// Step 7: waveform summary.
	waveform := downsampleWaveform(pcm, e.cfg.WaveformSamples)

	analysis := &models.SongAnalysis{
		BeatTimes:       beatTimes,
		Sections:        sections,
		Mood:            mood,
		MoodTags:        moodTags,
		PrimaryGenre:    genre,
		WaveformSummary: waveform,
	}
	if bpm > 0 {
		analysis.BPM = &bpm
	}

	report(100)
	return analysis, durationSec, nil
}

func (e *Engine) segmentSections(ctx context.Context, duration float64, beatTimes []float64, bpm float64) ([]models.Section, error) {
	if e.structureCli != nil {
		sections, err := e.structureCli.DetectSections(ctx, duration)
		if err == nil {
			return mergeUndersized(sections, e.minSectionSec(duration)), nil
		}
		observability.L().Warn(fmt.Sprintf("structure service failed, falling back to internal segmenter: %v", err),
			observability.Component("audioanalysis"))
	}
	sections := internalSegment(duration, beatTimes, bpm)
	return mergeUndersized(sections, e.minSectionSec(duration)), nil
}

// minSectionSec relaxes the configured threshold to 5s for songs under
// 60s, per §4.1 step 3.
func (e *Engine) minSectionSec(duration float64) float64 {
	min := e.cfg.MinSectionSec
	if min <= 0 {
		min = 8
	}
	if duration < 60 && min > 5 {
		return 5
	}
	return min
}
