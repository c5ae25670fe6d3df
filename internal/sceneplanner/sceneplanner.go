// Package sceneplanner maps a song section plus song-level analysis to a
// visual ScenePlan: prompt text, palette, camera motion, shot pattern, and
// intensity (§4.3). Pure function package, no I/O.
//
// Grounded on the teacher's buildXAIVideoPrompt/buildVeoPrompt prompt-string
// assembly pattern and the mood/theme mapping tables in
// sonic0214-CreativeStudioServer/smart_compositor.go.
package sceneplanner

import (
	"fmt"
	"strings"

	"github.com/vibecraft/orchestrator/internal/models"
)

// Palette is a three-color visual scheme.
type Palette struct {
	Primary   string
	Secondary string
	Accent    string
}

// CameraMotion describes camera movement style for a clip.
type CameraMotion struct {
	Type     string // fast_zoom, quick_cuts, slow_pan, static, ...
	Intensity float64
	Speed    string // slow, moderate, fast
}

// ShotPattern describes framing/pacing/transition style.
type ShotPattern struct {
	Framing     string
	Pacing      string
	Transitions string
}

// ScenePlan is the output of Plan: everything the Video Generator Client
// needs to build its prompt and request parameters.
type ScenePlan struct {
	PromptText        string
	Palette           Palette
	CameraMotion      CameraMotion
	ShotPattern       ShotPattern
	Intensity         float64
	TargetDurationSec float64
	ReferenceImageURL *string
}

// Input bundles one section plus the song-level analysis context Plan needs.
type Input struct {
	Section           models.Section
	BPM               *float64
	Mood              *models.MoodVector
	MoodTags          []string
	PrimaryGenre      *string
	TargetDurationSec float64
	ReferenceImageURL *string
}

// Plan derives a ScenePlan for one section (§4.3).
func Plan(in Input) ScenePlan {
	palette := paletteFor(in.Mood)
	motion := cameraMotionFor(in.PrimaryGenre, in.BPM)
	shot := shotPatternFor(in.Section.Type)
	intensity := intensityFor(in.Mood)
	tempo := tempoDescriptor(in.BPM)

	prompt := buildPrompt(in, palette, motion, shot, tempo)

	return ScenePlan{
		PromptText:        prompt,
		Palette:           palette,
		CameraMotion:      motion,
		ShotPattern:        shot,
		Intensity:         intensity,
		TargetDurationSec: in.TargetDurationSec,
		ReferenceImageURL: in.ReferenceImageURL,
	}
}

// paletteFor maps mood → palette per §4.3's static table.
func paletteFor(mood *models.MoodVector) Palette {
	if mood == nil {
		return Palette{Primary: "#6b7280", Secondary: "#9ca3af", Accent: "#d1d5db"} // neutral grey
	}
	switch {
	case mood.Energy >= 0.6 && mood.Valence >= 0.6:
		return Palette{Primary: "#ff4da6", Secondary: "#ffd23f", Accent: "#00e5ff"} // vibrant
	case mood.Energy >= 0.6 && mood.Valence < 0.4:
		return Palette{Primary: "#ff1744", Secondary: "#1a1a2e", Accent: "#ff8a00"} // intense
	case mood.Energy < 0.4 && mood.Valence >= 0.5:
		return Palette{Primary: "#90caf9", Secondary: "#bbdefb", Accent: "#e3f2fd"} // soft blues, calm
	case mood.Valence < 0.35:
		return Palette{Primary: "#5c5470", Secondary: "#352f44", Accent: "#b9a6c7"} // melancholic, muted
	default:
		return Palette{Primary: "#8d99ae", Secondary: "#2b2d42", Accent: "#ef233c"} // high-contrast, intense
	}
}

// cameraMotionFor maps genre → camera motion preset scaled by tempo.
func cameraMotionFor(genre *string, bpm *float64) CameraMotion {
	preset := "slow_pan"
	if genre != nil {
		switch strings.ToLower(*genre) {
		case "edm", "house", "techno", "drum_and_bass":
			preset = "fast_zoom"
		case "pop", "rock":
			preset = "quick_cuts"
		case "hip_hop", "trap":
			preset = "quick_cuts"
		case "ambient", "classical", "acoustic":
			preset = "slow_pan"
		}
	}

	speed := "moderate"
	intensity := 0.5
	if bpm != nil {
		switch {
		case *bpm < 100:
			speed, intensity = "slow", 0.3
		case *bpm < 130:
			speed, intensity = "moderate", 0.5
		case *bpm < 160:
			speed, intensity = "fast", 0.75
		default:
			speed, intensity = "fast", 0.95
		}
	}

	return CameraMotion{Type: preset, Intensity: intensity, Speed: speed}
}

// shotPatternFor maps section type → shot pattern per §4.3's static table.
func shotPatternFor(sectionType string) ShotPattern {
	switch strings.ToLower(sectionType) {
	case "intro":
		return ShotPattern{Framing: "wide", Pacing: "slow", Transitions: "fade_in"}
	case "chorus":
		return ShotPattern{Framing: "close_to_wide", Pacing: "fast", Transitions: "cut"}
	case "drop":
		return ShotPattern{Framing: "close_to_wide", Pacing: "very_fast", Transitions: "hard_cut"}
	case "outro":
		return ShotPattern{Framing: "wide", Pacing: "slow", Transitions: "fade_out"}
	case "bridge":
		return ShotPattern{Framing: "medium", Pacing: "moderate", Transitions: "crossfade"}
	default: // verse and anything unlabeled
		return ShotPattern{Framing: "medium", Pacing: "moderate", Transitions: "cut"}
	}
}

func intensityFor(mood *models.MoodVector) float64 {
	if mood == nil {
		return 0.5
	}
	v := (mood.Energy + mood.Tension) / 2
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v
}

// tempoDescriptor maps BPM → tempo descriptor per §4.3's static table.
func tempoDescriptor(bpm *float64) string {
	if bpm == nil {
		return "steady"
	}
	switch {
	case *bpm < 100:
		return "slow, flowing"
	case *bpm < 130:
		return "steady, moderate"
	case *bpm < 160:
		return "energetic, driving"
	default:
		return "frenetic, rapid"
	}
}

// buildPrompt assembles a prompt string from base style, palette, mood,
// genre aesthetic, shot pattern, camera motion, section context, optional
// lyric keywords, and the rhythmic-motion phrase — following the teacher's
// buildXAIVideoPrompt/buildVeoPrompt concatenation idiom.
func buildPrompt(in Input, palette Palette, motion CameraMotion, shot ShotPattern, tempo string) string {
	var b strings.Builder

	b.WriteString("Cinematic music-video visuals")
	if in.PrimaryGenre != nil && *in.PrimaryGenre != "" {
		fmt.Fprintf(&b, " in a %s aesthetic", *in.PrimaryGenre)
	}
	b.WriteString(".\n\n")

	fmt.Fprintf(&b, "Palette: primary %s, secondary %s, accent %s.\n", palette.Primary, palette.Secondary, palette.Accent)

	if len(in.MoodTags) > 0 {
		fmt.Fprintf(&b, "Mood: %s.\n", strings.Join(in.MoodTags, ", "))
	}

	fmt.Fprintf(&b, "Section: %s — %s framing, %s pacing, %s transitions.\n",
		in.Section.Type, shot.Framing, shot.Pacing, shot.Transitions)
	fmt.Fprintf(&b, "Camera motion: %s at %s speed (intensity %.2f).\n", motion.Type, motion.Speed, motion.Intensity)

	if in.Section.LyricText != nil {
		if kw := extractKeywords(*in.Section.LyricText); kw != "" {
			fmt.Fprintf(&b, "Thematic keywords from lyrics: %s.\n", kw)
		}
	}

	fmt.Fprintf(&b, "Rhythmic motion: %s, synchronized to the beat.", tempo)

	return b.String()
}

// extractKeywords takes the first three words of five or more letters
// from a lyric line as a crude thematic signal — no NLP dependency is wired for this, so it is a
// direct token-length heuristic rather than true keyword extraction.
func extractKeywords(lyric string) string {
	words := strings.Fields(lyric)
	if len(words) == 0 {
		return ""
	}
	var longest []string
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'")
		if len(w) >= 5 {
			longest = append(longest, w)
		}
		if len(longest) == 3 {
			break
		}
	}
	return strings.Join(longest, ", ")
}
