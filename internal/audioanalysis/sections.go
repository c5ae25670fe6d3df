package audioanalysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vibecraft/orchestrator/internal/models"
)

// StructureClient calls an optional external section-inference service
// (§4.1 step 3, §6 "StructureServiceEndpoint"). On any failure the caller
// falls back to internalSegment.
type StructureClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewStructureClient(endpoint, apiKey string) *StructureClient {
	return &StructureClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

type structureSection struct {
	Type       string  `json:"type"`
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	Confidence float64 `json:"confidence"`
}

type structureRequest struct {
	DurationSec float64 `json:"duration_sec"`
}

type structureResponse struct {
	Sections []structureSection `json:"sections"`
}

func (c *StructureClient) DetectSections(ctx context.Context, durationSec float64) ([]models.Section, error) {
	body, err := json.Marshal(structureRequest{DurationSec: durationSec})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/structure", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("structure service returned %d: %s", resp.StatusCode, data)
	}

	var out structureResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Sections) == 0 {
		return nil, fmt.Errorf("structure service returned no sections")
	}

	sections := make([]models.Section, len(out.Sections))
	for i, s := range out.Sections {
		sections[i] = models.Section{
			Index:      i,
			Type:       s.Type,
			StartSec:   s.StartSec,
			EndSec:     s.EndSec,
			Confidence: s.Confidence,
		}
	}
	return sections, nil
}

// internalSegment is the fallback segmenter (§4.1 step 3): since no
// chroma-feature extraction library is wired into this domain, boundaries
// are chosen by a duration heuristic (count scaled to song length) with
// boundaries snapped to the nearest detected beat, approximating
// agglomerative clustering's effect of aligning section edges to musical
// structure without requiring a dedicated clustering dependency.
func internalSegment(duration float64, beatTimes []float64, bpm float64) []models.Section {
	if duration <= 0 {
		return nil
	}

	targetCount := boundaryCountFor(duration)
	if targetCount < 1 {
		targetCount = 1
	}

	rawBoundaries := make([]float64, targetCount+1)
	for i := 0; i <= targetCount; i++ {
		rawBoundaries[i] = duration * float64(i) / float64(targetCount)
	}

	boundaries := make([]float64, len(rawBoundaries))
	boundaries[0] = 0
	boundaries[len(boundaries)-1] = duration
	for i := 1; i < len(rawBoundaries)-1; i++ {
		boundaries[i] = snapToNearestBeat(rawBoundaries[i], beatTimes)
	}

	labels := sectionLabelsFor(targetCount)
	sections := make([]models.Section, 0, targetCount)
	for i := 0; i < targetCount; i++ {
		if boundaries[i+1] <= boundaries[i] {
			continue
		}
		sections = append(sections, models.Section{
			Index:      len(sections),
			Type:       labels[i%len(labels)],
			StartSec:   boundaries[i],
			EndSec:     boundaries[i+1],
			Confidence: 0.5, // internal fallback: moderate confidence, no ML classifier backing it
		})
	}
	return sections
}

// boundaryCountFor picks a section count by duration heuristic: roughly
// one section per 25-35s of audio, bounded to [1, 12].
func boundaryCountFor(duration float64) int {
	n := int(duration / 30.0)
	if n < 1 {
		n = 1
	}
	if n > 12 {
		n = 12
	}
	return n
}

func snapToNearestBeat(t float64, beatTimes []float64) float64 {
	if len(beatTimes) == 0 {
		return t
	}
	best := beatTimes[0]
	bestDist := abs(t - best)
	for _, b := range beatTimes {
		if d := abs(t - b); d < bestDist {
			best, bestDist = b, d
		}
	}
	return best
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// sectionLabelsFor produces a plausible intro/verse/chorus/.../outro
// sequence of the right length, matching §4.3's section-type vocabulary.
func sectionLabelsFor(n int) []string {
	if n == 1 {
		return []string{"verse"}
	}
	labels := make([]string, n)
	labels[0] = "intro"
	labels[n-1] = "outro"
	cycle := []string{"verse", "chorus", "verse", "chorus", "bridge"}
	for i := 1; i < n-1; i++ {
		labels[i] = cycle[(i-1)%len(cycle)]
	}
	return labels
}

// mergeUndersized merges any section shorter than minSec into its
// shorter adjacent neighbor, per §4.1 step 3's post-processing rule.
func mergeUndersized(sections []models.Section, minSec float64) []models.Section {
	if len(sections) <= 1 {
		return sections
	}

	merged := append([]models.Section(nil), sections...)
	changed := true
	for changed && len(merged) > 1 {
		changed = false
		for i := 0; i < len(merged); i++ {
			if merged[i].DurationSec() >= minSec {
				continue
			}
			// Merge into whichever neighbor is shorter (i.e. the weaker
			// boundary), preferring the previous section when tied.
			switch {
			case i == 0:
				merged[1].StartSec = merged[0].StartSec
				merged = merged[1:]
			case i == len(merged)-1:
				merged[i-1].EndSec = merged[i].EndSec
				merged = merged[:i]
			default:
				prevDur := merged[i-1].DurationSec()
				nextDur := merged[i+1].DurationSec()
				if prevDur <= nextDur {
					merged[i-1].EndSec = merged[i].EndSec
					merged = append(merged[:i], merged[i+1:]...)
				} else {
					merged[i+1].StartSec = merged[i].StartSec
					merged = append(merged[:i], merged[i+1:]...)
				}
			}
			changed = true
			break
		}
	}

	for i := range merged {
		merged[i].Index = i
	}
	return merged
}
