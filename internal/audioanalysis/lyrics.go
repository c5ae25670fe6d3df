package audioanalysis

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vibecraft/orchestrator/internal/models"
)

// WordTimestamp is one word with its precise Whisper timing, grounded on
// the teacher's openai.go WordTimestamp.
type WordTimestamp struct {
	Word  string
	Start float64
	End   float64
}

// SetSourceBytes stashes the raw (un-decoded) audio bytes Whisper needs —
// PCM alone loses container/format information Whisper's endpoint expects
// as a named file upload.
func (e *Engine) SetSourceBytes(b []byte) { e.lastSourceBytes = b }

// transcribeLyrics calls Whisper for word-level timestamps (§4.1 step 6)
// against the source bytes stashed via SetSourceBytes.
func (e *Engine) transcribeLyrics(ctx context.Context) ([]WordTimestamp, error) {
	audioData := e.lastSourceBytes
	if e.openaiClient == nil {
		return nil, fmt.Errorf("transcription not configured")
	}
	if len(audioData) == 0 {
		return nil, fmt.Errorf("no source audio available for transcription")
	}

	resp, err := e.openaiClient.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(audioData),
		FilePath: "audio.mp3",
		Format:   openai.AudioResponseFormatVerboseJSON,
		TimestampGranularities: []openai.TranscriptionTimestampGranularity{
			openai.TranscriptionTimestampGranularityWord,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}
	if len(resp.Words) == 0 {
		return nil, fmt.Errorf("whisper returned no word timestamps")
	}

	words := make([]WordTimestamp, len(resp.Words))
	for i, w := range resp.Words {
		words[i] = WordTimestamp{Word: strings.TrimSpace(w.Word), Start: w.Start, End: w.End}
	}
	return words, nil
}

// alignLyrics assigns each transcribed word to the section containing its
// midpoint, concatenating per-section text (§4.1 step 6).
func alignLyrics(sections []models.Section, words []WordTimestamp) {
	texts := make([]strings.Builder, len(sections))
	for _, w := range words {
		mid := (w.Start + w.End) / 2
		for i := range sections {
			if mid >= sections[i].StartSec && mid < sections[i].EndSec {
				if texts[i].Len() > 0 {
					texts[i].WriteByte(' ')
				}
				texts[i].WriteString(w.Word)
				break
			}
		}
	}
	for i := range sections {
		if texts[i].Len() > 0 {
			text := texts[i].String()
			sections[i].LyricText = &text
		}
	}
}
