package engine

import (
	"context"
	"encoding/json"
	"strings"
)

// Request describes a single transcription run.
type Request struct {
	SourcePath string
	OutputDir  string
	Model      string
	Language   string
}

// Word carries word-level timing from the engine output.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Segment is one timed span of transcribed speech.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Words []Word  `json:"words,omitempty"`
}

// Result is the outcome of a successful transcription.
type Result struct {
	Text         string
	Segments     []Segment
	SegmentsJSON string
	SRTPath      string
}

// ProgressFunc receives engine progress as it happens. Implementations must
// tolerate out-of-order percentages; the engine re-reports phases.
type ProgressFunc func(percent float64, message string)

// Transcriber runs speech-to-text over a prepared audio file.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request, progress ProgressFunc) (*Result, error)
}

// FlattenText joins segment texts into a single transcript string.
func FlattenText(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// MarshalSegments encodes segments for persistence.
func MarshalSegments(segments []Segment) (string, error) {
	if len(segments) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(segments)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
