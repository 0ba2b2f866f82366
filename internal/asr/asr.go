// Package asr defines the speech-to-text backend interface shared by the
// local whisper, AssemblyAI and Google Cloud Speech implementations.
package asr

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNoBackend is returned when no usable backend is configured.
var ErrNoBackend = errors.New("asr: no backend configured")

// Segment is one timed piece of a transcript.
type Segment struct {
	Start    time.Duration
	End      time.Duration
	Text     string
	Language string
	Score    float64 // confidence 0.0–1.0, 0 when the backend does not report it
}

// Transcript is a complete transcription result.
type Transcript struct {
	Segments []Segment
	Language string
	Duration time.Duration
	Model    string
	Backend  string
}

// Text joins the segment texts. Japanese output has no word spacing, so
// segments are concatenated line by line rather than with spaces.
func (t *Transcript) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		if txt := strings.TrimSpace(s.Text); txt != "" {
			parts = append(parts, txt)
		}
	}
	return strings.Join(parts, "\n")
}

// MapText returns a copy of t with fn applied to every segment text.
// Segments whose text becomes empty are dropped.
func (t *Transcript) MapText(fn func(string) string) *Transcript {
	out := *t
	out.Segments = make([]Segment, 0, len(t.Segments))
	for _, s := range t.Segments {
		s.Text = fn(s.Text)
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		out.Segments = append(out.Segments, s)
	}
	return &out
}

// TranscribeOptions configures a transcription request.
type TranscribeOptions struct {
	Language   string // ISO code such as "ja"; "" lets the backend detect it
	Model      string // backend-specific model name
	Timestamps bool
}

// HealthStatus reports backend health.
type HealthStatus struct {
	OK      bool
	Backend string
	Message string
	Latency time.Duration
}

// Backend is implemented by every speech-to-text provider.
type Backend interface {
	Name() string
	TranscribeFile(ctx context.Context, filePath string, opts TranscribeOptions) (*Transcript, error)
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}
