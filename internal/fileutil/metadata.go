// Package fileutil holds output naming, atomic writes and the per-run sidecar
// metadata file.
package fileutil

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RunMetadata is written next to a run's primary output as <base>.meta.json.
type RunMetadata struct {
	Version    string        `json:"version"`
	RunID      string        `json:"run_id"`
	Mode       string        `json:"mode"` // analyze | transcribe
	Input      string        `json:"input"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	DurationMs int64         `json:"duration_ms"`
	Outputs    []string      `json:"outputs"`
	Error      string        `json:"error,omitempty"`
	Analysis   *AnalysisMeta `json:"analysis,omitempty"`
	ASR        *ASRMeta      `json:"asr,omitempty"`
	Segments   *SegmentMeta  `json:"segments,omitempty"`
}

// AnalysisMeta describes the video analysis request.
type AnalysisMeta struct {
	Model     string `json:"model"`
	MIMEType  string `json:"mime_type"`
	Uploaded  bool   `json:"uploaded"` // true when the file API was used instead of inline data
	SizeBytes int64  `json:"size_bytes"`
}

// ASRMeta captures transcription details.
type ASRMeta struct {
	Backend   string   `json:"backend"`
	Model     string   `json:"model,omitempty"`
	Language  string   `json:"language"`
	Formats   []string `json:"formats"`
	Segments  int      `json:"segments"`
	Fallback  bool     `json:"fallback"`
	AudioPath string   `json:"audio_path,omitempty"`
}

// SegmentMeta summarizes narration normalization.
type SegmentMeta struct {
	Total     int `json:"total"`
	Rewritten int `json:"rewritten"`
	Dropped   int `json:"dropped"`
}

// WriteMetadata writes meta to the sidecar path for outputPath.
func WriteMetadata(outputPath string, meta *RunMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	path := MetadataPath(outputPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := AtomicWriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// MetadataPath returns <base>.meta.json for a given output path, where base
// drops the extension and any _analysis or _transcript suffix.
func MetadataPath(outputPath string) string {
	ext := filepath.Ext(outputPath)
	base := strings.TrimSuffix(outputPath, ext)
	for _, s := range []string{"_analysis", "_transcript"} {
		base = strings.TrimSuffix(base, s)
	}
	return base + ".meta.json"
}
