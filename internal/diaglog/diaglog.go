// Package diaglog records pipeline diagnostics as NDJSON. It is switched on
// by LECTUREKIT_DEBUG=true; otherwise every Log call is a no-op and no file
// is created.
package diaglog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EnvDebug is the variable that enables diagnostic logging.
const EnvDebug = "LECTUREKIT_DEBUG"

const (
	ComponentPipeline   = "pipeline"
	ComponentASR        = "asr"
	ComponentAnalyzer   = "analyzer"
	ComponentNormalizer = "normalizer"
	ComponentWatcher    = "watcher"
	ComponentDashboard  = "dashboard"
	ComponentDiagExport = "diag-export"
)

const (
	EventRunStart          = "run_start"
	EventRunFinish         = "run_finish"
	EventRunFailed         = "run_failed"
	EventAudioExtracted    = "audio_extracted"
	EventBackendSelected   = "backend_selected"
	EventBackendFallback   = "backend_fallback"
	EventRequestRetry      = "request_retry"
	EventUpload            = "upload"
	EventModelResponse     = "model_response"
	EventSegmentsRewritten = "segments_rewritten"
	EventFileDetected      = "file_detected"
	EventFileSkipped       = "file_skipped"
	EventFeedbackSaved     = "feedback_saved"
)

// LogEntry is one line of the diagnostic log.
type LogEntry struct {
	Timestamp string      `json:"ts"` // RFC3339Nano, filled in by Log when empty
	Component string      `json:"component"`
	Event     string      `json:"event"`
	RunID     string      `json:"run_id,omitempty"`
	File      string      `json:"file,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Logger appends entries to a rolling file.
type Logger struct {
	rw      *rollingWriter
	mu      sync.Mutex
	enabled bool
}

// DefaultMaxSize is the size at which the log file is rotated.
const DefaultMaxSize = 10 * 1024 * 1024

// New opens path for appending, creating parent directories. When debug mode
// is off the path is ignored and a disabled logger is returned.
func New(path string) (*Logger, error) {
	if !IsDebugEnabled() {
		return NewNoOp(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	rw, err := newRollingWriter(path, DefaultMaxSize)
	if err != nil {
		return nil, err
	}
	return &Logger{rw: rw, enabled: true}, nil
}

// Log writes entry as one JSON line. The payload is redacted first.
func (l *Logger) Log(entry LogEntry) {
	if l == nil || !l.enabled {
		return
	}
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if entry.Payload != nil {
		entry.Payload = Redact(entry.Payload)
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.rw.Write(append(data, '\n'))
}

// Enabled reports whether entries are being written.
func (l *Logger) Enabled() bool {
	return l != nil && l.enabled
}

// Close closes the file. Safe on a nil or disabled logger.
func (l *Logger) Close() error {
	if l == nil || !l.enabled || l.rw == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rw.close()
}

// IsDebugEnabled reports whether LECTUREKIT_DEBUG is "true".
func IsDebugEnabled() bool {
	return os.Getenv(EnvDebug) == "true"
}

// NewNoOp returns a disabled logger.
func NewNoOp() *Logger {
	return &Logger{enabled: false}
}
