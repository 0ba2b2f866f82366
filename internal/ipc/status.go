// Package ipc is the file-based channel between a running watcher and other
// lecturekit processes: the watcher publishes status.json and polls cmd.txt.
package ipc

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tshigata/lecture-ai-engineering/internal/fileutil"
)

// WatchState is what the watcher is doing right now.
type WatchState string

const (
	StateIdle       WatchState = "idle"
	StateProcessing WatchState = "processing"
	StatePaused     WatchState = "paused"
	StateStopped    WatchState = "stopped"
)

// StatusSnapshot is the watcher state published after every change.
type StatusSnapshot struct {
	State      WatchState `json:"state"`
	Mode       string     `json:"mode"` // analyze | transcribe
	InboxDir   string     `json:"inbox_dir"`
	Polling    bool       `json:"polling"` // fsnotify unavailable, scanning on a timer
	Current    string     `json:"current,omitempty"`
	Processed  int        `json:"processed"`
	Failed     int        `json:"failed"`
	LastRunID  string     `json:"last_run_id,omitempty"`
	LastOutput string     `json:"last_output,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	Timestamp  time.Time  `json:"timestamp"`
}

// StatusPath returns dir/status.json.
func StatusPath(dir string) string {
	return filepath.Join(dir, "status.json")
}

// WriteStatus stamps and atomically writes status into dir.
func WriteStatus(dir string, status *StatusSnapshot) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	status.Timestamp = time.Now().UTC()
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	return fileutil.AtomicWriteFile(StatusPath(dir), append(data, '\n'), 0644)
}

// ReadStatus loads the snapshot from dir.
func ReadStatus(dir string) (*StatusSnapshot, error) {
	data, err := os.ReadFile(StatusPath(dir))
	if err != nil {
		return nil, err
	}
	var status StatusSnapshot
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
