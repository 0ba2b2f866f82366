package diaglog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Version is set at link time by the main package.
var Version = "dev"

// DiagBundle is the header line of an exported bundle.
type DiagBundle struct {
	ExportedAt string `json:"exported_at"`
	Version    string `json:"lecturekit_version"`
	GoVersion  string `json:"go_version"`
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	LogFile    string `json:"log_file"`
	EntryCount int    `json:"entry_count"`
	Runs       int    `json:"runs"`
	Failures   int    `json:"failures"`
}

// Export copies the log at logPath into dest/lecturekit-diag-<ts>.ndjson,
// preceded by a DiagBundle line. Returns the written path and the number of
// log lines copied.
func Export(logPath, dest string) (path string, lines int, err error) {
	src, err := os.Open(logPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", 0, fmt.Errorf("log file not found at %s: %w", logPath, os.ErrNotExist)
		}
		return "", 0, fmt.Errorf("log file unreadable: %w", err)
	}
	defer func() { _ = src.Close() }()

	bundle := DiagBundle{
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Version:    Version,
		GoVersion:  runtime.Version(),
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		LogFile:    logPath,
	}

	var raw [][]byte
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), DefaultMaxSize)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		raw = append(raw, line)

		var e LogEntry
		if json.Unmarshal(line, &e) == nil {
			switch e.Event {
			case EventRunStart:
				bundle.Runs++
			case EventRunFailed:
				bundle.Failures++
			}
		}
	}
	if serr := scanner.Err(); serr != nil {
		return "", 0, fmt.Errorf("log file unreadable: %w", serr)
	}
	bundle.EntryCount = len(raw)

	if err := os.MkdirAll(dest, 0755); err != nil {
		return "", 0, err
	}
	outPath := filepath.Join(dest, "lecturekit-diag-"+time.Now().UTC().Format("20060102T150405")+".ndjson")
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("output file could not be created: %w", err)
	}
	defer func() { _ = out.Close() }()

	header, err := json.Marshal(bundle)
	if err != nil {
		return "", 0, err
	}
	w := bufio.NewWriter(out)
	if _, err := w.Write(append(header, '\n')); err != nil {
		return "", 0, err
	}
	for _, line := range raw {
		if _, err := w.Write(append(line, '\n')); err != nil {
			return "", 0, err
		}
	}
	if err := w.Flush(); err != nil {
		return "", 0, err
	}
	return outPath, len(raw), nil
}
