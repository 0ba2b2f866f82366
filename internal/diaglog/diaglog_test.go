package diaglog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readNDJSON(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var out []map[string]interface{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(s.Bytes(), &m); err != nil {
			t.Fatalf("invalid JSON line: %v -> %s", err, s.Text())
		}
		out = append(out, m)
	}
	return out
}

func TestLogWritesNDJSON(t *testing.T) {
	t.Setenv(EnvDebug, "true")

	path := filepath.Join(t.TempDir(), "logs", "lecturekit.ndjson")
	l, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !l.Enabled() {
		t.Fatal("logger should be enabled")
	}

	l.Log(LogEntry{Component: ComponentPipeline, Event: EventRunStart, RunID: "r1", File: "lecture.mp4"})
	l.Log(LogEntry{Component: ComponentASR, Event: EventBackendFallback, RunID: "r1", Reason: "primary unavailable"})
	l.Log(LogEntry{Component: ComponentPipeline, Event: EventRunFinish, RunID: "r1"})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readNDJSON(t, path)
	if len(lines) != 3 {
		t.Fatalf("want 3 lines, got %d", len(lines))
	}
	if lines[0]["component"] != ComponentPipeline {
		t.Errorf("component = %v", lines[0]["component"])
	}
	if lines[0]["file"] != "lecture.mp4" {
		t.Errorf("file = %v", lines[0]["file"])
	}
	if lines[1]["reason"] != "primary unavailable" {
		t.Errorf("reason = %v", lines[1]["reason"])
	}
	if lines[2]["run_id"] != "r1" {
		t.Errorf("run_id = %v", lines[2]["run_id"])
	}
	if lines[0]["ts"] == nil {
		t.Error("ts field missing")
	}
}

func TestLogRedactsPayload(t *testing.T) {
	t.Setenv(EnvDebug, "true")

	path := filepath.Join(t.TempDir(), "redact.ndjson")
	l, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Log(LogEntry{
		Component: ComponentAnalyzer,
		Event:     EventUpload,
		Payload:   map[string]interface{}{"api_key": "AIza-secret", "mime_type": "video/mp4"},
	})
	_ = l.Close()

	payload := readNDJSON(t, path)[0]["payload"].(map[string]interface{})
	if payload["api_key"] != "[REDACTED]" {
		t.Errorf("api_key = %v", payload["api_key"])
	}
	if payload["mime_type"] != "video/mp4" {
		t.Errorf("mime_type = %v", payload["mime_type"])
	}
}

func TestRollingRotatesAtMaxSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roll.ndjson")
	const maxSize = 1024
	rw, err := newRollingWriter(path, maxSize)
	if err != nil {
		t.Fatalf("newRollingWriter: %v", err)
	}
	defer rw.close()

	chunk := []byte(strings.Repeat("x", 512) + "\n")
	for i := 0; i < 3; i++ {
		if _, err := rw.Write(chunk); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() > maxSize {
		t.Errorf("file size %d exceeds maxSize %d", info.Size(), maxSize)
	}
	if _, err := os.Stat(path + ".1"); err != nil {
		t.Errorf("previous generation missing: %v", err)
	}
}

func TestRedactSensitiveFields(t *testing.T) {
	input := map[string]interface{}{
		"api_key":       "k",
		"Authorization": "Bearer x",
		"access_token":  "tok",
		"password":      "hunter2",
		"credentials":   "/path/sa.json",
		"backend":       "assemblyai",
		"nested": map[string]interface{}{
			"client_secret": "s",
			"ok":            "value",
		},
		"list": []interface{}{map[string]interface{}{"token": "t"}},
	}

	out := Redact(input).(map[string]interface{})
	for _, k := range []string{"api_key", "Authorization", "access_token", "password", "credentials"} {
		if out[k] != "[REDACTED]" {
			t.Errorf("key %q: want [REDACTED], got %v", k, out[k])
		}
	}
	if out["backend"] != "assemblyai" {
		t.Error("backend should be preserved")
	}
	nested := out["nested"].(map[string]interface{})
	if nested["client_secret"] != "[REDACTED]" || nested["ok"] != "value" {
		t.Errorf("nested = %v", nested)
	}
	elem := out["list"].([]interface{})[0].(map[string]interface{})
	if elem["token"] != "[REDACTED]" {
		t.Errorf("list element = %v", elem)
	}
	if input["api_key"] != "k" {
		t.Error("input must not be mutated")
	}
}

func TestRedactStringMap(t *testing.T) {
	out := Redact(map[string]string{"x-api-key": "k", "apikey": "k", "lang": "ja"}).(map[string]string)
	if out["apikey"] != "[REDACTED]" || out["lang"] != "ja" {
		t.Errorf("out = %v", out)
	}
}

func TestNoOpWhenDisabled(t *testing.T) {
	t.Setenv(EnvDebug, "")

	path := filepath.Join(t.TempDir(), "noop.ndjson")
	l, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Log(LogEntry{Component: ComponentPipeline, Event: EventRunStart})
	_ = l.Close()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("log file should not exist when debug disabled")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Log(LogEntry{Event: EventRunStart})
	if err := l.Close(); err != nil {
		t.Errorf("Close on nil: %v", err)
	}
}
