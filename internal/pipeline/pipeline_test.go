package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tshigata/lecture-ai-engineering/internal/analyze"
	"github.com/tshigata/lecture-ai-engineering/internal/asr"
	"github.com/tshigata/lecture-ai-engineering/internal/fileutil"
	"github.com/tshigata/lecture-ai-engineering/internal/metrics"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeAnalyzer struct {
	text string
	err  error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, videoPath string) (*analyze.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &analyze.Result{Text: f.text, Model: "fake-model", MIMEType: "video/mp4", Size: 42}, nil
}

type fakeExtractor struct {
	err  error
	path string
}

func (f *fakeExtractor) ExtractAudio(ctx context.Context, videoPath, outPath string) error {
	if f.err != nil {
		return f.err
	}
	f.path = outPath
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(outPath, []byte("RIFF"), 0644)
}

type fakeBackend struct {
	name string
	tr   *asr.Transcript
	err  error
	opts asr.TranscribeOptions
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) TranscribeFile(ctx context.Context, path string, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	b.opts = opts
	if b.err != nil {
		return nil, b.err
	}
	t := *b.tr
	t.Backend = b.name
	return &t, nil
}

func (b *fakeBackend) HealthCheck(ctx context.Context) (*asr.HealthStatus, error) {
	return &asr.HealthStatus{OK: true, Backend: b.name}, nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

const analysisText = `[スライド1 - 00:00:00]
スライドの内容：
- 導入

説明：えーと今日は、Pythonの基本を説明します

---

---
[スライド2 - 00:01:00]
スライドの内容：
- 変数
`

func sampleASR() *asr.Transcript {
	return &asr.Transcript{
		Segments: []asr.Segment{
			{Start: 0, End: 2 * time.Second, Text: "えーと今日は"},
			{Start: 2 * time.Second, End: 3 * time.Second, Text: "えーと"},
			{Start: 3 * time.Second, End: 5 * time.Second, Text: "本当ですか？"},
		},
		Language: "ja",
		Model:    "base",
	}
}

func readMeta(t *testing.T, path string) *fileutil.RunMetadata {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	var m fileutil.RunMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	return &m
}

// ─────────────────────────────────────────────────────────────────────────────
// AnalyzeVideo
// ─────────────────────────────────────────────────────────────────────────────

func TestAnalyzeVideo(t *testing.T) {
	dir := t.TempDir()
	events := &recorder{}
	p := New(Options{
		Analyzer:  &fakeAnalyzer{text: analysisText},
		OutputDir: dir,
		Metrics:   metrics.New(),
		Events:    events,
	})

	res, err := p.AnalyzeVideo(context.Background(), "/videos/lecture 1.mp4", "")
	if err != nil {
		t.Fatalf("AnalyzeVideo: %v", err)
	}
	want := filepath.Join(dir, "lecture-1_analysis.txt")
	if len(res.Outputs) != 1 || res.Outputs[0] != want {
		t.Fatalf("Outputs = %v, want [%s]", res.Outputs, want)
	}

	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	if !strings.Contains(got, "説明：今日は。Pythonの基本を説明します。") {
		t.Errorf("explanation not normalized:\n%s", got)
	}
	if !strings.Contains(got, "スライドの内容：\n- 変数") {
		t.Errorf("second slide lost:\n%s", got)
	}
	if strings.Count(got, "\n---\n") != 1 {
		t.Errorf("expected blank segments to be dropped, got:\n%s", got)
	}

	if res.Segments == nil || res.Segments.Total != 2 || res.Segments.Rewritten != 1 || res.Segments.Dropped != 1 {
		t.Errorf("Segments = %+v", res.Segments)
	}

	meta := readMeta(t, res.MetadataPath)
	if meta.RunID != res.RunID || meta.Mode != ModeAnalyze {
		t.Errorf("meta = %+v", meta)
	}
	if meta.Analysis == nil || meta.Analysis.Model != "fake-model" {
		t.Errorf("meta.Analysis = %+v", meta.Analysis)
	}
	if meta.Error != "" {
		t.Errorf("meta.Error = %q", meta.Error)
	}

	types := events.types()
	if types[0] != EventRunStart || types[len(types)-1] != EventRunFinish {
		t.Errorf("events = %v", types)
	}
}

func TestAnalyzeVideo_Failure(t *testing.T) {
	dir := t.TempDir()
	events := &recorder{}
	boom := errors.New("model unavailable")
	p := New(Options{Analyzer: &fakeAnalyzer{err: boom}, OutputDir: dir, Events: events})

	out := filepath.Join(dir, "lec_analysis.txt")
	res, err := p.AnalyzeVideo(context.Background(), "lec.mp4", out)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("no output should be written on failure")
	}
	meta := readMeta(t, res.MetadataPath)
	if meta.Error != "model unavailable" {
		t.Errorf("meta.Error = %q", meta.Error)
	}
	types := events.types()
	if types[len(types)-1] != EventRunFailed {
		t.Errorf("events = %v", types)
	}
}

func TestAnalyzeVideo_NoAnalyzer(t *testing.T) {
	if _, err := New(Options{}).AnalyzeVideo(context.Background(), "a.mp4", ""); err == nil {
		t.Error("expected error without analyzer")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// TranscribeVideo
// ─────────────────────────────────────────────────────────────────────────────

func newRegistry(backends ...*fakeBackend) *asr.Registry {
	r := asr.NewRegistry()
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

func TestTranscribeVideo(t *testing.T) {
	dir := t.TempDir()
	ext := &fakeExtractor{}
	primary := &fakeBackend{name: "local_whisper", tr: sampleASR()}
	p := New(Options{
		Extractor:   ext,
		Transcriber: newRegistry(primary),
		OutputDir:   dir,
		Language:    "ja",
		Normalize:   true,
	})

	res, err := p.TranscribeVideo(context.Background(), "lec.mp4", "", []string{"txt", "srt"})
	if err != nil {
		t.Fatalf("TranscribeVideo: %v", err)
	}
	base := filepath.Join(dir, "lec_transcript")
	if len(res.Outputs) != 2 || res.Outputs[0] != base+".txt" || res.Outputs[1] != base+".srt" {
		t.Errorf("Outputs = %v", res.Outputs)
	}
	if primary.opts.Language != "ja" || !primary.opts.Timestamps {
		t.Errorf("backend options = %+v", primary.opts)
	}

	data, _ := os.ReadFile(base + ".txt")
	want := "[00:00:00.000 --> 00:00:02.000] 今日は。\n[00:00:03.000 --> 00:00:05.000] 本当ですか？\n"
	if string(data) != want {
		t.Errorf("transcript:\n%s\nwant:\n%s", data, want)
	}

	// extracted audio lives in a temp dir that is removed afterwards
	if _, err := os.Stat(ext.path); !os.IsNotExist(err) {
		t.Errorf("temporary audio %s should be removed", ext.path)
	}

	meta := readMeta(t, filepath.Join(dir, "lec.meta.json"))
	if meta.ASR == nil || meta.ASR.Backend != "local_whisper" || meta.ASR.Segments != 2 || meta.ASR.Fallback {
		t.Errorf("meta.ASR = %+v", meta.ASR)
	}
}

func TestTranscribeVideo_KeepAudio(t *testing.T) {
	dir := t.TempDir()
	ext := &fakeExtractor{}
	p := New(Options{
		Extractor:   ext,
		Transcriber: newRegistry(&fakeBackend{name: "local_whisper", tr: sampleASR()}),
		OutputDir:   dir,
		KeepAudio:   true,
		AudioFormat: "mp3",
	})
	res, err := p.TranscribeVideo(context.Background(), "lec.mp4", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(dir, "lec_transcript.mp3")
	if ext.path != want {
		t.Errorf("audio path = %q, want %q", ext.path, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("kept audio missing: %v", err)
	}
	if len(res.Outputs) != 1 {
		t.Errorf("default formats should be txt only, got %v", res.Outputs)
	}
}

func TestTranscribeVideo_Fallback(t *testing.T) {
	dir := t.TempDir()
	primary := &fakeBackend{name: "local_whisper", err: errors.New("whisper crashed")}
	fallback := &fakeBackend{name: "assemblyai", tr: sampleASR()}
	reg := newRegistry(primary, fallback)
	if err := reg.SetFallback("assemblyai"); err != nil {
		t.Fatal(err)
	}
	m := metrics.New()
	p := New(Options{Extractor: &fakeExtractor{}, Transcriber: reg, OutputDir: dir, Metrics: m})

	res, err := p.TranscribeVideo(context.Background(), "lec.mp4", "", nil)
	if err != nil {
		t.Fatalf("TranscribeVideo: %v", err)
	}
	if !res.Fallback || res.Backend != "assemblyai" {
		t.Errorf("Fallback = %v, Backend = %q", res.Fallback, res.Backend)
	}
	// without normalization the filler-only segment survives
	data, _ := os.ReadFile(filepath.Join(dir, "lec_transcript.txt"))
	if !strings.Contains(string(data), "] えーと\n") {
		t.Errorf("raw text expected without normalization:\n%s", data)
	}
}

func TestTranscribeVideo_ExtractError(t *testing.T) {
	dir := t.TempDir()
	p := New(Options{
		Extractor:   &fakeExtractor{err: errors.New("no audio stream")},
		Transcriber: newRegistry(&fakeBackend{name: "local_whisper", tr: sampleASR()}),
		OutputDir:   dir,
	})
	res, err := p.TranscribeVideo(context.Background(), "lec.mp4", "", nil)
	if err == nil || !strings.Contains(err.Error(), "no audio stream") {
		t.Fatalf("err = %v", err)
	}
	if meta := readMeta(t, res.MetadataPath); meta.Error == "" {
		t.Error("metadata should record the error")
	}
}

func TestTranscribeVideo_Unconfigured(t *testing.T) {
	if _, err := New(Options{}).TranscribeVideo(context.Background(), "a.mp4", "", nil); err == nil {
		t.Error("expected error without extractor and transcriber")
	}
}

func TestRunIDsAreUnique(t *testing.T) {
	dir := t.TempDir()
	p := New(Options{Analyzer: &fakeAnalyzer{text: analysisText}, OutputDir: dir})
	a, err := p.AnalyzeVideo(context.Background(), "a.mp4", "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := p.AnalyzeVideo(context.Background(), "b.mp4", "")
	if err != nil {
		t.Fatal(err)
	}
	if a.RunID == "" || a.RunID == b.RunID {
		t.Errorf("run IDs %q and %q", a.RunID, b.RunID)
	}
}
