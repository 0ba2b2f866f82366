package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// fakeFFmpeg writes a script that records its arguments and writes a
// non-empty file to its last argument.
func fakeFFmpeg(t *testing.T, body string) (bin, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args.txt")
	bin = filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\necho \"$@\" > " + argsFile + "\n" + body + "\n"
	if err := os.WriteFile(bin, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return bin, argsFile
}

const writeLastArg = `for last; do :; done; echo audio > "$last"`

func TestExtractAudioMP3(t *testing.T) {
	bin, argsFile := fakeFFmpeg(t, writeLastArg)
	dir := t.TempDir()
	video := filepath.Join(dir, "lec.mp4")
	os.WriteFile(video, []byte("video"), 0644)
	out := filepath.Join(dir, "audio", "lec.mp3")

	e := NewExtractor(bin, 0, nil)
	if err := e.ExtractAudio(context.Background(), video, out); err != nil {
		t.Fatalf("ExtractAudio: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("output missing: %v", err)
	}
	args, _ := os.ReadFile(argsFile)
	if !strings.Contains(string(args), "libmp3lame") || !strings.Contains(string(args), "-vn") {
		t.Errorf("args = %s", args)
	}
}

func TestExtractAudioWAVResamples(t *testing.T) {
	bin, argsFile := fakeFFmpeg(t, writeLastArg)
	dir := t.TempDir()
	video := filepath.Join(dir, "lec.mp4")
	os.WriteFile(video, []byte("video"), 0644)

	e := NewExtractor(bin, 16000, nil)
	if err := e.ExtractAudio(context.Background(), video, filepath.Join(dir, "lec.wav")); err != nil {
		t.Fatalf("ExtractAudio: %v", err)
	}
	args, _ := os.ReadFile(argsFile)
	for _, want := range []string{"pcm_s16le", "-ar 16000", "-ac 1"} {
		if !strings.Contains(string(args), want) {
			t.Errorf("args missing %q: %s", want, args)
		}
	}
}

func TestExtractAudioMissingInput(t *testing.T) {
	e := NewExtractor("ffmpeg", 0, nil)
	err := e.ExtractAudio(context.Background(), filepath.Join(t.TempDir(), "none.mp4"), "out.mp3")
	if !errors.Is(err, ErrInputNotFound) {
		t.Errorf("want ErrInputNotFound, got %v", err)
	}
}

func TestExtractAudioUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	video := filepath.Join(dir, "lec.mp4")
	os.WriteFile(video, []byte("video"), 0644)
	e := NewExtractor("ffmpeg", 0, nil)
	if err := e.ExtractAudio(context.Background(), video, filepath.Join(dir, "out.txt")); err == nil {
		t.Error("expected error for .txt output")
	}
}

func TestExtractAudioFailureIncludesOutput(t *testing.T) {
	bin, _ := fakeFFmpeg(t, "echo 'Invalid data found when processing input' >&2; exit 1")
	dir := t.TempDir()
	video := filepath.Join(dir, "lec.mp4")
	os.WriteFile(video, []byte("video"), 0644)

	err := NewExtractor(bin, 0, nil).ExtractAudio(context.Background(), video, filepath.Join(dir, "a.mp3"))
	if err == nil || !strings.Contains(err.Error(), "Invalid data") {
		t.Errorf("err = %v", err)
	}
}

func TestExtractAudioEmptyOutput(t *testing.T) {
	bin, _ := fakeFFmpeg(t, `for last; do :; done; : > "$last"`)
	dir := t.TempDir()
	video := filepath.Join(dir, "lec.mp4")
	os.WriteFile(video, []byte("video"), 0644)

	err := NewExtractor(bin, 0, nil).ExtractAudio(context.Background(), video, filepath.Join(dir, "a.mp3"))
	if err == nil {
		t.Error("expected error for empty output")
	}
}

func TestExtractAudioCancelled(t *testing.T) {
	bin, _ := fakeFFmpeg(t, "exec sleep 5")
	dir := t.TempDir()
	video := filepath.Join(dir, "lec.mp4")
	os.WriteFile(video, []byte("video"), 0644)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := NewExtractor(bin, 0, nil).ExtractAudio(ctx, video, filepath.Join(dir, "a.mp3"))
	if err == nil || !strings.Contains(err.Error(), "cancelled") {
		t.Errorf("err = %v", err)
	}
}

func writeTestWAV(t *testing.T, path string, rate, seconds int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, rate*seconds),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProbeWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speech.wav")
	writeTestWAV(t, path, 16000, 2)

	info, err := ProbeWAV(path)
	if err != nil {
		t.Fatalf("ProbeWAV: %v", err)
	}
	if !info.SpeechReady() {
		t.Errorf("info = %+v, want speech ready", info)
	}
	if info.Duration != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", info.Duration)
	}
}

func TestProbeWAVNotSpeechReady(t *testing.T) {
	path := filepath.Join(t.TempDir(), "music.wav")
	writeTestWAV(t, path, 44100, 1)
	info, err := ProbeWAV(path)
	if err != nil {
		t.Fatalf("ProbeWAV: %v", err)
	}
	if info.SpeechReady() {
		t.Error("44.1 kHz should not be speech ready")
	}
}

func TestProbeWAVInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.wav")
	os.WriteFile(path, []byte("not riff"), 0644)
	if _, err := ProbeWAV(path); err == nil {
		t.Error("expected error for invalid wav")
	}
	if _, err := ProbeWAV(filepath.Join(t.TempDir(), "none.wav")); !errors.Is(err, ErrInputNotFound) {
		t.Errorf("want ErrInputNotFound, got %v", err)
	}
}

func TestDetectMIME(t *testing.T) {
	tests := map[string]string{
		"a.mp4":  "video/mp4",
		"A.MOV":  "video/quicktime",
		"a.webm": "video/webm",
		"a.mp3":  "audio/mpeg",
		"a.wav":  "audio/wav",
	}
	for path, want := range tests {
		if got := DetectMIME(path); got != want {
			t.Errorf("DetectMIME(%q) = %q, want %q", path, got, want)
		}
	}
	if !IsVideo("lec.mkv") || IsVideo("lec.mp3") {
		t.Error("IsVideo misclassified")
	}
}

func TestDetectMIMESniffs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noext")
	os.WriteFile(path, []byte("plain text content"), 0644)
	if got := DetectMIME(path); !strings.HasPrefix(got, "text/plain") {
		t.Errorf("DetectMIME = %q", got)
	}
}
