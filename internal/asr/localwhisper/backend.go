// Package localwhisper runs a whisper CLI (whisper.cpp or a compatible
// wrapper that prints JSON) as a subprocess.
package localwhisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/tshigata/lecture-ai-engineering/internal/asr"
)

// Name is the backend identifier used in configuration.
const Name = "local_whisper"

// Config configures the local whisper backend.
type Config struct {
	BinaryPath     string // whisper executable, looked up on PATH when not absolute
	ModelPath      string // optional .bin model file
	Model          string // model name reported in results, e.g. "base"
	Threads        int    // 0 lets the binary decide
	TimeoutSeconds int    // default 1800; lectures run long
}

// Backend shells out to the whisper binary.
type Backend struct {
	cfg Config
}

var _ asr.Backend = (*Backend)(nil)

// NewBackend fills defaults and returns a Backend.
func NewBackend(cfg Config) *Backend {
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 1800
	}
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "whisper"
	}
	return &Backend{cfg: cfg}
}

func (b *Backend) Name() string { return Name }

type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

type whisperOutput struct {
	Segments []whisperSegment `json:"segments"`
	Language string           `json:"language"`
}

func (b *Backend) binary() (string, error) {
	path, err := exec.LookPath(b.cfg.BinaryPath)
	if err != nil {
		return "", fmt.Errorf("localwhisper: binary not found at %q: %w", b.cfg.BinaryPath, err)
	}
	return path, nil
}

// TranscribeFile runs the binary on filePath and parses its JSON output. The
// whole process group is killed on timeout or cancellation.
func (b *Backend) TranscribeFile(ctx context.Context, filePath string, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	bin, err := b.binary()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("localwhisper: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(b.cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	cmd := exec.Command(bin, b.buildArgs(filePath, opts)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("localwhisper: failed to start subprocess: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		case <-done:
		}
	}()
	err = cmd.Wait()
	close(done)

	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("localwhisper: transcription timed out after %d seconds", b.cfg.TimeoutSeconds)
		case ctx.Err() != nil:
			return nil, fmt.Errorf("localwhisper: %w", ctx.Err())
		}
		return nil, fmt.Errorf("localwhisper: subprocess failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}

	var output whisperOutput
	if err := json.Unmarshal(stdout.Bytes(), &output); err != nil {
		return nil, fmt.Errorf("localwhisper: failed to parse JSON output: %w", err)
	}

	transcript := &asr.Transcript{
		Language: output.Language,
		Model:    b.resolveModel(opts),
		Backend:  Name,
	}
	if transcript.Language == "" {
		transcript.Language = opts.Language
	}
	for _, seg := range output.Segments {
		transcript.Segments = append(transcript.Segments, asr.Segment{
			Start:    secondsToDuration(seg.Start),
			End:      secondsToDuration(seg.End),
			Text:     seg.Text,
			Language: transcript.Language,
			Score:    seg.Score,
		})
	}
	if n := len(transcript.Segments); n > 0 {
		transcript.Duration = transcript.Segments[n-1].End
	}
	return transcript, nil
}

// HealthCheck verifies the binary and model exist and that the binary runs.
func (b *Backend) HealthCheck(ctx context.Context) (*asr.HealthStatus, error) {
	status := &asr.HealthStatus{Backend: Name}

	bin, err := b.binary()
	if err != nil {
		status.Message = err.Error()
		return status, nil
	}
	info, err := os.Stat(bin)
	if err != nil {
		status.Message = fmt.Sprintf("binary not found at %q: %v", bin, err)
		return status, nil
	}
	if info.Mode()&0111 == 0 {
		status.Message = fmt.Sprintf("binary at %q is not executable", bin)
		return status, nil
	}
	if b.cfg.ModelPath != "" {
		if _, err := os.Stat(b.cfg.ModelPath); err != nil {
			status.Message = fmt.Sprintf("model not found at %q: %v", b.cfg.ModelPath, err)
			return status, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	start := time.Now()
	err = exec.CommandContext(ctx, bin, "--help").Run()
	status.Latency = time.Since(start)
	if err != nil {
		// --help exits non-zero on some builds; only a failure to exec counts
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			status.Message = fmt.Sprintf("binary failed to execute: %v", err)
			return status, nil
		}
	}

	status.OK = true
	status.Message = "binary is available and executable"
	return status, nil
}

func (b *Backend) buildArgs(filePath string, opts asr.TranscribeOptions) []string {
	var args []string
	if b.cfg.ModelPath != "" {
		args = append(args, "--model", b.cfg.ModelPath)
	}
	args = append(args, "--output-json")
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if b.cfg.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(b.cfg.Threads))
	}
	return append(args, filePath)
}

func (b *Backend) resolveModel(opts asr.TranscribeOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	return b.cfg.Model
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
