// Package media extracts audio tracks from lecture videos and inspects the
// resulting files.
package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tshigata/lecture-ai-engineering/internal/logging"
)

// ErrInputNotFound is returned when the source media file does not exist.
var ErrInputNotFound = errors.New("input file not found")

// Extractor runs ffmpeg to pull the audio track out of a video.
type Extractor struct {
	FFmpegPath string // defaults to "ffmpeg" on PATH
	SampleRate int    // used for wav and flac output; defaults to 16000
	Logger     *logging.Logger
}

// NewExtractor returns an Extractor with defaults filled in.
func NewExtractor(ffmpegPath string, sampleRate int, logger *logging.Logger) *Extractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Extractor{FFmpegPath: ffmpegPath, SampleRate: sampleRate, Logger: logger}
}

// args builds the ffmpeg command line. The codec follows the output
// extension: mp3 keeps the lecture listenable, wav and flac are resampled to
// mono PCM for speech recognition.
func (e *Extractor) args(in, out string) ([]string, error) {
	rate := strconv.Itoa(e.SampleRate)
	base := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", in, "-vn"}
	switch strings.ToLower(filepath.Ext(out)) {
	case ".mp3":
		return append(base, "-acodec", "libmp3lame", "-q:a", "2", out), nil
	case ".wav":
		return append(base, "-acodec", "pcm_s16le", "-ar", rate, "-ac", "1", out), nil
	case ".flac":
		return append(base, "-acodec", "flac", "-ar", rate, "-ac", "1", out), nil
	case ".m4a":
		return append(base, "-acodec", "aac", "-b:a", "128k", out), nil
	default:
		return nil, fmt.Errorf("unsupported audio output format %q", filepath.Ext(out))
	}
}

// ExtractAudio writes the audio track of videoPath to outPath.
func (e *Extractor) ExtractAudio(ctx context.Context, videoPath, outPath string) error {
	if _, err := os.Stat(videoPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrInputNotFound, videoPath)
		}
		return err
	}
	args, err := e.args(videoPath, outPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return err
	}

	e.Logger.Debug("running ffmpeg", "input", videoPath, "output", outPath)
	cmd := exec.CommandContext(ctx, e.FFmpegPath, args...)
	cmd.Env = os.Environ()
	cmd.WaitDelay = 2 * time.Second
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, tail(string(out), 512))
	}

	fi, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	if fi.Size() == 0 {
		return fmt.Errorf("ffmpeg produced an empty file %s", outPath)
	}
	e.Logger.Info("audio extracted", "output", outPath, "bytes", fi.Size())
	return nil
}

// CheckAvailable verifies the ffmpeg binary can be found.
func (e *Extractor) CheckAvailable() error {
	if _, err := exec.LookPath(e.FFmpegPath); err != nil {
		return fmt.Errorf("ffmpeg not found at %q: %w", e.FFmpegPath, err)
	}
	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
