// Package transcript writes transcripts and analysis results to disk.
package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tshigata/lecture-ai-engineering/internal/asr"
	"github.com/tshigata/lecture-ai-engineering/internal/fileutil"
)

// Formats lists the transcript formats WriteAll understands, in the order
// they are written.
var Formats = []string{"txt", "srt", "vtt"}

// WriteText writes one line per segment in the form
// [HH:MM:SS.mmm --> HH:MM:SS.mmm] text. Segment text is trimmed and
// segments with no text are skipped.
func WriteText(path string, t *asr.Transcript) error {
	var b strings.Builder
	for _, seg := range t.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "[%s --> %s] %s\n", formatVTTTimestamp(seg.Start), formatVTTTimestamp(seg.End), text)
	}
	return write(path, b.String())
}

// WriteSRT writes a SubRip file, numbering segments from 1.
func WriteSRT(path string, t *asr.Transcript) error {
	var b strings.Builder
	n := 0
	for _, seg := range t.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if n > 0 {
			b.WriteByte('\n')
		}
		n++
		fmt.Fprintf(&b, "%d\n", n)
		fmt.Fprintf(&b, "%s --> %s\n", formatSRTTimestamp(seg.Start), formatSRTTimestamp(seg.End))
		fmt.Fprintf(&b, "%s\n", text)
	}
	return write(path, b.String())
}

// WriteVTT writes a WebVTT file.
func WriteVTT(path string, t *asr.Transcript) error {
	var b strings.Builder
	b.WriteString("WEBVTT\n")
	for _, seg := range t.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		b.WriteByte('\n')
		fmt.Fprintf(&b, "%s --> %s\n", formatVTTTimestamp(seg.Start), formatVTTTimestamp(seg.End))
		fmt.Fprintf(&b, "%s\n", text)
	}
	return write(path, b.String())
}

// WriteAnalysis writes the slide-by-slide analysis text. A trailing newline
// is added when missing.
func WriteAnalysis(path, text string) error {
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return write(path, text)
}

// WriteAll writes t in every requested format to basePath plus the format
// extension, and returns the paths written. Nil or empty formats means
// ["txt"]. Unknown formats are reported but do not stop the others.
func WriteAll(basePath string, t *asr.Transcript, formats []string) ([]string, error) {
	if len(formats) == 0 {
		formats = []string{"txt"}
	}
	var (
		written []string
		errs    []string
	)
	for _, f := range formats {
		path := basePath + "." + f
		var err error
		switch f {
		case "txt":
			err = WriteText(path, t)
		case "srt":
			err = WriteSRT(path, t)
		case "vtt":
			err = WriteVTT(path, t)
		default:
			errs = append(errs, fmt.Sprintf("unknown format %q", f))
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", f, err))
			continue
		}
		written = append(written, path)
	}
	if len(errs) > 0 {
		return written, fmt.Errorf("transcript write errors: %s", strings.Join(errs, "; "))
	}
	return written, nil
}

func formatSRTTimestamp(d time.Duration) string {
	h, m, s, ms := split(d)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func formatVTTTimestamp(d time.Duration) string {
	h, m, s, ms := split(d)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func split(d time.Duration) (h, m, s, ms int) {
	if d < 0 {
		d = 0
	}
	h = int(d.Hours())
	m = int(d.Minutes()) % 60
	s = int(d.Seconds()) % 60
	ms = int(d.Milliseconds()) % 1000
	return
}

func write(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	if err := fileutil.AtomicWriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}
