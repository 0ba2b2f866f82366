package pipeline

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/tshigata/lecture-ai-engineering/internal/normalize"
	"github.com/tshigata/lecture-ai-engineering/internal/segment"
	"github.com/tshigata/lecture-ai-engineering/internal/transcript"
)

// timecode matches the prefix written by transcript.WriteText.
var timecode = regexp.MustCompile(`^(\[\d{2}:\d{2}:\d{2}\.\d{3} --> \d{2}:\d{2}:\d{2}\.\d{3}\]\s*)(.*)$`)

// CleanStats reports what CleanText changed.
type CleanStats struct {
	Analysis  bool // input was treated as slide analysis text
	Segments  int
	Rewritten int
	Dropped   int
	Lines     int // non-empty transcript lines normalized
}

// CleanText normalizes an existing file's text. Slide analysis output (it
// contains 説明： labels) has only its explanation spans rewritten. Any
// other text is normalized line by line, keeping timecode prefixes.
func CleanText(raw string) (string, CleanStats) {
	if strings.Contains(raw, segment.ExplanationLabel) {
		t := segment.NormalizeExplanations(raw)
		return t.String(), CleanStats{
			Analysis:  true,
			Segments:  len(t.Segments),
			Rewritten: t.Rewritten,
			Dropped:   t.Dropped,
		}
	}

	var (
		st  CleanStats
		out []string
	)
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		prefix, body := "", line
		if m := timecode.FindStringSubmatch(line); m != nil {
			prefix, body = m[1], m[2]
		}
		cleaned := normalize.Normalize(body)
		if cleaned == "" {
			continue
		}
		st.Lines++
		out = append(out, prefix+cleaned)
	}
	return strings.Join(out, "\n"), st
}

// CleanFile runs CleanText over inPath and writes outPath.
func CleanFile(inPath, outPath string) (CleanStats, error) {
	data, err := os.ReadFile(inPath)
	if err != nil {
		return CleanStats{}, fmt.Errorf("pipeline: %w", err)
	}
	text, st := CleanText(string(data))
	if err := transcript.WriteAnalysis(outPath, text); err != nil {
		return st, fmt.Errorf("pipeline: %w", err)
	}
	return st, nil
}
