// Package segment splits a slide-by-slide analysis transcript into segments
// and rewrites the narration ("説明：") block of each one in place.
package segment

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dlclark/regexp2"

	"github.com/tshigata/lecture-ai-engineering/internal/normalize"
)

const (
	// Separator delimits slides in model output.
	Separator = "---"
	// ContentLabel introduces the bulleted slide text.
	ContentLabel = "スライドの内容："
	// ExplanationLabel introduces the spoken narration for the slide.
	ExplanationLabel = "説明："
)

// joiner is what Transcript.String puts between segments.
const joiner = "\n" + Separator + "\n"

// The explanation runs lazily up to the first blank line or the end of the
// segment.
var explanationRe = regexp2.MustCompile(ExplanationLabel+`(.*?)(?=\n\n|$)`, regexp2.Singleline)

var headerRe = regexp.MustCompile(`\[スライド\s*(\d+)\s*-\s*(\d{1,2}:\d{2}:\d{2})\]`)

// Segment is one slide's worth of model output.
type Segment struct {
	Raw string
}

// Header returns the slide number and timestamp from a "[スライド1 - 00:00:00]"
// line, if present.
func (s Segment) Header() (slide int, timestamp string, ok bool) {
	m := headerRe.FindStringSubmatch(s.Raw)
	if m == nil {
		return 0, "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return n, m[2], true
}

// Content returns the slide text between the content and explanation labels.
func (s Segment) Content() (string, bool) {
	i := strings.Index(s.Raw, ContentLabel)
	if i < 0 {
		return "", false
	}
	rest := s.Raw[i+len(ContentLabel):]
	if j := strings.Index(rest, ExplanationLabel); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest), true
}

// Explanation returns the trimmed narration text.
func (s Segment) Explanation() (string, bool) {
	m, err := explanationRe.FindStringMatch(s.Raw)
	if err != nil || m == nil {
		return "", false
	}
	return strings.TrimSpace(m.GroupByNumber(1).String()), true
}

// rewrite replaces the matched explanation span with the label followed by
// fn applied to the trimmed narration. Segments without a label are returned
// unchanged.
func (s Segment) rewrite(fn func(string) string) (Segment, bool) {
	m, err := explanationRe.FindStringMatch(s.Raw)
	if err != nil || m == nil {
		return s, false
	}
	start := byteOffset(s.Raw, m.Index)
	end := byteOffset(s.Raw, m.Index+m.Length)
	cleaned := fn(strings.TrimSpace(m.GroupByNumber(1).String()))

	var b strings.Builder
	b.WriteString(s.Raw[:start])
	b.WriteString(ExplanationLabel)
	b.WriteString(cleaned)
	b.WriteString(s.Raw[end:])
	return Segment{Raw: b.String()}, true
}

// byteOffset converts a regexp2 rune index into a byte index of s. Each
// invalid UTF-8 byte counts as one rune, as it does when regexp2 decodes s.
func byteOffset(s string, runeIdx int) int {
	i := 0
	for n := 0; n < runeIdx && i < len(s); n++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}

// Transcript is the ordered list of non-empty segments.
type Transcript struct {
	Segments []Segment
	// Rewritten counts segments whose explanation was rewritten.
	Rewritten int
	// Dropped counts whitespace-only segments removed during the split.
	Dropped int
}

// String joins the segments with the separator on its own line.
func (t Transcript) String() string {
	parts := make([]string, len(t.Segments))
	for i, s := range t.Segments {
		parts[i] = s.Raw
	}
	return strings.Join(parts, joiner)
}

// Split cuts raw on Separator, dropping whitespace-only pieces.
func Split(raw string) Transcript {
	var t Transcript
	for _, piece := range strings.Split(raw, Separator) {
		if strings.TrimSpace(piece) == "" {
			t.Dropped++
			continue
		}
		t.Segments = append(t.Segments, Segment{Raw: piece})
	}
	return t
}

// Rewrite splits raw and passes every explanation through fn. Segment count
// and order are preserved; only explanation spans change.
func Rewrite(raw string, fn func(string) string) Transcript {
	t := Split(raw)
	for i, s := range t.Segments {
		if out, ok := s.rewrite(fn); ok {
			t.Segments[i] = out
			t.Rewritten++
		}
	}
	return t
}

// NormalizeExplanations rewrites every explanation with normalize.Normalize.
func NormalizeExplanations(raw string) Transcript {
	return Rewrite(raw, normalize.Normalize)
}
