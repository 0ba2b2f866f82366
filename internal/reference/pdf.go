// Package reference extracts per-page text from lecture slide PDFs, used as
// reference material when reviewing transcripts.
package reference

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dslipak/pdf"

	"github.com/tshigata/lecture-ai-engineering/internal/fileutil"
)

// ErrNotPDF is returned for files that do not parse as PDF.
var ErrNotPDF = errors.New("reference: not a PDF file")

// Page is the text of one PDF page, numbered from 1.
type Page struct {
	Number int    `json:"page"`
	Text   string `json:"text"`
}

// ExtractPDF returns the text of every page in order. Pages without text
// are kept with an empty Text so numbering matches the document. A page
// whose content cannot be decoded yields an error naming the page.
func ExtractPDF(path string) ([]Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("reference: %s is a directory", path)
	}

	r, err := openReader(f, fi.Size())
	if err != nil {
		return nil, err
	}

	pages := make([]Page, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		text, err := pageText(r.Page(i))
		if err != nil {
			return nil, fmt.Errorf("reference: page %d: %w", i, err)
		}
		pages = append(pages, Page{Number: i, Text: tidy(text)})
	}
	return pages, nil
}

// openReader guards against the parser panicking on malformed input.
func openReader(f *os.File, size int64) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("%w: %v", ErrNotPDF, p)
		}
	}()
	r, err = pdf.NewReader(f, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	return r, nil
}

func pageText(p pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%v", r)
		}
	}()
	if p.V.IsNull() {
		return "", nil
	}
	fonts := make(map[string]*pdf.Font)
	for _, name := range p.Fonts() {
		f := p.Font(name)
		fonts[name] = &f
	}
	return p.GetPlainText(fonts)
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

// tidy trims trailing spaces per line and collapses runs of blank lines.
func tidy(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	s = strings.Join(lines, "\n")
	return strings.TrimSpace(blankRuns.ReplaceAllString(s, "\n\n"))
}

// Format renders pages as plain text with a header line per page.
func Format(pages []Page) string {
	var b strings.Builder
	for i, p := range pages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "=== Page %d ===\n", p.Number)
		b.WriteString(p.Text)
	}
	if len(pages) > 0 {
		b.WriteString("\n")
	}
	return b.String()
}

// Write stores pages at path: JSON when the extension is .json, Format
// output otherwise.
func Write(path string, pages []Page) error {
	var data []byte
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var err error
		data, err = json.MarshalIndent(pages, "", "  ")
		if err != nil {
			return err
		}
		data = append(data, '\n')
	} else {
		data = []byte(Format(pages))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return fileutil.AtomicWriteFile(path, data, 0644)
}
