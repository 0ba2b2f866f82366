// Package analyze turns a lecture video into slide-by-slide text using a
// multimodal generative model.
package analyze

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tshigata/lecture-ai-engineering/internal/diaglog"
	"github.com/tshigata/lecture-ai-engineering/internal/logging"
	"github.com/tshigata/lecture-ai-engineering/internal/media"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("analyze: model returned an empty response")

// Video describes the file handed to a Generator.
type Video struct {
	Path     string
	MIMEType string
	Size     int64
}

// Output is what a Generator produced for one request.
type Output struct {
	Text     string
	Model    string
	Uploaded bool // sent through the file API rather than inline
}

// Generator sends a prompt and a video to a model.
type Generator interface {
	Generate(ctx context.Context, prompt string, video Video) (*Output, error)
}

// Prompt asks for one block per slide separated by "---", with the slide
// text under スライドの内容： and the cleaned narration under 説明：.
const Prompt = `この動画は教育用のスライドプレゼンテーションです。
以下の点に注意して解析してください：
1. スライドに表示されている内容を正確に読み取る
2. 話者の説明を音声から文字起こしする
3. スライドの内容と音声の説明を組み合わせて、より正確な文字起こしを行う
4. 各スライドごとに区切って出力し、スライドの間には「---」だけの行を入れる
5. タイムスタンプを付けて、どの部分の説明かを明確にする
6. 文字起こしの際、言い間違いやフィラー（例：「えー」「あのー」「そのー」「えっと」など）、説明の本質に関係ないワードは除去し、分かりやすく簡潔に整形する

出力形式：
[スライド1 - 00:00:00]
スライドの内容：
[スライドの内容を箇条書きで]

説明：
[フィラーや言い間違いを除去し、分かりやすく整形した音声の文字起こし]
---
`

// Result is a finished analysis.
type Result struct {
	Text     string
	Model    string
	MIMEType string
	Size     int64
	Uploaded bool
	Elapsed  time.Duration
}

// Analyzer runs video analysis through a Generator.
type Analyzer struct {
	gen    Generator
	prompt string
	logger *logging.Logger
	diag   *diaglog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithPrompt replaces the default prompt.
func WithPrompt(p string) Option {
	return func(a *Analyzer) { a.prompt = p }
}

// WithLogger sets the operational logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithDiagLogger sets the diagnostic logger.
func WithDiagLogger(d *diaglog.Logger) Option {
	return func(a *Analyzer) { a.diag = d }
}

// New returns an Analyzer backed by gen.
func New(gen Generator, opts ...Option) *Analyzer {
	a := &Analyzer{
		gen:    gen,
		prompt: Prompt,
		logger: logging.Nop(),
		diag:   diaglog.NewNoOp(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze sends videoPath to the model and returns the raw analysis text.
func (a *Analyzer) Analyze(ctx context.Context, videoPath string) (*Result, error) {
	fi, err := os.Stat(videoPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", media.ErrInputNotFound, videoPath)
		}
		return nil, fmt.Errorf("analyze: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("analyze: %s is a directory", videoPath)
	}

	v := Video{Path: videoPath, MIMEType: mimeType(videoPath), Size: fi.Size()}
	a.logger.Info("analyzing video", "file", videoPath, "mime", v.MIMEType, "bytes", v.Size)

	start := time.Now()
	out, err := a.gen.Generate(ctx, a.prompt, v)
	if err != nil {
		return nil, fmt.Errorf("analyze: generate: %w", err)
	}
	elapsed := time.Since(start)

	text := strings.TrimSpace(out.Text)
	a.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentAnalyzer,
		Event:     diaglog.EventModelResponse,
		File:      videoPath,
		Payload: map[string]interface{}{
			"model":      out.Model,
			"uploaded":   out.Uploaded,
			"chars":      len([]rune(text)),
			"elapsed_ms": elapsed.Milliseconds(),
		},
	})
	if text == "" {
		return nil, ErrEmptyResponse
	}

	return &Result{
		Text:     out.Text,
		Model:    out.Model,
		MIMEType: v.MIMEType,
		Size:     v.Size,
		Uploaded: out.Uploaded,
		Elapsed:  elapsed,
	}, nil
}

// mimeType falls back to video/mp4 when the file is not recognised as video.
func mimeType(path string) string {
	t := media.DetectMIME(path)
	if strings.HasPrefix(t, "video/") {
		return t
	}
	return "video/mp4"
}
