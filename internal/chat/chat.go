// Package chat answers free-form questions with a generative model and
// measures how long each answer took.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tshigata/lecture-ai-engineering/internal/logging"
)

var (
	ErrEmptyQuestion = errors.New("chat: question is empty")
	ErrEmptyAnswer   = errors.New("chat: model returned an empty answer")
)

// Generator produces a text answer for prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Answer is one generated reply. ResponseTime is in seconds.
type Answer struct {
	Question     string  `json:"question"`
	Text         string  `json:"answer"`
	ResponseTime float64 `json:"response_time"`
	Model        string  `json:"model,omitempty"`
}

// Responder times a Generator.
type Responder struct {
	gen    Generator
	model  string
	logger *logging.Logger
	now    func() time.Time
}

// NewResponder wraps gen. model is only reported back to callers.
func NewResponder(gen Generator, model string, logger *logging.Logger) *Responder {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Responder{gen: gen, model: model, logger: logger, now: time.Now}
}

// Answer generates a reply to question. Surrounding whitespace is trimmed
// from both the question and the answer.
func (r *Responder) Answer(ctx context.Context, question string) (*Answer, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return nil, ErrEmptyQuestion
	}

	start := r.now()
	text, err := r.gen.Generate(ctx, q)
	elapsed := r.now().Sub(start)
	if err != nil {
		r.logger.Warn("answer generation failed", "elapsed", elapsed, "error", err)
		return nil, fmt.Errorf("chat: generate: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyAnswer
	}

	r.logger.Debug("answer generated", "elapsed", elapsed, "chars", len([]rune(text)))
	return &Answer{
		Question:     q,
		Text:         text,
		ResponseTime: elapsed.Seconds(),
		Model:        r.model,
	}, nil
}
