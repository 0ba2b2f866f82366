package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
)

type fakeGenerator struct {
	text   string
	err    error
	prompt string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.text, f.err
}

// stepClock advances by step on every call.
func stepClock(step time.Duration) func() time.Time {
	t := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		now := t
		t = t.Add(step)
		return now
	}
}

func TestAnswer_timesGeneration(t *testing.T) {
	gen := &fakeGenerator{text: "  過学習は訓練データに適合しすぎることです。\n"}
	r := NewResponder(gen, "test-model", nil)
	r.now = stepClock(1500 * time.Millisecond)

	a, err := r.Answer(context.Background(), "  過学習とは？ ")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if gen.prompt != "過学習とは？" {
		t.Errorf("prompt = %q", gen.prompt)
	}
	if a.Text != "過学習は訓練データに適合しすぎることです。" {
		t.Errorf("Text = %q", a.Text)
	}
	if a.ResponseTime != 1.5 {
		t.Errorf("ResponseTime = %v, want 1.5", a.ResponseTime)
	}
	if a.Model != "test-model" {
		t.Errorf("Model = %q", a.Model)
	}
}

func TestAnswer_errors(t *testing.T) {
	r := NewResponder(&fakeGenerator{text: "x"}, "", nil)
	if _, err := r.Answer(context.Background(), "   "); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("blank question: %v", err)
	}

	r = NewResponder(&fakeGenerator{text: " \n"}, "", nil)
	if _, err := r.Answer(context.Background(), "q"); !errors.Is(err, ErrEmptyAnswer) {
		t.Errorf("blank answer: %v", err)
	}

	boom := errors.New("quota")
	r = NewResponder(&fakeGenerator{err: boom}, "", nil)
	if _, err := r.Answer(context.Background(), "q"); !errors.Is(err, boom) {
		t.Errorf("generator error should be wrapped, got %v", err)
	}
}

func TestNewGemini_requiresKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), GeminiConfig{}); err == nil {
		t.Error("expected error without API key")
	}
}

func TestAnswerText(t *testing.T) {
	if got := answerText(nil); got != "" {
		t.Errorf("nil response = %q", got)
	}
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text("前半"), genai.Blob{}, genai.Text("後半")}},
	}}}
	if got := answerText(resp); got != "前半後半" {
		t.Errorf("answerText = %q", got)
	}
}
