package analyze

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/tshigata/lecture-ai-engineering/internal/diaglog"
	"github.com/tshigata/lecture-ai-engineering/internal/logging"
)

// GeminiConfig configures the Gemini generator.
type GeminiConfig struct {
	APIKey       string
	Model        string        // default "gemini-2.0-flash"
	InlineLimit  int64         // bytes; larger videos are uploaded. Default 20 MB
	PollInterval time.Duration // upload state polling, default 2s
}

// Gemini is a Generator backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
	logger *logging.Logger
	diag   *diaglog.Logger
}

var _ Generator = (*Gemini)(nil)

// NewGemini creates a client. Call Close when done.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *logging.Logger, diag *diaglog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.InlineLimit <= 0 {
		cfg.InlineLimit = 20 * 1024 * 1024
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if diag == nil {
		diag = diaglog.NewNoOp()
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Gemini{client: client, cfg: cfg, logger: logger, diag: diag}, nil
}

// Close releases the client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

// Model returns the configured model name.
func (g *Gemini) Model() string { return g.cfg.Model }

// Generate sends prompt and video. Videos within the inline limit travel as
// a blob in the request; larger ones go through the file API and are
// deleted afterwards.
func (g *Gemini) Generate(ctx context.Context, prompt string, video Video) (*Output, error) {
	model := g.client.GenerativeModel(g.cfg.Model)
	model.SetTemperature(0.2)

	out := &Output{Model: g.cfg.Model}
	var videoPart genai.Part
	if video.Size <= g.cfg.InlineLimit {
		data, err := os.ReadFile(video.Path)
		if err != nil {
			return nil, err
		}
		videoPart = genai.Blob{MIMEType: video.MIMEType, Data: data}
	} else {
		file, err := g.upload(ctx, video)
		if err != nil {
			return nil, err
		}
		defer func() {
			// the request context may already be gone
			dctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := g.client.DeleteFile(dctx, file.Name); err != nil {
				g.logger.Warn("failed to delete uploaded video", "name", file.Name, "error", err)
			}
		}()
		videoPart = genai.FileData{MIMEType: file.MIMEType, URI: file.URI}
		out.Uploaded = true
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt), videoPart)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	out.Text = responseText(resp)
	return out, nil
}

func (g *Gemini) upload(ctx context.Context, video Video) (*genai.File, error) {
	f, err := os.Open(video.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	start := time.Now()
	file, err := g.client.UploadFile(ctx, "", f, &genai.UploadFileOptions{
		DisplayName: filepath.Base(video.Path),
		MIMEType:    video.MIMEType,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: upload: %w", err)
	}
	g.logger.Info("video uploaded, waiting for processing", "name", file.Name, "bytes", video.Size)

	for file.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			g.deleteQuietly(file.Name)
			return nil, ctx.Err()
		case <-time.After(g.cfg.PollInterval):
		}
		if file, err = g.client.GetFile(ctx, file.Name); err != nil {
			return nil, fmt.Errorf("gemini: get file: %w", err)
		}
	}
	if file.State != genai.FileStateActive {
		g.deleteQuietly(file.Name)
		return nil, fmt.Errorf("gemini: uploaded file %s ended in state %v", file.Name, file.State)
	}

	g.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentAnalyzer,
		Event:     diaglog.EventUpload,
		File:      video.Path,
		Payload: map[string]interface{}{
			"name":       file.Name,
			"bytes":      video.Size,
			"elapsed_ms": time.Since(start).Milliseconds(),
		},
	})
	return file, nil
}

func (g *Gemini) deleteQuietly(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = g.client.DeleteFile(ctx, name)
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0]
	if c.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range c.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
