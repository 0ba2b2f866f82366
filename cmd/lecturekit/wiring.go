package main

import (
	"context"
	"fmt"
	"time"

	"github.com/tshigata/lecture-ai-engineering/internal/analyze"
	"github.com/tshigata/lecture-ai-engineering/internal/asr"
	"github.com/tshigata/lecture-ai-engineering/internal/asr/assemblyai"
	"github.com/tshigata/lecture-ai-engineering/internal/asr/googlestt"
	"github.com/tshigata/lecture-ai-engineering/internal/asr/localwhisper"
	"github.com/tshigata/lecture-ai-engineering/internal/chat"
	"github.com/tshigata/lecture-ai-engineering/internal/media"
	"github.com/tshigata/lecture-ai-engineering/internal/metrics"
	"github.com/tshigata/lecture-ai-engineering/internal/pipeline"
)

// buildRegistry registers every backend and selects primary and fallback
// from the config. AssemblyAI is only registered when its key is set.
func buildRegistry(app *App) (*asr.Registry, error) {
	c := app.Cfg.ASR
	reg := asr.NewRegistry()
	reg.SetDiagLogger(app.Diag)

	reg.Register(localwhisper.NewBackend(localwhisper.Config{
		BinaryPath:     c.Local.BinaryPath,
		ModelPath:      c.Local.ModelPath,
		Model:          c.Local.Model,
		Threads:        c.Local.Threads,
		TimeoutSeconds: c.Local.TimeoutSeconds,
	}))
	if app.Creds.AssemblyAIKey != "" {
		client := assemblyai.NewClient(assemblyai.Config{
			BaseURL:             c.AssemblyAI.BaseURL,
			APIKey:              app.Creds.AssemblyAIKey,
			TimeoutSeconds:      c.AssemblyAI.TimeoutSeconds,
			Retries:             c.AssemblyAI.Retries,
			PollIntervalSeconds: c.AssemblyAI.PollIntervalSeconds,
		})
		client.SetLogger(app.Diag)
		reg.Register(client)
	}
	reg.Register(googlestt.NewBackend(googlestt.Config{
		CredentialsFile: app.Creds.GoogleCredentialsFile,
		LanguageCode:    c.Google.LanguageCode,
		Model:           c.Google.Model,
	}))

	if err := reg.SetPrimary(c.Backend); err != nil {
		if c.Backend == assemblyai.Name && app.Creds.AssemblyAIKey == "" {
			_, kerr := app.Creds.RequireAssemblyAIKey()
			return nil, kerr
		}
		return nil, err
	}
	if c.FallbackBackend != "" {
		if err := reg.SetFallback(c.FallbackBackend); err != nil {
			app.Logger.Warn("fallback backend unavailable", "backend", c.FallbackBackend, "error", err)
		}
	}
	return reg, nil
}

func buildExtractor(app *App) *media.Extractor {
	return media.NewExtractor(app.Cfg.Media.FFmpegPath, app.Cfg.Media.SampleRate, app.Logger)
}

// buildAnalyzer returns the analyzer and a closer for its client.
func buildAnalyzer(ctx context.Context, app *App) (*analyze.Analyzer, func(), error) {
	key, err := app.Creds.RequireGoogleAPIKey()
	if err != nil {
		return nil, nil, err
	}
	gen, err := analyze.NewGemini(ctx, analyze.GeminiConfig{
		APIKey:      key,
		Model:       app.Cfg.Analysis.Model,
		InlineLimit: int64(app.Cfg.Analysis.InlineLimitMB) * 1024 * 1024,
	}, app.Logger, app.Diag)
	if err != nil {
		return nil, nil, err
	}
	a := analyze.New(gen, analyze.WithLogger(app.Logger), analyze.WithDiagLogger(app.Diag))
	return a, func() { _ = gen.Close() }, nil
}

// buildChat returns the /api/chat answerer, or nil when no API key is set.
func buildChat(ctx context.Context, app *App) (*chat.Responder, func(), error) {
	if app.Creds.GoogleAPIKey == "" {
		app.Logger.Warn("GOOGLE_API_KEY not set; /api/chat is disabled")
		return nil, func() {}, nil
	}
	gen, err := chat.NewGemini(ctx, chat.GeminiConfig{
		APIKey: app.Creds.GoogleAPIKey,
		Model:  app.Cfg.Dashboard.ChatModel,
	})
	if err != nil {
		return nil, nil, err
	}
	return chat.NewResponder(gen, gen.Model(), app.Logger), func() { _ = gen.Close() }, nil
}

type pipelineParts struct {
	analyze    bool
	transcribe bool
	normalize  bool
	keepAudio  bool
	outputDir  string
	metrics    *metrics.Metrics
	events     pipeline.Publisher
}

// buildPipeline wires only the stages a command needs, so analyze does not
// require ASR setup and transcribe does not require an API key.
func buildPipeline(ctx context.Context, app *App, parts pipelineParts) (*pipeline.Pipeline, func(), error) {
	opts := pipeline.Options{
		OutputDir: parts.outputDir,
		Language:  app.Cfg.Language,
		Formats:   app.Cfg.ASR.OutputFormats,
		Normalize: parts.normalize || app.Cfg.ASR.Normalize,
		KeepAudio: parts.keepAudio,
		Logger:    app.Logger,
		Diag:      app.Diag,
		Metrics:   parts.metrics,
		Events:    parts.events,
	}
	if opts.OutputDir == "" {
		opts.OutputDir = app.Cfg.Output.Dir
	}
	closer := func() {}

	if parts.transcribe {
		reg, err := buildRegistry(app)
		if err != nil {
			return nil, nil, err
		}
		ext := buildExtractor(app)
		if err := ext.CheckAvailable(); err != nil {
			return nil, nil, err
		}
		opts.Transcriber = reg
		opts.Extractor = ext
	}
	if parts.analyze {
		a, done, err := buildAnalyzer(ctx, app)
		if err != nil {
			return nil, nil, err
		}
		opts.Analyzer = a
		closer = done
	}
	return pipeline.New(opts), closer, nil
}

// withTimeout bounds one analysis run.
func withTimeout(ctx context.Context, app *App) (context.Context, context.CancelFunc) {
	if app.Cfg.Analysis.TimeoutSeconds <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(app.Cfg.Analysis.TimeoutSeconds)*time.Second)
}

func printResult(res *pipeline.Result) {
	for _, o := range res.Outputs {
		fmt.Println(o)
	}
	if res.Fallback {
		fmt.Printf("(transcribed by fallback backend %s)\n", res.Backend)
	}
}
