package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/tshigata/lecture-ai-engineering/internal/config"
	"github.com/tshigata/lecture-ai-engineering/internal/dashboard"
	"github.com/tshigata/lecture-ai-engineering/internal/diaglog"
	"github.com/tshigata/lecture-ai-engineering/internal/logging"
	"github.com/tshigata/lecture-ai-engineering/internal/pipeline"
	"github.com/tshigata/lecture-ai-engineering/internal/validation"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	Config    string   `short:"c" env:"LECTUREKIT_CONFIG" type:"path" help:"Config file (default ~/.config/lecturekit/config.yaml)"`
	EnvFile   []string `name:"env-file" help:"Load environment variables from these files instead of .env and ~/.config/lecturekit/.env"`
	LogLevel  string   `env:"LECTUREKIT_LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Log level [${enum}]"`
	LogFormat string   `env:"LECTUREKIT_LOG_FORMAT" default:"console" enum:"console,json" help:"Log format [${enum}]"`
	DiagLog   string   `env:"LECTUREKIT_DIAG_LOG" type:"path" help:"Diagnostic NDJSON log, written when LECTUREKIT_DEBUG=true"`
}

// App is what each command's Run receives.
type App struct {
	Cfg      *config.Config
	Creds    config.Credentials
	Logger   *logging.Logger
	Diag     *diaglog.Logger
	DiagPath string
}

var CLI struct {
	Globals `embed:""`

	ExtractAudio ExtractAudioCmd `cmd:"" name:"extract-audio" help:"Extract the audio track of a video with ffmpeg"`
	Transcribe   TranscribeCmd   `cmd:"" help:"Extract audio and transcribe it with the configured speech-to-text backends"`
	Analyze      AnalyzeCmd      `cmd:"" help:"Describe a lecture video slide by slide with a multimodal model"`
	Clean        CleanCmd        `cmd:"" help:"Remove fillers and hesitations from an existing transcript or analysis file"`
	Reference    ReferenceCmd    `cmd:"" help:"Extract per-page text from a lecture slide PDF"`
	Watch        WatchCmd        `cmd:"" help:"Process videos dropped into the inbox directory"`
	Ctl          CtlCmd          `cmd:"" help:"Send pause, resume, rescan or quit to a running watcher"`
	Serve        ServeCmd        `cmd:"" help:"Run the evaluation dashboard"`
	Health       HealthCmd       `cmd:"" help:"Check every speech-to-text backend"`
	InitConfig   InitConfigCmd   `cmd:"" name:"init-config" help:"Write the default configuration file"`
	ExportDiag   ExportDiagCmd   `cmd:"" name:"export-diag" help:"Bundle the diagnostic log for a bug report"`
}

func defaultDiagPath() string {
	return filepath.Join(config.CacheDir(), "diag.ndjson")
}

func main() {
	diaglog.Version = Version
	pipeline.Version = Version
	dashboard.Version = Version

	kctx := kong.Parse(&CLI,
		kong.Name("lecturekit"),
		kong.Description("Lecture video analysis, transcription and transcript cleanup.\n\nVersion: ${version}"),
		kong.UsageOnError(),
		kong.Vars{"version": Version},
	)

	app, cleanup, err := setup(&CLI.Globals)
	if err != nil {
		fmt.Fprintln(os.Stderr, "lecturekit:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	kctx.BindTo(ctx, (*context.Context)(nil))
	err = kctx.Run(app)
	stop()
	if err != nil {
		app.Logger.Error("command failed", "command", kctx.Command(), "error", err)
		for _, fix := range validation.SuggestedFixes(err) {
			fmt.Fprintln(os.Stderr, fix)
		}
		cleanup()
		os.Exit(1)
	}
	cleanup()
}

func setup(g *Globals) (*App, func(), error) {
	loaded, err := config.LoadEnvFiles(g.EnvFile...)
	if err != nil {
		return nil, nil, err
	}

	logger, err := logging.New(g.LogFormat, g.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range loaded {
		logger.Debug("loaded env file", "path", p)
	}

	cfg, err := config.Load(g.Config)
	if err != nil {
		logger.Sync()
		return nil, nil, err
	}

	diagPath := g.DiagLog
	if diagPath == "" {
		diagPath = defaultDiagPath()
	}
	diag, err := diaglog.New(diagPath)
	if err != nil {
		logger.Warn("diagnostic log disabled", "path", diagPath, "error", err)
		diag = diaglog.NewNoOp()
	}

	app := &App{
		Cfg:      cfg,
		Creds:    config.CredentialsFromEnv(),
		Logger:   logger,
		Diag:     diag,
		DiagPath: diagPath,
	}
	cleanup := func() {
		_ = diag.Close()
		logger.Sync()
	}
	return app, cleanup, nil
}
