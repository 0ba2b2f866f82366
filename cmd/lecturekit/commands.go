package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tshigata/lecture-ai-engineering/internal/config"
	"github.com/tshigata/lecture-ai-engineering/internal/dashboard"
	"github.com/tshigata/lecture-ai-engineering/internal/diaglog"
	"github.com/tshigata/lecture-ai-engineering/internal/feedback"
	"github.com/tshigata/lecture-ai-engineering/internal/fileutil"
	"github.com/tshigata/lecture-ai-engineering/internal/ipc"
	"github.com/tshigata/lecture-ai-engineering/internal/metrics"
	"github.com/tshigata/lecture-ai-engineering/internal/normalize"
	"github.com/tshigata/lecture-ai-engineering/internal/pidfile"
	"github.com/tshigata/lecture-ai-engineering/internal/pipeline"
	"github.com/tshigata/lecture-ai-engineering/internal/reference"
	"github.com/tshigata/lecture-ai-engineering/internal/validation"
	"github.com/tshigata/lecture-ai-engineering/internal/watch"
)

type ExtractAudioCmd struct {
	Video  string `arg:"" type:"existingfile" help:"Input video"`
	Output string `short:"o" help:"Output audio file (default <output dir>/<video>.<format>)"`
	Format string `short:"f" default:"mp3" enum:"mp3,wav,flac,m4a" help:"Audio format when --output is not given [${enum}]"`
}

func (c *ExtractAudioCmd) Run(ctx context.Context, app *App) error {
	out := c.Output
	if out == "" {
		out = fileutil.OutputPath(app.Cfg.Output.Dir, c.Video, "."+c.Format)
	}
	if err := buildExtractor(app).ExtractAudio(ctx, c.Video, out); err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

type TranscribeCmd struct {
	Video     string   `arg:"" type:"existingfile" help:"Input video"`
	OutputDir string   `short:"o" type:"path" help:"Output directory (default from config)"`
	Formats   []string `short:"f" help:"Transcript formats: txt, srt, vtt (default from config)"`
	Normalize bool     `short:"n" help:"Remove fillers and hesitations from each segment"`
	KeepAudio bool     `help:"Keep the extracted audio next to the transcript"`
}

func (c *TranscribeCmd) Run(ctx context.Context, app *App) error {
	p, done, err := buildPipeline(ctx, app, pipelineParts{
		transcribe: true,
		normalize:  c.Normalize,
		keepAudio:  c.KeepAudio,
		outputDir:  c.OutputDir,
	})
	if err != nil {
		return err
	}
	defer done()

	res, err := p.TranscribeVideo(ctx, c.Video, p.TranscriptBase(c.Video), c.Formats)
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

type AnalyzeCmd struct {
	Video     string `arg:"" type:"existingfile" help:"Input video"`
	Output    string `short:"o" help:"Output file (default <output dir>/<video>_analysis.txt)"`
	OutputDir string `type:"path" help:"Output directory (default from config)"`
}

func (c *AnalyzeCmd) Run(ctx context.Context, app *App) error {
	p, done, err := buildPipeline(ctx, app, pipelineParts{analyze: true, outputDir: c.OutputDir})
	if err != nil {
		return err
	}
	defer done()

	out := c.Output
	if out == "" {
		out = p.AnalysisPath(c.Video)
	}
	ctx, cancel := withTimeout(ctx, app)
	defer cancel()
	res, err := p.AnalyzeVideo(ctx, c.Video, out)
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

type CleanCmd struct {
	Input   string   `arg:"" optional:"" help:"Transcript or analysis text file"`
	Output  string   `short:"o" help:"Output file (default <input>_clean<ext>)"`
	Stdout  bool     `help:"Print the cleaned text instead of writing a file"`
	Rules   bool     `help:"List the normalization rules in the order they run"`
	Trace   bool     `help:"Print every rule that changed each line of the input"`
	Without []string `help:"Rule kinds to leave out in --trace mode (e.g. polite,stutter)"`
}

func (c *CleanCmd) Run(app *App) error {
	if c.Rules {
		for i, r := range normalize.Rules() {
			fmt.Printf("%2d  %-14s %s\n", i+1, r.Kind, r.Pattern)
		}
		return nil
	}
	if c.Input == "" {
		return fmt.Errorf("clean: input file is required")
	}
	if c.Trace {
		return c.trace()
	}
	if c.Stdout {
		data, err := os.ReadFile(c.Input)
		if err != nil {
			return err
		}
		text, _ := pipeline.CleanText(string(data))
		fmt.Println(text)
		return nil
	}

	out := c.Output
	if out == "" {
		ext := filepath.Ext(c.Input)
		out = strings.TrimSuffix(c.Input, ext) + "_clean" + ext
	}
	st, err := pipeline.CleanFile(c.Input, out)
	if err != nil {
		return err
	}
	if st.Analysis {
		app.Logger.Info("cleaned analysis", "segments", st.Segments, "rewritten", st.Rewritten, "dropped", st.Dropped)
	} else {
		app.Logger.Info("cleaned transcript", "lines", st.Lines)
	}
	fmt.Println(out)
	return nil
}

func (c *CleanCmd) trace() error {
	data, err := os.ReadFile(c.Input)
	if err != nil {
		return err
	}
	skip := map[normalize.Kind]bool{}
	for _, k := range c.Without {
		skip[normalize.Kind(strings.TrimSpace(k))] = true
	}
	var rules []normalize.Rule
	for _, r := range normalize.Rules() {
		if !skip[r.Kind] {
			rules = append(rules, r)
		}
	}
	if len(rules) == 0 {
		return fmt.Errorf("clean: --without removed every rule")
	}
	p := normalize.NewPipeline(rules...)

	for n, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out, steps := p.Trace(line)
		fmt.Printf("line %d: %s\n", n+1, line)
		for _, st := range steps {
			fmt.Printf("  %-40s -> %s\n", st.Rule, st.After)
		}
		fmt.Printf("  = %s\n", out)
	}
	return nil
}

type ReferenceCmd struct {
	PDF    string `arg:"" type:"existingfile" help:"Lecture slide PDF"`
	Output string `short:"o" help:"Output file, .json for JSON (default <output dir>/<pdf>_reference.txt)"`
	Stdout bool   `help:"Print the pages instead of writing a file"`
}

func (c *ReferenceCmd) Run(app *App) error {
	pages, err := reference.ExtractPDF(c.PDF)
	if err != nil {
		return err
	}
	if c.Stdout {
		fmt.Print(reference.Format(pages))
		return nil
	}
	out := c.Output
	if out == "" {
		out = fileutil.OutputPath(app.Cfg.Output.Dir, c.PDF, "_reference.txt")
	}
	if err := reference.Write(out, pages); err != nil {
		return err
	}
	app.Logger.Info("reference text extracted", "pdf", c.PDF, "pages", len(pages))
	fmt.Println(out)
	return nil
}

type WatchCmd struct {
	Inbox     string `type:"path" help:"Inbox directory (default from config)"`
	Mode      string `help:"Processing mode: analyze or transcribe (default from config)"`
	OutputDir string `short:"o" type:"path" help:"Output directory (default from config)"`
	Polling   bool   `help:"Scan the inbox on a timer instead of using file system notifications"`
	Dashboard string `help:"Also serve the dashboard on this address, streaming run events"`
}

func (c *WatchCmd) Run(ctx context.Context, app *App) error {
	mode := c.Mode
	if mode == "" {
		mode = app.Cfg.Watch.Mode
	}
	if mode != pipeline.ModeAnalyze && mode != pipeline.ModeTranscribe {
		return fmt.Errorf("unknown mode %q (want analyze or transcribe)", mode)
	}
	inbox := c.Inbox
	if inbox == "" {
		inbox = app.Cfg.Watch.InboxDir
	}

	pid, err := pidfile.New(pidfile.PathFor("watch"))
	if err != nil {
		return err
	}
	defer pid.Remove()

	m := metrics.New()
	var srv *dashboard.Server
	var events pipeline.Publisher
	if c.Dashboard != "" {
		store, err := feedback.Open(app.Cfg.Dashboard.DatabasePath, app.Cfg.Dashboard.PageSize)
		if err != nil {
			return err
		}
		defer store.Close()
		responder, closeChat, err := buildChat(ctx, app)
		if err != nil {
			return err
		}
		defer closeChat()
		opts := dashboard.Options{
			Store:    store,
			Metrics:  m,
			StateDir: config.CacheDir(),
			Logger:   app.Logger,
			Diag:     app.Diag,
		}
		if responder != nil {
			opts.Chat = responder
		}
		srv = dashboard.New(opts)
		events = srv.Hub()
	}

	p, done, err := buildPipeline(ctx, app, pipelineParts{
		analyze:    mode == pipeline.ModeAnalyze,
		transcribe: mode == pipeline.ModeTranscribe,
		outputDir:  c.OutputDir,
		metrics:    m,
		events:     events,
	})
	if err != nil {
		return err
	}
	defer done()

	process := func(ctx context.Context, path string) (*pipeline.Result, error) {
		if mode == pipeline.ModeTranscribe {
			return p.TranscribeVideo(ctx, path, p.TranscriptBase(path), nil)
		}
		ctx, cancel := withTimeout(ctx, app)
		defer cancel()
		return p.AnalyzeVideo(ctx, path, p.AnalysisPath(path))
	}
	isDone := func(path string) bool {
		target := p.AnalysisPath(path)
		if mode == pipeline.ModeTranscribe {
			target = p.TranscriptBase(path) + ".txt"
		}
		_, err := os.Stat(target)
		return err == nil
	}

	w, err := watch.New(watch.Config{
		InboxDir:     inbox,
		StateDir:     config.CacheDir(),
		Mode:         mode,
		Extensions:   app.Cfg.Watch.Extensions,
		Debounce:     time.Duration(app.Cfg.Watch.DebounceMillis) * time.Millisecond,
		ForcePolling: c.Polling,
		Done:         isDone,
	}, process, app.Logger, app.Diag)
	if err != nil {
		return err
	}

	if srv != nil {
		go func() {
			if err := srv.Run(ctx, c.Dashboard); err != nil {
				app.Logger.Error("dashboard stopped", "error", err)
			}
		}()
	}
	app.Logger.Info("watching inbox", "dir", inbox, "mode", mode)
	return w.Run(ctx)
}

type CtlCmd struct {
	Command string `arg:"" enum:"pause,resume,rescan,quit,status" help:"pause, resume, rescan, quit or status"`
}

func (c *CtlCmd) Run(app *App) error {
	dir := config.CacheDir()
	if c.Command == "status" {
		st, err := ipc.ReadStatus(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("no watcher status found in %s", dir)
			}
			return err
		}
		fmt.Printf("state:     %s (%s)\n", st.State, st.Mode)
		fmt.Printf("inbox:     %s\n", st.InboxDir)
		fmt.Printf("processed: %d, failed: %d\n", st.Processed, st.Failed)
		if st.Current != "" {
			fmt.Printf("current:   %s\n", st.Current)
		}
		if st.LastError != "" {
			fmt.Printf("last error: %s\n", st.LastError)
		}
		fmt.Printf("updated:   %s\n", st.Timestamp.Local().Format(time.RFC3339))
		return nil
	}
	cmd, err := ipc.ParseCommand(c.Command)
	if err != nil {
		return err
	}
	if err := ipc.WriteCommand(dir, cmd); err != nil {
		return err
	}
	app.Logger.Info("command sent", "command", cmd)
	return nil
}

type ServeCmd struct {
	Addr     string `short:"a" help:"Listen address (default from config)"`
	Database string `type:"path" help:"Feedback database (default from config)"`
	Seed     bool   `help:"Insert the sample question/answer records on start"`
}

func (c *ServeCmd) Run(ctx context.Context, app *App) error {
	addr := c.Addr
	if addr == "" {
		addr = app.Cfg.Dashboard.Addr
	}
	dbPath := c.Database
	if dbPath == "" {
		dbPath = app.Cfg.Dashboard.DatabasePath
	}

	pid, err := pidfile.New(pidfile.PathFor("serve"))
	if err != nil {
		return err
	}
	defer pid.Remove()

	store, err := feedback.Open(dbPath, app.Cfg.Dashboard.PageSize)
	if err != nil {
		return err
	}
	defer store.Close()

	if c.Seed {
		n, err := store.SeedSamples(ctx)
		if err != nil {
			return err
		}
		app.Logger.Info("sample records added", "count", n)
	}

	responder, closeChat, err := buildChat(ctx, app)
	if err != nil {
		return err
	}
	defer closeChat()

	opts := dashboard.Options{
		Store:    store,
		Metrics:  metrics.New(),
		StateDir: config.CacheDir(),
		Logger:   app.Logger,
		Diag:     app.Diag,
	}
	if responder != nil {
		opts.Chat = responder
	}
	return dashboard.New(opts).Run(ctx, addr)
}

type HealthCmd struct{}

func (c *HealthCmd) Run(ctx context.Context, app *App) error {
	creds := validation.ValidateCredentials(app.Cfg, app.Creds)
	ffmpeg := validation.CheckFFmpeg(ctx, app.Cfg.Media.FFmpegPath)

	var backends *validation.ValidationResult
	reg, err := buildRegistry(app)
	if err != nil {
		backends = &validation.ValidationResult{Message: err.Error(), Issues: []string{err.Error()}, Fixes: validation.SuggestedFixes(err)}
	} else {
		primary := reg.Primary().Name()
		statuses := reg.HealthCheckAll(ctx)
		for _, st := range statuses {
			mark := "ok  "
			if !st.OK {
				mark = "FAIL"
			}
			role := ""
			if st.Backend == primary {
				role = " (primary)"
			} else if fb := reg.Fallback(); fb != nil && fb.Name() == st.Backend {
				role = " (fallback)"
			}
			fmt.Printf("%s %s%s: %s\n", mark, st.Backend, role, st.Message)
		}
		backends = validation.CheckBackends(primary, statuses)
	}

	result := validation.Merge(ffmpeg, creds, backends)
	fmt.Println(ffmpeg.Message)
	for _, w := range result.Warnings {
		fmt.Println("warning:", w)
	}
	for _, i := range result.Issues {
		fmt.Println("issue:  ", i)
	}
	for _, f := range result.Fixes {
		fmt.Println(f)
	}
	if !result.OK {
		return fmt.Errorf("%s", result.Message)
	}
	return nil
}

type InitConfigCmd struct {
	Path  string `arg:"" optional:"" type:"path" help:"Where to write (default ~/.config/lecturekit/config.yaml)"`
	Force bool   `help:"Overwrite an existing file"`
}

func (c *InitConfigCmd) Run(app *App) error {
	path := c.Path
	if path == "" {
		path = config.DefaultPath()
	}
	if _, err := os.Stat(path); err == nil && !c.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Save(path, config.Default()); err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}

type ExportDiagCmd struct {
	Dest string `arg:"" optional:"" default:"." type:"path" help:"Directory for the bundle"`
}

func (c *ExportDiagCmd) Run(app *App) error {
	out, lines, err := diaglog.Export(app.DiagPath, c.Dest)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w; run with %s=true to record diagnostics", err, diaglog.EnvDebug)
		}
		return err
	}
	fmt.Printf("%s (%d entries)\n", out, lines)
	return nil
}
