// Package watch processes lecture videos as they land in an inbox
// directory. New files are picked up with fsnotify (or by polling when
// fsnotify is unavailable), debounced until their size settles, and handed
// one at a time to a Processor. State is published through internal/ipc and
// control commands are read from the same directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tshigata/lecture-ai-engineering/internal/diaglog"
	"github.com/tshigata/lecture-ai-engineering/internal/ipc"
	"github.com/tshigata/lecture-ai-engineering/internal/logging"
	"github.com/tshigata/lecture-ai-engineering/internal/pipeline"
)

// Processor runs one video through the pipeline.
type Processor func(ctx context.Context, path string) (*pipeline.Result, error)

// Config configures a Watcher.
type Config struct {
	InboxDir     string
	StateDir     string // status.json and cmd.txt live here
	Mode         string // reported in status only
	Extensions   []string
	Debounce     time.Duration // quiet period before a file is processed
	PollInterval time.Duration // command check and polling scan, default 1s
	ForcePolling bool

	// Done reports whether path was already handled by an earlier run.
	// Such files are skipped on startup and rescan.
	Done func(path string) bool
}

type pending struct {
	size int64
	last time.Time
}

// Watcher is a long-running inbox processor.
type Watcher struct {
	cfg     Config
	process Processor
	logger  *logging.Logger
	diag    *diaglog.Logger

	mu      sync.Mutex
	status  ipc.StatusSnapshot
	pending map[string]pending
	queued  map[string]bool
	results map[string]bool // path -> succeeded
	paused  bool

	jobs chan string
}

// New validates cfg and returns a Watcher.
func New(cfg Config, process Processor, logger *logging.Logger, diag *diaglog.Logger) (*Watcher, error) {
	if cfg.InboxDir == "" {
		return nil, fmt.Errorf("watch: inbox directory is required")
	}
	if cfg.StateDir == "" {
		return nil, fmt.Errorf("watch: state directory is required")
	}
	if process == nil {
		return nil, fmt.Errorf("watch: processor is required")
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".mp4", ".mov", ".mkv", ".webm", ".avi"}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if diag == nil {
		diag = diaglog.NewNoOp()
	}
	return &Watcher{
		cfg:     cfg,
		process: process,
		logger:  logger,
		diag:    diag,
		pending: map[string]pending{},
		queued:  map[string]bool{},
		results: map[string]bool{},
		jobs:    make(chan string, 256),
		status: ipc.StatusSnapshot{
			State:     ipc.StateIdle,
			Mode:      cfg.Mode,
			InboxDir:  cfg.InboxDir,
			StartedAt: time.Now().UTC(),
		},
	}, nil
}

// Status returns a copy of the current snapshot.
func (w *Watcher) Status() ipc.StatusSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Run watches until ctx is cancelled or a quit command arrives.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.InboxDir, 0755); err != nil {
		return fmt.Errorf("watch: create inbox: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if !w.cfg.ForcePolling {
		fw, err := fsnotify.NewWatcher()
		if err == nil {
			if err = fw.Add(w.cfg.InboxDir); err != nil {
				fw.Close()
			}
		}
		if err != nil {
			w.logger.Warn("fsnotify not available, falling back to polling", "error", err)
		} else {
			defer fw.Close()
			events, errs = fw.Events, fw.Errors
		}
	}
	w.mu.Lock()
	w.status.Polling = events == nil
	w.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.worker(ctx)
	}()
	defer wg.Wait()

	w.logger.Info("watching inbox", "dir", w.cfg.InboxDir, "polling", events == nil, "mode", w.cfg.Mode)
	w.scan(false)
	w.publish()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			w.stop()
			return nil

		case ev, ok := <-events:
			if !ok {
				w.logger.Warn("fsnotify watcher closed, switching to polling")
				events, errs = nil, nil
				w.mu.Lock()
				w.status.Polling = true
				w.mu.Unlock()
				w.publish()
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.touch(ev.Name)
			}

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Error("file watcher error", "error", err)

		case <-ticker.C:
			if quit := w.checkCommand(); quit {
				cancel()
				continue
			}
			if events == nil {
				w.scan(false)
			}
			w.dispatch(time.Now())
		}
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	w.status.State = ipc.StateStopped
	w.status.Current = ""
	w.mu.Unlock()
	w.publish()
	w.logger.Info("watcher stopped")
}

func (w *Watcher) matches(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range w.cfg.Extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// touch records activity on path and restarts its quiet period.
func (w *Watcher) touch(path string) {
	if !w.matches(path) {
		return
	}
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.queued[path] {
		return
	}
	if _, done := w.results[path]; done {
		// a finished file written again is processed again
		delete(w.results, path)
	}
	if _, ok := w.pending[path]; !ok {
		w.diag.Log(diaglog.LogEntry{Component: diaglog.ComponentWatcher, Event: diaglog.EventFileDetected, File: path})
		w.logger.Info("video detected", "file", path)
	}
	w.pending[path] = pending{size: fi.Size(), last: time.Now()}
}

// scan adds inbox files that have not been handled. With retryFailed,
// files whose last run failed are picked up again.
func (w *Watcher) scan(retryFailed bool) {
	entries, err := os.ReadDir(w.cfg.InboxDir)
	if err != nil {
		w.logger.Warn("failed to scan inbox", "dir", w.cfg.InboxDir, "error", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.cfg.InboxDir, e.Name())
		if !w.matches(path) {
			continue
		}
		w.mu.Lock()
		ok, seen := w.results[path]
		_, isPending := w.pending[path]
		queued := w.queued[path]
		w.mu.Unlock()
		if queued || isPending {
			continue
		}
		if seen && (ok || !retryFailed) {
			continue
		}
		if !seen && w.cfg.Done != nil && w.cfg.Done(path) {
			w.mu.Lock()
			w.results[path] = true
			w.mu.Unlock()
			w.diag.Log(diaglog.LogEntry{Component: diaglog.ComponentWatcher, Event: diaglog.EventFileSkipped, File: path, Reason: "already processed"})
			w.logger.Debug("skipping processed video", "file", path)
			continue
		}
		if retryFailed {
			w.mu.Lock()
			delete(w.results, path)
			w.mu.Unlock()
		}
		w.touch(path)
	}
}

// dispatch queues pending files that have been quiet for the debounce
// period with an unchanged size.
func (w *Watcher) dispatch(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.paused {
		return
	}
	var ready []string
	for path, p := range w.pending {
		if now.Sub(p.last) < w.cfg.Debounce {
			continue
		}
		fi, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if fi.Size() != p.size {
			w.pending[path] = pending{size: fi.Size(), last: now}
			continue
		}
		ready = append(ready, path)
	}
	sort.Strings(ready)
	for _, path := range ready {
		select {
		case w.jobs <- path:
			delete(w.pending, path)
			w.queued[path] = true
		default:
			return
		}
	}
}

func (w *Watcher) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-w.jobs:
			w.run(ctx, path)
		}
	}
}

func (w *Watcher) run(ctx context.Context, path string) {
	w.mu.Lock()
	w.status.State = ipc.StateProcessing
	w.status.Current = path
	w.mu.Unlock()
	w.publish()

	res, err := w.process(ctx, path)

	w.mu.Lock()
	delete(w.queued, path)
	w.results[path] = err == nil
	w.status.Current = ""
	if w.paused {
		w.status.State = ipc.StatePaused
	} else {
		w.status.State = ipc.StateIdle
	}
	if res != nil {
		w.status.LastRunID = res.RunID
		if len(res.Outputs) > 0 {
			w.status.LastOutput = res.Outputs[0]
		}
	}
	if err != nil {
		w.status.Failed++
		w.status.LastError = err.Error()
	} else {
		w.status.Processed++
		w.status.LastError = ""
	}
	w.mu.Unlock()
	w.publish()

	if err != nil && ctx.Err() == nil {
		w.logger.Error("processing failed", "file", path, "error", err)
	}
}

// checkCommand applies a pending control command and reports quit.
func (w *Watcher) checkCommand() bool {
	cmd, err := ipc.ReadCommand(w.cfg.StateDir)
	if err != nil {
		w.logger.Warn("failed to read command", "error", err)
		return false
	}
	if cmd == "" {
		return false
	}
	w.logger.Info("received command", "command", cmd)

	switch cmd {
	case ipc.CmdPause:
		w.mu.Lock()
		w.paused = true
		if w.status.State == ipc.StateIdle {
			w.status.State = ipc.StatePaused
		}
		w.mu.Unlock()
	case ipc.CmdResume:
		w.mu.Lock()
		w.paused = false
		if w.status.State == ipc.StatePaused {
			w.status.State = ipc.StateIdle
		}
		w.mu.Unlock()
	case ipc.CmdRescan:
		w.scan(true)
	case ipc.CmdQuit:
		return true
	}
	w.publish()
	return false
}

func (w *Watcher) publish() {
	w.mu.Lock()
	snap := w.status
	w.mu.Unlock()
	if err := ipc.WriteStatus(w.cfg.StateDir, &snap); err != nil {
		w.logger.Warn("failed to write status", "error", err)
	}
}
