// Package pipeline runs the end-to-end lecture jobs: video analysis with
// narration cleanup, and audio transcription with optional normalization.
// Every run gets an ID, a sidecar metadata file and progress events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tshigata/lecture-ai-engineering/internal/analyze"
	"github.com/tshigata/lecture-ai-engineering/internal/asr"
	"github.com/tshigata/lecture-ai-engineering/internal/diaglog"
	"github.com/tshigata/lecture-ai-engineering/internal/fileutil"
	"github.com/tshigata/lecture-ai-engineering/internal/logging"
	"github.com/tshigata/lecture-ai-engineering/internal/metrics"
	"github.com/tshigata/lecture-ai-engineering/internal/normalize"
	"github.com/tshigata/lecture-ai-engineering/internal/segment"
	"github.com/tshigata/lecture-ai-engineering/internal/transcript"
)

// Version is stamped into run metadata. Set by the CLI at startup.
var Version = "dev"

const (
	ModeAnalyze    = "analyze"
	ModeTranscribe = "transcribe"
)

// Analyzer produces raw slide-by-slide analysis text for a video.
type Analyzer interface {
	Analyze(ctx context.Context, videoPath string) (*analyze.Result, error)
}

// AudioExtractor writes the audio track of a video to outPath.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, videoPath, outPath string) error
}

// Transcriber runs speech-to-text with backend fallback.
type Transcriber interface {
	TranscribeWithFallback(ctx context.Context, filePath string, opts asr.TranscribeOptions) (*asr.Transcript, error)
	Primary() asr.Backend
}

// Options wires a Pipeline. Analyzer is needed for AnalyzeVideo; Extractor
// and Transcriber for TranscribeVideo.
type Options struct {
	Analyzer    Analyzer
	Extractor   AudioExtractor
	Transcriber Transcriber

	OutputDir   string   // used by the *Path helpers
	Language    string   // passed to the ASR backend, e.g. "ja"
	Formats     []string // transcript formats, default ["txt"]
	Normalize   bool     // run the disfluency normalizer over each ASR segment
	AudioFormat string   // extension for the extracted track, default ".wav"
	KeepAudio   bool     // keep the extracted track next to the transcript

	Logger  *logging.Logger
	Diag    *diaglog.Logger
	Metrics *metrics.Metrics
	Events  Publisher
}

// Pipeline executes runs. It is safe for sequential use; the watcher runs
// one job at a time.
type Pipeline struct {
	opts Options
}

// Result describes a finished run.
type Result struct {
	RunID        string
	Mode         string
	Input        string
	Outputs      []string
	MetadataPath string
	Duration     time.Duration
	Segments     *fileutil.SegmentMeta
	Backend      string
	Fallback     bool
}

// New returns a Pipeline with defaults filled in.
func New(opts Options) *Pipeline {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Diag == nil {
		opts.Diag = diaglog.NewNoOp()
	}
	if opts.Events == nil {
		opts.Events = nopPublisher{}
	}
	if len(opts.Formats) == 0 {
		opts.Formats = []string{"txt"}
	}
	if opts.AudioFormat == "" {
		opts.AudioFormat = ".wav"
	}
	if !strings.HasPrefix(opts.AudioFormat, ".") {
		opts.AudioFormat = "." + opts.AudioFormat
	}
	if opts.OutputDir == "" {
		opts.OutputDir = filepath.Join("data", "output")
	}
	return &Pipeline{opts: opts}
}

// AnalysisPath is where AnalyzeVideo writes by default for videoPath.
func (p *Pipeline) AnalysisPath(videoPath string) string {
	return fileutil.OutputPath(p.opts.OutputDir, videoPath, "_analysis.txt")
}

// TranscriptBase is the extension-less transcript path for videoPath.
func (p *Pipeline) TranscriptBase(videoPath string) string {
	return fileutil.OutputPath(p.opts.OutputDir, videoPath, "_transcript")
}

type run struct {
	meta  *fileutil.RunMetadata
	start time.Time
}

func (p *Pipeline) begin(mode, input string) *run {
	r := &run{
		start: time.Now(),
		meta: &fileutil.RunMetadata{
			Version:   Version,
			RunID:     uuid.NewString(),
			Mode:      mode,
			Input:     input,
			StartedAt: time.Now().UTC(),
		},
	}
	p.opts.Logger.Info("run started", "run_id", r.meta.RunID, "mode", mode, "input", input)
	p.opts.Diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentPipeline,
		Event:     diaglog.EventRunStart,
		RunID:     r.meta.RunID,
		File:      input,
		Payload:   map[string]interface{}{"mode": mode},
	})
	p.publish(r, EventRunStart, "", nil)
	return r
}

func (p *Pipeline) stage(r *run, name string) {
	p.opts.Logger.Debug("run stage", "run_id", r.meta.RunID, "stage", name)
	p.publish(r, EventStage, name, nil)
}

// finish writes metadata next to metaTarget (when known), records metrics
// and emits the final event.
func (p *Pipeline) finish(r *run, metaTarget string, runErr error) *Result {
	elapsed := time.Since(r.start)
	r.meta.FinishedAt = time.Now().UTC()
	r.meta.DurationMs = elapsed.Milliseconds()
	if runErr != nil {
		r.meta.Error = runErr.Error()
	}

	res := &Result{
		RunID:    r.meta.RunID,
		Mode:     r.meta.Mode,
		Input:    r.meta.Input,
		Outputs:  r.meta.Outputs,
		Duration: elapsed,
		Segments: r.meta.Segments,
	}
	if r.meta.ASR != nil {
		res.Backend = r.meta.ASR.Backend
		res.Fallback = r.meta.ASR.Fallback
	}
	if metaTarget != "" {
		if err := fileutil.WriteMetadata(metaTarget, r.meta); err != nil {
			p.opts.Logger.Warn("failed to write run metadata", "run_id", r.meta.RunID, "error", err)
		} else {
			res.MetadataPath = fileutil.MetadataPath(metaTarget)
		}
	}

	p.opts.Metrics.ObserveRun(r.meta.Mode, elapsed, runErr)
	entry := diaglog.LogEntry{
		Component: diaglog.ComponentPipeline,
		RunID:     r.meta.RunID,
		File:      r.meta.Input,
		Payload: map[string]interface{}{
			"mode":        r.meta.Mode,
			"duration_ms": r.meta.DurationMs,
			"outputs":     r.meta.Outputs,
		},
	}
	if runErr != nil {
		entry.Event = diaglog.EventRunFailed
		entry.Reason = runErr.Error()
		p.opts.Logger.Error("run failed", "run_id", r.meta.RunID, "input", r.meta.Input, "error", runErr)
		p.publish(r, EventRunFailed, "", runErr)
	} else {
		entry.Event = diaglog.EventRunFinish
		p.opts.Logger.Info("run finished", "run_id", r.meta.RunID, "outputs", r.meta.Outputs, "elapsed", elapsed.Round(time.Millisecond))
		p.publish(r, EventRunFinish, "", nil)
	}
	p.opts.Diag.Log(entry)
	return res
}

func (p *Pipeline) publish(r *run, typ, stage string, err error) {
	ev := Event{
		Type:  typ,
		RunID: r.meta.RunID,
		Mode:  r.meta.Mode,
		Input: r.meta.Input,
		Stage: stage,
		Time:  time.Now().UTC(),
	}
	if len(r.meta.Outputs) > 0 {
		ev.Output = r.meta.Outputs[0]
	}
	if err != nil {
		ev.Error = err.Error()
	}
	p.opts.Events.Publish(ev)
}

// AnalyzeVideo sends videoPath to the analyzer, normalizes every 説明：
// span and writes the result to outPath (AnalysisPath when empty).
func (p *Pipeline) AnalyzeVideo(ctx context.Context, videoPath, outPath string) (*Result, error) {
	if p.opts.Analyzer == nil {
		return nil, errors.New("pipeline: no analyzer configured")
	}
	if outPath == "" {
		outPath = p.AnalysisPath(videoPath)
	}
	r := p.begin(ModeAnalyze, videoPath)

	p.stage(r, "analyze")
	res, err := p.opts.Analyzer.Analyze(ctx, videoPath)
	if err != nil {
		return p.finish(r, outPath, err), err
	}
	r.meta.Analysis = &fileutil.AnalysisMeta{
		Model:     res.Model,
		MIMEType:  res.MIMEType,
		Uploaded:  res.Uploaded,
		SizeBytes: res.Size,
	}

	p.stage(r, "normalize")
	t := segment.NormalizeExplanations(res.Text)
	r.meta.Segments = &fileutil.SegmentMeta{Total: len(t.Segments), Rewritten: t.Rewritten, Dropped: t.Dropped}
	p.opts.Metrics.Segments(t.Rewritten, t.Dropped)
	p.opts.Diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentNormalizer,
		Event:     diaglog.EventSegmentsRewritten,
		RunID:     r.meta.RunID,
		File:      videoPath,
		Payload: map[string]interface{}{
			"total":     len(t.Segments),
			"rewritten": t.Rewritten,
			"dropped":   t.Dropped,
		},
	})

	p.stage(r, "write")
	if err := transcript.WriteAnalysis(outPath, t.String()); err != nil {
		err = fmt.Errorf("pipeline: %w", err)
		return p.finish(r, outPath, err), err
	}
	r.meta.Outputs = append(r.meta.Outputs, outPath)
	return p.finish(r, outPath, nil), nil
}

// TranscribeVideo extracts the audio track of videoPath, transcribes it with
// backend fallback and writes each format to outBase plus its extension.
// An empty outBase means TranscriptBase; nil formats use the configured ones.
func (p *Pipeline) TranscribeVideo(ctx context.Context, videoPath, outBase string, formats []string) (*Result, error) {
	if p.opts.Extractor == nil || p.opts.Transcriber == nil {
		return nil, errors.New("pipeline: transcription needs an audio extractor and a transcriber")
	}
	if outBase == "" {
		outBase = p.TranscriptBase(videoPath)
	}
	if len(formats) == 0 {
		formats = p.opts.Formats
	}
	metaTarget := outBase + ".txt"
	r := p.begin(ModeTranscribe, videoPath)

	p.stage(r, "extract_audio")
	audioPath := outBase + p.opts.AudioFormat
	if !p.opts.KeepAudio {
		tmp, err := os.MkdirTemp("", "lecturekit-audio-*")
		if err != nil {
			return p.finish(r, metaTarget, err), err
		}
		defer os.RemoveAll(tmp)
		audioPath = filepath.Join(tmp, filepath.Base(outBase)+p.opts.AudioFormat)
	}
	if err := p.opts.Extractor.ExtractAudio(ctx, videoPath, audioPath); err != nil {
		err = fmt.Errorf("pipeline: extract audio: %w", err)
		return p.finish(r, metaTarget, err), err
	}
	p.opts.Diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentPipeline,
		Event:     diaglog.EventAudioExtracted,
		RunID:     r.meta.RunID,
		File:      videoPath,
		Payload:   map[string]interface{}{"audio": audioPath},
	})

	p.stage(r, "transcribe")
	tr, err := p.opts.Transcriber.TranscribeWithFallback(ctx, audioPath, asr.TranscribeOptions{
		Language:   p.opts.Language,
		Timestamps: true,
	})
	if err != nil {
		return p.finish(r, metaTarget, err), err
	}
	fallback := false
	if primary := p.opts.Transcriber.Primary(); primary != nil && tr.Backend != "" && tr.Backend != primary.Name() {
		fallback = true
		p.opts.Metrics.Fallback()
	}

	if p.opts.Normalize {
		p.stage(r, "normalize")
		tr = tr.MapText(normalize.Normalize)
	}

	r.meta.ASR = &fileutil.ASRMeta{
		Backend:  tr.Backend,
		Model:    tr.Model,
		Language: tr.Language,
		Formats:  formats,
		Segments: len(tr.Segments),
		Fallback: fallback,
	}
	if p.opts.KeepAudio {
		r.meta.ASR.AudioPath = audioPath
	}

	p.stage(r, "write")
	written, err := transcript.WriteAll(outBase, tr, formats)
	r.meta.Outputs = append(r.meta.Outputs, written...)
	if err != nil {
		err = fmt.Errorf("pipeline: %w", err)
		return p.finish(r, metaTarget, err), err
	}
	return p.finish(r, metaTarget, nil), nil
}
