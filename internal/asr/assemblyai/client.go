// Package assemblyai transcribes audio through the AssemblyAI REST API:
// upload the file, create a transcript job, then poll until it finishes.
package assemblyai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tshigata/lecture-ai-engineering/internal/asr"
	"github.com/tshigata/lecture-ai-engineering/internal/diaglog"
)

// Name is the backend identifier used in configuration.
const Name = "assemblyai"

// Config configures the client.
type Config struct {
	BaseURL             string // default https://api.assemblyai.com
	APIKey              string
	TimeoutSeconds      int // per HTTP request, default 120
	Retries             int // default 3, negative disables retries
	PollIntervalSeconds int // default 3
	SpeechModel         string
}

// Client is an asr.Backend backed by AssemblyAI.
type Client struct {
	cfg          Config
	client       *http.Client
	backoffBase  time.Duration // tests shrink this
	pollInterval time.Duration

	logger   *diaglog.Logger
	loggerMu sync.RWMutex
}

var _ asr.Backend = (*Client)(nil)

// NewClient fills defaults and returns a Client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.assemblyai.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 120
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	} else if cfg.Retries == 0 {
		cfg.Retries = 3
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = 3
	}
	return &Client{
		cfg:          cfg,
		backoffBase:  time.Second,
		pollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		client:       &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

// SetLogger injects a diagnostic logger.
func (c *Client) SetLogger(l *diaglog.Logger) {
	c.loggerMu.Lock()
	c.logger = l
	c.loggerMu.Unlock()
}

func (c *Client) log(entry diaglog.LogEntry) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if l == nil {
		return
	}
	entry.Component = diaglog.ComponentASR
	l.Log(entry)
}

func (c *Client) Name() string { return Name }

type transcriptJob struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"` // queued | processing | completed | error
	Text          string  `json:"text"`
	Error         string  `json:"error"`
	LanguageCode  string  `json:"language_code"`
	AudioDuration float64 `json:"audio_duration"` // seconds
	Confidence    float64 `json:"confidence"`
}

type sentence struct {
	Text       string  `json:"text"`
	Start      int64   `json:"start"` // milliseconds
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence"`
}

// TranscribeFile uploads filePath and waits for the finished transcript.
// Segments come from the sentences endpoint; if that fails the full text is
// returned as a single segment.
func (c *Client) TranscribeFile(ctx context.Context, filePath string, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("assemblyai: API key not configured")
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: open audio file: %w", err)
	}

	var upload struct {
		UploadURL string `json:"upload_url"`
	}
	if err := c.call(ctx, http.MethodPost, "/v2/upload", "application/octet-stream", data, &upload); err != nil {
		return nil, fmt.Errorf("assemblyai: upload %s: %w", filepath.Base(filePath), err)
	}
	c.log(diaglog.LogEntry{Event: diaglog.EventUpload, File: filePath, Payload: map[string]interface{}{"bytes": len(data)}})

	req := map[string]interface{}{"audio_url": upload.UploadURL}
	if opts.Language != "" {
		req["language_code"] = opts.Language
	} else {
		req["language_detection"] = true
	}
	model := opts.Model
	if model == "" {
		model = c.cfg.SpeechModel
	}
	if model != "" {
		req["speech_model"] = model
	}
	body, _ := json.Marshal(req)

	var job transcriptJob
	if err := c.call(ctx, http.MethodPost, "/v2/transcript", "application/json", body, &job); err != nil {
		return nil, fmt.Errorf("assemblyai: create transcript: %w", err)
	}

	job, err = c.wait(ctx, job)
	if err != nil {
		return nil, err
	}

	transcript := &asr.Transcript{
		Language: job.LanguageCode,
		Duration: secondsToDuration(job.AudioDuration),
		Model:    model,
		Backend:  Name,
	}
	if transcript.Language == "" {
		transcript.Language = opts.Language
	}

	var sents struct {
		Sentences []sentence `json:"sentences"`
	}
	if err := c.call(ctx, http.MethodGet, "/v2/transcript/"+job.ID+"/sentences", "", nil, &sents); err == nil && len(sents.Sentences) > 0 {
		for _, s := range sents.Sentences {
			transcript.Segments = append(transcript.Segments, asr.Segment{
				Start:    time.Duration(s.Start) * time.Millisecond,
				End:      time.Duration(s.End) * time.Millisecond,
				Text:     s.Text,
				Language: transcript.Language,
				Score:    s.Confidence,
			})
		}
	} else if strings.TrimSpace(job.Text) != "" {
		transcript.Segments = []asr.Segment{{
			End:      transcript.Duration,
			Text:     job.Text,
			Language: transcript.Language,
			Score:    job.Confidence,
		}}
	}
	return transcript, nil
}

// wait polls the job until it completes, fails, or ctx ends.
func (c *Client) wait(ctx context.Context, job transcriptJob) (transcriptJob, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		switch job.Status {
		case "completed":
			return job, nil
		case "error":
			return job, fmt.Errorf("assemblyai: transcript %s failed: %s", job.ID, job.Error)
		}
		select {
		case <-ctx.Done():
			return job, fmt.Errorf("assemblyai: waiting for transcript %s: %w", job.ID, ctx.Err())
		case <-ticker.C:
		}
		if err := c.call(ctx, http.MethodGet, "/v2/transcript/"+job.ID, "", nil, &job); err != nil {
			return job, fmt.Errorf("assemblyai: poll transcript: %w", err)
		}
	}
}

// call performs one API request with retries on transient failures and
// decodes the JSON response into out.
func (c *Client) call(ctx context.Context, method, path, contentType string, body []byte, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			c.log(diaglog.LogEntry{
				Event:   diaglog.EventRequestRetry,
				Reason:  lastErr.Error(),
				Payload: map[string]interface{}{"path": path, "attempt": attempt, "backoff_ms": backoff.Milliseconds()},
			})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := c.do(ctx, method, path, contentType, body, out)
		if err == nil {
			return nil
		}
		if !isRetryable(err) || ctx.Err() != nil {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("all %d retries exhausted: %w", c.cfg.Retries, lastErr)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.cfg.APIKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("http request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("read response body: %w", err)}
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &retryableError{err: fmt.Errorf("server error %d: %s", resp.StatusCode, truncate(data, 200))}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, truncate(data, 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// HealthCheck lists one transcript to verify reachability and the API key.
func (c *Client) HealthCheck(ctx context.Context) (*asr.HealthStatus, error) {
	status := &asr.HealthStatus{Backend: Name}
	if c.cfg.APIKey == "" {
		status.Message = "ASSEMBLYAI_API_KEY not set"
		return status, nil
	}

	start := time.Now()
	err := c.do(ctx, http.MethodGet, "/v2/transcript?limit=1", "", nil, nil)
	status.Latency = time.Since(start)
	if err != nil {
		status.Message = fmt.Sprintf("unhealthy: %v", err)
		return status, nil
	}
	status.OK = true
	status.Message = "healthy"
	return status, nil
}

// retryableError marks transient failures.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// backoff is base * 2^(attempt-1) plus up to 25% jitter.
func (c *Client) backoff(attempt int) time.Duration {
	base := c.backoffBase
	if base <= 0 {
		base = time.Second
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
