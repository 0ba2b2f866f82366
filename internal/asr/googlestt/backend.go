// Package googlestt transcribes audio with Google Cloud Speech-to-Text using
// long-running recognition on inline audio content.
package googlestt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tshigata/lecture-ai-engineering/internal/asr"
	"github.com/tshigata/lecture-ai-engineering/internal/media"
)

// Name is the backend identifier used in configuration.
const Name = "google_stt"

// maxInlineBytes is the API limit for audio sent as request content.
const maxInlineBytes = 10 * 1024 * 1024

// Config holds Google Cloud STT settings.
type Config struct {
	CredentialsFile string // service account JSON; empty uses application default credentials
	LanguageCode    string // BCP-47, default "ja-JP"
	Model           string // e.g. "latest_long"
	MaxRetries      int    // default 4
}

// recognizer is the part of the speech client the backend uses.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error)
	Close() error
}

// Backend is an asr.Backend using Cloud Speech.
type Backend struct {
	cfg     Config
	backoff time.Duration

	mu   sync.Mutex
	rec  recognizer
	dial func(ctx context.Context) (recognizer, error)
}

var _ asr.Backend = (*Backend)(nil)

// NewBackend returns a Backend. The gRPC client is created on first use.
func NewBackend(cfg Config) *Backend {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "ja-JP"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 4
	}
	b := &Backend{cfg: cfg, backoff: 750 * time.Millisecond}
	b.dial = b.dialSpeech
	return b
}

func (b *Backend) Name() string { return Name }

type speechClient struct {
	c *speech.Client
}

func (s *speechClient) Recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	op, err := s.c.LongRunningRecognize(ctx, req)
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

func (s *speechClient) Close() error { return s.c.Close() }

func (b *Backend) dialSpeech(ctx context.Context) (recognizer, error) {
	var opts []option.ClientOption
	if b.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(b.cfg.CredentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	return &speechClient{c: c}, nil
}

func (b *Backend) client(ctx context.Context) (recognizer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rec != nil {
		return b.rec, nil
	}
	rec, err := b.dial(ctx)
	if err != nil {
		return nil, err
	}
	b.rec = rec
	return rec, nil
}

// Close releases the gRPC connection, if one was opened.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rec == nil {
		return nil
	}
	err := b.rec.Close()
	b.rec = nil
	return err
}

// TranscribeFile sends filePath inline and waits for the operation.
func (b *Backend) TranscribeFile(ctx context.Context, filePath string, opts asr.TranscribeOptions) (*asr.Transcript, error) {
	audio, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("google_stt: %w", err)
	}
	if len(audio) > maxInlineBytes {
		return nil, fmt.Errorf("google_stt: %s is %d bytes, inline recognition accepts at most %d; extract a shorter or compressed track",
			filepath.Base(filePath), len(audio), maxInlineBytes)
	}

	rc := b.recognitionConfig(filePath, opts)
	req := &speechpb.LongRunningRecognizeRequest{
		Config: rc,
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	}

	rec, err := b.client(ctx)
	if err != nil {
		return nil, fmt.Errorf("google_stt: %w", err)
	}
	resp, err := b.retry(ctx, func() (*speechpb.LongRunningRecognizeResponse, error) {
		return rec.Recognize(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("google_stt: longrunningrecognize: %w", err)
	}

	t := parseResponse(resp, rc.LanguageCode)
	t.Model = rc.Model
	return t, nil
}

func (b *Backend) recognitionConfig(filePath string, opts asr.TranscribeOptions) *speechpb.RecognitionConfig {
	model := opts.Model
	if model == "" {
		model = b.cfg.Model
	}
	rc := &speechpb.RecognitionConfig{
		LanguageCode:               languageCode(opts.Language, b.cfg.LanguageCode),
		Model:                      model,
		EnableAutomaticPunctuation: true,
		Encoding:                   inferEncoding(filePath),
	}
	if rc.Encoding == speechpb.RecognitionConfig_LINEAR16 {
		if info, err := media.ProbeWAV(filePath); err == nil {
			rc.SampleRateHertz = int32(info.SampleRate)
			rc.AudioChannelCount = int32(info.Channels)
		}
	}
	return rc
}

// languageCode maps a short code such as "ja" to a BCP-47 tag, preferring
// the configured default when it names the same language.
func languageCode(requested, fallback string) string {
	if requested == "" {
		return fallback
	}
	if strings.Contains(requested, "-") {
		return requested
	}
	if strings.HasPrefix(strings.ToLower(fallback), strings.ToLower(requested)+"-") {
		return fallback
	}
	return requested
}

func inferEncoding(path string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return speechpb.RecognitionConfig_LINEAR16
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	case ".mp3":
		return speechpb.RecognitionConfig_MP3
	case ".ogg", ".opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	case ".webm":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

// parseResponse turns results into segments. Each result carries only its
// end offset, so a segment starts where the previous one ended.
func parseResponse(resp *speechpb.LongRunningRecognizeResponse, lang string) *asr.Transcript {
	t := &asr.Transcript{Language: lang, Backend: Name}
	if resp == nil {
		return t
	}
	var prevEnd time.Duration
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		end := toDuration(r.GetResultEndTime())
		text := strings.TrimSpace(alt.GetTranscript())
		if text != "" {
			segLang := r.GetLanguageCode()
			if segLang == "" {
				segLang = lang
			}
			t.Segments = append(t.Segments, asr.Segment{
				Start:    prevEnd,
				End:      end,
				Text:     text,
				Language: segLang,
				Score:    float64(alt.GetConfidence()),
			})
		}
		if end > prevEnd {
			prevEnd = end
		}
	}
	t.Duration = prevEnd
	if resp.GetTotalBilledTime() != nil && t.Duration == 0 {
		t.Duration = toDuration(resp.GetTotalBilledTime())
	}
	return t
}

func toDuration(d *durationpb.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return d.AsDuration()
}

func (b *Backend) retry(ctx context.Context, fn func() (*speechpb.LongRunningRecognizeResponse, error)) (*speechpb.LongRunningRecognizeResponse, error) {
	backoff := b.backoff
	var last error
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == b.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, last
}

// HealthCheck verifies credentials are present and the client can be built.
func (b *Backend) HealthCheck(ctx context.Context) (*asr.HealthStatus, error) {
	st := &asr.HealthStatus{Backend: Name}

	creds := b.cfg.CredentialsFile
	if creds == "" {
		creds = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if creds == "" {
		st.Message = "no credentials file configured"
		return st, nil
	}
	if _, err := os.Stat(creds); err != nil {
		st.Message = fmt.Sprintf("credentials file not accessible: %v", err)
		return st, nil
	}

	start := time.Now()
	if _, err := b.client(ctx); err != nil {
		st.Message = err.Error()
		return st, nil
	}
	st.Latency = time.Since(start)
	st.OK = true
	st.Message = "credentials present and client ready"
	return st, nil
}
