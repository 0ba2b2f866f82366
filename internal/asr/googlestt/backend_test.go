package googlestt

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tshigata/lecture-ai-engineering/internal/asr"
)

type fakeRecognizer struct {
	errs   []error // returned in order before succeeding
	resp   *speechpb.LongRunningRecognizeResponse
	calls  int
	last   *speechpb.LongRunningRecognizeRequest
	closed bool
}

func (f *fakeRecognizer) Recognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (*speechpb.LongRunningRecognizeResponse, error) {
	f.last = req
	f.calls++
	if f.calls <= len(f.errs) {
		return nil, f.errs[f.calls-1]
	}
	return f.resp, nil
}

func (f *fakeRecognizer) Close() error {
	f.closed = true
	return nil
}

func newTestBackend(rec *fakeRecognizer) *Backend {
	b := NewBackend(Config{Model: "latest_long"})
	b.backoff = time.Millisecond
	b.dial = func(ctx context.Context) (recognizer, error) { return rec, nil }
	return b
}

func writeAudio(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte("fake audio"), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func sampleResponse() *speechpb.LongRunningRecognizeResponse {
	return &speechpb.LongRunningRecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{
			{
				Alternatives:  []*speechpb.SpeechRecognitionAlternative{{Transcript: "えーと今日は", Confidence: 0.9}},
				ResultEndTime: durationpb.New(4 * time.Second),
			},
			{
				Alternatives:  []*speechpb.SpeechRecognitionAlternative{{Transcript: "  "}},
				ResultEndTime: durationpb.New(5 * time.Second),
			},
			{
				Alternatives:  []*speechpb.SpeechRecognitionAlternative{{Transcript: "機械学習の話です", Confidence: 0.8}},
				ResultEndTime: durationpb.New(9 * time.Second),
				LanguageCode:  "ja-jp",
			},
		},
	}
}

func TestName(t *testing.T) {
	if got := NewBackend(Config{}).Name(); got != "google_stt" {
		t.Errorf("Name() = %q, want %q", got, "google_stt")
	}
}

func TestTranscribeFile(t *testing.T) {
	rec := &fakeRecognizer{resp: sampleResponse()}
	b := newTestBackend(rec)

	tr, err := b.TranscribeFile(context.Background(), writeAudio(t, "lec.mp3"), asr.TranscribeOptions{Language: "ja"})
	if err != nil {
		t.Fatalf("TranscribeFile: %v", err)
	}
	cfg := rec.last.GetConfig()
	if cfg.GetLanguageCode() != "ja-JP" {
		t.Errorf("language code = %q", cfg.GetLanguageCode())
	}
	if cfg.GetEncoding() != speechpb.RecognitionConfig_MP3 {
		t.Errorf("encoding = %v", cfg.GetEncoding())
	}
	if !cfg.GetEnableAutomaticPunctuation() {
		t.Error("punctuation should be enabled")
	}
	if string(rec.last.GetAudio().GetContent()) != "fake audio" {
		t.Error("audio content not sent inline")
	}

	if len(tr.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(tr.Segments))
	}
	second := tr.Segments[1]
	if second.Start != 5*time.Second || second.End != 9*time.Second {
		t.Errorf("second segment timing = %v-%v", second.Start, second.End)
	}
	if second.Language != "ja-jp" {
		t.Errorf("segment language = %q", second.Language)
	}
	if tr.Duration != 9*time.Second || tr.Model != "latest_long" || tr.Backend != "google_stt" {
		t.Errorf("transcript = %+v", tr)
	}
}

func TestTranscribeFile_RetriesUnavailable(t *testing.T) {
	rec := &fakeRecognizer{
		errs: []error{status.Error(codes.Unavailable, "try again"), status.Error(codes.ResourceExhausted, "quota")},
		resp: sampleResponse(),
	}
	if _, err := newTestBackend(rec).TranscribeFile(context.Background(), writeAudio(t, "a.flac"), asr.TranscribeOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.calls != 3 {
		t.Errorf("calls = %d, want 3", rec.calls)
	}
}

func TestTranscribeFile_NoRetryOnInvalidArgument(t *testing.T) {
	rec := &fakeRecognizer{errs: []error{status.Error(codes.InvalidArgument, "bad encoding")}}
	_, err := newTestBackend(rec).TranscribeFile(context.Background(), writeAudio(t, "a.flac"), asr.TranscribeOptions{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("err = %v", err)
	}
	if rec.calls != 1 {
		t.Errorf("calls = %d, want 1", rec.calls)
	}
}

func TestTranscribeFile_TooLarge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.wav")
	if err := os.WriteFile(p, make([]byte, maxInlineBytes+1), 0644); err != nil {
		t.Fatal(err)
	}
	rec := &fakeRecognizer{}
	_, err := newTestBackend(rec).TranscribeFile(context.Background(), p, asr.TranscribeOptions{})
	if err == nil || !strings.Contains(err.Error(), "at most") {
		t.Errorf("err = %v", err)
	}
	if rec.calls != 0 {
		t.Error("oversized audio must not be sent")
	}
}

func TestClose(t *testing.T) {
	rec := &fakeRecognizer{resp: sampleResponse()}
	b := newTestBackend(rec)
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	b.TranscribeFile(context.Background(), writeAudio(t, "a.mp3"), asr.TranscribeOptions{})
	if err := b.Close(); err != nil || !rec.closed {
		t.Errorf("Close: %v, closed=%v", err, rec.closed)
	}
}

func TestLanguageCode(t *testing.T) {
	tests := []struct{ req, def, want string }{
		{"", "ja-JP", "ja-JP"},
		{"ja", "ja-JP", "ja-JP"},
		{"en", "ja-JP", "en"},
		{"en-US", "ja-JP", "en-US"},
	}
	for _, tt := range tests {
		if got := languageCode(tt.req, tt.def); got != tt.want {
			t.Errorf("languageCode(%q, %q) = %q, want %q", tt.req, tt.def, got, tt.want)
		}
	}
}

func TestInferEncoding(t *testing.T) {
	tests := map[string]speechpb.RecognitionConfig_AudioEncoding{
		"a.wav":  speechpb.RecognitionConfig_LINEAR16,
		"a.FLAC": speechpb.RecognitionConfig_FLAC,
		"a.mp3":  speechpb.RecognitionConfig_MP3,
		"a.ogg":  speechpb.RecognitionConfig_OGG_OPUS,
		"a.m4a":  speechpb.RecognitionConfig_ENCODING_UNSPECIFIED,
	}
	for path, want := range tests {
		if got := inferEncoding(path); got != want {
			t.Errorf("inferEncoding(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestParseResponseNil(t *testing.T) {
	tr := parseResponse(nil, "ja-JP")
	if len(tr.Segments) != 0 || tr.Language != "ja-JP" {
		t.Errorf("tr = %+v", tr)
	}
}

func TestHealthCheckNoCredentials(t *testing.T) {
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")
	st, err := NewBackend(Config{}).HealthCheck(context.Background())
	if err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
	if st.OK || st.Message != "no credentials file configured" {
		t.Errorf("status = %+v", st)
	}
}

func TestHealthCheckNonExistentFile(t *testing.T) {
	st, _ := NewBackend(Config{CredentialsFile: "/nonexistent/creds.json"}).HealthCheck(context.Background())
	if st.OK || !strings.Contains(st.Message, "not accessible") {
		t.Errorf("status = %+v", st)
	}
}

func TestHealthCheckWithCredentials(t *testing.T) {
	creds := writeAudio(t, "sa.json")
	rec := &fakeRecognizer{}
	b := newTestBackend(rec)
	b.cfg.CredentialsFile = creds
	st, _ := b.HealthCheck(context.Background())
	if !st.OK {
		t.Errorf("status = %+v", st)
	}
}
