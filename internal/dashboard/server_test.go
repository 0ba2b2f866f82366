package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/tshigata/lecture-ai-engineering/internal/chat"
	"github.com/tshigata/lecture-ai-engineering/internal/feedback"
	"github.com/tshigata/lecture-ai-engineering/internal/ipc"
	"github.com/tshigata/lecture-ai-engineering/internal/metrics"
	"github.com/tshigata/lecture-ai-engineering/internal/pipeline"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *feedback.Store) {
	t.Helper()
	store, err := feedback.Open(filepath.Join(t.TempDir(), "feedback.db"), feedback.DefaultPageSize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	srv := New(Options{Store: store, Metrics: metrics.New(), StateDir: t.TempDir()})
	return srv, store
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Health and metrics
// ─────────────────────────────────────────────────────────────────────────────

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Router(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	r := srv.Router()
	do(t, r, http.MethodGet, "/healthz", nil)
	rec := do(t, r, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "lecturekit_http_requests_total") {
		t.Error("expected request counter in /metrics output")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Normalize
// ─────────────────────────────────────────────────────────────────────────────

func TestNormalize_plain(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Router(), http.MethodPost, "/api/normalize", normalizeRequest{Text: "えーと、今日は機械学習です。"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp normalizeResponse
	decode(t, rec, &resp)
	if strings.Contains(resp.Text, "えーと") {
		t.Errorf("filler survived: %q", resp.Text)
	}
	if len(resp.Steps) != 0 {
		t.Errorf("steps should be omitted without trace, got %d", len(resp.Steps))
	}
}

func TestNormalize_trace(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Router(), http.MethodPost, "/api/normalize", normalizeRequest{Text: "えーと、今日は", Trace: true})
	var resp normalizeResponse
	decode(t, rec, &resp)
	if len(resp.Steps) == 0 {
		t.Fatal("expected trace steps")
	}
	if resp.Steps[len(resp.Steps)-1].After != resp.Text {
		t.Errorf("last step %q should equal output %q", resp.Steps[len(resp.Steps)-1].After, resp.Text)
	}
}

func TestNormalize_analysis(t *testing.T) {
	srv, _ := newTestServer(t)
	text := "スライドの内容：概要\n説明：えーと、概要です。\n---\nスライドの内容：まとめ\n説明：まとめです。"
	rec := do(t, srv.Router(), http.MethodPost, "/api/normalize", normalizeRequest{Text: text, Analysis: true})
	var resp normalizeResponse
	decode(t, rec, &resp)
	if resp.Segments != 2 {
		t.Errorf("Segments = %d, want 2", resp.Segments)
	}
	if !strings.Contains(resp.Text, "スライドの内容：概要") {
		t.Errorf("content lines must be kept: %q", resp.Text)
	}
	if strings.Contains(resp.Text, "えーと") {
		t.Errorf("explanation not normalized: %q", resp.Text)
	}
}

func TestNormalize_badJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/normalize", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var env errorEnvelope
	decode(t, rec, &env)
	if env.Error.Code != "invalid_request" {
		t.Errorf("code = %q", env.Error.Code)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Feedback and history
// ─────────────────────────────────────────────────────────────────────────────

func TestFeedback_saveAndList(t *testing.T) {
	srv, _ := newTestServer(t)
	r := srv.Router()

	rec := do(t, r, http.MethodPost, "/api/feedback", feedback.Input{
		Question:     "過学習とは？",
		Answer:       "訓練データに適合しすぎること",
		Rating:       feedback.LabelCorrect,
		Comment:      "簡潔",
		ResponseTime: 1.2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var saved feedback.Record
	decode(t, rec, &saved)
	if saved.Feedback != feedback.LabelCorrect+": 簡潔" {
		t.Errorf("Feedback = %q", saved.Feedback)
	}

	do(t, r, http.MethodPost, "/api/feedback", feedback.Input{Question: "勾配消失とは？", Rating: feedback.LabelIncorrect})

	rec = do(t, r, http.MethodGet, "/api/history?accuracy="+feedback.LabelCorrect, nil)
	var page feedback.PageResult
	decode(t, rec, &page)
	if page.Total != 1 || len(page.Records) != 1 {
		t.Fatalf("filtered history = %+v", page)
	}
	if page.Records[0].ID != saved.ID {
		t.Errorf("wrong record returned")
	}

	rec = do(t, r, http.MethodGet, "/api/history?accuracy=all", nil)
	decode(t, rec, &page)
	if page.Total != 2 {
		t.Errorf("Total = %d, want 2", page.Total)
	}
}

func TestFeedback_invalidRating(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Router(), http.MethodPost, "/api/feedback", feedback.Input{Question: "q", Rating: "たぶん"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var env errorEnvelope
	decode(t, rec, &env)
	if env.Error.Code != "invalid_rating" {
		t.Errorf("code = %q", env.Error.Code)
	}
}

func TestHistory_invalidQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	r := srv.Router()
	for _, q := range []string{"accuracy=0.7", "accuracy=maybe", "page=0", "page=x", "size=1000", "size=-5", "size=0"} {
		rec := do(t, r, http.MethodGet, "/api/history?"+q, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestParseAccuracy(t *testing.T) {
	tests := []struct {
		in      string
		want    *float64
		wantErr bool
	}{
		{"", nil, false},
		{"all", nil, false},
		{feedback.LabelPartial, ptr(0.5), false},
		{"1.0", ptr(1.0), false},
		{"0", ptr(0.0), false},
		{"0.3", nil, true},
	}
	for _, tt := range tests {
		got, err := parseAccuracy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseAccuracy(%q) err = %v", tt.in, err)
			continue
		}
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("parseAccuracy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func ptr(f float64) *float64 { return &f }

func TestSamplesStatsAndClear(t *testing.T) {
	srv, _ := newTestServer(t)
	r := srv.Router()

	rec := do(t, r, http.MethodPost, "/api/samples", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("samples status = %d: %s", rec.Code, rec.Body.String())
	}
	var seeded struct {
		Added int   `json:"added"`
		Total int64 `json:"total"`
	}
	decode(t, rec, &seeded)
	if seeded.Added == 0 || seeded.Total != int64(seeded.Added) {
		t.Fatalf("seeded = %+v", seeded)
	}

	rec = do(t, r, http.MethodGet, "/api/stats", nil)
	var st feedback.Stats
	decode(t, rec, &st)
	if st.Total != seeded.Total {
		t.Errorf("stats Total = %d, want %d", st.Total, seeded.Total)
	}
	if st.Distribution[feedback.LabelCorrect] == 0 {
		t.Errorf("distribution = %v", st.Distribution)
	}

	rec = do(t, r, http.MethodDelete, "/api/history", nil)
	var cleared struct {
		Deleted int64 `json:"deleted"`
	}
	decode(t, rec, &cleared)
	if cleared.Deleted != seeded.Total {
		t.Errorf("Deleted = %d, want %d", cleared.Deleted, seeded.Total)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Watcher status
// ─────────────────────────────────────────────────────────────────────────────

func TestStatus_missing(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv.Router(), http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatus_published(t *testing.T) {
	srv, _ := newTestServer(t)
	if err := ipc.WriteStatus(srv.stateDir, &ipc.StatusSnapshot{State: "idle", Mode: "analyze", Processed: 3}); err != nil {
		t.Fatal(err)
	}
	rec := do(t, srv.Router(), http.MethodGet, "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st ipc.StatusSnapshot
	decode(t, rec, &st)
	if st.Processed != 3 || st.Mode != "analyze" {
		t.Errorf("snapshot = %+v", st)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Websocket events
// ─────────────────────────────────────────────────────────────────────────────

func TestEventsWebsocket(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub().Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	srv.Hub().Publish(pipeline.Event{Type: pipeline.EventRunFinish, RunID: "r1", Mode: pipeline.ModeAnalyze})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Kind string         `json:"kind"`
		Data pipeline.Event `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Kind != "run" || msg.Data.RunID != "r1" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestRun_shutdown(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Chat
// ─────────────────────────────────────────────────────────────────────────────

type fakeAnswerer struct {
	text string
	secs float64
	err  error
}

func (f *fakeAnswerer) Answer(_ context.Context, question string) (*chat.Answer, error) {
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(question) == "" {
		return nil, chat.ErrEmptyQuestion
	}
	return &chat.Answer{Question: strings.TrimSpace(question), Text: f.text, ResponseTime: f.secs, Model: "fake"}, nil
}

func newChatServer(t *testing.T, a Answerer) (*Server, *feedback.Store) {
	t.Helper()
	store, err := feedback.Open(filepath.Join(t.TempDir(), "feedback.db"), feedback.DefaultPageSize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(Options{Store: store, Chat: a}), store
}

func TestChat_answerWithoutSaving(t *testing.T) {
	srv, store := newChatServer(t, &fakeAnswerer{text: "勾配が小さくなり学習が進まない現象です。", secs: 0.8})
	rec := do(t, srv.Router(), http.MethodPost, "/api/chat", chatRequest{Question: "勾配消失とは？"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	decode(t, rec, &resp)
	if resp.Text != "勾配が小さくなり学習が進まない現象です。" || resp.ResponseTime != 0.8 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Record != nil {
		t.Error("record should only be returned when saving")
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Errorf("Count = %d, want 0", n)
	}
}

func TestChat_saveChatStyleTurn(t *testing.T) {
	srv, store := newChatServer(t, &fakeAnswerer{text: "はい、できます。", secs: 1.25})
	rec := do(t, srv.Router(), http.MethodPost, "/api/chat", chatRequest{Question: "質問できますか？", Save: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	decode(t, rec, &resp)
	if resp.Record == nil {
		t.Fatal("expected saved record")
	}

	page, err := store.List(context.Background(), feedback.Filter{}, feedback.Page{Number: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Records) != 1 {
		t.Fatalf("records = %d", len(page.Records))
	}
	got := page.Records[0]
	if got.Feedback != ChatStyleFeedback {
		t.Errorf("Feedback = %q", got.Feedback)
	}
	if got.IsCorrect != nil {
		t.Errorf("chat turns are unrated, got %v", *got.IsCorrect)
	}
	if got.Answer != "はい、できます。" || got.ResponseTime != 1.25 {
		t.Errorf("record = %+v", got)
	}
}

func TestChat_errors(t *testing.T) {
	srv, _ := newTestServer(t)
	if rec := do(t, srv.Router(), http.MethodPost, "/api/chat", chatRequest{Question: "q"}); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no model: status = %d", rec.Code)
	}

	srv, _ = newChatServer(t, &fakeAnswerer{text: "a"})
	if rec := do(t, srv.Router(), http.MethodPost, "/api/chat", chatRequest{Question: "  "}); rec.Code != http.StatusBadRequest {
		t.Errorf("blank question: status = %d", rec.Code)
	}

	srv, _ = newChatServer(t, &fakeAnswerer{err: errors.New("quota exceeded")})
	rec := do(t, srv.Router(), http.MethodPost, "/api/chat", chatRequest{Question: "q"})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("generator failure: status = %d", rec.Code)
	}
	var env errorEnvelope
	decode(t, rec, &env)
	if env.Error.Code != "generation_failed" {
		t.Errorf("code = %q", env.Error.Code)
	}
}
