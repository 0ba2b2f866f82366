package dashboard

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tshigata/lecture-ai-engineering/internal/chat"
	"github.com/tshigata/lecture-ai-engineering/internal/diaglog"
	"github.com/tshigata/lecture-ai-engineering/internal/feedback"
	"github.com/tshigata/lecture-ai-engineering/internal/normalize"
	"github.com/tshigata/lecture-ai-engineering/internal/segment"
)

type normalizeRequest struct {
	Text     string `json:"text"`
	Analysis bool   `json:"analysis"` // rewrite only 説明： spans of slide analysis text
	Trace    bool   `json:"trace"`
}

type traceStep struct {
	Rule   string `json:"rule"`
	Before string `json:"before"`
	After  string `json:"after"`
}

type normalizeResponse struct {
	Text      string      `json:"text"`
	Segments  int         `json:"segments,omitempty"`
	Rewritten int         `json:"rewritten,omitempty"`
	Dropped   int         `json:"dropped,omitempty"`
	Steps     []traceStep `json:"steps,omitempty"`
}

var tracer = normalize.NewPipeline()

func (s *Server) normalize(c *gin.Context) {
	var req normalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	if req.Analysis {
		t := segment.NormalizeExplanations(req.Text)
		c.JSON(http.StatusOK, normalizeResponse{
			Text:      t.String(),
			Segments:  len(t.Segments),
			Rewritten: t.Rewritten,
			Dropped:   t.Dropped,
		})
		return
	}

	if !req.Trace {
		c.JSON(http.StatusOK, normalizeResponse{Text: normalize.Normalize(req.Text)})
		return
	}
	out, steps := tracer.Trace(req.Text)
	resp := normalizeResponse{Text: out, Steps: make([]traceStep, len(steps))}
	for i, st := range steps {
		resp.Steps[i] = traceStep{Rule: st.Rule, Before: st.Before, After: st.After}
	}
	c.JSON(http.StatusOK, resp)
}

// ChatStyleFeedback marks history rows saved from the free chat, which are
// stored without an accuracy rating.
const ChatStyleFeedback = "ChatGPT風チャット"

type chatRequest struct {
	Question string `json:"question"`
	// Save stores the turn immediately as a chat-style record. Without it
	// the client rates the answer and posts it to /api/feedback.
	Save bool `json:"save"`
}

type chatResponse struct {
	chat.Answer
	Record *feedback.Record `json:"record,omitempty"`
}

func (s *Server) answer(c *gin.Context) {
	if s.chat == nil {
		respondError(c, http.StatusServiceUnavailable, "chat_unavailable", errors.New("no answer model configured (set GOOGLE_API_KEY)"))
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ans, err := s.chat.Answer(c.Request.Context(), req.Question)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyQuestion) {
			respondError(c, http.StatusBadRequest, "invalid_question", err)
			return
		}
		respondError(c, http.StatusBadGateway, "generation_failed", err)
		return
	}

	resp := chatResponse{Answer: *ans}
	if req.Save {
		rec, err := s.store.Save(c.Request.Context(), feedback.Input{
			Question:     ans.Question,
			Answer:       ans.Text,
			Comment:      ChatStyleFeedback,
			ResponseTime: ans.ResponseTime,
		})
		if err != nil {
			respondError(c, http.StatusInternalServerError, "save_failed", err)
			return
		}
		resp.Record = rec
		s.hub.Broadcast("feedback", rec)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) saveFeedback(c *gin.Context) {
	var in feedback.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	rec, err := s.store.Save(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, feedback.ErrInvalidLabel) {
			respondError(c, http.StatusBadRequest, "invalid_rating", err)
			return
		}
		respondError(c, http.StatusBadRequest, "invalid_feedback", err)
		return
	}

	s.metrics.FeedbackSaved(in.Rating)
	s.diag.Log(diaglog.LogEntry{
		Component: diaglog.ComponentDashboard,
		Event:     diaglog.EventFeedbackSaved,
		Payload: map[string]interface{}{
			"id":            rec.ID,
			"rating":        in.Rating,
			"response_time": rec.ResponseTime,
		},
	})
	s.hub.Broadcast("feedback", rec)
	c.JSON(http.StatusCreated, rec)
}

func (s *Server) history(c *gin.Context) {
	acc, err := parseAccuracy(c.Query("accuracy"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_accuracy", err)
		return
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_page", err)
		return
	}
	size, err := queryInt(c, "size", 0)
	if err != nil || size > 100 {
		respondError(c, http.StatusBadRequest, "invalid_size", errors.New("size must be between 1 and 100"))
		return
	}

	res, err := s.store.List(c.Request.Context(), feedback.Filter{Accuracy: acc}, feedback.Page{Number: page, Size: size})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "history_failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) clearHistory(c *gin.Context) {
	n, err := s.store.Clear(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "clear_failed", err)
		return
	}
	s.logger.Info("feedback history cleared", "deleted", n)
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.store.Stats(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "stats_failed", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) seedSamples(c *gin.Context) {
	n, err := s.store.SeedSamples(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "samples_failed", err)
		return
	}
	total, err := s.store.Count(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "samples_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": n, "total": total})
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, errors.New(key + " must be a positive integer")
	}
	return n, nil
}
