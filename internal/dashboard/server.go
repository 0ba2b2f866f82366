// Package dashboard serves the evaluation dashboard API: transcript
// normalization, answer feedback with history and statistics, watcher
// status, Prometheus metrics and a websocket stream of pipeline events.
package dashboard

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tshigata/lecture-ai-engineering/internal/chat"
	"github.com/tshigata/lecture-ai-engineering/internal/diaglog"
	"github.com/tshigata/lecture-ai-engineering/internal/feedback"
	"github.com/tshigata/lecture-ai-engineering/internal/ipc"
	"github.com/tshigata/lecture-ai-engineering/internal/logging"
	"github.com/tshigata/lecture-ai-engineering/internal/metrics"
)

// Version is reported by /healthz.
var Version = "dev"

// Answerer generates timed answers for /api/chat.
type Answerer interface {
	Answer(ctx context.Context, question string) (*chat.Answer, error)
}

// Options wires a Server. Store is required; without Chat, /api/chat
// answers 503.
type Options struct {
	Store    *feedback.Store
	Chat     Answerer
	Metrics  *metrics.Metrics
	Hub      *Hub
	StateDir string // where the watcher publishes status.json
	Logger   *logging.Logger
	Diag     *diaglog.Logger
}

// Server holds the dashboard dependencies.
type Server struct {
	store    *feedback.Store
	chat     Answerer
	metrics  *metrics.Metrics
	hub      *Hub
	stateDir string
	logger   *logging.Logger
	diag     *diaglog.Logger
}

// New returns a Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Diag == nil {
		opts.Diag = diaglog.NewNoOp()
	}
	if opts.Hub == nil {
		opts.Hub = NewHub(opts.Logger)
	}
	return &Server{
		store:    opts.Store,
		chat:     opts.Chat,
		metrics:  opts.Metrics,
		hub:      opts.Hub,
		stateDir: opts.StateDir,
		logger:   opts.Logger,
		diag:     opts.Diag,
	}
}

// Hub returns the event hub, for wiring a pipeline publisher.
func (s *Server) Hub() *Hub { return s.hub }

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, errorEnvelope{Error: apiError{Message: msg, Code: code}})
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	r.GET("/ws/events", s.hub.serveWS)

	api := r.Group("/api")
	{
		api.POST("/normalize", s.normalize)
		api.POST("/chat", s.answer)
		api.POST("/feedback", s.saveFeedback)
		api.GET("/history", s.history)
		api.DELETE("/history", s.clearHistory)
		api.GET("/stats", s.stats)
		api.POST("/samples", s.seedSamples)
		api.GET("/status", s.watchStatus)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.HTTPRequest(c.Request.Method, route, c.Writer.Status())
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start).Round(time.Microsecond),
		)
	}
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": Version})
}

func (s *Server) watchStatus(c *gin.Context) {
	if s.stateDir == "" {
		respondError(c, http.StatusNotFound, "no_watcher", errors.New("no watcher state directory configured"))
		return
	}
	st, err := ipc.ReadStatus(s.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			respondError(c, http.StatusNotFound, "no_watcher", errors.New("watcher has not published a status yet"))
			return
		}
		respondError(c, http.StatusInternalServerError, "status_unreadable", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// parseAccuracy accepts "", "all", a label or a score.
func parseAccuracy(v string) (*float64, error) {
	v = strings.TrimSpace(v)
	if v == "" || v == "all" {
		return nil, nil
	}
	if score, ok := feedback.Score(v); ok {
		return &score, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || feedback.Label(f) == "" {
		return nil, errors.New("accuracy must be all, 1.0, 0.5, 0.0 or a label")
	}
	return &f, nil
}
