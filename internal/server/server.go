// Package server exposes a live run over HTTP: health, metrics, the
// current positions and trade acknowledgments.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"memetrader/internal/observability"
	"memetrader/internal/pipeline"
)

// Controller is the part of a live run the API drives.
type Controller interface {
	RunID() string
	View() pipeline.View
	IsPending(tradeID string) bool
	Enqueue(ack pipeline.Ack)
}

// Server serves the control API.
type Server struct {
	router  *mux.Router
	http    *http.Server
	ctrl    Controller
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a server listening on addr once Run is called.
func New(addr string, ctrl Controller, opts ...Option) *Server {
	s := &Server{
		router: mux.NewRouter(),
		ctrl:   ctrl,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestID, s.requestLogging)

	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/positions", s.positions).Methods(http.MethodGet)
	s.router.HandleFunc("/trades/{id}/confirm", s.acknowledge(true)).Methods(http.MethodPost)
	s.router.HandleFunc("/trades/{id}/reject", s.acknowledge(false)).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "no route for "+r.URL.Path)
	})
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("control api listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

type healthResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
	Ticks  int    `json:"ticks"`
	LastTs int64  `json:"last_ts"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	v := s.ctrl.View()
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", RunID: s.ctrl.RunID(), Ticks: v.Ticks, LastTs: v.Timestamp})
}

func (s *Server) positions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.View())
}

type ackResponse struct {
	TradeID string `json:"trade_id"`
	Accept  bool   `json:"accept"`
	Status  string `json:"status"`
}

// acknowledge queues a confirm or reject for the next tick. Only trades
// pending as of the last completed tick are accepted.
func (s *Server) acknowledge(accept bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if !s.ctrl.IsPending(id) {
			writeError(w, http.StatusNotFound, "trade_not_pending", "trade "+id+" is not awaiting acknowledgment")
			return
		}
		s.ctrl.Enqueue(pipeline.Ack{TradeID: id, Accept: accept})
		s.logger.Info().Str("trade_id", id).Bool("accept", accept).Msg("acknowledgment queued")
		writeJSON(w, http.StatusAccepted, ackResponse{TradeID: id, Accept: accept, Status: "queued"})
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: code, Message: msg})
}

type requestIDKey struct{}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		id, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
