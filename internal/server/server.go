// Package server exposes coaching threads over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dshills/coachgraph/coach"
	"github.com/dshills/coachgraph/graph"
	"github.com/dshills/coachgraph/graph/store"
	"github.com/dshills/coachgraph/record"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Threads is the part of coach.Runner the server drives.
type Threads interface {
	Start(ctx context.Context, threadID string, identity coach.Identity, returning bool) (coach.Reply, error)
	Step(ctx context.Context, threadID, input string) (coach.Reply, error)
	Pending(ctx context.Context, threadID string) (coach.Reply, error)
	History(ctx context.Context, threadID string) ([]coach.Turn, error)
}

// Records is the part of record.SQLRecorder the user routes read and
// update.
type Records interface {
	ActiveCommitments(ctx context.Context, userID string) ([]record.Commitment, error)
	CompleteCommitment(ctx context.Context, userID, threadID string, episode int) error
	Moods(ctx context.Context, userID string) ([]string, error)
	Reminders(ctx context.Context, userID string) ([]coach.Reminder, error)
	Transcript(ctx context.Context, threadID string) ([]coach.Turn, error)
}

// Server routes requests to Threads.
type Server struct {
	threads  Threads
	records  Records
	logger   *zap.Logger
	router   chi.Router
	gatherer prometheus.Gatherer
	origins  []string
	newID    func() string
	now      func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics serves gatherer at /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = gatherer }
}

// WithRecords serves the user routes from records and falls back to the
// recorded transcript for threads without a checkpoint.
func WithRecords(records Records) Option {
	return func(s *Server) { s.records = records }
}

// WithAllowedOrigins sets the CORS origins. Empty allows any origin.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithIDGenerator replaces the thread id generator.
func WithIDGenerator(newID func() string) Option {
	return func(s *Server) { s.newID = newID }
}

// WithClock sets the clock used for identities that carry no time.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New builds the server and its routes.
func New(threads Threads, opts ...Option) *Server {
	s := &Server{
		threads: threads,
		logger:  zap.NewNop(),
		newID:   uuid.NewString,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1/threads", func(r chi.Router) {
		r.Post("/", s.handleStart)
		r.Get("/{threadID}", s.handlePending)
		r.Post("/{threadID}/step", s.handleStep)
		r.Get("/{threadID}/messages", s.handleMessages)
	})
	if s.records != nil {
		r.Route("/v1/users/{userID}", func(r chi.Router) {
			r.Get("/commitments", s.handleCommitments)
			r.Post("/commitments/complete", s.handleCompleteCommitment)
			r.Get("/moods", s.handleMoods)
			r.Get("/reminders", s.handleReminders)
		})
	}
	s.router = r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type startRequest struct {
	ThreadID  string         `json:"thread_id,omitempty"`
	Identity  coach.Identity `json:"identity"`
	Returning bool           `json:"returning"`
}

type stepRequest struct {
	Input string `json:"input"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type messagesResponse struct {
	ThreadID string       `json:"thread_id"`
	Messages []coach.Turn `json:"messages"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Identity.Now.IsZero() {
		req.Identity.Now = s.now()
	}
	if req.ThreadID == "" {
		req.ThreadID = s.newID()
	}

	reply, err := s.threads.Start(r.Context(), req.ThreadID, req.Identity, req.Returning)
	if err != nil {
		s.writeTurnError(w, reply, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	if _, err := s.threads.History(r.Context(), threadID); err != nil {
		s.writeLookupError(w, threadID, err)
		return
	}
	reply, err := s.threads.Pending(r.Context(), threadID)
	if err != nil {
		s.writeTurnError(w, reply, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	var req stepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if _, err := s.threads.History(r.Context(), threadID); err != nil {
		s.writeLookupError(w, threadID, err)
		return
	}

	reply, err := s.threads.Step(r.Context(), threadID, req.Input)
	if err != nil {
		s.writeTurnError(w, reply, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "threadID")
	turns, err := s.threads.History(r.Context(), threadID)
	if errors.Is(err, store.ErrNotFound) && s.records != nil {
		turns, err = s.records.Transcript(r.Context(), threadID)
	}
	if err != nil {
		s.writeLookupError(w, threadID, err)
		return
	}
	if turns == nil {
		turns = []coach.Turn{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{ThreadID: threadID, Messages: turns})
}

func (s *Server) writeLookupError(w http.ResponseWriter, threadID string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "thread not found", Code: "THREAD_NOT_FOUND"})
		return
	}
	s.logger.Error("thread lookup failed", zap.String("thread_id", threadID), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

// writeTurnError maps a Runner failure. Engine failures already carry the
// user message in reply and are served as a normal reply.
func (s *Server) writeTurnError(w http.ResponseWriter, reply coach.Reply, err error) {
	var engineErr *graph.EngineError
	switch {
	case errors.Is(err, coach.ErrInvalidMessage):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "INVALID_MESSAGE"})
	case errors.Is(err, coach.ErrInvalidIdentity):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "INVALID_IDENTITY"})
	case errors.As(err, &engineErr) && engineErr.Code == "THREAD_EXISTS":
		writeJSON(w, http.StatusConflict, errorResponse{Error: "thread already exists", Code: engineErr.Code})
	case coach.IsUserFacing(err):
		writeJSON(w, http.StatusOK, reply)
	default:
		s.logger.Error("turn failed", zap.String("thread_id", reply.ThreadID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: coach.UserMessage(err)})
	}
}

type completeRequest struct {
	ThreadID string `json:"thread_id"`
	Episode  int    `json:"episode"`
}

type commitmentsResponse struct {
	UserID      string              `json:"user_id"`
	Commitments []record.Commitment `json:"commitments"`
}

type moodsResponse struct {
	UserID string   `json:"user_id"`
	Moods  []string `json:"moods"`
}

type remindersResponse struct {
	UserID    string           `json:"user_id"`
	Reminders []coach.Reminder `json:"reminders"`
}

func (s *Server) handleCommitments(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	commitments, err := s.records.ActiveCommitments(r.Context(), userID)
	if err != nil {
		s.writeRecordError(w, userID, err)
		return
	}
	if commitments == nil {
		commitments = []record.Commitment{}
	}
	writeJSON(w, http.StatusOK, commitmentsResponse{UserID: userID, Commitments: commitments})
}

func (s *Server) handleCompleteCommitment(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ThreadID == "" || req.Episode < 1 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "thread_id and episode are required"})
		return
	}

	err := s.records.CompleteCommitment(r.Context(), userID, req.ThreadID, req.Episode)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active commitment", Code: "COMMITMENT_NOT_FOUND"})
		return
	}
	if err != nil {
		s.writeRecordError(w, userID, err)
		return
	}
	s.logger.Info("commitment completed",
		zap.String("user_id", userID),
		zap.String("thread_id", req.ThreadID),
		zap.Int("episode", req.Episode),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *Server) handleMoods(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	moods, err := s.records.Moods(r.Context(), userID)
	if err != nil {
		s.writeRecordError(w, userID, err)
		return
	}
	if moods == nil {
		moods = []string{}
	}
	writeJSON(w, http.StatusOK, moodsResponse{UserID: userID, Moods: moods})
}

func (s *Server) handleReminders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	reminders, err := s.records.Reminders(r.Context(), userID)
	if err != nil {
		s.writeRecordError(w, userID, err)
		return
	}
	if reminders == nil {
		reminders = []coach.Reminder{}
	}
	writeJSON(w, http.StatusOK, remindersResponse{UserID: userID, Reminders: reminders})
}

func (s *Server) writeRecordError(w http.ResponseWriter, userID string, err error) {
	s.logger.Error("record lookup failed", zap.String("user_id", userID), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
