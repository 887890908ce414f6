// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/okian/skillcheck/internal/domain/grading"
	"github.com/okian/skillcheck/internal/domain/model"
	"github.com/okian/skillcheck/internal/domain/types"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SessionDependencies
	AdminDependencies
}

// SessionDependencies are the candidate-facing operations.
type SessionDependencies interface {
	CreateSession(ctx context.Context, candidateID, sessionID string) (model.Session, error)
	GetSession(ctx context.Context, sessionID string) (model.Session, error)
	BeginStage(ctx context.Context, sessionID string, kind model.StageKind) (model.StageState, error)
	CaptureDraft(ctx context.Context, sessionID string, kind model.StageKind, sub grading.Submission) error
	SubmitStage(ctx context.Context, sessionID string, kind model.StageKind, sub grading.Submission) (model.StageResult, error)
	Percentile(ctx context.Context, sessionID string) (model.PercentileRecord, error)
}

// AdminDependencies are the administrator operations.
type AdminDependencies interface {
	GetSession(ctx context.Context, sessionID string) (model.Session, error)
	ReviewStage(ctx context.Context, sessionID string, kind model.StageKind, score float64, metadata map[string]string) (types.ReviewOutcome, error)
	Reaggregate(ctx context.Context, sessionID string) (model.CompositeResult, error)
	TopN(ctx context.Context, n int) ([]types.Entry, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	sessionHandler     *SessionHandler
	reviewHandler      *ReviewHandler
	leaderboardHandler *LeaderboardHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLeaderboardLimit int) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		sessionHandler:     NewSessionHandler(deps),
		reviewHandler:      NewReviewHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLeaderboardLimit),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("GET /metrics", s.healthHandler.MetricsHandler())
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	user := func(h http.HandlerFunc, endpoint string) http.HandlerFunc {
		return MetricsMiddleware(RequireIdentity(h), endpoint)
	}
	admin := func(h http.HandlerFunc, endpoint string) http.HandlerFunc {
		return MetricsMiddleware(RequireIdentity(RequireAdmin(h)), endpoint)
	}

	mux.HandleFunc("POST /sessions", user(s.sessionHandler.HandleCreate, "sessions_create"))
	mux.HandleFunc("GET /sessions/{id}", user(s.sessionHandler.HandleGet, "sessions_get"))
	mux.HandleFunc("POST /sessions/{id}/stages/{stage}/begin", user(s.sessionHandler.HandleBegin, "stages_begin"))
	mux.HandleFunc("PUT /sessions/{id}/stages/{stage}/draft", user(s.sessionHandler.HandleDraft, "stages_draft"))
	mux.HandleFunc("POST /sessions/{id}/stages/{stage}/submit", user(s.sessionHandler.HandleSubmit, "stages_submit"))
	mux.HandleFunc("GET /sessions/{id}/percentile", user(s.sessionHandler.HandlePercentile, "percentile"))

	mux.HandleFunc("POST /admin/sessions/{id}/stages/{stage}/review", admin(s.reviewHandler.HandleReview, "admin_review"))
	mux.HandleFunc("POST /admin/sessions/{id}/reaggregate", admin(s.reviewHandler.HandleReaggregate, "admin_reaggregate"))
	mux.HandleFunc("GET /admin/leaderboard", admin(s.leaderboardHandler.HandleGetLeaderboard, "admin_leaderboard"))
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError classifies err and writes the matching status and body.
func writeError(w http.ResponseWriter, err error) {
	m := classify(err)
	msg := http.StatusText(m.status)
	if err != nil {
		msg = err.Error()
	}
	if m.retryable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, m.status, errorResponse{Code: m.code, Message: msg, Retryable: m.retryable})
}

// decodeBody decodes a JSON request body into v. An empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
