package api

import (
	"context"
	"net/http"

	"github.com/okian/skillcheck/internal/domain/grading"
	"github.com/okian/skillcheck/internal/domain/model"
)

// SessionHandler handles the candidate-facing session routes.
type SessionHandler struct {
	deps SessionDependencies
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(deps SessionDependencies) *SessionHandler {
	return &SessionHandler{deps: deps}
}

type createSessionRequest struct {
	SessionID string `json:"session_id"`
}

// HandleCreate handles POST /sessions.
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_session"
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	caller, _ := CandidateFrom(r.Context())
	s, err := h.deps.CreateSession(r.Context(), caller.ID, req.SessionID)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

// HandleGet handles GET /sessions/{id}.
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_session"
	s, err := h.owned(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleBegin handles POST /sessions/{id}/stages/{stage}/begin.
func (h *SessionHandler) HandleBegin(w http.ResponseWriter, r *http.Request) {
	const op = "api.begin_stage"
	id, kind, err := h.stageTarget(r)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	st, err := h.deps.BeginStage(r.Context(), id, kind)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleDraft handles PUT /sessions/{id}/stages/{stage}/draft.
func (h *SessionHandler) HandleDraft(w http.ResponseWriter, r *http.Request) {
	const op = "api.capture_draft"
	id, kind, err := h.stageTarget(r)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	var sub grading.Submission
	if err := decodeBody(r, &sub); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := h.deps.CaptureDraft(r.Context(), id, kind, sub); err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSubmit handles POST /sessions/{id}/stages/{stage}/submit.
func (h *SessionHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_stage"
	id, kind, err := h.stageTarget(r)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	var sub grading.Submission
	if err := decodeBody(r, &sub); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.SubmitStage(r.Context(), id, kind, sub)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandlePercentile handles GET /sessions/{id}/percentile.
func (h *SessionHandler) HandlePercentile(w http.ResponseWriter, r *http.Request) {
	const op = "api.percentile"
	s, err := h.owned(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	rec, err := h.deps.Percentile(r.Context(), s.SessionID)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// owned loads a session the caller may access: their own, or any for admins.
func (h *SessionHandler) owned(ctx context.Context, sessionID string) (model.Session, error) {
	s, err := h.deps.GetSession(ctx, sessionID)
	if err != nil {
		return model.Session{}, err
	}
	caller, ok := CandidateFrom(ctx)
	if !ok {
		return model.Session{}, ErrUnauthorized
	}
	if !caller.IsAdmin() && caller.ID != s.CandidateID {
		return model.Session{}, ErrForbidden
	}
	return s, nil
}

func (h *SessionHandler) stageTarget(r *http.Request) (string, model.StageKind, error) {
	kind, err := parseStage(r.PathValue("stage"))
	if err != nil {
		return "", "", err
	}
	s, err := h.owned(r.Context(), r.PathValue("id"))
	if err != nil {
		return "", "", err
	}
	return s.SessionID, kind, nil
}

func parseStage(raw string) (model.StageKind, error) {
	kind, err := model.ParseStageKind(raw)
	if err != nil {
		return "", WrapKind("api.parse_stage", ErrBadRequest, err)
	}
	return kind, nil
}
