package api

import (
	"errors"
	"net/http"
)

// ReviewHandler resolves pending stage results on behalf of an administrator.
type ReviewHandler struct {
	deps AdminDependencies
}

// NewReviewHandler creates a new review handler.
func NewReviewHandler(deps AdminDependencies) *ReviewHandler {
	return &ReviewHandler{deps: deps}
}

type reviewRequest struct {
	Score    *float64          `json:"score"`
	Notes    string            `json:"notes"`
	Metadata map[string]string `json:"metadata"`
}

// HandleReview handles POST /admin/sessions/{id}/stages/{stage}/review.
func (h *ReviewHandler) HandleReview(w http.ResponseWriter, r *http.Request) {
	const op = "api.review_stage"
	kind, err := parseStage(r.PathValue("stage"))
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if req.Score == nil {
		writeError(w, WrapKind(op, ErrBadRequest, errors.New("missing score")))
		return
	}

	meta := make(map[string]string, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		meta[k] = v
	}
	if req.Notes != "" {
		meta["notes"] = req.Notes
	}
	if caller, ok := CandidateFrom(r.Context()); ok {
		meta["reviewer"] = caller.ID
	}

	out, err := h.deps.ReviewStage(r.Context(), r.PathValue("id"), kind, *req.Score, meta)
	if err != nil {
		writeError(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleReaggregate handles POST /admin/sessions/{id}/reaggregate.
func (h *ReviewHandler) HandleReaggregate(w http.ResponseWriter, r *http.Request) {
	comp, err := h.deps.Reaggregate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, Wrap("api.reaggregate", err))
		return
	}
	writeJSON(w, http.StatusOK, comp)
}
