package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/okian/skillcheck/internal/domain/model"
)

// Identity headers set by the authenticating proxy.
const (
	HeaderCandidateID   = "X-Candidate-ID"
	HeaderCandidateRole = "X-Candidate-Role"
)

type candidateKey struct{}

// WithCandidate returns a context carrying the authenticated caller.
func WithCandidate(ctx context.Context, c model.Candidate) context.Context {
	return context.WithValue(ctx, candidateKey{}, c)
}

// CandidateFrom returns the caller stored by RequireIdentity.
func CandidateFrom(ctx context.Context) (model.Candidate, bool) {
	c, ok := ctx.Value(candidateKey{}).(model.Candidate)
	return c, ok
}

// RequireIdentity rejects requests without a candidate id or with an unknown
// role. A missing role means "user".
func RequireIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "api.identity"
		id := strings.TrimSpace(r.Header.Get(HeaderCandidateID))
		if id == "" {
			writeError(w, NewKind(op, ErrUnauthorized))
			return
		}
		role := model.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderCandidateRole))))
		switch role {
		case "":
			role = model.RoleUser
		case model.RoleUser, model.RoleAdmin:
		default:
			writeError(w, NewKind(op, ErrUnauthorized))
			return
		}
		next(w, r.WithContext(WithCandidate(r.Context(), model.Candidate{ID: id, Role: role})))
	}
}

// RequireAdmin rejects callers without the admin role. It must run inside RequireIdentity.
func RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c, ok := CandidateFrom(r.Context()); !ok || !c.IsAdmin() {
			writeError(w, NewKind("api.admin", ErrForbidden))
			return
		}
		next(w, r)
	}
}
