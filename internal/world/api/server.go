// Package api exposes the world store over HTTP. This surface is the
// component boundary the simulation drives: the harness only ever talks to
// these endpoints, never to the store directly.
//
// In simulation mode the server additionally mounts a control surface
// (/sim/...) for clock advancement and fault-tag arming. Those routes do
// not exist in production configuration.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/buggify"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/simclock"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/world/store"
)

// DefaultDedupTTL is how long an idempotency record stays live when the
// server is not configured otherwise.
const DefaultDedupTTL = 24 * time.Hour

// Config is supplied once at construction. Business logic never reads
// configuration from the environment ad hoc.
type Config struct {
	// DedupTTL is the idempotency record lifetime.
	DedupTTL time.Duration

	// SimMode mounts the /sim control surface and accepts a fault
	// registry. Never enabled in production.
	SimMode bool
}

// Server routes HTTP requests to the world store.
type Server struct {
	store  *store.Store
	clock  simclock.Clock
	sim    *simclock.Simulated // non-nil only in sim mode
	faults *buggify.Registry   // nil outside simulation
	ids    world.IDGenerator
	logger *slog.Logger
	cfg    Config
}

// New assembles a server. clock must be the same instance the store was
// opened with. faults may be nil (production).
func New(st *store.Store, clock simclock.Clock, ids world.IDGenerator, faults *buggify.Registry, logger *slog.Logger, cfg Config) *Server {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = DefaultDedupTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:  st,
		clock:  clock,
		faults: faults,
		ids:    ids,
		logger: logger,
		cfg:    cfg,
	}
	if sim, ok := clock.(*simclock.Simulated); ok && cfg.SimMode {
		s.sim = sim
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /actors", s.handleCreateActor)
	mux.HandleFunc("POST /worlds", s.handleCreateWorld)
	mux.HandleFunc("POST /worlds/{id}/dwellers", s.handleCreateDweller)
	mux.HandleFunc("POST /resources/{id}/claim", s.handleClaim)
	mux.HandleFunc("POST /resources/{id}/release", s.handleRelease)
	mux.HandleFunc("POST /proposals", s.handleCreateProposal)
	mux.HandleFunc("POST /review/{contentType}/{contentId}/feedback", s.handleSubmitReview)
	mux.HandleFunc("GET /review/{contentType}/{contentId}/feedback", s.handleViewFeedback)
	mux.HandleFunc("GET /review/{contentType}/{contentId}/graduation", s.handleGraduation)

	// Each action gets a literal route: a trailing wildcard here would
	// conflict with the feedback pattern above under ServeMux precedence.
	// The subtree fallback turns unknown actions into a 400, not a 404.
	for _, action := range []store.FeedbackAction{
		store.ActionRespond, store.ActionResolve, store.ActionReopen, store.ActionDispute,
	} {
		mux.HandleFunc("POST /review/feedback-item/{itemId}/"+string(action), s.feedbackAction(action))
	}
	mux.HandleFunc("POST /review/", func(w http.ResponseWriter, r *http.Request) {
		s.badRequest(w, "unknown action")
	})

	if s.cfg.SimMode {
		mux.HandleFunc("POST /sim/clock/advance", s.handleClockAdvance)
		mux.HandleFunc("POST /sim/buggify", s.handleBuggify)
	}

	return mux
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Claimant string `json:"claimant,omitempty"`
}

// writeJSON writes a JSON response body with the given status.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeDomainError maps an error from the store onto the wire.
//
// Expected domain conflicts become structured 4xx responses. Anything
// without a conflict code is a genuine server fault and surfaces as 500 -
// the simulation treats any 5xx as a violation, so nothing here may paper
// over one.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	code := world.ConflictCode(err)

	var conflict *world.ClaimConflictError
	claimant := ""
	if errors.As(err, &conflict) {
		claimant = conflict.Claimant
	}

	status := 0
	switch code {
	case "already_claimed", "still_processing", "duplicate_review", "invalid_transition":
		status = http.StatusConflict
	case "not_claimant", "self_review", "not_allowed":
		status = http.StatusForbidden
	case "not_found":
		status = http.StatusNotFound
	case "":
		s.logger.Error("unhandled store error", "error", err)
		status = http.StatusInternalServerError
		code = "internal"
	}

	s.writeJSON(w, status, errorBody{Error: errorDetail{
		Code:     code,
		Message:  err.Error(),
		Claimant: claimant,
	}})
}

// decode parses a JSON request body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, errorBody{Error: errorDetail{
		Code:    "bad_request",
		Message: msg,
	}})
}
