package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/buggify"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
)

// IdempotencyKeyHeader is the client-chosen dedup token for mutating
// endpoints. Replays of a completed key get the stored response verbatim.
const IdempotencyKeyHeader = "X-Idempotency-Key"

// idempotentReplayHeader marks a response served from a stored record.
// Diagnostic only; the body bytes are what the contract guarantees.
const idempotentReplayHeader = "X-Idempotent-Replay"

type createProposalRequest struct {
	WorldID  string `json:"world_id"`
	AuthorID string `json:"author_id"`
	Body     string `json:"body"`
}

// handleCreateProposal creates reviewable content, deduplicated by the
// optional idempotency key header.
//
// BUGGIFY mutate/duplicate-dispatch models a redelivery arriving while the
// first call is still in flight: the dedup layer must answer it with
// still-processing, and exactly one proposal may exist for the key.
func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var req createProposalRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, "invalid body: "+err.Error())
		return
	}
	if req.WorldID == "" || req.AuthorID == "" {
		s.badRequest(w, "world_id and author_id are required")
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" {
		// No dedup requested; execute directly.
		p, err := s.createProposal(r, req, "")
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, p)
		return
	}

	rec, started, err := s.store.BeginMutation(r.Context(), key, s.cfg.DedupTTL)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if !started {
		// Completed (or failed) key: replay the stored response verbatim.
		s.logger.Debug("idempotent replay", "key", key, "status", rec.ResponseStatus)
		s.replayStored(w, rec)
		return
	}

	if s.faults.Hit(buggify.TagMutateDuplicateDispatch) {
		s.logger.Debug("buggify: duplicating mutation dispatch mid-flight", "key", key)
		_, _, dupErr := s.store.BeginMutation(r.Context(), key, s.cfg.DedupTTL)
		if !errors.Is(dupErr, world.ErrStillProcessing) {
			// The dedup layer failed to fence the in-flight record.
			s.logger.Error("mid-flight duplicate was not fenced", "key", key, "error", dupErr)
		}
	}

	p, err := s.createProposal(r, req, key)
	if err != nil {
		// Record the failure so retries of this key do not re-execute.
		body, _ := json.Marshal(errorBody{Error: errorDetail{
			Code:    "mutation_failed",
			Message: err.Error(),
		}})
		if cerr := s.store.CompleteMutation(r.Context(), key, world.MutationFailed, http.StatusInternalServerError, body); cerr != nil {
			s.logger.Error("complete mutation (failed)", "key", key, "error", cerr)
		}
		s.writeDomainError(w, err)
		return
	}

	respBody, err := json.Marshal(p)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.store.CompleteMutation(r.Context(), key, world.MutationCompleted, http.StatusCreated, respBody); err != nil {
		s.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if _, err := w.Write(respBody); err != nil {
		s.logger.Error("write response", "error", err)
	}
}

// createProposal executes the underlying mutation: the single side effect
// attributable to an idempotency key.
func (s *Server) createProposal(r *http.Request, req createProposalRequest, key string) (world.Proposal, error) {
	p := world.Proposal{
		ID:       s.ids.NewID("proposal"),
		WorldID:  req.WorldID,
		AuthorID: req.AuthorID,
		Body:     req.Body,
	}
	if err := s.store.CreateProposal(r.Context(), p, key); err != nil {
		return world.Proposal{}, err
	}
	s.logger.Debug("proposal created", "proposal", p.ID, "key", key)
	return p, nil
}

// replayStored writes a stored idempotent response byte-for-byte.
func (s *Server) replayStored(w http.ResponseWriter, rec world.IdempotencyRecord) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(idempotentReplayHeader, "true")
	w.WriteHeader(rec.ResponseStatus)
	if _, err := w.Write(rec.ResponseBody); err != nil {
		s.logger.Error("write replayed response", "error", err)
	}
}
