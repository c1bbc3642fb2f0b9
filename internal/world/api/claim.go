package api

import (
	"errors"
	"net/http"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/buggify"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
)

type actorRef struct {
	ActorID string `json:"actor_id"`
}

type createActorRequest struct {
	Role string `json:"role"`
}

func (s *Server) handleCreateActor(w http.ResponseWriter, r *http.Request) {
	var req createActorRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, "invalid body: "+err.Error())
		return
	}
	role := world.Role(req.Role)
	if !world.ValidRole(role) {
		s.badRequest(w, "invalid role")
		return
	}

	a := world.Actor{ID: s.ids.NewID("actor"), Role: role}
	if err := s.store.CreateActor(r.Context(), a); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Debug("actor created", "actor", a.ID, "role", a.Role)
	s.writeJSON(w, http.StatusCreated, a)
}

type createWorldRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateWorld(w http.ResponseWriter, r *http.Request) {
	var req createWorldRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, "invalid body: "+err.Error())
		return
	}
	if req.Name == "" {
		s.badRequest(w, "name is required")
		return
	}

	wld := world.World{ID: s.ids.NewID("world"), Name: req.Name}
	if err := s.store.CreateWorld(r.Context(), wld); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, wld)
}

func (s *Server) handleCreateDweller(w http.ResponseWriter, r *http.Request) {
	worldID := r.PathValue("id")

	d := world.Dweller{ID: s.ids.NewID("dweller"), WorldID: worldID}
	if err := s.store.CreateDweller(r.Context(), d); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, d)
}

// handleClaim makes the requesting actor the exclusive claimant.
//
// BUGGIFY claim/duplicate-dispatch re-dispatches the same request against
// the store, modeling a duplicated network delivery. The claim path must
// absorb the duplicate: the second attempt has to lose with a structured
// conflict and the claim count must not move twice. If it does move, the
// simulation's claimant/claim-count checks catch it.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	dwellerID := r.PathValue("id")
	var req actorRef
	if err := decode(r, &req); err != nil {
		s.badRequest(w, "invalid body: "+err.Error())
		return
	}
	if req.ActorID == "" {
		s.badRequest(w, "actor_id is required")
		return
	}

	d, err := s.store.ClaimDweller(r.Context(), dwellerID, req.ActorID)

	if s.faults.Hit(buggify.TagClaimDuplicateDispatch) {
		s.logger.Debug("buggify: duplicating claim dispatch",
			"dweller", dwellerID, "actor", req.ActorID)
		_, dupErr := s.store.ClaimDweller(r.Context(), dwellerID, req.ActorID)
		if dupErr == nil {
			// A duplicate that wins means the store did not hold the
			// claim across the redelivery. The state checks will see it.
			s.logger.Error("duplicate claim dispatch succeeded",
				"dweller", dwellerID, "actor", req.ActorID)
		} else if !errors.Is(dupErr, world.ErrAlreadyClaimed) {
			s.logger.Debug("duplicate claim dispatch rejected",
				"dweller", dwellerID, "error", dupErr)
		}
	}

	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Debug("dweller claimed", "dweller", d.ID, "claimant", d.Claimant, "count", d.ClaimCount)
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	dwellerID := r.PathValue("id")
	var req actorRef
	if err := decode(r, &req); err != nil {
		s.badRequest(w, "invalid body: "+err.Error())
		return
	}
	if req.ActorID == "" {
		s.badRequest(w, "actor_id is required")
		return
	}

	d, err := s.store.ReleaseDweller(r.Context(), dwellerID, req.ActorID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.logger.Debug("dweller released", "dweller", d.ID, "by", req.ActorID)
	s.writeJSON(w, http.StatusOK, d)
}
