package api

import (
	"net/http"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/buggify"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/world"
	"github.com/nerdsane/deep-sci-fi-sub003/internal/world/store"
)

type submitReviewRequest struct {
	ReviewerID string              `json:"reviewer_id"`
	Items      []reviewItemRequest `json:"items"`
}

type reviewItemRequest struct {
	Body string `json:"body"`
}

// contentProposal is the only reviewable content type today. The path
// keeps the type segment so media and world snapshots can join later
// without breaking clients.
const contentProposal = "proposal"

func (s *Server) contentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.PathValue("contentType") != contentProposal {
		s.badRequest(w, "unsupported content type")
		return "", false
	}
	return r.PathValue("contentId"), true
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := s.contentID(w, r)
	if !ok {
		return
	}

	var req submitReviewRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, "invalid body: "+err.Error())
		return
	}
	if req.ReviewerID == "" {
		s.badRequest(w, "reviewer_id is required")
		return
	}
	if len(req.Items) == 0 {
		s.badRequest(w, "at least one feedback item is required")
		return
	}

	items := make([]world.FeedbackItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = world.FeedbackItem{
			ID:   s.ids.NewID("item"),
			Body: it.Body,
		}
	}

	if err := s.store.SubmitReview(r.Context(), proposalID, req.ReviewerID, items); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.logger.Debug("review submitted",
		"proposal", proposalID, "reviewer", req.ReviewerID, "items", len(items))
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"proposal_id": proposalID,
		"reviewer_id": req.ReviewerID,
		"item_ids":    itemIDs(items),
	})
}

func itemIDs(items []world.FeedbackItem) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

// handleViewFeedback returns the visibility-filtered feedback for a viewer.
//
// BUGGIFY review/double-visibility-check runs the filter twice. The filter
// is a pure function of stored state, so the two evaluations must agree;
// a divergence is exactly the double-check race that once leaked feedback,
// and it surfaces as a 500 so the run fails on it.
func (s *Server) handleViewFeedback(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := s.contentID(w, r)
	if !ok {
		return
	}
	viewerID := r.URL.Query().Get("viewer")
	if viewerID == "" {
		s.badRequest(w, "viewer query parameter is required")
		return
	}

	view, err := s.store.ListFeedback(r.Context(), proposalID, viewerID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	if s.faults.Hit(buggify.TagReviewDoubleVisibility) {
		again, err := s.store.ListFeedback(r.Context(), proposalID, viewerID)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		if again.Blind != view.Blind || len(again.Items) != len(view.Items) {
			s.logger.Error("visibility filter diverged between evaluations",
				"proposal", proposalID, "viewer", viewerID)
			s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{
				Code:    "internal",
				Message: "visibility filter diverged",
			}})
			return
		}
	}

	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGraduation(w http.ResponseWriter, r *http.Request) {
	proposalID, ok := s.contentID(w, r)
	if !ok {
		return
	}

	g, err := s.store.Graduation(r.Context(), proposalID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

// feedbackAction returns the handler for one lifecycle action. The action
// is fixed at route registration; unknown actions never reach here.
func (s *Server) feedbackAction(action store.FeedbackAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		itemID := r.PathValue("itemId")

		var req actorRef
		if err := decode(r, &req); err != nil {
			s.badRequest(w, "invalid body: "+err.Error())
			return
		}
		if req.ActorID == "" {
			s.badRequest(w, "actor_id is required")
			return
		}

		item, err := s.store.TransitionFeedback(r.Context(), itemID, req.ActorID, action)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.logger.Debug("feedback transition",
			"item", item.ID, "action", action, "status", item.Status)
		s.writeJSON(w, http.StatusOK, item)
	}
}
