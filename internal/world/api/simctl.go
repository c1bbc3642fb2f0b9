package api

import (
	"net/http"
	"time"

	"github.com/nerdsane/deep-sci-fi-sub003/internal/buggify"
)

// Simulation-only control surface. These routes are mounted solely when
// Config.SimMode is set; a production server never registers them.

type clockAdvanceRequest struct {
	Millis int64 `json:"millis"`
}

func (s *Server) handleClockAdvance(w http.ResponseWriter, r *http.Request) {
	if s.sim == nil {
		s.badRequest(w, "simulated clock not installed")
		return
	}
	var req clockAdvanceRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, "invalid body: "+err.Error())
		return
	}
	if req.Millis <= 0 {
		s.badRequest(w, "millis must be positive")
		return
	}

	now := s.sim.Advance(time.Duration(req.Millis) * time.Millisecond)
	s.logger.Debug("clock advanced", "millis", req.Millis, "now", now)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"now_ms": now.UnixMilli(),
	})
}

type buggifyRequest struct {
	Tag         string  `json:"tag"`
	Probability float64 `json:"probability"`
}

func (s *Server) handleBuggify(w http.ResponseWriter, r *http.Request) {
	if s.faults == nil {
		s.badRequest(w, "fault registry not installed")
		return
	}
	var req buggifyRequest
	if err := decode(r, &req); err != nil {
		s.badRequest(w, "invalid body: "+err.Error())
		return
	}
	if !buggify.IsKnown(req.Tag) {
		s.badRequest(w, "unknown buggify tag: "+req.Tag)
		return
	}

	s.faults.Enable(req.Tag, req.Probability)
	s.logger.Debug("buggify tag armed", "tag", req.Tag, "probability", req.Probability)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"tag":         req.Tag,
		"probability": req.Probability,
	})
}
