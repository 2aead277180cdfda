package server

import (
	"net/http"
	"strconv"

	"decisiond/internal/audit"
	"decisiond/internal/casework"
	"decisiond/internal/metrics"
)

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	role := r.PathValue("role")
	queue := "queue_" + role
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	assignments, err := s.db.ListQueue(r.Context(), queue, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	depth, err := s.db.QueueDepth(r.Context(), queue)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.QueueDepthSet(queue, depth)
	writeJSON(w, http.StatusOK, map[string]any{
		"queue":       queue,
		"depth":       depth,
		"assignments": assignments,
	})
}

type claimRequest struct {
	AssignmentID string `json:"assignment_id"`
}

func (s *Server) handleClaimAssignment(w http.ResponseWriter, r *http.Request) {
	actor, user, ok := s.requireHuman(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AssignmentID == "" {
		writeError(w, &casework.ValidationError{Field: "assignment_id", Message: "is required"})
		return
	}

	a, err := s.db.ClaimAssignment(r.Context(), req.AssignmentID, user.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	event := audit.NewEvent(a.CaseID, audit.EventReviewClaimed, actor)
	event.Metadata = map[string]any{
		"assignment_id": a.AssignmentID,
		"queue":         a.Queue,
	}
	if err := s.log.Append(r.Context(), nil, event); err != nil {
		s.logger.Warn("recording claim event failed",
			"assignment_id", a.AssignmentID, "error", err)
	}
	writeJSON(w, http.StatusOK, a)
}
