package server

import (
	"net/http"

	"decisiond/internal/audit"
	"decisiond/internal/casework"
	"decisiond/internal/store"
)

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := s.policies.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": policies, "count": len(policies)})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.policies.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type simulateRequest struct {
	CaseID string `json:"case_id"`
}

// handleSimulatePolicy evaluates a policy's rules against a case's
// stored ensemble without touching case state, for what-if analysis
// before activating a new version.
func (s *Server) handleSimulatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req simulateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.CaseID == "" {
		writeError(w, &casework.ValidationError{Field: "case_id", Message: "is required"})
		return
	}

	p, err := s.policies.Get(ctx, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := s.cases.GetCase(ctx, req.CaseID)
	if err != nil {
		writeError(w, err)
		return
	}
	dec, err := s.db.LatestEnsemble(ctx, req.CaseID)
	if err != nil {
		if store.IsNotFound(err) {
			writeError(w, &casework.ValidationError{Field: "case_id",
				Message: "case has no ensemble decision to simulate against"})
			return
		}
		writeError(w, err)
		return
	}
	evd, err := s.db.LatestEvidence(ctx, req.CaseID)
	if err != nil {
		writeError(w, err)
		return
	}

	sim, err := s.engine.Simulate(ctx, p, &c, &dec, evd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sim)
}

// handleActivatePolicy flips the active policy for a vertical. Admin
// only; the activation is recorded on the policy's own audit chain.
func (s *Server) handleActivatePolicy(w http.ResponseWriter, r *http.Request) {
	actor, user, ok := s.requireHuman(w, r)
	if !ok {
		return
	}
	if user.Role != "admin" {
		http.Error(w, "admin role required", http.StatusForbidden)
		return
	}
	policyID := r.PathValue("id")
	if err := s.policies.Activate(r.Context(), policyID); err != nil {
		writeError(w, err)
		return
	}

	event := audit.NewEvent(policyID, audit.EventPolicyActivated, actor)
	event.PolicyVersion = policyID
	if err := s.log.Append(r.Context(), nil, event); err != nil {
		s.logger.Warn("recording activation event failed", "policy_id", policyID, "error", err)
	}

	p, err := s.policies.Get(r.Context(), policyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
