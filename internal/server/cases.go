package server

import (
	"net/http"
	"strconv"

	"decisiond/internal/audit"
	"decisiond/internal/auth"
	"decisiond/internal/casework"
	"decisiond/internal/model"
	"decisiond/internal/store"
)

func (s *Server) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var in casework.CreateCaseInput
	if !decodeBody(w, r, &in) {
		return
	}
	c, err := s.cases.CreateCase(r.Context(), in, auth.ActorFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.CaseFilter{
		Status:   model.CaseStatus(q.Get("status")),
		Vertical: q.Get("vertical"),
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}
	cases, err := s.cases.ListCases(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cases": cases, "count": len(cases)})
}

// caseDetail is the full read model for one case.
type caseDetail struct {
	Case      model.Case              `json:"case"`
	Documents []model.Document        `json:"documents"`
	Evidence  []model.Evidence        `json:"evidence"`
	Ensemble  *model.EnsembleDecision `json:"ensemble,omitempty"`
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := r.PathValue("id")

	c, err := s.cases.GetCase(ctx, caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	docs, err := s.db.ListDocuments(ctx, caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	evd, err := s.db.LatestEvidence(ctx, caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	detail := caseDetail{Case: c, Documents: docs, Evidence: evd}
	if dec, err := s.db.LatestEnsemble(ctx, caseID); err == nil {
		detail.Ensemble = &dec
	} else if !store.IsNotFound(err) {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleSubmitCase submits a case and runs processing synchronously, so
// the response carries the post-pipeline state.
func (s *Server) handleSubmitCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := r.PathValue("id")

	c, err := s.cases.SubmitCase(ctx, caseID, auth.ActorFromContext(ctx))
	if err != nil {
		writeError(w, err)
		return
	}
	if c.Status == model.StatusSubmitted {
		if c, err = s.cases.Process(ctx, caseID); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleProcessCase(w http.ResponseWriter, r *http.Request) {
	c, err := s.cases.Process(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleReviewCase(w http.ResponseWriter, r *http.Request) {
	actor, _, ok := s.requireHuman(w, r)
	if !ok {
		return
	}
	var decision model.ReviewDecision
	if !decodeBody(w, r, &decision) {
		return
	}
	c, err := s.cases.ReviewCase(r.Context(), r.PathValue("id"), decision, actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCaseHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := r.PathValue("id")
	if _, err := s.cases.GetCase(ctx, caseID); err != nil {
		writeError(w, err)
		return
	}
	events, err := s.log.GetCaseHistory(ctx, caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) handleCaseReplay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := r.PathValue("id")
	if _, err := s.cases.GetCase(ctx, caseID); err != nil {
		writeError(w, err)
		return
	}
	events, err := s.log.GetCaseHistory(ctx, caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, audit.Replay(events))
}

func (s *Server) handleCaseVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := r.PathValue("id")
	if _, err := s.cases.GetCase(ctx, caseID); err != nil {
		writeError(w, err)
		return
	}
	status, err := s.log.VerifyCase(ctx, caseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
