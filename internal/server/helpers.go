package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"decisiond/internal/auth"
	"decisiond/internal/casework"
	"decisiond/internal/policy"
	"decisiond/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encoding response failed", "error", err)
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// writeError maps platform errors onto HTTP statuses: validation 400,
// missing entities 404, refused transitions / claim races / missing
// active policy 409, bad credentials 401, everything else 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case casework.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case store.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case policy.IsStateRefused(err):
		var refused *policy.StateRefusedError
		errors.As(err, &refused)
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: err.Error(),
			Details: map[string]any{
				"from":           string(refused.From),
				"to":             string(refused.To),
				"actor":          refused.Actor,
				"allowed_actors": refused.AllowedActors,
			},
		})
	case policy.IsNoActivePolicy(err):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case store.IsClaimConflict(err), store.IsConflict(err):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case auth.IsInvalidCredentials(err), auth.IsTokenError(err):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
	case policy.IsConfigError(err):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	default:
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// decodeBody parses a JSON request body, writing 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}
