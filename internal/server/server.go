// Package server exposes the decision platform's HTTP API under /v1.
// Routing uses method patterns on http.ServeMux; errors map onto the
// platform taxonomy (validation 400, not found 404, refused transitions
// and claim races 409).
package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"decisiond/internal/audit"
	"decisiond/internal/auth"
	"decisiond/internal/casework"
	"decisiond/internal/metrics"
	"decisiond/internal/model"
	"decisiond/internal/objstore"
	"decisiond/internal/policy"
	"decisiond/internal/store"
)

// Server holds the API's collaborators.
type Server struct {
	db       *store.DB
	cases    *casework.Manager
	policies *policy.Store
	engine   *policy.Engine
	log      *audit.Log
	auth     *auth.Service
	objects  objstore.Storage
	logger   *slog.Logger
	cors     []string
}

// New wires the API server.
func New(db *store.DB, cases *casework.Manager, policies *policy.Store, engine *policy.Engine, log *audit.Log, authSvc *auth.Service, objects objstore.Storage, cors []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		db:       db,
		cases:    cases,
		policies: policies,
		engine:   engine,
		log:      log,
		auth:     authSvc,
		objects:  objects,
		logger:   logger,
		cors:     cors,
	}
}

// Handler builds the routed handler with CORS and token middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/auth/login", s.handleLogin)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /v1/cases", s.handleCreateCase)
	mux.HandleFunc("GET /v1/cases", s.handleListCases)
	mux.HandleFunc("GET /v1/cases/{id}", s.handleGetCase)
	mux.HandleFunc("POST /v1/cases/{id}/submit", s.handleSubmitCase)
	mux.HandleFunc("POST /v1/cases/{id}/process", s.handleProcessCase)
	mux.HandleFunc("POST /v1/cases/{id}/review", s.handleReviewCase)
	mux.HandleFunc("GET /v1/cases/{id}/history", s.handleCaseHistory)
	mux.HandleFunc("GET /v1/cases/{id}/replay", s.handleCaseReplay)
	mux.HandleFunc("GET /v1/cases/{id}/verify", s.handleCaseVerify)
	mux.HandleFunc("POST /v1/cases/{id}/documents", s.handleUploadDocument)
	mux.HandleFunc("GET /v1/cases/{id}/documents", s.handleListDocuments)

	mux.HandleFunc("GET /v1/queues/{role}", s.handleListQueue)
	mux.HandleFunc("POST /v1/queues/{role}/claim", s.handleClaimAssignment)

	mux.HandleFunc("GET /v1/policies", s.handleListPolicies)
	mux.HandleFunc("GET /v1/policies/{id}", s.handleGetPolicy)
	mux.HandleFunc("POST /v1/policies/{id}/simulate", s.handleSimulatePolicy)
	mux.HandleFunc("POST /v1/policies/{id}/activate", s.handleActivatePolicy)

	return s.corsMiddleware(s.tokenMiddleware(mux))
}

// ListenAndServe runs the server until the listener fails or is shut
// down.
func (s *Server) ListenAndServe(addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	s.logger.Info("api server starting", "listen", addr)
	return httpServer.ListenAndServe()
}

// tokenMiddleware loads the user for a bearer token when one is
// present. Endpoints that require a human check the context themselves;
// unauthenticated requests act as the API actor.
func (s *Server) tokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		s.auth.Middleware(next).ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cors {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string     `json:"access_token"`
	TokenType   string     `json:"token_type"`
	User        model.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, &casework.ValidationError{Field: "email/password", Message: "required"})
		return
	}
	token, user, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	})
}

// requireHuman returns the authenticated human actor, writing 401 when
// the request carries no operator token.
func (s *Server) requireHuman(w http.ResponseWriter, r *http.Request) (model.Actor, model.User, bool) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "operator token required", http.StatusUnauthorized)
		return model.Actor{}, model.User{}, false
	}
	return model.Actor{Type: model.ActorHuman, UserID: u.UserID, Role: u.Role}, u, true
}
