package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"decisiond/internal/model"
	"decisiond/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "auth_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := NewService(db, "test-secret", "development", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return s, db
}

func seedUser(t *testing.T, db *store.DB, email, password, role string, active bool) model.User {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatal(err)
	}
	u := model.User{
		UserID:       "usr_" + role,
		Email:        email,
		Role:         role,
		PasswordHash: hash,
		Active:       active,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.CreateUser(context.Background(), &u); err != nil {
		t.Fatal(err)
	}
	return u
}

func TestNewServiceRefusesDefaultSecretInProduction(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "auth_prod.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := NewService(db, "", "production", 0); err == nil {
		t.Fatal("production with default secret accepted")
	}
	if _, err := NewService(db, "real-secret", "production", 0); err != nil {
		t.Fatalf("production with real secret refused: %v", err)
	}
}

func TestLoginRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, db := newTestService(t)
	seedUser(t, db, "analyst@example.com", "s3cret", "kyc_analyst", true)

	token, u, err := s.Login(ctx, "analyst@example.com", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if u.Role != "kyc_analyst" {
		t.Errorf("role = %s", u.Role)
	}

	claims, err := s.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != u.UserID || claims.Role != "kyc_analyst" {
		t.Errorf("claims = %+v", claims)
	}

	stored, err := db.GetUser(ctx, u.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.LastLogin == nil {
		t.Error("last_login not recorded")
	}
}

func TestLoginFailures(t *testing.T) {
	ctx := context.Background()
	s, db := newTestService(t)
	seedUser(t, db, "analyst@example.com", "s3cret", "kyc_analyst", true)
	seedUser(t, db, "gone@example.com", "s3cret", "former_analyst", false)

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong-password", "analyst@example.com", "wrong"},
		{"unknown-user", "nobody@example.com", "s3cret"},
		{"inactive-user", "gone@example.com", "s3cret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := s.Login(ctx, tt.email, tt.password); !IsInvalidCredentials(err) {
				t.Errorf("err = %v, want InvalidCredentialsError", err)
			}
		})
	}
}

func TestVerifyTokenRejectsForgedToken(t *testing.T) {
	s, db := newTestService(t)
	other, err := NewService(db, "other-secret", "development", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	forged, err := other.IssueToken(model.User{UserID: "usr_x", Role: "admin"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.VerifyToken(forged); !IsTokenError(err) {
		t.Fatalf("err = %v, want TokenError", err)
	}
	if _, err := s.VerifyToken("not-a-token"); !IsTokenError(err) {
		t.Fatalf("err = %v, want TokenError", err)
	}
}

func TestMiddlewareLoadsUser(t *testing.T) {
	s, db := newTestService(t)
	u := seedUser(t, db, "analyst@example.com", "s3cret", "kyc_analyst", true)
	token, err := s.IssueToken(u)
	if err != nil {
		t.Fatal(err)
	}

	var gotActor model.Actor
	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotActor = ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/cases", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if gotActor.Type != model.ActorHuman || gotActor.UserID != u.UserID {
		t.Errorf("actor = %+v", gotActor)
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/cases", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("no-token status = %d, want 401", rr.Code)
	}
}

func TestRequireRole(t *testing.T) {
	s, db := newTestService(t)
	u := seedUser(t, db, "analyst@example.com", "s3cret", "kyc_analyst", true)
	token, err := s.IssueToken(u)
	if err != nil {
		t.Fatal(err)
	}

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	admin := s.Middleware(RequireRole(inner, "admin"))
	analyst := s.Middleware(RequireRole(inner, "admin", "kyc_analyst"))

	req := httptest.NewRequest(http.MethodGet, "/v1/policies", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	rr := httptest.NewRecorder()
	admin.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("admin-only status = %d, want 403", rr.Code)
	}

	rr = httptest.NewRecorder()
	analyst.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("analyst status = %d, want 200", rr.Code)
	}
}
