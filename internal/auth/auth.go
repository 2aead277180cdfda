// Package auth issues and verifies the bearer tokens operators use on
// the review surface. Passwords are bcrypt hashes; tokens are HS256
// JWTs carrying the user ID and role.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"decisiond/internal/model"
	"decisiond/internal/store"
)

// DefaultSecret is the development signing key. Production refuses it.
const DefaultSecret = "your-secret-key-change-in-production"

// DefaultTokenTTL is the access token lifetime when unconfigured.
const DefaultTokenTTL = 30 * time.Minute

// InvalidCredentialsError covers unknown users, wrong passwords and
// inactive accounts, without distinguishing them to the caller.
type InvalidCredentialsError struct{}

func (*InvalidCredentialsError) Error() string { return "invalid credentials" }

// IsInvalidCredentials reports whether err is an InvalidCredentialsError.
func IsInvalidCredentials(err error) bool {
	_, ok := err.(*InvalidCredentialsError)
	return ok
}

// TokenError reports a token that failed verification.
type TokenError struct{ Reason string }

func (e *TokenError) Error() string { return "invalid token: " + e.Reason }

// IsTokenError reports whether err is a TokenError.
func IsTokenError(err error) bool {
	_, ok := err.(*TokenError)
	return ok
}

// Claims is the JWT payload for an operator session.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Service authenticates operators against the user table.
type Service struct {
	db     *store.DB
	secret []byte
	ttl    time.Duration
}

// NewService wires an auth service. When environment is "production"
// the default development secret is refused.
func NewService(db *store.DB, secret, environment string, ttl time.Duration) (*Service, error) {
	if secret == "" {
		secret = DefaultSecret
	}
	if environment == "production" && secret == DefaultSecret {
		return nil, fmt.Errorf("refusing to run in production with the default secret key")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{db: db, secret: []byte(secret), ttl: ttl}, nil
}

// HashPassword bcrypt-hashes a plain password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Login verifies credentials and returns a signed access token.
func (s *Service) Login(ctx context.Context, email, password string) (string, model.User, error) {
	u, err := s.db.GetUserByEmail(ctx, email)
	if store.IsNotFound(err) {
		return "", model.User{}, &InvalidCredentialsError{}
	}
	if err != nil {
		return "", model.User{}, err
	}
	if !u.Active {
		return "", model.User{}, &InvalidCredentialsError{}
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", model.User{}, &InvalidCredentialsError{}
	}

	token, err := s.IssueToken(u)
	if err != nil {
		return "", model.User{}, err
	}
	if err := s.db.TouchLastLogin(ctx, u.UserID); err != nil {
		return "", model.User{}, err
	}
	return token, u, nil
}

// IssueToken signs an access token for a user.
func (s *Service) IssueToken(u model.User) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// VerifyToken parses and validates an access token.
func (s *Service) VerifyToken(tokenString string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return Claims{}, &TokenError{Reason: err.Error()}
	}
	if !token.Valid || claims.Subject == "" {
		return Claims{}, &TokenError{Reason: "missing subject"}
	}
	return claims, nil
}

type contextKey struct{}

// UserFromContext returns the authenticated user placed by Middleware.
func UserFromContext(ctx context.Context) (model.User, bool) {
	u, ok := ctx.Value(contextKey{}).(model.User)
	return u, ok
}

// ActorFromContext derives the audit actor for a request: the
// authenticated human when present, the API actor otherwise.
func ActorFromContext(ctx context.Context) model.Actor {
	if u, ok := UserFromContext(ctx); ok {
		return model.Actor{Type: model.ActorHuman, UserID: u.UserID, Role: u.Role}
	}
	return model.Actor{Type: model.ActorAPI}
}

// Middleware requires a valid bearer token and loads the user onto the
// request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		claims, err := s.VerifyToken(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		u, err := s.db.GetUser(r.Context(), claims.Subject)
		if err != nil || !u.Active {
			http.Error(w, "account unavailable", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, u)))
	})
}

// RequireRole wraps a handler so only listed roles reach it.
func RequireRole(next http.Handler, roles ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFromContext(r.Context())
		if !ok {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		for _, role := range roles {
			if u.Role == role {
				next.ServeHTTP(w, r)
				return
			}
		}
		http.Error(w, "insufficient role", http.StatusForbidden)
	})
}
