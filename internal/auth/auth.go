// Package auth authenticates API callers with HTTP basic credentials and
// answers whether their role grants a product feature.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/JakeFAU/infra-api/internal/config"
)

// FeatureEverything grants every product feature to a role that lists it.
const FeatureEverything = "everything"

// ErrInvalidCredentials is returned for unknown users and wrong passwords.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Role   string
}

type identityKey struct{}

// WithIdentity stores id on the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the caller stored by the middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Authenticator checks credentials against the configured users.
type Authenticator struct {
	users  map[string]config.UserConfig
	roles  map[string][]string
	logger *zap.Logger
}

// New builds an Authenticator from configuration.
func New(cfg config.AuthConfig, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	users := make(map[string]config.UserConfig, len(cfg.Users))
	for _, u := range cfg.Users {
		users[strings.ToLower(u.UserID)] = u
	}
	return &Authenticator{users: users, roles: cfg.Roles, logger: logger}
}

// Authenticate verifies userid and password.
func (a *Authenticator) Authenticate(userid, password string) (Identity, error) {
	u, ok := a.users[strings.ToLower(userid)]
	if !ok {
		return Identity{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{UserID: u.UserID, Role: u.Role}, nil
}

// Authorized reports whether the caller's role grants feature.
func (a *Authenticator) Authorized(id Identity, feature string) bool {
	if id.Role == config.SuperAdminRole {
		return true
	}
	features := a.roles[id.Role]
	return slices.Contains(features, FeatureEverything) || slices.Contains(features, feature)
}

// Middleware rejects requests without valid basic credentials. OPTIONS
// requests pass through unauthenticated.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		userid, password, ok := r.BasicAuth()
		if !ok {
			Unauthorized(w)
			return
		}
		id, err := a.Authenticate(userid, password)
		if err != nil {
			a.logger.Info("authentication failed", zap.String("userid", userid), zap.String("path", r.URL.Path))
			Unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// Unauthorized writes the 401 error envelope.
func Unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="infra-api"`)
	writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication failed")
}

// Forbidden writes the 403 error envelope for a missing feature.
func Forbidden(w http.ResponseWriter, feature string) {
	writeError(w, http.StatusForbidden, "forbidden", fmt.Sprintf("Use of the %s feature is forbidden", feature))
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"kind": kind, "message": message},
	})
}

// HashPassword returns a bcrypt hash suitable for auth.users[].password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
