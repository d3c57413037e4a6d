// Copyright 2025 AetherEngine
//
// HTTP Middleware - bearer auth with RBAC, CORS allowlist, request metrics
//
// Auth: every request outside the public allowlist must carry
// Authorization: Bearer <token>. Tokens resolve via environment values or
// the users table keyed by sha256(token); comparison is constant-time.
// Mutating methods require the admin role.
//
// CORS: exact-origin allowlist. Responses for disallowed origins omit
// Access-Control-Allow-Origin entirely; there is no wildcard fallback.

package server

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/aether-engine/aether/pkg/apierror"
	"github.com/aether-engine/aether/pkg/config"
	"github.com/aether-engine/aether/pkg/database"
	"github.com/aether-engine/aether/pkg/metrics"
)

// Identity is the authenticated caller
type Identity struct {
	Role    database.Role
	Subject string
}

type contextKey string

const identityKey contextKey = "identity"

// IdentityFrom extracts the authenticated identity, if any
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok
}

// publicPaths never require auth
var publicPaths = map[string]bool{
	"/health":       true,
	"/readyz":       true,
	"/startupz":     true,
	"/metrics":      true,
	"/openapi.json": true,
}

// Middleware bundles the cross-cutting request filters
type Middleware struct {
	cfg    *config.Config
	repos  *database.Repositories
	logger *log.Logger
}

// NewMiddleware creates the middleware set
func NewMiddleware(cfg *config.Config, repos *database.Repositories, logger *log.Logger) *Middleware {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	return &Middleware{cfg: cfg, repos: repos, logger: logger}
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.Fields(header)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

func ctEqual(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (m *Middleware) resolveEnvToken(token string) *Identity {
	if m.cfg.AdminToken != "" && ctEqual(m.cfg.AdminToken, token) {
		return &Identity{Role: database.RoleAdmin, Subject: "admin_env"}
	}
	if m.cfg.UserToken != "" && ctEqual(m.cfg.UserToken, token) {
		return &Identity{Role: database.RoleUser, Subject: "user_env"}
	}
	return nil
}

func (m *Middleware) resolveDBToken(ctx context.Context, token string) *Identity {
	sum := sha256.Sum256([]byte(token))
	user, err := m.repos.Users.GetByTokenHash(ctx, hex.EncodeToString(sum[:]))
	if err != nil {
		return nil
	}
	return &Identity{Role: user.Role, Subject: user.Subject}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Auth enforces the bearer gate and admin RBAC on mutating routes
func (m *Middleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.cfg.AuthEnabled || publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearer(r)
		if token == "" {
			apierror.Write(w, apierror.Unauthorized("missing bearer token"))
			return
		}

		var identity *Identity
		if m.cfg.AuthMode == config.AuthModeDB {
			identity = m.resolveDBToken(r.Context(), token)
		} else {
			identity = m.resolveEnvToken(token)
		}
		if identity == nil {
			apierror.Write(w, apierror.Unauthorized("invalid token"))
			return
		}

		if isMutating(r.Method) && identity.Role != database.RoleAdmin {
			apierror.Write(w, apierror.Forbidden("admin required"))
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CORS applies the exact-origin allowlist
func (m *Middleware) CORS(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(m.cfg.CORSAllowedOrigins))
	for _, o := range m.cfg.CORSAllowedOrigins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PATCH, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, If-None-Match")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Metrics counts requests by method, path, and status
func (m *Middleware) Metrics(reg *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			reg.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		})
	}
}
