// Package middleware provides HTTP middleware for the store rating API
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/R3E-Network/store_rating/internal/app/authz"
	"github.com/R3E-Network/store_rating/internal/errors"
	"github.com/R3E-Network/store_rating/internal/httputil"
	"github.com/R3E-Network/store_rating/pkg/logger"
)

// Verifier resolves a bearer credential to an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (authz.Identity, error)
}

// AuthMiddleware authenticates bearer credentials and enforces the role
// table per operation.
type AuthMiddleware struct {
	verifier Verifier
	logger   *logger.Logger
	onReject RejectFunc
}

// RejectFunc observes a request refused before reaching its handler. id is
// zero when the credential itself was refused.
type RejectFunc func(r *http.Request, id authz.Identity, err error)

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(verifier Verifier, log *logger.Logger) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AuthMiddleware{
		verifier: verifier,
		logger:   log,
	}
}

// OnReject registers fn to run after every refusal response is written.
func (m *AuthMiddleware) OnReject(fn RejectFunc) *AuthMiddleware {
	m.onReject = fn
	return m
}

// Handler authenticates the request and stores the identity on its context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.authenticate(r)
		if err != nil {
			m.reject(w, r, authz.Identity{}, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(authz.WithIdentity(r.Context(), id)))
	})
}

// Require authenticates the request and rejects roles not permitted to
// perform op before next runs.
func (m *AuthMiddleware) Require(op authz.Operation, next http.Handler) http.Handler {
	return m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := authz.FromContext(r.Context())
		if err := authz.Authorize(id, op); err != nil {
			m.reject(w, r, id, err)
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func (m *AuthMiddleware) authenticate(r *http.Request) (authz.Identity, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return authz.Identity{}, errors.Unauthorized("Missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return authz.Identity{}, errors.Unauthorized("Invalid Authorization header format")
	}

	return m.verifier.Verify(r.Context(), strings.TrimSpace(parts[1]))
}

func (m *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, id authz.Identity, err error) {
	m.respondError(w, r, err)
	if m.onReject != nil {
		m.onReject(r, id, err)
	}
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteError(w, r, m.logger, err)

	m.logger.WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"kind":   errors.KindOf(err),
	}).Warn("request rejected")
}

// GetIdentity extracts the authenticated identity from context
func GetIdentity(ctx context.Context) (authz.Identity, bool) {
	return authz.FromContext(ctx)
}
