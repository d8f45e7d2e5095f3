package middleware

import (
	"net/http"

	"github.com/finoly/finoly/pkg/auth"
	"github.com/finoly/finoly/pkg/contextkeys"
	"github.com/finoly/finoly/pkg/httputil"
	"github.com/sirupsen/logrus"
)

// IdentityResolver resolves the caller of a request
type IdentityResolver interface {
	Resolve(r *http.Request) (*auth.Identity, error)
}

// AuthMiddleware rejects requests without a valid session
type AuthMiddleware struct {
	resolver IdentityResolver
	logger   *logrus.Logger
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(resolver IdentityResolver, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{resolver: resolver, logger: logger}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.resolver.Resolve(r)
		if err != nil || identity == nil || identity.UserID == "" {
			httputil.LoggerFrom(r, m.logger).WithError(err).Debug("unauthenticated request")
			httputil.WriteUnauthorized(w, "Authentication required")
			return
		}

		ctx := contextkeys.WithIdentity(r.Context(), identity)
		ctx = contextkeys.WithUserID(ctx, identity.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity extracts the caller identity from request
func GetIdentity(r *http.Request) *auth.Identity {
	identity, ok := contextkeys.GetIdentity(r.Context()).(*auth.Identity)
	if !ok {
		return nil
	}
	return identity
}

// WithIdentity returns a copy of r carrying identity, for handler tests
func WithIdentity(r *http.Request, identity *auth.Identity) *http.Request {
	ctx := contextkeys.WithIdentity(r.Context(), identity)
	ctx = contextkeys.WithUserID(ctx, identity.UserID)
	return r.WithContext(ctx)
}
