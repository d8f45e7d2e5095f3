package auth

import (
	"net/http"
	"strings"
)

// DefaultCookieName is the session cookie set by the web application
const DefaultCookieName = "session_token"

// Resolver extracts the session credential from a request and verifies it
type Resolver struct {
	verifier   Verifier
	cookieName string
}

// NewResolver creates a resolver reading cookieName, then the bearer header
func NewResolver(verifier Verifier, cookieName string) *Resolver {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Resolver{verifier: verifier, cookieName: cookieName}
}

// Resolve returns the caller identity or ErrUnauthenticated
func (r *Resolver) Resolve(req *http.Request) (*Identity, error) {
	token := r.credential(req)
	if token == "" {
		return nil, ErrUnauthenticated
	}
	return r.verifier.Verify(req.Context(), token)
}

func (r *Resolver) credential(req *http.Request) string {
	if cookie, err := req.Cookie(r.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	header := req.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
