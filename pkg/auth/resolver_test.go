package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_Resolve(t *testing.T) {
	v := NewHS256Verifier(testSecret, time.Hour)
	resolver := NewResolver(v, "")
	token, err := v.Issue(testIdentity())
	require.NoError(t, err)

	t.Run("cookie", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/teams", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token})

		identity, err := resolver.Resolve(req)
		require.NoError(t, err)
		assert.Equal(t, "user_1", identity.UserID)
	})

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/teams", nil)
		req.Header.Set("Authorization", "Bearer "+token)

		identity, err := resolver.Resolve(req)
		require.NoError(t, err)
		assert.Equal(t, "biz_1", identity.BusinessID)
	})

	t.Run("no credential", func(t *testing.T) {
		_, err := resolver.Resolve(httptest.NewRequest("GET", "/teams", nil))
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("basic auth is ignored", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/teams", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

		_, err := resolver.Resolve(req)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("tampered cookie", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/teams", nil)
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: token + "x"})

		_, err := resolver.Resolve(req)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}
