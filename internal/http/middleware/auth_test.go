package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthedHandler(t *testing.T) (*Authenticator, http.Handler, *string) {
	t.Helper()
	auth := NewAuthenticator([]byte("test-signing-key"))
	var seen string
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return auth, handler, &seen
}

func TestMintAndVerifyRoundTrip(t *testing.T) {
	auth := NewAuthenticator([]byte("test-signing-key"))

	token := auth.MintToken("alice")
	principal, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal)
}

func TestVerifyKeepsDottedPrincipals(t *testing.T) {
	auth := NewAuthenticator([]byte("test-signing-key"))

	token := auth.MintToken("svc.batch.uploader")
	principal, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "svc.batch.uploader", principal)
}

func TestVerifyRejectsForgedSignature(t *testing.T) {
	auth := NewAuthenticator([]byte("test-signing-key"))
	other := NewAuthenticator([]byte("different-key"))

	_, err := auth.Verify(other.MintToken("alice"))
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = auth.Verify("alice")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestMiddlewareAcceptsHeaderToken(t *testing.T) {
	auth, handler, seen := newAuthedHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+auth.MintToken("alice"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", *seen)
}

func TestMiddlewareAcceptsQueryToken(t *testing.T) {
	auth, handler, seen := newAuthedHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/x/stream?token="+auth.MintToken("alice"), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", *seen)
}

func TestMiddlewareRejectsMissingAndBadTokens(t *testing.T) {
	_, handler, _ := newAuthedHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer alice.deadbeef")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
