package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type principalKey struct{}

// Token errors surfaced as 401.
var (
	ErrTokenMissing = errors.New("bearer token missing")
	ErrTokenInvalid = errors.New("bearer token invalid")
)

// Authenticator verifies self-contained bearer tokens of the form
// principal.signature, where the signature binds the principal to the
// service signing key. There is no token store; possession of a valid
// signature is the credential.
type Authenticator struct {
	key []byte
}

// NewAuthenticator creates an authenticator with the given signing key.
func NewAuthenticator(signingKey []byte) *Authenticator {
	return &Authenticator{key: signingKey}
}

// MintToken issues a token for the principal.
func (a *Authenticator) MintToken(principalID string) string {
	return principalID + "." + a.sign(principalID)
}

// Verify checks a token and returns its principal.
func (a *Authenticator) Verify(token string) (string, error) {
	// The principal may contain dots; the signature never does.
	idx := strings.LastIndex(token, ".")
	if idx <= 0 || idx == len(token)-1 {
		return "", ErrTokenInvalid
	}
	principal, signature := token[:idx], token[idx+1:]
	if !hmac.Equal([]byte(a.sign(principal)), []byte(signature)) {
		return "", ErrTokenInvalid
	}
	return principal, nil
}

// Middleware authenticates the request and stores the principal in the
// context. Tokens arrive as an Authorization bearer header or, for
// browser WebSocket clients that cannot set headers, a token query
// parameter.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			unauthorized(w, ErrTokenMissing)
			return
		}
		principal, err := a.Verify(token)
		if err != nil {
			unauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
	})
}

func (a *Authenticator) sign(principalID string) string {
	mac := hmac.New(sha256.New, a.key)
	fmt.Fprintf(mac, "bearer\n%s", principalID)
	return hex.EncodeToString(mac.Sum(nil))
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, err.Error(), http.StatusUnauthorized)
}

// ContextWithPrincipal stores the authenticated principal.
func ContextWithPrincipal(ctx context.Context, principalID string) context.Context {
	return context.WithValue(ctx, principalKey{}, principalID)
}

// PrincipalFromContext returns the authenticated principal, or "".
func PrincipalFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(principalKey{}).(string); ok {
		return p
	}
	return ""
}
