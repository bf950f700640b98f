package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Grant errors surfaced to the upload endpoint.
var (
	ErrGrantExpired = errors.New("upload grant expired")
	ErrGrantInvalid = errors.New("upload grant signature invalid")
)

// UploadGrant authorizes one PUT of the original media to a specific blob
// key before the deadline. The signature binds key and deadline to the
// service signing key, so the grant is self-verifying and needs no server
// state.
type UploadGrant struct {
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
	Signature string    `json:"signature"`
}

// Granter issues and verifies upload grants.
type Granter struct {
	key []byte
	ttl time.Duration
}

// NewGranter creates a Granter with the given signing key and grant TTL.
func NewGranter(signingKey []byte, ttl time.Duration) *Granter {
	return &Granter{key: signingKey, ttl: ttl}
}

// Issue signs an upload grant for the given blob key.
func (g *Granter) Issue(blobKey string) (UploadGrant, error) {
	if err := ValidateKey(blobKey); err != nil {
		return UploadGrant{}, err
	}
	expires := time.Now().Add(g.ttl).Truncate(time.Second)
	return UploadGrant{
		Key:       blobKey,
		ExpiresAt: expires,
		Signature: g.sign(blobKey, expires.Unix()),
	}, nil
}

// Verify checks a presented grant against the blob key being written.
// Expiry is checked before the signature so an expired-but-valid grant
// reports the more useful error.
func (g *Granter) Verify(blobKey string, expiresUnix int64, signature string) error {
	if time.Now().Unix() > expiresUnix {
		return ErrGrantExpired
	}
	expected := g.sign(blobKey, expiresUnix)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrGrantInvalid
	}
	return nil
}

func (g *Granter) sign(blobKey string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, g.key)
	fmt.Fprintf(mac, "upload\n%s\n%s", blobKey, strconv.FormatInt(expiresUnix, 10))
	return hex.EncodeToString(mac.Sum(nil))
}
