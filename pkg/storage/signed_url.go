package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignedURLSigner mints and checks expiring download tokens. A token binds
// a scope (the room that produced the file) to one archived file name.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewSignedURLSigner builds a signer; ttl defaults to 24h when unset.
// A negative ttl yields tokens that are already expired.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &SignedURLSigner{secret: []byte(secret), ttl: ttl}
}

// Generate returns an opaque token for the scoped file name.
func (s *SignedURLSigner) Generate(scope, name string) (string, error) {
	if scope == "" || name == "" {
		return "", fmt.Errorf("scope and name are required")
	}
	if len(s.secret) == 0 {
		return "", fmt.Errorf("signing secret is empty")
	}
	exp := time.Now().Add(s.ttl).Unix()
	payload := fmt.Sprintf("%s\x00%s\x00%d", scope, name, exp)
	encoded := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return encoded + "." + s.sign(encoded), nil
}

// Parse checks the signature and expiry and returns the scope and file name.
func (s *SignedURLSigner) Parse(token string) (string, string, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return "", "", fmt.Errorf("malformed token")
	}
	if !hmac.Equal([]byte(s.sign(encoded)), []byte(sig)) {
		return "", "", fmt.Errorf("token signature mismatch")
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", fmt.Errorf("decode token: %w", err)
	}
	parts := strings.SplitN(string(raw), "\x00", 3)
	if len(parts) != 3 {
		return "", "", fmt.Errorf("malformed token payload")
	}
	exp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", "", fmt.Errorf("malformed token expiry")
	}
	if time.Now().Unix() > exp {
		return "", "", fmt.Errorf("token expired")
	}
	return parts[0], parts[1], nil
}

func (s *SignedURLSigner) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
