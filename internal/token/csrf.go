package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// CSRFSigner binds CSRF tokens to sessions. The signature covers both the
// token and the session id, so a token issued for one session fails
// validation against any other session.
type CSRFSigner struct {
	secret []byte
}

// NewCSRFSigner builds a signer over the given HMAC secret.
func NewCSRFSigner(secret []byte) *CSRFSigner {
	return &CSRFSigner{secret: secret}
}

// IssuePair generates a fresh CSRF token and its session-bound signature.
func (s *CSRFSigner) IssuePair(sessionID string) (csrfToken, signature string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate csrf token: %w", err)
	}
	csrfToken = hex.EncodeToString(raw)
	return csrfToken, s.Sign(csrfToken, sessionID), nil
}

// Sign computes the signature for a token bound to sessionID.
func (s *CSRFSigner) Sign(csrfToken, sessionID string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(csrfToken))
	_, _ = mac.Write([]byte{':'})
	_, _ = mac.Write([]byte(sessionID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate reports whether signature matches the token/session binding.
func (s *CSRFSigner) Validate(csrfToken, sessionID, signature string) bool {
	expected := s.Sign(csrfToken, sessionID)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
