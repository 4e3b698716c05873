package domain

import "time"

// Session statuses.
const (
	SessionActive  = "active"
	SessionRevoked = "revoked"
)

// SessionMetadata carries the CSRF pair bound to the session.
type SessionMetadata struct {
	CSRFToken     string `json:"csrf_token"`
	CSRFSignature string `json:"csrf_signature"`
}

// Session represents one authenticated device binding. The access token
// uniquely identifies at most one active session at a time; revocation only
// flips the status, it does not invalidate the token signature.
type Session struct {
	ID               string
	ClinicianID      int64
	AccessToken      string
	RefreshToken     string
	UserAgent        string
	IPAddress        string
	DeviceName       string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	Status           string
	Metadata         SessionMetadata
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
