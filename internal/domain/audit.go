package domain

import "time"

// Audit outcomes.
const (
	AuditSuccess = "success"
	AuditFailure = "failure"
)

// Audit event types emitted by the authentication flows.
const (
	AuditEventLogin         = "auth.login"
	AuditEventLogout        = "auth.logout"
	AuditEventLockout       = "auth.lockout"
	AuditEventPasswordReset = "auth.password_reset"
	AuditEventRevocation    = "auth.session_revocation"
)

// AuditEntry is an immutable record of a security-state-changing action.
// ClinicianID is nil for pre-authentication failures such as login attempts
// against unknown emails.
type AuditEntry struct {
	ID           int64
	ClinicianID  *int64
	EventType    string
	Action       string
	IPAddress    string
	Outcome      string
	ErrorMessage string
	Details      map[string]any
	OccurredAt   time.Time
}
