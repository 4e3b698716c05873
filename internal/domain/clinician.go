package domain

import "time"

// Clinician statuses. Suspended accounts keep their credentials but may not
// authenticate until an administrator reactivates them.
const (
	ClinicianActive    = "active"
	ClinicianSuspended = "suspended"
)

// Clinician is the identity record for a practitioner account. The login
// state machine mutates the failure counter and lockout fields; the password
// reset flow replaces the hash and clears the reset token pair. Rows are
// never deleted by this service.
type Clinician struct {
	ID                   int64
	Email                string
	PasswordHash         string
	FirstName            string
	LastName             string
	Role                 string
	Status               string
	FailedLoginAttempts  int
	LockedUntil          *time.Time
	MFAEnabled           bool
	MFASecret            string
	PasswordResetToken   string
	PasswordResetExpires *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Locked reports whether the lockout window is still open at now.
func (c Clinician) Locked(now time.Time) bool {
	return c.LockedUntil != nil && c.LockedUntil.After(now)
}
