package repository

import (
	"context"
	"time"

	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/domain"
)

// ClinicianRepository exposes persistence for clinician accounts.
//
// RecordLoginFailure applies the failure-counter increment and the lockout
// decision in one statement so the store serializes concurrent failed
// attempts per row: the lockout is always computed from the post-increment
// count, and two attempts racing at the threshold converge on a single
// locked state.
type ClinicianRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.Clinician, error)
	GetByID(ctx context.Context, id int64) (domain.Clinician, error)
	Create(ctx context.Context, clinician domain.Clinician) (domain.Clinician, error)
	RecordLoginFailure(ctx context.Context, id int64, threshold int, lockedUntil time.Time) (attempts int, lockout *time.Time, err error)
	ResetLoginFailures(ctx context.Context, id int64) error
	SetResetToken(ctx context.Context, id int64, tokenHash string, expires time.Time) error
	GetByResetTokenHash(ctx context.Context, tokenHash string) (domain.Clinician, error)
	CompletePasswordReset(ctx context.Context, id int64, passwordHash string) error
	ListGrants(ctx context.Context, clinicianID int64) ([]domain.Grant, error)
}

// SessionRepository handles session persistence. Revocations are idempotent:
// revoking an already-revoked session affects zero rows and is not an error.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByAccessToken(ctx context.Context, clinicianID int64, accessToken string) (domain.Session, error)
	ListActive(ctx context.Context, clinicianID int64) ([]domain.Session, error)
	RevokeByAccessToken(ctx context.Context, clinicianID int64, accessToken string) error
	RevokeAll(ctx context.Context, clinicianID int64) (int64, error)
}

// AuditRepository is the append-only audit sink. Entries are never mutated
// or deleted.
type AuditRepository interface {
	Insert(ctx context.Context, entry domain.AuditEntry) error
}
