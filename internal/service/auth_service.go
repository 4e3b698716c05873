package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/audit"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/autherr"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/config"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/domain"
	pw "github.com/CrisisCore-Systems/pain-tracker-auth/internal/password"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/ratelimit"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/repository"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/totp"
)

// genericLoginMessage is deliberately identical for unknown emails and wrong
// passwords so responses never reveal which field was wrong.
const genericLoginMessage = "Invalid email or password."

// LoginInput is the validated login request entering the state machine.
type LoginInput struct {
	Email      string
	Password   string
	MFACode    string
	DeviceName string
	UserAgent  string
	IPAddress  string
	// ClientKey is the abuse-counter key this request was throttled under;
	// a successful login resets it.
	ClientKey string
}

// LoginResult is the outcome of a successful (or MFA-pending) login.
type LoginResult struct {
	RequiresMFA bool
	Clinician   domain.Clinician
	Permissions []string
	Tokens      *SessionTokens
}

// AuthService orchestrates the login state machine and logout.
type AuthService struct {
	clinicians repository.ClinicianRepository
	sessions   *SessionService
	recorder   *audit.Recorder
	counter    ratelimit.Counter
	cfg        config.Config
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewAuthService wires dependencies.
func NewAuthService(clinicians repository.ClinicianRepository, sessions *SessionService, recorder *audit.Recorder, counter ratelimit.Counter, cfg config.Config, logger *zap.Logger) *AuthService {
	return &AuthService{
		clinicians: clinicians,
		sessions:   sessions,
		recorder:   recorder,
		counter:    counter,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer("github.com/CrisisCore-Systems/pain-tracker-auth/internal/service"),
	}
}

// Login walks the transitions in order: lookup, lockout, status, password,
// MFA, then session issuance. Failure-counter mutations are durable side
// effects applied even when the response stays generic, and the lockout
// decision always uses the post-increment count.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer span.End()

	now := time.Now()

	clinician, err := s.clinicians.GetByEmail(ctx, normalizeEmail(input.Email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if auditErr := s.recordLogin(ctx, nil, input.IPAddress, domain.AuditFailure, "unknown email", nil); auditErr != nil {
				return nil, autherr.Infrastructure(auditErr)
			}
			return nil, autherr.Authentication(genericLoginMessage)
		}
		span.RecordError(err)
		return nil, autherr.Infrastructure(err)
	}

	if clinician.Locked(now) {
		remaining := lockRemainingMinutes(*clinician.LockedUntil, now)
		if auditErr := s.recordLogin(ctx, &clinician.ID, input.IPAddress, domain.AuditFailure, "account locked", map[string]any{
			"locked_until": clinician.LockedUntil.UTC(),
		}); auditErr != nil {
			return nil, autherr.Infrastructure(auditErr)
		}
		return nil, autherr.Authorization(fmt.Sprintf("Account locked. Try again in %d minutes.", remaining))
	}

	if clinician.Status != domain.ClinicianActive {
		if auditErr := s.recordLogin(ctx, &clinician.ID, input.IPAddress, domain.AuditFailure, "account not active", map[string]any{
			"status": clinician.Status,
		}); auditErr != nil {
			return nil, autherr.Infrastructure(auditErr)
		}
		return nil, autherr.Authorization("Account is not active. Contact your administrator.")
	}

	valid, err := pw.Verify(input.Password, clinician.PasswordHash)
	if err != nil {
		span.RecordError(err)
		return nil, autherr.Infrastructure(err)
	}
	if !valid {
		return nil, s.failCredential(ctx, clinician, input.IPAddress, "invalid password")
	}

	if clinician.MFAEnabled {
		if strings.TrimSpace(input.MFACode) == "" {
			// The password was correct, so this is not a rejection: no
			// counter change, and the caller is asked for the second factor.
			return &LoginResult{RequiresMFA: true}, nil
		}
		ok, verr := totp.Verify(clinician.MFASecret, input.MFACode, now)
		if verr != nil {
			span.RecordError(verr)
			return nil, autherr.Infrastructure(verr)
		}
		if !ok {
			return nil, s.failCredential(ctx, clinician, input.IPAddress, "invalid mfa code")
		}
	}

	grants, err := s.clinicians.ListGrants(ctx, clinician.ID)
	if err != nil {
		span.RecordError(err)
		return nil, autherr.Infrastructure(err)
	}
	permissions := domain.PermissionsFor(clinician.Role, grants, now)

	tokens, err := s.sessions.Create(ctx, clinician, DeviceInfo{
		UserAgent:  input.UserAgent,
		IPAddress:  input.IPAddress,
		DeviceName: input.DeviceName,
	})
	if err != nil {
		span.RecordError(err)
		return nil, autherr.Infrastructure(err)
	}

	if err := s.clinicians.ResetLoginFailures(ctx, clinician.ID); err != nil {
		span.RecordError(err)
		return nil, autherr.Infrastructure(err)
	}
	if input.ClientKey != "" {
		s.counter.Reset(ctx, input.ClientKey)
	}

	if auditErr := s.recordLogin(ctx, &clinician.ID, input.IPAddress, domain.AuditSuccess, "", map[string]any{
		"session_id": tokens.SessionID,
	}); auditErr != nil {
		return nil, autherr.Infrastructure(auditErr)
	}

	clinician.FailedLoginAttempts = 0
	clinician.LockedUntil = nil

	return &LoginResult{
		Clinician:   clinician,
		Permissions: permissions,
		Tokens:      tokens,
	}, nil
}

// Logout revokes the presented session, or every session for the clinician
// when revokeAll is set. The token signature authenticates the caller.
func (s *AuthService) Logout(ctx context.Context, accessToken, ip string, revokeAll bool) error {
	ctx, span := s.startSpan(ctx, "AuthService.Logout")
	defer span.End()

	clinicianID, _, err := s.sessions.generator.ValidateAccess(ctx, accessToken)
	if err != nil {
		return autherr.Authentication("Invalid or missing access token.")
	}

	details := map[string]any{"revoke_all": revokeAll}
	if revokeAll {
		revoked, err := s.sessions.RevokeAll(ctx, clinicianID)
		if err != nil {
			span.RecordError(err)
			return autherr.Infrastructure(err)
		}
		details["revoked_sessions"] = revoked
	} else {
		if err := s.sessions.RevokeOne(ctx, clinicianID, accessToken); err != nil {
			span.RecordError(err)
			return autherr.Infrastructure(err)
		}
	}

	entry := domain.AuditEntry{
		ClinicianID: &clinicianID,
		EventType:   domain.AuditEventLogout,
		Action:      "logout",
		IPAddress:   ip,
		Outcome:     domain.AuditSuccess,
		Details:     details,
	}
	if err := s.recorder.Record(ctx, entry); err != nil {
		return autherr.Infrastructure(err)
	}
	return nil
}

// Profile loads a clinician with resolved permissions for authenticated
// profile reads.
func (s *AuthService) Profile(ctx context.Context, clinicianID int64) (domain.Clinician, []string, error) {
	clinician, err := s.clinicians.GetByID(ctx, clinicianID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Clinician{}, nil, autherr.Authentication("Unknown account.")
		}
		return domain.Clinician{}, nil, autherr.Infrastructure(err)
	}
	grants, err := s.clinicians.ListGrants(ctx, clinicianID)
	if err != nil {
		return domain.Clinician{}, nil, autherr.Infrastructure(err)
	}
	return clinician, domain.PermissionsFor(clinician.Role, grants, time.Now()), nil
}

// Sessions lists the caller's active device bindings.
func (s *AuthService) Sessions(ctx context.Context, clinicianID int64) ([]domain.Session, error) {
	sessions, err := s.sessions.ListActive(ctx, clinicianID)
	if err != nil {
		return nil, autherr.Infrastructure(err)
	}
	return sessions, nil
}

// failCredential applies the durable failure side effects shared by the
// password and MFA mismatch transitions, then returns the generic rejection.
func (s *AuthService) failCredential(ctx context.Context, clinician domain.Clinician, ip, reason string) error {
	attempts, lockout, err := s.clinicians.RecordLoginFailure(ctx, clinician.ID, s.cfg.LockoutThreshold, time.Now().Add(s.cfg.LockoutDuration))
	if err != nil {
		return autherr.Infrastructure(err)
	}

	locked := lockout != nil && lockout.After(time.Now())
	details := map[string]any{"failed_attempts": attempts, "locked": locked}
	if locked {
		details["locked_until"] = lockout.UTC()
	}
	if auditErr := s.recordLogin(ctx, &clinician.ID, ip, domain.AuditFailure, reason, details); auditErr != nil {
		return autherr.Infrastructure(auditErr)
	}
	if locked {
		entry := domain.AuditEntry{
			ClinicianID: &clinician.ID,
			EventType:   domain.AuditEventLockout,
			Action:      "lockout_applied",
			IPAddress:   ip,
			Outcome:     domain.AuditSuccess,
			Details:     map[string]any{"failed_attempts": attempts, "locked_until": lockout.UTC()},
		}
		if auditErr := s.recorder.Record(ctx, entry); auditErr != nil {
			return autherr.Infrastructure(auditErr)
		}
	}

	return autherr.Authentication(genericLoginMessage)
}

func (s *AuthService) recordLogin(ctx context.Context, clinicianID *int64, ip, outcome, errorMessage string, details map[string]any) error {
	entry := domain.AuditEntry{
		ClinicianID:  clinicianID,
		EventType:    domain.AuditEventLogin,
		Action:       "login",
		IPAddress:    ip,
		Outcome:      outcome,
		ErrorMessage: errorMessage,
		Details:      details,
	}
	return s.recorder.Record(ctx, entry)
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func lockRemainingMinutes(lockedUntil, now time.Time) int {
	return int(math.Ceil(lockedUntil.Sub(now).Minutes()))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
