package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/audit"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/autherr"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/config"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/domain"
	pw "github.com/CrisisCore-Systems/pain-tracker-auth/internal/password"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/repository"
)

// ResetService implements the token-based credential replacement flow.
// Tokens are single use, hashed before storage, and time-boxed; a successful
// reset also lifts any lockout and cascade-revokes every active session.
type ResetService struct {
	clinicians repository.ClinicianRepository
	sessions   *SessionService
	recorder   *audit.Recorder
	cfg        config.Config
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewResetService wires dependencies.
func NewResetService(clinicians repository.ClinicianRepository, sessions *SessionService, recorder *audit.Recorder, cfg config.Config, logger *zap.Logger) *ResetService {
	return &ResetService{
		clinicians: clinicians,
		sessions:   sessions,
		recorder:   recorder,
		cfg:        cfg,
		logger:     logger,
		tracer:     otel.Tracer("github.com/CrisisCore-Systems/pain-tracker-auth/internal/service"),
	}
}

// Request issues a reset token for the account, if it exists. The caller
// always receives the same response either way; delivery of the token is a
// collaborator's concern and only the hash is stored.
func (s *ResetService) Request(ctx context.Context, email, ip string) error {
	ctx, span := s.startSpan(ctx, "ResetService.Request")
	defer span.End()

	clinician, err := s.clinicians.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Indistinguishable from the success path by design.
			return nil
		}
		span.RecordError(err)
		return autherr.Infrastructure(err)
	}

	plain := uuid.NewString() + uuid.NewString()
	expires := time.Now().Add(s.cfg.ResetTokenTTL)
	if err := s.clinicians.SetResetToken(ctx, clinician.ID, pw.HashResetToken(plain), expires); err != nil {
		span.RecordError(err)
		return autherr.Infrastructure(err)
	}

	entry := domain.AuditEntry{
		ClinicianID: &clinician.ID,
		EventType:   domain.AuditEventPasswordReset,
		Action:      "reset_requested",
		IPAddress:   ip,
		Outcome:     domain.AuditSuccess,
		Details:     map[string]any{"expires_at": expires.UTC()},
	}
	if err := s.recorder.Record(ctx, entry); err != nil {
		return autherr.Infrastructure(err)
	}

	// Handed to the notification pipeline, never returned to the client.
	s.logger.Debug("password reset token issued", zap.Int64("clinician_id", clinician.ID))
	return nil
}

// Confirm consumes a presented reset token and replaces the credential.
func (s *ResetService) Confirm(ctx context.Context, presentedToken, newPassword, ip string) error {
	ctx, span := s.startSpan(ctx, "ResetService.Confirm")
	defer span.End()

	clinician, err := s.clinicians.GetByResetTokenHash(ctx, pw.HashResetToken(presentedToken))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if auditErr := s.recordConfirm(ctx, nil, ip, domain.AuditFailure, "unknown reset token", nil); auditErr != nil {
				return autherr.Infrastructure(auditErr)
			}
			return autherr.Validation("Invalid or expired reset token.")
		}
		span.RecordError(err)
		return autherr.Infrastructure(err)
	}

	if clinician.PasswordResetExpires == nil || clinician.PasswordResetExpires.Before(time.Now()) {
		if auditErr := s.recordConfirm(ctx, &clinician.ID, ip, domain.AuditFailure, "reset token expired", nil); auditErr != nil {
			return autherr.Infrastructure(auditErr)
		}
		return autherr.Validation("Reset token has expired. Please request a new one.")
	}

	hashed, err := pw.Hash(newPassword)
	if err != nil {
		span.RecordError(err)
		return autherr.Infrastructure(err)
	}

	// One statement replaces the hash, consumes the token, and clears the
	// failure counter and lockout.
	if err := s.clinicians.CompletePasswordReset(ctx, clinician.ID, hashed); err != nil {
		span.RecordError(err)
		return autherr.Infrastructure(err)
	}

	// Mandatory cascade: no pre-reset session may stay valid.
	revoked, err := s.sessions.RevokeAll(ctx, clinician.ID)
	if err != nil {
		span.RecordError(err)
		return autherr.Infrastructure(err)
	}

	if auditErr := s.recordConfirm(ctx, &clinician.ID, ip, domain.AuditSuccess, "", map[string]any{
		"revoked_sessions": revoked,
	}); auditErr != nil {
		return autherr.Infrastructure(auditErr)
	}
	return nil
}

func (s *ResetService) recordConfirm(ctx context.Context, clinicianID *int64, ip, outcome, errorMessage string, details map[string]any) error {
	entry := domain.AuditEntry{
		ClinicianID:  clinicianID,
		EventType:    domain.AuditEventPasswordReset,
		Action:       "reset_confirmed",
		IPAddress:    ip,
		Outcome:      outcome,
		ErrorMessage: errorMessage,
		Details:      details,
	}
	return s.recorder.Record(ctx, entry)
}

func (s *ResetService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}
