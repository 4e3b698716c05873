package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/domain"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/repository"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/token"
)

// DeviceInfo captures the request metadata bound to a new session.
type DeviceInfo struct {
	UserAgent  string
	IPAddress  string
	DeviceName string
}

// SessionTokens is the credential set minted for one authenticated device.
type SessionTokens struct {
	SessionID        string
	AccessToken      string
	RefreshToken     string
	CSRFToken        string
	CSRFSignature    string
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
}

// SessionService issues, revokes, and lists sessions. Tokens are signed,
// self-contained credentials; the session row records status so middleware
// can enforce live-session semantics where required.
type SessionService struct {
	sessions  repository.SessionRepository
	generator *token.Generator
	csrf      *token.CSRFSigner
	orgID     string
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewSessionService wires dependencies.
func NewSessionService(sessions repository.SessionRepository, generator *token.Generator, csrf *token.CSRFSigner, orgID string, logger *zap.Logger) *SessionService {
	return &SessionService{
		sessions:  sessions,
		generator: generator,
		csrf:      csrf,
		orgID:     orgID,
		logger:    logger,
		tracer:    otel.Tracer("github.com/CrisisCore-Systems/pain-tracker-auth/internal/service"),
	}
}

// Create mints the access/refresh pair, persists the session row, and binds
// a CSRF token to the session id.
func (s *SessionService) Create(ctx context.Context, clinician domain.Clinician, device DeviceInfo) (*SessionTokens, error) {
	ctx, span := s.startSpan(ctx, "SessionService.Create")
	defer span.End()

	sessionID := uuid.NewString()

	access, err := s.generator.SignAccess(ctx, clinician, s.orgID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := s.generator.SignRefresh(ctx, clinician.ID, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	csrfToken, csrfSignature, err := s.csrf.IssuePair(sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("issue csrf pair: %w", err)
	}

	now := time.Now().UTC()
	session := domain.Session{
		ID:               sessionID,
		ClinicianID:      clinician.ID,
		AccessToken:      access,
		RefreshToken:     refresh,
		UserAgent:        device.UserAgent,
		IPAddress:        device.IPAddress,
		DeviceName:       device.DeviceName,
		ExpiresAt:        now.Add(s.generator.AccessTTL()),
		RefreshExpiresAt: now.Add(s.generator.RefreshTTL()),
		Status:           domain.SessionActive,
		Metadata: domain.SessionMetadata{
			CSRFToken:     csrfToken,
			CSRFSignature: csrfSignature,
		},
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist session: %w", err)
	}

	return &SessionTokens{
		SessionID:        sessionID,
		AccessToken:      access,
		RefreshToken:     refresh,
		CSRFToken:        csrfToken,
		CSRFSignature:    csrfSignature,
		ExpiresAt:        session.ExpiresAt,
		RefreshExpiresAt: session.RefreshExpiresAt,
	}, nil
}

// RevokeOne marks the single active session matching (clinician, access
// token) as revoked. Revoking an already-revoked session is a no-op.
func (s *SessionService) RevokeOne(ctx context.Context, clinicianID int64, accessToken string) error {
	ctx, span := s.startSpan(ctx, "SessionService.RevokeOne")
	defer span.End()

	if err := s.sessions.RevokeByAccessToken(ctx, clinicianID, accessToken); err != nil {
		span.RecordError(err)
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAll marks every active session for the clinician as revoked and
// returns how many were affected.
func (s *SessionService) RevokeAll(ctx context.Context, clinicianID int64) (int64, error) {
	ctx, span := s.startSpan(ctx, "SessionService.RevokeAll")
	defer span.End()

	revoked, err := s.sessions.RevokeAll(ctx, clinicianID)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	return revoked, nil
}

// ListActive returns the clinician's active device bindings.
func (s *SessionService) ListActive(ctx context.Context, clinicianID int64) ([]domain.Session, error) {
	return s.sessions.ListActive(ctx, clinicianID)
}

// VerifyCSRF checks a presented CSRF token/signature pair against its
// session binding.
func (s *SessionService) VerifyCSRF(csrfToken, sessionID, signature string) bool {
	return s.csrf.Validate(csrfToken, sessionID, signature)
}

func (s *SessionService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}
