package handler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/audit"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/config"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/domain"
	internalhttp "github.com/CrisisCore-Systems/pain-tracker-auth/internal/http"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/http/handler"
	httpmiddleware "github.com/CrisisCore-Systems/pain-tracker-auth/internal/http/middleware"
	pw "github.com/CrisisCore-Systems/pain-tracker-auth/internal/password"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/ratelimit"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/service"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/token"
)

const (
	testEmail    = "dr.okafor@clinic.test"
	testPassword = "sUper-secret-9000"
)

var testPasswordHash = func() string {
	hash, err := pw.Hash(testPassword)
	if err != nil {
		panic(err)
	}
	return hash
}()

type env struct {
	router  *gin.Engine
	counter *ratelimit.MemoryCounter
	cfg     config.Config
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		ServiceName:       "clinician-auth",
		OrganizationID:    "pain-tracker",
		AccessTokenTTL:    15 * time.Minute,
		RefreshTokenTTL:   7 * 24 * time.Hour,
		ResetTokenTTL:     time.Hour,
		LockoutThreshold:  5,
		LockoutDuration:   30 * time.Minute,
		LoginRateLimit:    5,
		LoginRateWindow:   time.Hour,
		MinPasswordLength: 8,
		Cookies: config.CookieConfig{
			AuthPath:    "/auth",
			AccessName:  "accessToken",
			RefreshName: "refreshToken",
			CSRFName:    "csrfToken",
		},
	}
	logger := zap.NewNop()
	counter := ratelimit.NewMemoryCounter()

	clinicianRepo := &stubClinicianRepo{clinician: domain.Clinician{
		ID:           1,
		Email:        testEmail,
		PasswordHash: testPasswordHash,
		FirstName:    "Chidi",
		LastName:     "Okafor",
		Role:         domain.RoleClinician,
		Status:       domain.ClinicianActive,
	}}
	sessionRepo := &stubSessionRepo{sessions: make(map[string]*domain.Session)}

	generator := token.NewGenerator(token.NewKeyManager(&stubKeyRepo{}), "clinician-auth", cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	csrf := token.NewCSRFSigner([]byte("0123456789abcdef0123456789abcdef"))
	sessionSvc := service.NewSessionService(sessionRepo, generator, csrf, cfg.OrganizationID, logger)
	recorder := audit.NewRecorder(&stubAuditRepo{}, logger)
	authSvc := service.NewAuthService(clinicianRepo, sessionSvc, recorder, counter, cfg, logger)
	resetSvc := service.NewResetService(clinicianRepo, sessionSvc, recorder, cfg, logger)

	authHandler := handler.NewAuthHandler(authSvc, resetSvc, cfg, logger)
	authMiddleware := &httpmiddleware.Auth{Tokens: generator}
	router := internalhttp.NewRouter(cfg, authHandler, authMiddleware, counter, nil)

	return &env{router: router, counter: counter, cfg: cfg}
}

type stubClinicianRepo struct {
	mu        sync.Mutex
	clinician domain.Clinician
}

func (s *stubClinicianRepo) GetByEmail(ctx context.Context, email string) (domain.Clinician, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clinician.Email == email {
		return s.clinician, nil
	}
	return domain.Clinician{}, pgx.ErrNoRows
}

func (s *stubClinicianRepo) GetByID(ctx context.Context, id int64) (domain.Clinician, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clinician.ID == id {
		return s.clinician, nil
	}
	return domain.Clinician{}, pgx.ErrNoRows
}

func (s *stubClinicianRepo) Create(ctx context.Context, clinician domain.Clinician) (domain.Clinician, error) {
	return clinician, nil
}

func (s *stubClinicianRepo) RecordLoginFailure(ctx context.Context, id int64, threshold int, lockedUntil time.Time) (int, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clinician.FailedLoginAttempts++
	if s.clinician.FailedLoginAttempts >= threshold {
		until := lockedUntil
		s.clinician.LockedUntil = &until
	}
	return s.clinician.FailedLoginAttempts, s.clinician.LockedUntil, nil
}

func (s *stubClinicianRepo) ResetLoginFailures(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clinician.FailedLoginAttempts = 0
	s.clinician.LockedUntil = nil
	return nil
}

func (s *stubClinicianRepo) SetResetToken(ctx context.Context, id int64, tokenHash string, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clinician.PasswordResetToken = tokenHash
	exp := expires
	s.clinician.PasswordResetExpires = &exp
	return nil
}

func (s *stubClinicianRepo) GetByResetTokenHash(ctx context.Context, tokenHash string) (domain.Clinician, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clinician.PasswordResetToken != "" && s.clinician.PasswordResetToken == tokenHash {
		return s.clinician, nil
	}
	return domain.Clinician{}, pgx.ErrNoRows
}

func (s *stubClinicianRepo) CompletePasswordReset(ctx context.Context, id int64, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clinician.PasswordHash = passwordHash
	s.clinician.PasswordResetToken = ""
	s.clinician.PasswordResetExpires = nil
	s.clinician.FailedLoginAttempts = 0
	s.clinician.LockedUntil = nil
	return nil
}

func (s *stubClinicianRepo) ListGrants(ctx context.Context, clinicianID int64) ([]domain.Grant, error) {
	return nil, nil
}

type stubSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func (s *stubSessionRepo) Create(ctx context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session.CreatedAt = time.Now().UTC()
	copied := session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *stubSessionRepo) GetByAccessToken(ctx context.Context, clinicianID int64, accessToken string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ClinicianID == clinicianID && sess.AccessToken == accessToken {
			return *sess, nil
		}
	}
	return domain.Session{}, pgx.ErrNoRows
}

func (s *stubSessionRepo) ListActive(ctx context.Context, clinicianID int64) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Session
	for _, sess := range s.sessions {
		if sess.ClinicianID == clinicianID && sess.Status == domain.SessionActive {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (s *stubSessionRepo) RevokeByAccessToken(ctx context.Context, clinicianID int64, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.ClinicianID == clinicianID && sess.AccessToken == accessToken && sess.Status == domain.SessionActive {
			sess.Status = domain.SessionRevoked
		}
	}
	return nil
}

func (s *stubSessionRepo) RevokeAll(ctx context.Context, clinicianID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var revoked int64
	for _, sess := range s.sessions {
		if sess.ClinicianID == clinicianID && sess.Status == domain.SessionActive {
			sess.Status = domain.SessionRevoked
			revoked++
		}
	}
	return revoked, nil
}

type stubAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (s *stubAuditRepo) Insert(ctx context.Context, entry domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

type stubKeyRepo struct {
	mu  sync.Mutex
	key domain.SigningKey
}

func (s *stubKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.key.ID == 0 {
		return domain.SigningKey{}, pgx.ErrNoRows
	}
	return s.key, nil
}

func (s *stubKeyRepo) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key.ID = 1
	s.key = key
	return key, nil
}
