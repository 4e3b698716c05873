package service_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/domain"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/repository"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/token"
)

// memoryClinicianRepo mimics the per-row serialization the Postgres
// implementation gets from row locking: every mutation runs under one mutex
// and the lockout decision uses the post-increment count.
type memoryClinicianRepo struct {
	mu         sync.Mutex
	clinicians map[int64]*domain.Clinician
	grants     []domain.Grant
}

var _ repository.ClinicianRepository = (*memoryClinicianRepo)(nil)

func newMemoryClinicianRepo(clinicians ...domain.Clinician) *memoryClinicianRepo {
	repo := &memoryClinicianRepo{clinicians: make(map[int64]*domain.Clinician)}
	for _, c := range clinicians {
		copied := c
		repo.clinicians[c.ID] = &copied
	}
	return repo
}

func (m *memoryClinicianRepo) get(id int64) domain.Clinician {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.clinicians[id]
}

func (m *memoryClinicianRepo) GetByEmail(ctx context.Context, email string) (domain.Clinician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clinicians {
		if c.Email == email {
			return *c, nil
		}
	}
	return domain.Clinician{}, pgx.ErrNoRows
}

func (m *memoryClinicianRepo) GetByID(ctx context.Context, id int64) (domain.Clinician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clinicians[id]; ok {
		return *c, nil
	}
	return domain.Clinician{}, pgx.ErrNoRows
}

func (m *memoryClinicianRepo) Create(ctx context.Context, clinician domain.Clinician) (domain.Clinician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := clinician
	m.clinicians[clinician.ID] = &copied
	return copied, nil
}

func (m *memoryClinicianRepo) RecordLoginFailure(ctx context.Context, id int64, threshold int, lockedUntil time.Time) (int, *time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clinicians[id]
	if !ok {
		return 0, nil, pgx.ErrNoRows
	}
	c.FailedLoginAttempts++
	if c.FailedLoginAttempts >= threshold {
		until := lockedUntil
		c.LockedUntil = &until
	}
	var lockout *time.Time
	if c.LockedUntil != nil {
		until := *c.LockedUntil
		lockout = &until
	}
	return c.FailedLoginAttempts, lockout, nil
}

func (m *memoryClinicianRepo) ResetLoginFailures(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clinicians[id]; ok {
		c.FailedLoginAttempts = 0
		c.LockedUntil = nil
	}
	return nil
}

func (m *memoryClinicianRepo) SetResetToken(ctx context.Context, id int64, tokenHash string, expires time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clinicians[id]; ok {
		c.PasswordResetToken = tokenHash
		exp := expires
		c.PasswordResetExpires = &exp
	}
	return nil
}

func (m *memoryClinicianRepo) GetByResetTokenHash(ctx context.Context, tokenHash string) (domain.Clinician, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.clinicians {
		if c.PasswordResetToken != "" && c.PasswordResetToken == tokenHash {
			return *c, nil
		}
	}
	return domain.Clinician{}, pgx.ErrNoRows
}

func (m *memoryClinicianRepo) CompletePasswordReset(ctx context.Context, id int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clinicians[id]; ok {
		c.PasswordHash = passwordHash
		c.PasswordResetToken = ""
		c.PasswordResetExpires = nil
		c.FailedLoginAttempts = 0
		c.LockedUntil = nil
	}
	return nil
}

func (m *memoryClinicianRepo) ListGrants(ctx context.Context, clinicianID int64) ([]domain.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Grant
	for _, g := range m.grants {
		if g.ClinicianID == clinicianID {
			out = append(out, g)
		}
	}
	return out, nil
}

type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

var _ repository.SessionRepository = (*memorySessionRepo)(nil)

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{sessions: make(map[string]*domain.Session)}
}

func (m *memorySessionRepo) Create(ctx context.Context, session domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *memorySessionRepo) GetByAccessToken(ctx context.Context, clinicianID int64, accessToken string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ClinicianID == clinicianID && s.AccessToken == accessToken {
			return *s, nil
		}
	}
	return domain.Session{}, pgx.ErrNoRows
}

func (m *memorySessionRepo) ListActive(ctx context.Context, clinicianID int64) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Session
	for _, s := range m.sessions {
		if s.ClinicianID == clinicianID && s.Status == domain.SessionActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memorySessionRepo) RevokeByAccessToken(ctx context.Context, clinicianID int64, accessToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ClinicianID == clinicianID && s.AccessToken == accessToken && s.Status == domain.SessionActive {
			s.Status = domain.SessionRevoked
		}
	}
	return nil
}

func (m *memorySessionRepo) RevokeAll(ctx context.Context, clinicianID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var revoked int64
	for _, s := range m.sessions {
		if s.ClinicianID == clinicianID && s.Status == domain.SessionActive {
			s.Status = domain.SessionRevoked
			revoked++
		}
	}
	return revoked, nil
}

func (m *memorySessionRepo) all(clinicianID int64) []domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Session
	for _, s := range m.sessions {
		if s.ClinicianID == clinicianID {
			out = append(out, *s)
		}
	}
	return out
}

// memoryAuditRepo collects entries and can be forced to fail to exercise the
// fail-closed path.
type memoryAuditRepo struct {
	mu       sync.Mutex
	entries  []domain.AuditEntry
	failWith error
}

var _ repository.AuditRepository = (*memoryAuditRepo)(nil)

func (m *memoryAuditRepo) Insert(ctx context.Context, entry domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryAuditRepo) fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = errors.New("audit store unavailable")
}

func (m *memoryAuditRepo) byEvent(eventType string) []domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range m.entries {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (m *memoryAuditRepo) last() domain.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

type memoryKeyRepo struct {
	mu  sync.Mutex
	key domain.SigningKey
}

var _ token.KeyRepository = (*memoryKeyRepo)(nil)

func (m *memoryKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key.ID == 0 {
		return domain.SigningKey{}, pgx.ErrNoRows
	}
	return m.key, nil
}

func (m *memoryKeyRepo) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key.ID = 1
	m.key = key
	return key, nil
}
