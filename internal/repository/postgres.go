package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/domain"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/token"
)

// Compile-time interface assertions.
var (
	_ ClinicianRepository = (*PostgresClinicianRepo)(nil)
	_ SessionRepository   = (*PostgresSessionRepo)(nil)
	_ AuditRepository     = (*PostgresAuditRepo)(nil)
	_ token.KeyRepository = (*PostgresKeyRepo)(nil)
)

const clinicianColumns = `id, email, password_hash, first_name, last_name, role, status,
failed_login_attempts, locked_until, mfa_enabled, mfa_secret,
password_reset_token, password_reset_expires, created_at, updated_at`

// PostgresClinicianRepo implements ClinicianRepository using pgx.
type PostgresClinicianRepo struct {
	db *pgxpool.Pool
}

func NewPostgresClinicianRepo(pool *pgxpool.Pool) *PostgresClinicianRepo {
	return &PostgresClinicianRepo{db: pool}
}

func (r *PostgresClinicianRepo) GetByEmail(ctx context.Context, email string) (domain.Clinician, error) {
	query := fmt.Sprintf("SELECT %s FROM clinicians WHERE email = $1", clinicianColumns)
	return r.scanClinician(ctx, query, strings.ToLower(strings.TrimSpace(email)))
}

func (r *PostgresClinicianRepo) GetByID(ctx context.Context, id int64) (domain.Clinician, error) {
	query := fmt.Sprintf("SELECT %s FROM clinicians WHERE id = $1", clinicianColumns)
	return r.scanClinician(ctx, query, id)
}

const insertClinicianSQL = `INSERT INTO clinicians (id, email, password_hash, first_name, last_name, role, status, mfa_enabled)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING created_at, updated_at`

func (r *PostgresClinicianRepo) Create(ctx context.Context, clinician domain.Clinician) (domain.Clinician, error) {
	err := r.db.QueryRow(ctx, insertClinicianSQL,
		clinician.ID,
		strings.ToLower(strings.TrimSpace(clinician.Email)),
		clinician.PasswordHash,
		clinician.FirstName,
		clinician.LastName,
		clinician.Role,
		clinician.Status,
		clinician.MFAEnabled,
	).Scan(&clinician.CreatedAt, &clinician.UpdatedAt)
	if err != nil {
		return domain.Clinician{}, fmt.Errorf("create clinician: %w", err)
	}
	return clinician, nil
}

// The increment and the threshold decision run in one UPDATE so Postgres
// row-locking serializes concurrent failed attempts; the CASE sees the
// post-increment count.
const recordFailureSQL = `UPDATE clinicians
SET failed_login_attempts = failed_login_attempts + 1,
    locked_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN $3 ELSE locked_until END,
    updated_at = now()
WHERE id = $1
RETURNING failed_login_attempts, locked_until`

func (r *PostgresClinicianRepo) RecordLoginFailure(ctx context.Context, id int64, threshold int, lockedUntil time.Time) (int, *time.Time, error) {
	var (
		attempts int
		lockout  sql.NullTime
	)
	if err := r.db.QueryRow(ctx, recordFailureSQL, id, threshold, lockedUntil).Scan(&attempts, &lockout); err != nil {
		return 0, nil, fmt.Errorf("record login failure: %w", err)
	}
	return attempts, nullableTime(lockout), nil
}

func (r *PostgresClinicianRepo) ResetLoginFailures(ctx context.Context, id int64) error {
	const query = `UPDATE clinicians
SET failed_login_attempts = 0, locked_until = NULL, updated_at = now()
WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}
	return nil
}

func (r *PostgresClinicianRepo) SetResetToken(ctx context.Context, id int64, tokenHash string, expires time.Time) error {
	const query = `UPDATE clinicians
SET password_reset_token = $2, password_reset_expires = $3, updated_at = now()
WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id, tokenHash, expires); err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return nil
}

func (r *PostgresClinicianRepo) GetByResetTokenHash(ctx context.Context, tokenHash string) (domain.Clinician, error) {
	query := fmt.Sprintf("SELECT %s FROM clinicians WHERE password_reset_token = $1", clinicianColumns)
	return r.scanClinician(ctx, query, tokenHash)
}

// CompletePasswordReset replaces the hash, consumes the reset token, and
// lifts any lockout in a single statement.
func (r *PostgresClinicianRepo) CompletePasswordReset(ctx context.Context, id int64, passwordHash string) error {
	const query = `UPDATE clinicians
SET password_hash = $2,
    password_reset_token = NULL,
    password_reset_expires = NULL,
    failed_login_attempts = 0,
    locked_until = NULL,
    updated_at = now()
WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id, passwordHash); err != nil {
		return fmt.Errorf("complete password reset: %w", err)
	}
	return nil
}

func (r *PostgresClinicianRepo) ListGrants(ctx context.Context, clinicianID int64) ([]domain.Grant, error) {
	const query = `SELECT clinician_id, permission, expires_at
FROM clinician_grants
WHERE clinician_id = $1`
	rows, err := r.db.Query(ctx, query, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var grants []domain.Grant
	for rows.Next() {
		var (
			grant   domain.Grant
			expires sql.NullTime
		)
		if err := rows.Scan(&grant.ClinicianID, &grant.Permission, &expires); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grant.ExpiresAt = nullableTime(expires)
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return grants, nil
}

func (r *PostgresClinicianRepo) scanClinician(ctx context.Context, query string, arg any) (domain.Clinician, error) {
	var (
		c            domain.Clinician
		lockedUntil  sql.NullTime
		mfaSecret    sql.NullString
		resetToken   sql.NullString
		resetExpires sql.NullTime
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&c.ID,
		&c.Email,
		&c.PasswordHash,
		&c.FirstName,
		&c.LastName,
		&c.Role,
		&c.Status,
		&c.FailedLoginAttempts,
		&lockedUntil,
		&c.MFAEnabled,
		&mfaSecret,
		&resetToken,
		&resetExpires,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return domain.Clinician{}, fmt.Errorf("get clinician: %w", err)
	}
	c.LockedUntil = nullableTime(lockedUntil)
	c.MFASecret = mfaSecret.String
	c.PasswordResetToken = resetToken.String
	c.PasswordResetExpires = nullableTime(resetExpires)
	return c, nil
}

// PostgresSessionRepo implements SessionRepository.
type PostgresSessionRepo struct {
	db *pgxpool.Pool
}

func NewPostgresSessionRepo(pool *pgxpool.Pool) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: pool}
}

const insertSessionSQL = `INSERT INTO sessions (id, clinician_id, access_token, refresh_token, user_agent, ip_address, device_name, expires_at, refresh_expires_at, status, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

func (r *PostgresSessionRepo) Create(ctx context.Context, session domain.Session) error {
	metadata, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	_, err = r.db.Exec(ctx, insertSessionSQL,
		session.ID,
		session.ClinicianID,
		session.AccessToken,
		session.RefreshToken,
		session.UserAgent,
		session.IPAddress,
		session.DeviceName,
		session.ExpiresAt,
		session.RefreshExpiresAt,
		session.Status,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

const sessionColumns = `id, clinician_id, access_token, refresh_token, user_agent, ip_address, device_name,
expires_at, refresh_expires_at, status, metadata, created_at, updated_at`

func (r *PostgresSessionRepo) GetByAccessToken(ctx context.Context, clinicianID int64, accessToken string) (domain.Session, error) {
	query := fmt.Sprintf("SELECT %s FROM sessions WHERE clinician_id = $1 AND access_token = $2", sessionColumns)
	row := r.db.QueryRow(ctx, query, clinicianID, accessToken)
	return scanSession(row)
}

func (r *PostgresSessionRepo) ListActive(ctx context.Context, clinicianID int64) ([]domain.Session, error) {
	query := fmt.Sprintf("SELECT %s FROM sessions WHERE clinician_id = $1 AND status = $2 ORDER BY created_at DESC", sessionColumns)
	rows, err := r.db.Query(ctx, query, clinicianID, domain.SessionActive)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (r *PostgresSessionRepo) RevokeByAccessToken(ctx context.Context, clinicianID int64, accessToken string) error {
	const query = `UPDATE sessions
SET status = $3, updated_at = now()
WHERE clinician_id = $1 AND access_token = $2 AND status = $4`
	if _, err := r.db.Exec(ctx, query, clinicianID, accessToken, domain.SessionRevoked, domain.SessionActive); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (r *PostgresSessionRepo) RevokeAll(ctx context.Context, clinicianID int64) (int64, error) {
	const query = `UPDATE sessions
SET status = $2, updated_at = now()
WHERE clinician_id = $1 AND status = $3`
	tag, err := r.db.Exec(ctx, query, clinicianID, domain.SessionRevoked, domain.SessionActive)
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (domain.Session, error) {
	var (
		s        domain.Session
		metadata []byte
	)
	err := row.Scan(
		&s.ID,
		&s.ClinicianID,
		&s.AccessToken,
		&s.RefreshToken,
		&s.UserAgent,
		&s.IPAddress,
		&s.DeviceName,
		&s.ExpiresAt,
		&s.RefreshExpiresAt,
		&s.Status,
		&metadata,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return domain.Session{}, fmt.Errorf("scan session: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return domain.Session{}, fmt.Errorf("decode session metadata: %w", err)
		}
	}
	return s, nil
}

// PostgresAuditRepo implements AuditRepository.
type PostgresAuditRepo struct {
	db *pgxpool.Pool
}

func NewPostgresAuditRepo(pool *pgxpool.Pool) *PostgresAuditRepo {
	return &PostgresAuditRepo{db: pool}
}

const insertAuditSQL = `INSERT INTO audit_log (clinician_id, event_type, action, ip_address, outcome, error_message, details, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (r *PostgresAuditRepo) Insert(ctx context.Context, entry domain.AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	var clinicianID sql.NullInt64
	if entry.ClinicianID != nil {
		clinicianID = sql.NullInt64{Int64: *entry.ClinicianID, Valid: true}
	}
	_, err = r.db.Exec(ctx, insertAuditSQL,
		clinicianID,
		entry.EventType,
		entry.Action,
		entry.IPAddress,
		entry.Outcome,
		entry.ErrorMessage,
		details,
		entry.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// PostgresKeyRepo implements token.KeyRepository.
type PostgresKeyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresKeyRepo(pool *pgxpool.Pool) *PostgresKeyRepo {
	return &PostgresKeyRepo{db: pool}
}

func (r *PostgresKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	const query = `SELECT id, kid, secret, algorithm, is_active, created_at, rotated_at
FROM signing_keys
WHERE is_active
ORDER BY created_at DESC
LIMIT 1`
	var (
		key       domain.SigningKey
		rotatedAt sql.NullTime
	)
	err := r.db.QueryRow(ctx, query).Scan(&key.ID, &key.KID, &key.Secret, &key.Algorithm, &key.IsActive, &key.CreatedAt, &rotatedAt)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("get signing key: %w", err)
	}
	key.RotatedAt = nullableTime(rotatedAt)
	return key, nil
}

func (r *PostgresKeyRepo) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	const query = `INSERT INTO signing_keys (kid, secret, algorithm, is_active)
VALUES ($1, $2, $3, true)
RETURNING id, created_at`
	err := r.db.QueryRow(ctx, query, key.KID, key.Secret, key.Algorithm).Scan(&key.ID, &key.CreatedAt)
	if err != nil {
		return domain.SigningKey{}, fmt.Errorf("insert signing key: %w", err)
	}
	key.IsActive = true
	return key, nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if t.Valid {
		return &t.Time
	}
	return nil
}
