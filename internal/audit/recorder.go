// Package audit records every authentication-relevant action. The recorder
// is synchronous and fail-closed: a security-state-changing transition that
// cannot be attributed did not durably happen, so callers abort on error.
package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/domain"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/repository"
)

// Recorder appends audit entries to the durable log and mirrors them to the
// structured logger for operators.
type Recorder struct {
	repo   repository.AuditRepository
	logger *zap.Logger
}

// NewRecorder wires the audit sink.
func NewRecorder(repo repository.AuditRepository, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.L()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Record persists the entry before the surrounding request may complete.
// It stamps OccurredAt when unset and propagates store failures to the
// caller.
func (r *Recorder) Record(ctx context.Context, entry domain.AuditEntry) error {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	if err := r.repo.Insert(ctx, entry); err != nil {
		r.logger.Error("audit write failed",
			zap.String("event", entry.EventType),
			zap.String("action", entry.Action),
			zap.Error(err),
		)
		return fmt.Errorf("record audit entry: %w", err)
	}

	fields := []zap.Field{
		zap.String("event", entry.EventType),
		zap.String("action", entry.Action),
		zap.String("outcome", entry.Outcome),
		zap.String("ip", entry.IPAddress),
		zap.Time("occurred_at", entry.OccurredAt),
	}
	if entry.ClinicianID != nil {
		fields = append(fields, zap.Int64("clinician_id", *entry.ClinicianID))
	}
	if entry.ErrorMessage != "" {
		fields = append(fields, zap.String("error_message", entry.ErrorMessage))
	}
	r.logger.Info("audit", fields...)

	return nil
}
