package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/config"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/domain"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/password"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/repository"
)

// EnsureAdmin creates a default admin clinician for dev/e2e if missing.
// It does nothing when the admin credentials are not configured.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, clinicians repository.ClinicianRepository, node *snowflake.Node, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg, clinicians, node, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, clinicians repository.ClinicianRepository, node *snowflake.Node, logger *zap.Logger) error {
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || strings.TrimSpace(cfg.AdminPassword) == "" {
		return nil
	}

	if _, err := clinicians.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("bootstrap lookup clinician: %w", err)
	}

	hashed, err := password.Hash(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	created, err := clinicians.Create(ctx, domain.Clinician{
		ID:           node.Generate().Int64(),
		Email:        email,
		PasswordHash: hashed,
		FirstName:    "Admin",
		LastName:     "User",
		Role:         domain.RoleAdmin,
		Status:       domain.ClinicianActive,
	})
	if err != nil {
		return fmt.Errorf("bootstrap create clinician: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin clinician created",
			zap.String("email", created.Email),
			zap.Int64("clinician_id", created.ID),
		)
	}
	return nil
}
