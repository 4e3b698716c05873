package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/audit"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/bootstrap"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/config"
	httptransport "github.com/CrisisCore-Systems/pain-tracker-auth/internal/http"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/http/handler"
	httpmiddleware "github.com/CrisisCore-Systems/pain-tracker-auth/internal/http/middleware"
	apimiddleware "github.com/CrisisCore-Systems/pain-tracker-auth/internal/middleware"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/ratelimit"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/repository"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/server"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/service"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/telemetry"
	"github.com/CrisisCore-Systems/pain-tracker-auth/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newClinicianRepository,
			newSessionRepository,
			newAuditRepository,
			newKeyRepository,
			newCounter,
			newRateLimiter,
			newKeyManager,
			newTokenGenerator,
			newCSRFSigner,
			newRecorder,
			newSessionService,
			service.NewAuthService,
			service.NewResetService,
			handler.NewAuthHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureAdmin, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newClinicianRepository(pool *pgxpool.Pool) repository.ClinicianRepository {
	return repository.NewPostgresClinicianRepo(pool)
}

func newSessionRepository(pool *pgxpool.Pool) repository.SessionRepository {
	return repository.NewPostgresSessionRepo(pool)
}

func newAuditRepository(pool *pgxpool.Pool) repository.AuditRepository {
	return repository.NewPostgresAuditRepo(pool)
}

func newKeyRepository(pool *pgxpool.Pool) token.KeyRepository {
	return repository.NewPostgresKeyRepo(pool)
}

// newCounter prefers the Redis-backed abuse counter and degrades to the
// in-process fallback when Redis is unreachable at startup. Auth stays
// available either way; only cross-instance throttling accuracy is lost.
func newCounter(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) ratelimit.Counter {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-process abuse counter", zap.Error(err))
		_ = client.Close()
		return ratelimit.NewMemoryCounter()
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return ratelimit.NewRedisCounter(client, cfg.CounterTimeout, logger)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newKeyManager(repo token.KeyRepository) *token.KeyManager {
	return token.NewKeyManager(repo)
}

func newTokenGenerator(manager *token.KeyManager, cfg config.Config) *token.Generator {
	return token.NewGenerator(manager, cfg.ServiceName, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
}

// newCSRFSigner keys the CSRF HMAC off the persisted signing key so every
// instance validates pairs issued by any other instance.
func newCSRFSigner(manager *token.KeyManager) (*token.CSRFSigner, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := manager.EnsureSigningKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("csrf signing key: %w", err)
	}
	return token.NewCSRFSigner(key.Secret), nil
}

func newRecorder(repo repository.AuditRepository, logger *zap.Logger) *audit.Recorder {
	return audit.NewRecorder(repo, logger)
}

func newSessionService(sessions repository.SessionRepository, generator *token.Generator, csrf *token.CSRFSigner, cfg config.Config, logger *zap.Logger) *service.SessionService {
	return service.NewSessionService(sessions, generator, csrf, cfg.OrganizationID, logger)
}

func newAuthMiddleware(generator *token.Generator) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Tokens: generator}
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
