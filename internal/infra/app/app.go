package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/inkwell-labs/identity-core/internal/core/port"
	"github.com/inkwell-labs/identity-core/internal/infra/config"
	"github.com/inkwell-labs/identity-core/internal/infra/database"
	kafkainfra "github.com/inkwell-labs/identity-core/internal/infra/kafka"
	"github.com/inkwell-labs/identity-core/internal/infra/logger"
	"github.com/inkwell-labs/identity-core/internal/infra/ratelimit"
	redisinfra "github.com/inkwell-labs/identity-core/internal/infra/redis"
	"github.com/inkwell-labs/identity-core/internal/infra/security"
	"github.com/inkwell-labs/identity-core/internal/infra/telemetry"
	postgresrepo "github.com/inkwell-labs/identity-core/internal/repository/postgres"
	redisrepo "github.com/inkwell-labs/identity-core/internal/repository/redis"
	"github.com/inkwell-labs/identity-core/internal/usecase"
)

// Application owns every long-lived resource of the identity core and
// exposes the wired IdentityGate to whatever surface embeds it.
type Application struct {
	cfg         *config.AppConfig
	logger      *zap.Logger
	pool        *pgxpool.Pool
	redis       *redis.Client
	producer    *kafkainfra.Producer
	tracing     *telemetry.TracerProvider
	metrics     *telemetry.Metrics
	gate        *usecase.IdentityGate
	maintenance *usecase.MaintenanceService
}

// New builds the application graph from configuration. Kafka is optional:
// without reachable brokers the audit and notification sinks fall back to
// log-only stubs so the core still runs in development.
func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	tracing, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	metrics := telemetry.NewMetrics()

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	keyProvider, err := security.NewFileKeyProvider(cfg.JWT.KeyDirectory)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init key provider: %w", err)
	}

	hasher, err := security.NewHasher(security.Argon2Params{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, fmt.Errorf("init hasher: %w", err)
	}

	var (
		producer *kafkainfra.Producer
		audit    port.AuditSink
		notifier port.NotificationSink
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("kafka unavailable, using stub sinks", zap.Error(err))
			audit = kafkainfra.NewStubAuditSink(log)
			notifier = kafkainfra.NewStubNotificationSink(log)
		} else {
			audit = kafkainfra.NewAuditPublisher(producer, cfg.App, log)
			notifier = kafkainfra.NewNotificationPublisher(producer, cfg.App, log)
			log.Info("kafka sinks initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub sinks")
		audit = kafkainfra.NewStubAuditSink(log)
		notifier = kafkainfra.NewStubNotificationSink(log)
	}

	repos := postgresrepo.NewRepositories(pool)

	resetWindow := cfg.RateLimit.ResetWindow
	if resetWindow <= 0 {
		resetWindow = time.Hour
	}
	resetStore := redisrepo.NewSlidingWindowStore(redisClient, "identity:reset-limit", resetWindow*2)

	ledger := usecase.NewAttemptLedger(repos.Attempts, cfg.Lockout.Threshold, cfg.Lockout.Window, log)
	history := usecase.NewHistoryGuard(repos.History, hasher, cfg.History.Limit)
	challenges := usecase.NewChallengeService(repos.Challenges, notifier, usecase.ChallengePolicy{
		CodeLength:  cfg.OTP.CodeLength,
		TTL:         cfg.OTP.TTL,
		Cooldown:    cfg.OTP.Cooldown,
		MaxAttempts: cfg.OTP.MaxAttempts,
	}, metrics, log)
	sessions := usecase.NewSessionIssuer(repos.Grants, keyProvider, usecase.SessionPolicy{
		Issuer:     cfg.App.Name,
		Audience:   cfg.App.Name + "-clients",
		AccessTTL:  cfg.JWT.AccessTokenTTL,
		RefreshTTL: cfg.JWT.RefreshTokenTTL,
		PreAuthTTL: cfg.JWT.PreAuthTokenTTL,
	}, metrics, log)

	gate := usecase.NewIdentityGate(usecase.GateDeps{
		Identities:   repos.Identities,
		Ledger:       ledger,
		History:      history,
		Challenges:   challenges,
		Sessions:     sessions,
		Hasher:       hasher,
		Audit:        audit,
		ResetLimiter: resetStore,
		ResetPolicy: usecase.ResetLimitPolicy{
			Window:      resetWindow,
			MaxAttempts: cfg.RateLimit.ResetMaxAttempts,
		},
		CheckLimiter: ratelimit.NewSweepLimiter(
			cfg.RateLimit.AvailabilityWindow,
			cfg.RateLimit.AvailabilityMaxChecks,
			cfg.RateLimit.SweepInterval,
		),
		Metrics: metrics,
		Logger:  log,
	})

	maintenance := usecase.NewMaintenanceService(repos.Identities, repos.Challenges, repos.Grants, usecase.MaintenancePolicy{
		Interval:           cfg.Maintenance.Interval,
		ChallengeRetention: cfg.Maintenance.ChallengeRetention,
		GrantRetention:     cfg.Maintenance.GrantRetention,
		DormancyThreshold:  cfg.Maintenance.DormancyThreshold,
	}, log)

	return &Application{
		cfg:         cfg,
		logger:      log,
		pool:        pool,
		redis:       redisClient,
		producer:    producer,
		tracing:     tracing,
		metrics:     metrics,
		gate:        gate,
		maintenance: maintenance,
	}, nil
}

// Gate returns the wired identity gate.
func (a *Application) Gate() *usecase.IdentityGate {
	return a.gate
}

// Run serves metrics and drives maintenance sweeps until ctx is canceled,
// then releases every resource.
func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.pool.Close()
	defer func() {
		_ = a.redis.Close()
	}()
	defer func() {
		if a.producer != nil {
			if err := a.producer.Close(); err != nil {
				a.logger.Error("close kafka producer", zap.Error(err))
			}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracing.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("shutdown tracing", zap.Error(err))
		}
	}()

	go a.maintenance.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics.Registry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Telemetry.MetricsPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("identity core started",
		zap.String("env", a.cfg.App.Env),
		zap.String("metrics_addr", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("run metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	}
}
