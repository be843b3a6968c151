package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/inkwell-labs/identity-core/internal/core/port"
)

// MaintenancePolicy tunes the background sweeps.
type MaintenancePolicy struct {
	Interval           time.Duration
	ChallengeRetention time.Duration
	GrantRetention     time.Duration
	DormancyThreshold  time.Duration
}

// MaintenanceService runs the periodic cleanups that keep the stores
// bounded: expired challenges, stale grants, and dormant accounts.
type MaintenanceService struct {
	identities port.IdentityRepository
	challenges port.ChallengeRepository
	grants     port.GrantRepository
	policy     MaintenancePolicy
	logger     *zap.Logger
	now        func() time.Time
}

// NewMaintenanceService constructs the maintenance sweeper.
func NewMaintenanceService(
	identities port.IdentityRepository,
	challenges port.ChallengeRepository,
	grants port.GrantRepository,
	policy MaintenancePolicy,
	log *zap.Logger,
) *MaintenanceService {
	if log == nil {
		log = zap.NewNop()
	}
	if policy.Interval <= 0 {
		policy.Interval = time.Hour
	}
	if policy.ChallengeRetention <= 0 {
		policy.ChallengeRetention = 24 * time.Hour
	}
	if policy.GrantRetention <= 0 {
		policy.GrantRetention = 720 * time.Hour
	}
	if policy.DormancyThreshold <= 0 {
		policy.DormancyThreshold = 4320 * time.Hour
	}
	return &MaintenanceService{
		identities: identities,
		challenges: challenges,
		grants:     grants,
		policy:     policy,
		logger:     log,
		now:        time.Now,
	}
}

// WithClock overrides the time source for tests.
func (s *MaintenanceService) WithClock(clock func() time.Time) *MaintenanceService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Run executes sweeps on the configured interval until ctx is canceled.
func (s *MaintenanceService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.policy.Interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce executes a single sweep pass. Each sweep is independent: a
// failure in one is logged and the others still run.
func (s *MaintenanceService) RunOnce(ctx context.Context) {
	now := s.now().UTC()

	if purged, err := s.challenges.PurgeExpired(ctx, now.Add(-s.policy.ChallengeRetention)); err != nil {
		s.logger.Error("purge expired challenges", zap.Error(err))
	} else if purged > 0 {
		s.logger.Info("purged expired challenges", zap.Int("count", purged))
	}

	if purged, err := s.grants.PurgeStale(ctx, now.Add(-s.policy.GrantRetention)); err != nil {
		s.logger.Error("purge stale grants", zap.Error(err))
	} else if purged > 0 {
		s.logger.Info("purged stale grants", zap.Int("count", purged))
	}

	if deactivated, err := s.identities.DeactivateDormant(ctx, now.Add(-s.policy.DormancyThreshold)); err != nil {
		s.logger.Error("deactivate dormant identities", zap.Error(err))
	} else if deactivated > 0 {
		s.logger.Info("deactivated dormant identities", zap.Int("count", deactivated))
	}
}
