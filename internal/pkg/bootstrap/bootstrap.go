// Package bootstrap wires the renewal scheduler from environment settings.
// Both the server and the reconcile CLI start here.
package bootstrap

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/DuesFox/app/repository"
	"github.com/ManuelReschke/DuesFox/internal/pkg/cache"
	"github.com/ManuelReschke/DuesFox/internal/pkg/database"
	"github.com/ManuelReschke/DuesFox/internal/pkg/env"
	"github.com/ManuelReschke/DuesFox/internal/pkg/gateway"
	"github.com/ManuelReschke/DuesFox/internal/pkg/metrics"
	"github.com/ManuelReschke/DuesFox/internal/pkg/notifier"
	"github.com/ManuelReschke/DuesFox/internal/pkg/renewal"
)

const lockPrefix = "duesfox:lock:"

// Services is everything a process needs to run ticks.
type Services struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Members   repository.MemberRepository
	Scheduler *renewal.Scheduler
	Manager   *renewal.Manager
}

// Setup loads .env, connects the database and, unless CACHE_ENABLED=false,
// Redis, then builds the scheduler.
func Setup() (*Services, error) {
	env.SetupEnvFile()

	cfg, err := renewal.ConfigFromEnv()
	if err != nil {
		return nil, err
	}

	db, err := database.Open(database.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	database.DB = db

	svc := &Services{DB: db}
	svc.Members = repository.NewMemberRepository(db)

	if env.GetBool("CACHE_ENABLED", true) {
		cache.SetupCache()
		svc.Redis = cache.GetClient()
		svc.Members = repository.NewCachedMemberRepository(svc.Members, svc.Redis, env.GetDuration("MEMBER_CACHE_TTL", 5*time.Minute))
	} else {
		log.Info("[Bootstrap] Cache disabled, running without member cache and shared tick lock")
	}

	dispatcher, err := notifier.NewDispatcherFromEnv()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("notifier: %w", err), svc.Close())
	}

	deps := renewal.Dependencies{
		Members:  svc.Members,
		Gateway:  gateway.NewYooKassaClientFromEnv(),
		Notifier: dispatcher,
		Metrics:  metrics.Renewal(),
	}
	if svc.Redis != nil {
		deps.Locker = renewal.RedisLocker(cache.NewLocker(svc.Redis, lockPrefix))
	}

	svc.Scheduler = renewal.NewScheduler(deps, cfg)
	svc.Manager = renewal.NewManager(svc.Scheduler)
	log.Infof("[Bootstrap] Renewal scheduler ready (timezone %s, workers %d, currency %s)", cfg.Location, cfg.Workers, cfg.Currency)
	return svc, nil
}

// Close stops the manager and releases connections.
func (s *Services) Close() error {
	if s.Manager != nil {
		s.Manager.Stop()
	}
	var errs []error
	if s.Redis != nil {
		errs = append(errs, cache.Close())
	}
	errs = append(errs, database.Close())
	return errors.Join(errs...)
}
