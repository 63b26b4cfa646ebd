package runner

import (
	"context"
	"errors"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fleetdesk/fleetdesk/internal/config"
)

// NewRedisClient is nil when no redis address is configured; the runner then
// falls back to in-process scheduling.
func NewRedisClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

type SchedulerParam struct {
	fx.In

	LC     fx.Lifecycle
	Log    *zap.Logger
	Rules  *config.RulesConfigHolder
	Runner *Runner
	Redis  *redis.Client `optional:"true"`
}

// NewScheduler picks the queue transport: redis when configured, otherwise a
// worker pool inside this process.
func NewScheduler(p SchedulerParam) Scheduler {
	if p.Redis != nil {
		return NewQueueScheduler(p.Redis)
	}

	pool := NewPoolScheduler(p.Log, p.Runner, p.Rules.Get().PoolWorkers)
	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			pool.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			pool.Stop()
			return nil
		},
	})
	return pool
}

var Module = fx.Module("upload.runner",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
	fx.Provide(NewRunner),
	fx.Provide(NewScheduler),
)

type ConsumerParam struct {
	fx.In

	LC     fx.Lifecycle
	Log    *zap.Logger
	Rules  *config.RulesConfigHolder
	Runner *Runner
	Redis  *redis.Client `optional:"true"`
}

// StartQueueConsumer runs the redis queue drain loop for worker processes.
func StartQueueConsumer(p ConsumerParam) error {
	if p.Redis == nil {
		return errors.New("worker requires REDIS_ADDR")
	}
	consumer := NewQueueConsumer(p.Log, p.Redis, p.Runner, p.Rules.Get().PoolWorkers)
	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			consumer.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			consumer.Stop()
			return nil
		},
	})
	return nil
}

var WorkerModule = fx.Module("upload.worker",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
	fx.Provide(NewRunner),
	fx.Provide(NewScheduler),
	fx.Invoke(StartQueueConsumer),
)
