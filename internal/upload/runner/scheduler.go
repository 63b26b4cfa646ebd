package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const jobQueueKey = "upload:jobs"

type Job struct {
	BatchID string `json:"batch_id"`
}

// Scheduler accepts upload jobs for asynchronous execution. Enqueue returns
// as soon as the job is durable (or buffered, for the in-process pool); the
// caller never waits for processing.
type Scheduler interface {
	Enqueue(ctx context.Context, job Job) error
}

// PoolScheduler runs jobs on a fixed worker pool inside the API process. It
// is the default when no redis address is configured.
type PoolScheduler struct {
	log     *zap.Logger
	runner  *Runner
	jobs    chan Job
	workers int

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewPoolScheduler(log *zap.Logger, runner *Runner, workers int) *PoolScheduler {
	if workers <= 0 {
		workers = 1
	}
	return &PoolScheduler{
		log:     log.Named("upload.scheduler"),
		runner:  runner,
		jobs:    make(chan Job, 128),
		workers: workers,
	}
}

func (s *PoolScheduler) Enqueue(ctx context.Context, job Job) error {
	select {
	case s.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("job queue full")
	}
}

func (s *PoolScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.work(ctx)
	}
	s.log.Info("worker pool started", zap.Int("workers", s.workers))
}

func (s *PoolScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.cancel()
	s.wg.Wait()
}

func (s *PoolScheduler) work(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			if err := s.runner.Run(ctx, job.BatchID); err != nil {
				s.log.Error("job failed", zap.String("batch_id", job.BatchID), zap.Error(err))
			}
		}
	}
}

// QueueScheduler pushes jobs onto a redis list so any worker instance can
// pick them up.
type QueueScheduler struct {
	client *redis.Client
}

func NewQueueScheduler(client *redis.Client) *QueueScheduler {
	return &QueueScheduler{client: client}
}

func (s *QueueScheduler) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := s.client.LPush(ctx, jobQueueKey, payload).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// QueueConsumer drains the redis job queue in worker processes.
type QueueConsumer struct {
	log     *zap.Logger
	client  *redis.Client
	runner  *Runner
	workers int

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func NewQueueConsumer(log *zap.Logger, client *redis.Client, runner *Runner, workers int) *QueueConsumer {
	if workers <= 0 {
		workers = 1
	}
	return &QueueConsumer{
		log:     log.Named("upload.consumer"),
		client:  client,
		runner:  runner,
		workers: workers,
	}
}

func (c *QueueConsumer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.consume(ctx)
	}
	c.log.Info("queue consumer started", zap.Int("workers", c.workers))
}

func (c *QueueConsumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.started = false
	c.cancel()
	c.wg.Wait()
}

func (c *QueueConsumer) consume(ctx context.Context) {
	defer c.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := c.client.BRPop(ctx, 5*time.Second, jobQueueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			c.log.Warn("dequeue failed", zap.Error(err))
			if err := sleep(ctx, time.Second); err != nil {
				return
			}
			continue
		}
		if len(res) != 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			c.log.Warn("discarding malformed job payload", zap.Error(err))
			continue
		}
		if err := c.runner.Run(ctx, job.BatchID); err != nil {
			c.log.Error("job failed", zap.String("batch_id", job.BatchID), zap.Error(err))
		}
	}
}
