// Package runner executes upload jobs asynchronously with bounded retries.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	batchdomain "github.com/fleetdesk/fleetdesk/internal/batch/domain"
	"github.com/fleetdesk/fleetdesk/internal/config"
	"github.com/fleetdesk/fleetdesk/internal/observability/metrics"
	"github.com/fleetdesk/fleetdesk/internal/upload/decoder"
	"github.com/fleetdesk/fleetdesk/internal/upload/executor"
	"github.com/fleetdesk/fleetdesk/internal/upload/notify"
)

// Pipeline is one processing attempt over a batch. State carries progress
// across retries of the same submission.
type Pipeline interface {
	Process(ctx context.Context, batchID string, state *executor.State) (Outcome, error)
}

// Outcome is what a successful attempt decided about the batch.
type Outcome struct {
	Status       batchdomain.BatchStatus
	ValidCount   int
	InvalidCount int
}

type RunnerParam struct {
	fx.In

	Log      *zap.Logger
	Batches  batchdomain.Service
	Pipeline Pipeline
	Rules    *config.RulesConfigHolder
	Hub      *notify.Hub
	Locker   *Locker `optional:"true"`
}

// Runner owns the batch lifecycle around pipeline attempts: the idempotency
// guard, the cross-instance lock, retries with exponential backoff, and the
// terminal transition when attempts are exhausted.
type Runner struct {
	log      *zap.Logger
	batches  batchdomain.Service
	pipeline Pipeline
	rules    *config.RulesConfigHolder
	hub      *notify.Hub
	locker   *Locker
}

func NewRunner(p RunnerParam) *Runner {
	return &Runner{
		log:      p.Log.Named("upload.runner"),
		batches:  p.Batches,
		pipeline: p.Pipeline,
		rules:    p.Rules,
		hub:      p.Hub,
		locker:   p.Locker,
	}
}

// Run processes one batch job to a terminal state. Redelivered or duplicate
// jobs are no-ops: only a batch still in created state is claimed.
func (r *Runner) Run(ctx context.Context, batchID string) error {
	log := r.log.With(zap.String("batch_id", batchID))
	rules := r.rules.Get()

	batch, err := r.batches.Get(ctx, batchID)
	if err != nil {
		if errors.Is(err, batchdomain.ErrBatchNotFound) {
			log.Warn("job references unknown batch, dropping")
			return nil
		}
		return err
	}
	if batch.Status != batchdomain.BatchStatusCreated {
		log.Info("batch already claimed, skipping", zap.String("status", string(batch.Status)))
		return nil
	}

	lockKey := "upload:batch:" + batchID
	lockTTL := rules.AttemptTimeout * time.Duration(rules.MaxAttempts)
	token, ok, err := r.locker.TryLock(ctx, lockKey, lockTTL)
	if err != nil {
		return fmt.Errorf("acquire batch lock: %w", err)
	}
	if !ok {
		log.Info("batch locked by another instance, skipping")
		return nil
	}
	defer func() {
		if err := r.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			log.Warn("release batch lock", zap.Error(err))
		}
	}()

	if err := r.batches.MarkProcessing(ctx, batchID); err != nil {
		if errors.Is(err, batchdomain.ErrInvalidTransition) || errors.Is(err, batchdomain.ErrBatchTerminal) {
			log.Info("batch claimed concurrently, skipping")
			return nil
		}
		return err
	}
	r.hub.Publish(batchID, notify.ProgressEvent{Event: notify.EventStarted})

	state := executor.NewState()
	var lastErr error
	for attempt := 1; attempt <= rules.MaxAttempts; attempt++ {
		outcome, err := r.attempt(ctx, batchID, state, rules.AttemptTimeout)
		if err == nil {
			return r.finish(ctx, log, batchID, outcome, nil)
		}
		lastErr = err

		if errors.Is(err, decoder.ErrMalformedInput) {
			// A broken file will not repair itself; fail without retrying.
			return r.finish(ctx, log, batchID, Outcome{Status: batchdomain.BatchStatusFailed}, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Warn("attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", rules.MaxAttempts),
			zap.Error(err),
		)
		if attempt == rules.MaxAttempts {
			break
		}
		metrics.Pipeline().IncAttemptRetry()
		backoff := rules.BackoffBase << (attempt - 1)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
	}

	// Exhausted. Records persisted so far stay persisted; the ledger keeps
	// the partial counts.
	valid, invalid := state.Counts()
	return r.finish(ctx, log, batchID, Outcome{
		Status:       batchdomain.BatchStatusFailed,
		ValidCount:   valid,
		InvalidCount: invalid,
	}, lastErr)
}

func (r *Runner) attempt(ctx context.Context, batchID string, state *executor.State, timeout time.Duration) (Outcome, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	outcome, err := r.pipeline.Process(attemptCtx, batchID, state)
	metrics.Pipeline().ObserveAttemptDuration(time.Since(start))
	return outcome, err
}

func (r *Runner) finish(ctx context.Context, log *zap.Logger, batchID string, outcome Outcome, cause error) error {
	var reason *string
	if cause != nil {
		msg := cause.Error()
		reason = &msg
	}

	// Terminal writes must land even when the attempt context is already gone.
	finishCtx := context.WithoutCancel(ctx)
	if err := r.batches.MarkTerminal(finishCtx, batchID, outcome.Status, reason); err != nil {
		return fmt.Errorf("mark batch %s: %w", outcome.Status, err)
	}

	metrics.Pipeline().IncBatchFinished(string(outcome.Status))
	r.hub.Publish(batchID, notify.ProgressEvent{
		Event:        notify.EventCompleted,
		BatchStatus:  string(outcome.Status),
		ValidCount:   outcome.ValidCount,
		InvalidCount: outcome.InvalidCount,
	})

	if cause != nil {
		log.Error("batch finished with failure", zap.String("status", string(outcome.Status)), zap.Error(cause))
	} else {
		log.Info("batch finished",
			zap.String("status", string(outcome.Status)),
			zap.Int("valid", outcome.ValidCount),
			zap.Int("invalid", outcome.InvalidCount),
		)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
