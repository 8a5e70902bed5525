// Package worker binds the orchestrator to a delayed queue: the Dispatcher
// claims due jobs and runs their steps, the Reconciler re-enqueues work that
// the queue may have lost.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/noteably/internal/core/pipeline"
	"github.com/vietddude/noteably/internal/core/retry"
	"github.com/vietddude/noteably/internal/metrics"
)

// Stepper runs one bounded step of a job.
type Stepper interface {
	Step(ctx context.Context, jobID string) (pipeline.Outcome, error)
}

// Config holds dispatcher settings.
type Config struct {
	Workers           int           `yaml:"workers"`
	ClaimInterval     time.Duration `yaml:"claim_interval"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
	BusyDelay         time.Duration `yaml:"busy_delay"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	Workers:           4,
	ClaimInterval:     500 * time.Millisecond,
	LockTTL:           5 * time.Minute,
	BusyDelay:         2 * time.Second,
	ReconcileInterval: 5 * time.Minute,
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultConfig.Workers
	}
	if c.ClaimInterval <= 0 {
		c.ClaimInterval = DefaultConfig.ClaimInterval
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultConfig.LockTTL
	}
	if c.BusyDelay <= 0 {
		c.BusyDelay = DefaultConfig.BusyDelay
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = DefaultConfig.ReconcileInterval
	}
	return c
}

// Dispatcher consumes the queue with a bounded worker pool.
type Dispatcher struct {
	queue   Queue
	locker  Locker
	stepper Stepper
	backoff retry.Backoff
	cfg     Config
	log     *slog.Logger
	now     func() time.Time

	wake     chan struct{}
	inflight atomic.Int64

	mu       sync.Mutex
	failures map[string]int
}

// NewDispatcher creates a dispatcher. Zero config values fall back to DefaultConfig.
func NewDispatcher(queue Queue, locker Locker, stepper Stepper, backoff retry.Backoff, cfg Config) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		locker:   locker,
		stepper:  stepper,
		backoff:  backoff,
		cfg:      cfg.withDefaults(),
		log:      slog.Default().With("component", "dispatcher"),
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		failures: make(map[string]int),
	}
}

// InvokeNow schedules jobID for immediate processing.
func (d *Dispatcher) InvokeNow(ctx context.Context, jobID string) error {
	if err := d.queue.Schedule(ctx, jobID, d.now()); err != nil {
		return err
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// InvokeAfter schedules jobID to run after delay.
func (d *Dispatcher) InvokeAfter(ctx context.Context, jobID string, delay time.Duration) error {
	return d.queue.Schedule(ctx, jobID, d.now().Add(delay))
}

// Start claims and runs due jobs until ctx is cancelled, then waits for
// in-flight steps to return.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.log.Info("Dispatcher started", "workers", d.cfg.Workers)

	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Workers)

	ticker := time.NewTicker(d.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		d.claim(ctx, g)

		select {
		case <-ctx.Done():
			d.log.Info("Dispatcher stopping, waiting for in-flight steps")
			return g.Wait()
		case <-ticker.C:
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) claim(ctx context.Context, g *errgroup.Group) {
	if n, err := d.queue.Len(ctx); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}

	free := d.cfg.Workers - int(d.inflight.Load())
	if free <= 0 {
		return
	}
	ids, err := d.queue.ClaimDue(ctx, d.now(), free)
	if err != nil {
		if ctx.Err() == nil {
			d.log.Error("Failed to claim due jobs", "error", err)
		}
		return
	}

	for _, id := range ids {
		d.inflight.Add(1)
		g.Go(func() error {
			defer d.inflight.Add(-1)
			d.process(ctx, id)
			return nil
		})
	}
}

// process runs one step of jobID under its lock and reschedules as needed.
func (d *Dispatcher) process(ctx context.Context, jobID string) {
	token, ok, err := d.locker.Lock(ctx, jobID, d.cfg.LockTTL)
	if err != nil {
		d.log.Error("Failed to lock job", "job_id", jobID, "error", err)
		d.reschedule(ctx, jobID, d.cfg.BusyDelay)
		return
	}
	if !ok {
		metrics.LockContention.Inc()
		d.log.Debug("Job is locked, retrying shortly", "job_id", jobID)
		d.reschedule(ctx, jobID, d.cfg.BusyDelay)
		return
	}
	defer func() {
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := d.locker.Unlock(uctx, jobID, token); err != nil {
			d.log.Warn("Failed to unlock job", "job_id", jobID, "error", err)
		}
	}()

	stepCtx, stopKeepAlive := d.keepAlive(ctx, jobID, token)
	out, err := d.stepper.Step(stepCtx, jobID)
	lost := stepCtx.Err() != nil && ctx.Err() == nil
	stopKeepAlive()
	if lost {
		// The lock decides who runs next; a duplicate wake-up is harmless.
		d.log.Warn("Step abandoned after losing job lock", "job_id", jobID, "error", err)
		d.reschedule(ctx, jobID, d.cfg.BusyDelay)
		return
	}
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// Interrupted by shutdown: hand the job to the next process.
			d.reschedule(ctx, jobID, 0)
			return
		}
		attempt := d.recordFailure(jobID)
		delay := retry.Classify(err, attempt, d.backoff).Delay
		if delay <= 0 {
			delay = d.backoff.Delay(attempt)
		}
		d.log.Error("Step failed, rescheduling",
			"job_id", jobID,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		d.reschedule(ctx, jobID, delay)
		return
	}
	d.clearFailures(jobID)

	if out.Done {
		return
	}
	d.reschedule(ctx, jobID, out.ResumeAfter)
}

// keepAlive refreshes the job lock every half TTL. The returned context is
// cancelled when the lock is lost; stop ends the refreshing.
func (d *Dispatcher) keepAlive(ctx context.Context, jobID, token string) (stepCtx context.Context, stop func()) {
	stepCtx, cancelStep := context.WithCancel(ctx)
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(d.cfg.LockTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stepCtx.Done():
				return
			case <-quit:
				return
			case <-ticker.C:
				held, err := d.locker.Refresh(stepCtx, jobID, token, d.cfg.LockTTL)
				if err != nil {
					d.log.Warn("Failed to refresh job lock", "job_id", jobID, "error", err)
					continue
				}
				if !held {
					d.log.Warn("Lost job lock during step", "job_id", jobID)
					cancelStep()
					return
				}
			}
		}
	}()
	return stepCtx, func() {
		close(quit)
		<-done
		cancelStep()
	}
}

// reschedule survives ctx cancellation so a durable queue keeps the job.
func (d *Dispatcher) reschedule(ctx context.Context, jobID string, delay time.Duration) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.queue.Schedule(sctx, jobID, d.now().Add(delay)); err != nil {
		d.log.Error("Failed to reschedule job", "job_id", jobID, "delay", delay, "error", err)
	}
}

func (d *Dispatcher) recordFailure(jobID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.failures[jobID]
	d.failures[jobID] = n + 1
	return n
}

func (d *Dispatcher) clearFailures(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.failures, jobID)
}
