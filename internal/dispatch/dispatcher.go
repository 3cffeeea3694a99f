package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/notify"
	"loom/internal/services"
	"loom/internal/taskstore"
)

const (
	defaultPollInterval    = 50 * time.Millisecond
	defaultLeaseHold       = 2 * time.Minute
	defaultReclaimInterval = 30 * time.Second
	defaultMaxAttempts     = 3
)

// Runner is the workflow surface the dispatcher drives.
type Runner interface {
	Execute(ctx context.Context, taskID, prompt string) error
	Resume(ctx context.Context, taskID string) error
}

// Dispatcher pulls jobs off the durable queue and runs them through the
// workflow engine on a pool of workers. Retryable stage errors are redelivered
// with backoff; exhausted or permanent errors mark the task FAILED.
type Dispatcher struct {
	queue    *Queue
	store    *taskstore.Store
	runner   Runner
	notifier notify.Service
	logger   *slog.Logger

	workers         int
	maxAttempts     int
	pollInterval    time.Duration
	leaseHold       time.Duration
	reclaimInterval time.Duration
	retryBase       time.Duration
	retryMax        time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a dispatcher from configuration.
func New(cfg *config.Config, queue *Queue, store *taskstore.Store, runner Runner, notifier notify.Service, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		queue:           queue,
		store:           store,
		runner:          runner,
		notifier:        notifier,
		logger:          logging.NewComponentLogger(logger, "dispatch"),
		workers:         cfg.Dispatch.Workers,
		maxAttempts:     cfg.Dispatch.MaxAttempts,
		pollInterval:    time.Duration(cfg.Dispatch.PollInterval) * time.Second,
		leaseHold:       time.Duration(cfg.Dispatch.LeaseSeconds) * time.Second,
		reclaimInterval: time.Duration(cfg.Dispatch.ReclaimInterval) * time.Second,
		retryBase:       time.Duration(cfg.Dispatch.RetryBaseSeconds) * time.Second,
		retryMax:        time.Duration(cfg.Dispatch.RetryMaxSeconds) * time.Second,
	}
	if d.workers <= 0 {
		d.workers = 1
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = defaultMaxAttempts
	}
	if d.pollInterval <= 0 {
		d.pollInterval = defaultPollInterval
	}
	if d.leaseHold <= 0 {
		d.leaseHold = defaultLeaseHold
	}
	if d.reclaimInterval <= 0 {
		d.reclaimInterval = defaultReclaimInterval
	}
	return d
}

// Submit enqueues a full workflow run for the task.
func (d *Dispatcher) Submit(ctx context.Context, taskID string) (string, error) {
	return d.queue.Enqueue(ctx, taskID, KindRun)
}

// ResumeTask enqueues finalization of an approved task.
func (d *Dispatcher) ResumeTask(ctx context.Context, taskID string) (string, error) {
	return d.queue.Enqueue(ctx, taskID, KindResume)
}

// Stats exposes queue depth per status.
func (d *Dispatcher) Stats(ctx context.Context) (map[string]int, error) {
	return d.queue.Stats(ctx)
}

// Start launches the worker pool and the lease reclaimer. It returns
// immediately; call Stop to drain.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.workerLoop(runCtx, i)
	}
	d.wg.Add(1)
	go d.reclaimLoop(runCtx)

	d.logger.Info("dispatcher started", logging.Int("workers", d.workers))
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) workerLoop(ctx context.Context, id int) {
	defer d.wg.Done()
	logger := d.logger.With(logging.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := d.queue.Lease(ctx, d.leaseHold)
		if err != nil {
			logger.Error("leasing job failed", logging.Error(err))
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.pollInterval):
			}
			continue
		}

		d.process(ctx, logger, job)
	}
}

func (d *Dispatcher) reclaimLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.queue.ReclaimExpired(ctx); err != nil {
				d.logger.Error("lease reclaim failed", logging.Error(err))
			}
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, logger *slog.Logger, job *Job) {
	ctx = services.WithTaskID(ctx, job.TaskID)
	ctx = services.WithRequestID(ctx, uuid.NewString())
	logger = logging.WithContext(ctx, logger).With(
		logging.String("job_id", job.ID),
		logging.String("kind", string(job.Kind)),
	)
	logger.Info("job delivery started", logging.Int("attempt", job.Attempts+1))

	err := d.runJob(ctx, job)
	if err == nil {
		if ackErr := d.queue.Ack(ctx, job.ID); ackErr != nil {
			logger.Error("acking completed job failed", logging.Error(ackErr))
		}
		logger.Info("job delivery completed")
		return
	}

	attempts := job.Attempts + 1
	if services.Retryable(err) && attempts < d.maxAttempts {
		delay := d.retryDelay(attempts)
		logger.Warn("job delivery failed, retrying",
			logging.Int("attempt", attempts),
			logging.Int("max_attempts", d.maxAttempts),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if reqErr := d.queue.Requeue(ctx, job.ID, attempts, delay, err.Error()); reqErr != nil {
			logger.Error("requeueing job failed", logging.Error(reqErr))
		}
		return
	}

	logger.Error("job delivery exhausted",
		logging.Int("attempt", attempts),
		logging.Error(err),
	)
	if failErr := d.queue.Fail(ctx, job.ID, err.Error()); failErr != nil {
		logger.Error("marking job failed errored", logging.Error(failErr))
	}
	if markErr := d.store.MarkFailed(ctx, job.TaskID, err.Error(), nil); markErr != nil {
		logger.Error("marking task failed errored", logging.Error(markErr))
	}
	if d.notifier != nil {
		if notifyErr := d.notifier.NotifyTaskFailed(ctx, job.TaskID, err.Error()); notifyErr != nil {
			logger.Warn("failure notification errored", logging.Error(notifyErr))
		}
	}
}

func (d *Dispatcher) runJob(ctx context.Context, job *Job) error {
	switch job.Kind {
	case KindRun:
		task, err := d.store.Get(ctx, job.TaskID)
		if err != nil {
			return services.Wrap(services.ErrNotFound, "dispatch", "load task", "job references unknown task", err)
		}
		return d.runner.Execute(ctx, job.TaskID, task.Prompt)
	case KindResume:
		return d.runner.Resume(ctx, job.TaskID)
	default:
		return fmt.Errorf("%w: unknown job kind %q", services.ErrValidation, job.Kind)
	}
}

// retryDelay grows exponentially per attempt, capped at retryMax, with full
// jitter so simultaneous failures spread out.
func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	if d.retryBase <= 0 {
		return 0
	}
	delay := d.retryBase << (attempt - 1)
	if d.retryMax > 0 && delay > d.retryMax {
		delay = d.retryMax
	}
	return time.Duration(rand.Int63n(int64(delay) + 1))
}
