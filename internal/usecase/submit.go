package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"Backtest/internal/domain/errs"
	"Backtest/internal/domain/models"
	"Backtest/pkg/logger"
	"Backtest/pkg/queue"
	"Backtest/pkg/util"
)

// JobTypeRun is the queue message type carrying a models.RunSpec.
const JobTypeRun = "backtest.run"

// WithQueue routes submitted runs through the job queue instead of a local
// goroutine.
func WithQueue(q queue.Publisher) BacktesterOption {
	return func(b *Backtester) { b.queue = q }
}

// Spec turns an API request into a run spec on top of the default feed options.
func (b *Backtester) Spec(req models.RunRequest) (models.RunSpec, error) {
	opts := b.opts.Feed
	opts.Symbols = req.Symbols
	opts.DateFrom, opts.DateTo = time.Time{}, time.Time{}
	var ok bool
	if req.DateFrom != "" {
		if opts.DateFrom, ok = util.ParseTime(req.DateFrom); !ok {
			return models.RunSpec{}, fmt.Errorf("%w: date_from %q", errs.ErrInvalidRun, req.DateFrom)
		}
	}
	if req.DateTo != "" {
		if opts.DateTo, ok = util.ParseTime(req.DateTo); !ok {
			return models.RunSpec{}, fmt.Errorf("%w: date_to %q", errs.ErrInvalidRun, req.DateTo)
		}
	}
	if !opts.DateFrom.IsZero() && !opts.DateTo.IsZero() && opts.DateTo.Before(opts.DateFrom) {
		return models.RunSpec{}, fmt.Errorf("%w: date_to is before date_from", errs.ErrInvalidRun)
	}

	seen := make(map[string]bool, len(req.Strategies))
	for _, sc := range req.Strategies {
		if seen[sc.Name] {
			return models.RunSpec{}, fmt.Errorf("%w: strategy name %q is used twice", errs.ErrInvalidRun, sc.Name)
		}
		seen[sc.Name] = true
		if !b.registry.Has(sc.Kind) {
			return models.RunSpec{}, fmt.Errorf("%w: unknown strategy kind %q", errs.ErrInvalidRun, sc.Kind)
		}
	}

	return models.RunSpec{
		RunID:      uuid.NewString(),
		Feed:       opts,
		Strategies: req.Strategies,
	}, nil
}

// Submit records a pending run and schedules it. The returned result carries
// the run ID the report endpoints answer to.
func (b *Backtester) Submit(ctx context.Context, req models.RunRequest) (*models.RunResult, error) {
	spec, err := b.Spec(req)
	if err != nil {
		return nil, err
	}
	run := &models.RunResult{
		RunID:     spec.RunID,
		Status:    models.RunPending,
		Symbols:   spec.Feed.Symbols,
		DateFrom:  spec.Feed.DateFrom,
		DateTo:    spec.Feed.DateTo,
		StartedAt: time.Now().UTC(),
	}
	log := b.log.With(logger.String("run_id", spec.RunID))
	b.record(ctx, log, run, false)

	if b.queue != nil {
		if err := b.queue.PublishMessage(ctx, JobTypeRun, spec); err != nil {
			return nil, fmt.Errorf("enqueue run: %w", err)
		}
		log.Info("run enqueued")
		return run, nil
	}

	go func() {
		// detached from the request context
		if _, err := b.Run(context.Background(), spec); err != nil {
			log.Error("background run", logger.Error(err))
		}
	}()
	return run, nil
}

// RunJob executes queued runs.
type RunJob struct {
	backtester *Backtester
	locks      lockService
	log        *logger.Logger
}

// lockService is the subset of the cache used to keep a run from executing
// twice when a message is redelivered.
type lockService interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// NewRunJob creates the queue job. locks may be nil.
func NewRunJob(b *Backtester, locks lockService, log *logger.Logger) *RunJob {
	if log == nil {
		log = logger.Nop()
	}
	return &RunJob{backtester: b, locks: locks, log: log}
}

func (j *RunJob) Name() string { return "backtest-run" }
func (j *RunJob) Type() string { return JobTypeRun }

func (j *RunJob) Handle(ctx context.Context, payload interface{}) error {
	spec, err := queue.ParsePayload[models.RunSpec](payload)
	if err != nil {
		return err
	}
	if j.locks != nil && spec.RunID != "" {
		key := "lock:run:" + spec.RunID
		ok, err := j.locks.TryLock(ctx, key, time.Hour)
		if err != nil {
			return fmt.Errorf("lock run %s: %w", spec.RunID, err)
		}
		if !ok {
			j.log.Warn("run already in progress", logger.String("run_id", spec.RunID))
			return nil
		}
		defer func() {
			if err := j.locks.Unlock(context.Background(), key); err != nil {
				j.log.Warn("unlock run", logger.String("run_id", spec.RunID), logger.Error(err))
			}
		}()
	}
	// a failed run is recorded as such; retrying it would only replay the failure
	if _, err := j.backtester.Run(ctx, *spec); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
