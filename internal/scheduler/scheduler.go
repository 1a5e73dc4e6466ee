package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/i474232898/weather-etl/internal/telemetry"
	"github.com/i474232898/weather-etl/internal/weather"
)

// ErrRunInProgress is returned when a run for the same date is already executing.
var ErrRunInProgress = errors.New("a run for this date is already in progress")

// Runner executes the pipeline for one date.
type Runner interface {
	Run(ctx context.Context, ds weather.Date) (weather.WeatherRecord, error)
}

// RecordLookup reports already-loaded dates; catchup skips them.
type RecordLookup interface {
	Get(ctx context.Context, ds weather.Date) (weather.WeatherRecord, error)
}

// Options controls scheduling and the retry policy.
type Options struct {
	At         string         // daily start time, HH:MM
	Location   *time.Location // zone for At and for "today"
	Retries    int            // extra attempts after the first failure
	RetryDelay time.Duration
	Catchup    bool
	StartDate  weather.Date
	History    int
}

// Scheduler triggers the pipeline once per day and retries failed runs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	runner    Runner
	records   RecordLookup
	history   *History
	opts      Options
	logger    *zap.SugaredLogger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[weather.Date]string
}

// New creates a new Scheduler. records may be nil when catchup is off.
func New(runner Runner, records RecordLookup, opts Options, logger *zap.SugaredLogger) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.At == "" {
		opts.At = "00:05"
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		scheduler: gocron.NewScheduler(opts.Location),
		runner:    runner,
		records:   records,
		history:   NewHistory(opts.History),
		opts:      opts,
		logger:    logger,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		inflight:  make(map[weather.Date]string),
	}
}

// History exposes the run log.
func (s *Scheduler) History() *History {
	return s.history
}

// Today is the scheduled date of a run started now.
func (s *Scheduler) Today() weather.Date {
	return weather.DateOf(s.now().In(s.opts.Location))
}

// Start schedules the daily job and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	_, err := s.scheduler.Every(1).Day().At(s.opts.At).Do(func() {
		ds := s.Today()
		s.logger.Infow("scheduler: running daily weather job", "ds", ds)

		if _, err := s.Trigger(s.ctx, ds, TriggerSchedule); err != nil {
			s.logger.Errorw("scheduler: daily run failed", "ds", ds, "kind", weather.Kind(err), "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule daily job at %s: %w", s.opts.At, err)
	}

	s.scheduler.StartAsync()

	if s.opts.Catchup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runCatchup(s.ctx)
		}()
	}
	return nil
}

// Stop cancels in-flight runs and stops future jobs.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
	s.wg.Wait()
}

// Trigger runs the pipeline for ds, retrying per Options, and returns the
// finished run. The returned error is the last attempt's error.
func (s *Scheduler) Trigger(ctx context.Context, ds weather.Date, trigger Trigger) (Run, error) {
	id, err := s.begin(ds, trigger)
	if err != nil {
		return Run{}, err
	}
	err = s.execute(ctx, id, ds)
	run, _ := s.history.Get(id)
	return run, err
}

// TriggerAsync starts a run for ds in the background and returns it in the
// running state.
func (s *Scheduler) TriggerAsync(ds weather.Date, trigger Trigger) (Run, error) {
	id, err := s.begin(ds, trigger)
	if err != nil {
		return Run{}, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.execute(s.ctx, id, ds); err != nil {
			s.logger.Errorw("scheduler: triggered run failed", "run_id", id, "ds", ds, "kind", weather.Kind(err))
		}
	}()

	run, _ := s.history.Get(id)
	return run, nil
}

// begin claims ds and registers a new run.
func (s *Scheduler) begin(ds weather.Date, trigger Trigger) (string, error) {
	if err := ds.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, busy := s.inflight[ds]; busy {
		return "", fmt.Errorf("%w: %s (run %s)", ErrRunInProgress, ds, id)
	}

	id := uuid.NewString()
	s.inflight[ds] = id
	s.history.add(&Run{
		ID:        id,
		Date:      ds,
		Trigger:   trigger,
		Status:    StatusRunning,
		StartedAt: s.now().UTC(),
	})
	return id, nil
}

func (s *Scheduler) release(ds weather.Date) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, ds)
}

func (s *Scheduler) execute(ctx context.Context, id string, ds weather.Date) error {
	defer s.release(ds)

	maxAttempts := s.opts.Retries + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		telemetry.ObserveAttempt()
		started := s.now().UTC()
		s.history.update(id, func(r *Run) {
			r.Attempts = append(r.Attempts, Attempt{Number: attempt, StartedAt: started})
		})

		_, err := s.runner.Run(ctx, ds)
		finished := s.now().UTC()
		s.history.update(id, func(r *Run) {
			a := &r.Attempts[len(r.Attempts)-1]
			a.FinishedAt = &finished
			if err != nil {
				a.Stage = string(weather.StageOf(err))
				a.ErrorKind = weather.Kind(err)
				a.Error = err.Error()
			}
		})

		if err == nil {
			s.finish(id, nil)
			s.logger.Infow("scheduler: run succeeded", "run_id", id, "ds", ds, "attempt", attempt)
			return nil
		}

		lastErr = err
		s.logger.Warnw("scheduler: attempt failed",
			"run_id", id,
			"ds", ds,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"stage", weather.StageOf(err),
			"kind", weather.Kind(err),
			"error", err,
		)

		if !weather.Retryable(err) || attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(s.opts.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.finish(id, lastErr)
			return lastErr
		case <-timer.C:
			// next attempt
		}
	}

	s.finish(id, lastErr)
	return lastErr
}

func (s *Scheduler) finish(id string, err error) {
	finished := s.now().UTC()
	s.history.update(id, func(r *Run) {
		r.FinishedAt = &finished
		if err == nil {
			r.Status = StatusSuccess
			return
		}
		r.Status = StatusFailed
		r.ErrorKind = weather.Kind(err)
		r.Error = err.Error()
	})
	telemetry.ObserveRun(weather.Kind(err))
}

// runCatchup runs every date from StartDate up to yesterday that has no
// record yet, oldest first.
func (s *Scheduler) runCatchup(ctx context.Context) {
	if err := s.opts.StartDate.Validate(); err != nil {
		s.logger.Errorw("scheduler: catchup skipped", "error", err)
		return
	}

	today := s.Today()
	for ds := s.opts.StartDate; ds < today; ds = ds.AddDays(1) {
		if ctx.Err() != nil {
			return
		}
		if s.records != nil {
			if _, err := s.records.Get(ctx, ds); err == nil {
				continue
			}
		}

		s.logger.Infow("scheduler: catchup run", "ds", ds)
		if _, err := s.Trigger(ctx, ds, TriggerCatchup); err != nil {
			s.logger.Errorw("scheduler: catchup run failed", "ds", ds, "kind", weather.Kind(err), "error", err)
		}
	}
}
