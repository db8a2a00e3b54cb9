package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"rt-trace-monitor/internal/clock"
	"rt-trace-monitor/internal/deadline"
	"rt-trace-monitor/internal/logging"
	"rt-trace-monitor/internal/models"
	"rt-trace-monitor/internal/telemetry"
	"rt-trace-monitor/internal/trace"
)

// Handler performs one job's work for roughly d.
type Handler func(ctx context.Context, d time.Duration) error

// Runner drives a set of periodic tasks. Each task gets its own goroutine,
// records its job boundaries through the Recorder and feeds its own deadline
// slot.
type Runner struct {
	rec      trace.Recorder
	tracker  *deadline.Tracker
	clock    clock.Clock
	logger   logging.Logger
	handlers map[string]Handler
}

// NewRunner wires a runner. A nil recorder is replaced by trace.Disabled().
func NewRunner(rec trace.Recorder, tracker *deadline.Tracker, c clock.Clock, logger logging.Logger) *Runner {
	if rec == nil {
		rec = trace.Disabled()
	}
	if tracker == nil {
		tracker = deadline.NewTracker(deadline.FromStart)
	}
	if c == nil {
		c = clock.NewMonotonic()
	}
	if logger == nil {
		logger = logging.NoOp{}
	}
	r := &Runner{
		rec:      rec,
		tracker:  tracker,
		clock:    c,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
	r.handlers["sleep"] = r.sleepWork
	r.handlers["busy"] = busyWork
	return r
}

// RegisterHandler binds a handler to a task kind.
func (r *Runner) RegisterHandler(kind string, handler Handler) {
	if kind == "" || handler == nil {
		return
	}
	r.handlers[kind] = handler
}

// Run starts every task and blocks until all of them return. Bounded tasks
// return after their last job; the rest stop when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, tasks []TaskSpec) error {
	for _, t := range tasks {
		if _, ok := r.handler(t.Kind); !ok {
			return fmt.Errorf("%w: task %d uses unknown kind %q", ErrInvalidTask, t.ID, t.Kind)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, len(tasks))
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t TaskSpec) {
			defer wg.Done()
			errs[i] = r.runTask(ctx, t)
		}(i, t)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	return nil
}

func (r *Runner) handler(kind string) (Handler, bool) {
	if kind == "" {
		kind = "busy"
	}
	h, ok := r.handlers[kind]
	return h, ok
}

func (r *Runner) runTask(ctx context.Context, t TaskSpec) error {
	work, _ := r.handler(t.Kind)
	slot := r.tracker.Slot(t.ID)
	label := strconv.FormatUint(uint64(t.ID), 10)
	period := t.Period.Milliseconds()
	dl := t.Deadline.Milliseconds()

	if t.InitialDelay > 0 {
		if err := r.clock.SleepUntil(ctx, r.clock.NowMS()+t.InitialDelay.Milliseconds()); err != nil {
			return err
		}
	}
	lastWake := r.clock.NowMS()
	r.logger.Debug("task started", logging.F("task", t.ID), logging.F("name", t.Name), logging.F("period_ms", period))

	for job := 0; t.Jobs == 0 || job < t.Jobs; job++ {
		start := r.clock.NowMS()
		r.rec.Record(t.ID, models.JobStart, start)

		if err := work(ctx, t.Exec); err != nil {
			return fmt.Errorf("task %d job %d: %w", t.ID, job, err)
		}

		finish := r.clock.NowMS()
		out := slot.Observe(deadline.Observation{Wake: lastWake, Start: start, Finish: finish, Deadline: dl})
		r.rec.Record(t.ID, models.JobCompletion, finish)

		if out.Missed {
			telemetry.DeadlinesMissed.WithLabelValues(label).Inc()
			r.logger.Debug("deadline missed", logging.F("task", t.ID), logging.F("wake", lastWake), logging.F("finish", finish))
		} else {
			telemetry.DeadlinesMet.WithLabelValues(label).Inc()
		}
		telemetry.ResponseTime.WithLabelValues(label).Observe(float64(out.ResponseMS))

		// Absolute release times: an overrun releases the next job immediately
		// but keeps the schedule anchored to the original phase.
		lastWake += period
		if err := r.clock.SleepUntil(ctx, lastWake); err != nil {
			return err
		}
	}
	return nil
}

// sleepWork waits on the runner's clock, so it is deterministic under a manual clock.
func (r *Runner) sleepWork(ctx context.Context, d time.Duration) error {
	return r.clock.SleepUntil(ctx, r.clock.NowMS()+d.Milliseconds())
}

// busyWork keeps the CPU busy for d, checking ctx between short spins.
func busyWork(ctx context.Context, d time.Duration) error {
	until := time.Now().Add(d)
	for i := 0; time.Now().Before(until); i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	return nil
}
