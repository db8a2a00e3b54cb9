package trace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"rt-trace-monitor/internal/clock"
	"rt-trace-monitor/internal/logging"
	"rt-trace-monitor/internal/models"
	"rt-trace-monitor/internal/telemetry"
)

// ErrDisabled is returned by Dumper.Run when there is no buffer to drain.
var ErrDisabled = errors.New("trace: logging disabled")

// Archiver receives a copy of every completed dump.
type Archiver interface {
	Archive(ctx context.Context, dump models.Dump) error
}

// ArchiverFunc adapts a function to Archiver.
type ArchiverFunc func(ctx context.Context, dump models.Dump) error

func (f ArchiverFunc) Archive(ctx context.Context, dump models.Dump) error {
	return f(ctx, dump)
}

// DumperConfig holds the periodic drain settings.
type DumperConfig struct {
	// Period is the longest time the dumper waits for a signal before draining anyway.
	Period time.Duration
	// TaskID is the id under which the dumper records its own jobs.
	TaskID models.TaskID
	// Untraced stops the dumper from recording its own JobStart/JobCompletion events.
	Untraced bool
}

// Dumper is the single consumer of a Buffer. It waits for the buffer's drain
// signal or for Period to elapse, renders the buffer to its sink and resets it.
type Dumper struct {
	// drainMu keeps Drain single-consumer when it is also called outside Run.
	drainMu sync.Mutex

	buf       *Buffer
	out       io.Writer
	cfg       DumperConfig
	clock     clock.Clock
	logger    logging.Logger
	archivers []namedArchiver
}

type namedArchiver struct {
	name string
	a    Archiver
}

// DumperOption customises a Dumper.
type DumperOption func(*Dumper)

func WithClock(c clock.Clock) DumperOption {
	return func(d *Dumper) { d.clock = c }
}

func WithLogger(l logging.Logger) DumperOption {
	return func(d *Dumper) { d.logger = l }
}

// WithArchiver registers a destination that receives each dump after the
// buffer has been reset. The name labels failure metrics and logs.
func WithArchiver(name string, a Archiver) DumperOption {
	return func(d *Dumper) {
		if a != nil {
			d.archivers = append(d.archivers, namedArchiver{name: name, a: a})
		}
	}
}

// NewDumper builds a dumper that renders buf to out.
func NewDumper(buf *Buffer, out io.Writer, cfg DumperConfig, opts ...DumperOption) *Dumper {
	if cfg.Period <= 0 {
		cfg.Period = 30 * time.Second
	}
	d := &Dumper{
		buf:    buf,
		out:    out,
		cfg:    cfg,
		clock:  clock.NewMonotonic(),
		logger: logging.NoOp{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run waits for drain triggers until ctx is cancelled.
func (d *Dumper) Run(ctx context.Context) error {
	if d.buf == nil {
		return ErrDisabled
	}
	d.logger.Info("dumper started",
		logging.F("period", d.cfg.Period),
		logging.F("capacity", d.buf.Cap()),
		logging.F("watermark", d.buf.Watermark()))

	for {
		timer := time.NewTimer(d.cfg.Period)
		var trigger models.Trigger
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-d.buf.Signal():
			trigger = models.TriggerWatermark
		case <-timer.C:
			trigger = models.TriggerPeriod
		}
		timer.Stop()

		if _, err := d.Drain(ctx, trigger); err != nil {
			d.logger.Error("drain failed", logging.F("trigger", trigger), logging.F("error", err))
		}
	}
}

// Drain renders every buffered record to the sink in buffer order and resets
// the buffer. Only the last record, plus any appended while rendering, is
// written with the buffer lock held. The buffer is reset even if the sink
// fails; the first sink error is returned.
func (d *Dumper) Drain(ctx context.Context, trigger models.Trigger) (models.Dump, error) {
	if d.buf == nil {
		return models.Dump{}, ErrDisabled
	}
	d.drainMu.Lock()
	defer d.drainMu.Unlock()

	began := time.Now()
	dump := models.Dump{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		StartedMS: d.clock.NowMS(),
	}
	if !d.cfg.Untraced {
		d.buf.Record(d.cfg.TaskID, models.JobStart, dump.StartedMS)
	}

	d.buf.mu.Lock()
	snapshot := d.buf.length
	d.buf.mu.Unlock()

	dump.Records = make([]models.EventRecord, 0, snapshot)
	var werr error
	emit := func(r models.EventRecord) {
		dump.Records = append(dump.Records, r)
		if werr == nil {
			werr = writeRecord(d.out, r)
		}
	}

	if _, err := fmt.Fprintln(d.out, StartMarker); err != nil {
		werr = err
	}
	// Indices below snapshot-1 are never written again before the reset below.
	i := 0
	for ; i < snapshot-1; i++ {
		emit(d.buf.records[i])
	}

	d.buf.mu.Lock()
	for ; i < d.buf.length; i++ {
		emit(d.buf.records[i])
	}
	if _, err := fmt.Fprintln(d.out, EndMarker); err != nil && werr == nil {
		werr = err
	}
	d.buf.resetLocked()
	d.buf.mu.Unlock()

	dump.FinishedMS = d.clock.NowMS()
	if !d.cfg.Untraced {
		d.buf.Record(d.cfg.TaskID, models.JobCompletion, dump.FinishedMS)
	}

	telemetry.Drains.WithLabelValues(string(trigger)).Inc()
	telemetry.DrainRecords.Observe(float64(len(dump.Records)))
	telemetry.DrainDuration.Observe(time.Since(began).Seconds())
	d.logger.Debug("drain complete",
		logging.F("trigger", trigger),
		logging.F("records", len(dump.Records)))

	d.archive(ctx, dump)

	if werr != nil {
		return dump, fmt.Errorf("write dump: %w", werr)
	}
	return dump, nil
}

func (d *Dumper) archive(ctx context.Context, dump models.Dump) {
	for _, na := range d.archivers {
		if err := na.a.Archive(ctx, dump); err != nil {
			telemetry.ArchiveFailures.WithLabelValues(na.name).Inc()
			d.logger.Warn("archive dump failed",
				logging.F("archiver", na.name),
				logging.F("dump", dump.ID),
				logging.F("error", err))
		}
	}
}
