package trace

import (
	"errors"
	"sync"
	"sync/atomic"

	"rt-trace-monitor/internal/models"
	"rt-trace-monitor/internal/telemetry"
)

// ErrInvalidCapacity is returned by New when the buffer could not hold a record.
var ErrInvalidCapacity = errors.New("trace: capacity must be positive")

// Recorder is the producer API used by periodic tasks. Record never blocks for
// longer than the buffer's append critical section and never fails visibly.
type Recorder interface {
	Record(id models.TaskID, phase models.Phase, timestampMS int64)
}

// Buffer is a fixed-capacity, append-only event log shared by all producers.
// Records keep their position until the dumper resets the buffer.
//
// A nil *Buffer is a valid Recorder that drops everything; it stands in when
// tracing could not be initialised.
type Buffer struct {
	mu        sync.Mutex
	records   []models.EventRecord
	length    int
	full      bool
	watermark int

	// signal holds at most one pending wake-up for the dumper.
	signal chan struct{}

	accepted atomic.Uint64
	dropped  atomic.Uint64
}

// Status is a point-in-time view of the buffer for reporting.
type Status struct {
	Length    int    `json:"length"`
	Capacity  int    `json:"capacity"`
	Watermark int    `json:"watermark"`
	Full      bool   `json:"full"`
	Accepted  uint64 `json:"accepted"`
	Dropped   uint64 `json:"dropped"`
}

// New allocates a buffer holding up to capacity records. A watermark <= 0
// disables the watermark trigger; a watermark above capacity is allowed and
// leaves capacity as the only count-based trigger.
func New(capacity, watermark int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Buffer{
		records:   make([]models.EventRecord, capacity),
		watermark: watermark,
		signal:    make(chan struct{}, 1),
	}, nil
}

// Disabled returns a Recorder that ignores every event.
func Disabled() Recorder {
	return (*Buffer)(nil)
}

// Record appends one event. It is a no-op on a nil buffer and when the buffer
// is at capacity. The append that reaches the watermark or the capacity raises
// the drain signal once; later appends do not re-raise it until reset.
func (b *Buffer) Record(id models.TaskID, phase models.Phase, timestampMS int64) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.length >= len(b.records) {
		b.mu.Unlock()
		b.dropped.Add(1)
		telemetry.EventsDropped.Inc()
		return
	}
	b.records[b.length] = models.EventRecord{TaskID: id, Phase: phase, Timestamp: timestampMS}
	b.length++
	if !b.full && (b.length == b.watermark || b.length == len(b.records)) {
		b.full = true
		b.notify()
	}
	length := b.length
	b.mu.Unlock()

	b.accepted.Add(1)
	telemetry.EventsRecorded.Inc()
	telemetry.BufferLength.Set(float64(length))
}

// notify never blocks; a pending value absorbs further raises. b.mu must be held
// so that a concurrent reset cannot leave a stale value behind.
func (b *Buffer) notify() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// Signal delivers one value per watermark or capacity crossing.
func (b *Buffer) Signal() <-chan struct{} {
	if b == nil {
		return nil
	}
	return b.signal
}

func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

func (b *Buffer) Cap() int {
	if b == nil {
		return 0
	}
	return len(b.records)
}

func (b *Buffer) Watermark() int {
	if b == nil {
		return 0
	}
	return b.watermark
}

// Full reports whether a drain has been requested and not yet completed.
func (b *Buffer) Full() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.full
}

func (b *Buffer) Accepted() uint64 {
	if b == nil {
		return 0
	}
	return b.accepted.Load()
}

func (b *Buffer) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.dropped.Load()
}

func (b *Buffer) Status() Status {
	if b == nil {
		return Status{}
	}
	b.mu.Lock()
	length, full := b.length, b.full
	b.mu.Unlock()
	return Status{
		Length:    length,
		Capacity:  len(b.records),
		Watermark: b.watermark,
		Full:      full,
		Accepted:  b.accepted.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// resetLocked empties the buffer and discards a pending signal. b.mu must be held.
func (b *Buffer) resetLocked() {
	b.length = 0
	b.full = false
	select {
	case <-b.signal:
	default:
	}
}
