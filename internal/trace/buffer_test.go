package trace

import (
	"errors"
	"sync"
	"testing"

	"rt-trace-monitor/internal/models"
)

func signalled(b *Buffer) bool {
	select {
	case <-b.Signal():
		return true
	default:
		return false
	}
}

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	if _, err := New(0, 10); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("expected ErrInvalidCapacity got %v", err)
	}
}

func TestRecordBelowThresholdsDoesNotSignal(t *testing.T) {
	b, err := New(10, 8)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 1; i <= 7; i++ {
		b.Record(1, models.JobStart, int64(i))
		if got := b.Len(); got != i {
			t.Fatalf("after %d records length=%d", i, got)
		}
	}
	if b.Full() {
		t.Fatalf("buffer should not be full")
	}
	if signalled(b) {
		t.Fatalf("no drain should be requested below the watermark")
	}
}

func TestWatermarkSignalsExactlyOnce(t *testing.T) {
	b, _ := New(5, 3)
	for i := 0; i < 3; i++ {
		b.Record(1, models.JobStart, int64(i))
	}
	if !b.Full() {
		t.Fatalf("expected full after reaching watermark")
	}
	// A fourth record still fits below capacity and must not queue a second wake-up.
	b.Record(1, models.JobStart, 3)
	if got := b.Len(); got != 4 {
		t.Fatalf("expected 4th record accepted, length=%d", got)
	}
	if !signalled(b) {
		t.Fatalf("expected one drain signal")
	}
	if signalled(b) {
		t.Fatalf("signal must collapse to a single wake-up")
	}
}

func TestCapacityForcesSignalAndRejectsOverrun(t *testing.T) {
	b, _ := New(3, 600)
	for i := 0; i < 3; i++ {
		b.Record(2, models.JobCompletion, int64(i))
	}
	if !signalled(b) {
		t.Fatalf("reaching capacity must request a drain")
	}
	b.Record(2, models.JobCompletion, 99)
	b.Record(2, models.JobCompletion, 100)
	if got := b.Len(); got != 3 {
		t.Fatalf("length must stay at capacity, got %d", got)
	}
	if got := b.Dropped(); got != 2 {
		t.Fatalf("expected 2 dropped got %d", got)
	}
	if signalled(b) {
		t.Fatalf("rejected appends must not re-signal")
	}
	st := b.Status()
	if st.Accepted != 3 || st.Dropped != 2 || st.Capacity != 3 || !st.Full {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestResetRearmsSignal(t *testing.T) {
	b, _ := New(4, 2)
	b.Record(1, models.JobStart, 0)
	b.Record(1, models.JobCompletion, 5)
	b.mu.Lock()
	b.resetLocked()
	b.mu.Unlock()

	if signalled(b) {
		t.Fatalf("reset must discard the pending signal")
	}
	if b.Len() != 0 || b.Full() {
		t.Fatalf("reset left length=%d full=%v", b.Len(), b.Full())
	}
	b.Record(1, models.JobStart, 10)
	b.Record(1, models.JobCompletion, 15)
	if !signalled(b) {
		t.Fatalf("expected signal after re-crossing the watermark")
	}
}

func TestNilBufferIsNoOp(t *testing.T) {
	r := Disabled()
	r.Record(1, models.JobStart, 1)

	var b *Buffer
	b.Record(1, models.JobStart, 1)
	if b.Len() != 0 || b.Cap() != 0 || b.Full() || b.Signal() != nil {
		t.Fatalf("nil buffer should report zero state")
	}
}

func TestConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	const producers, perProducer = 8, 50
	b, _ := New(producers*perProducer, 0)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id models.TaskID) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Record(id, models.JobStart, int64(i))
			}
		}(models.TaskID(p + 1))
	}
	wg.Wait()

	if got := b.Len(); got != producers*perProducer {
		t.Fatalf("expected %d records got %d", producers*perProducer, got)
	}
	last := map[models.TaskID]int64{}
	for i := 0; i < b.Len(); i++ {
		r := b.records[i]
		if prev, ok := last[r.TaskID]; ok && r.Timestamp != prev+1 {
			t.Fatalf("task %d out of order: %d after %d", r.TaskID, r.Timestamp, prev)
		}
		last[r.TaskID] = r.Timestamp
	}
}
