package trace

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"rt-trace-monitor/internal/clock"
	"rt-trace-monitor/internal/models"
)

// lockedBuffer lets the test read sink output while the dumper goroutine writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("sink closed") }

func collect(ch chan models.Dump) Archiver {
	return ArchiverFunc(func(_ context.Context, d models.Dump) error {
		ch <- d
		return nil
	})
}

func waitDump(t *testing.T, ch chan models.Dump) models.Dump {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for dump")
		return models.Dump{}
	}
}

func TestWatermarkDrainScenario(t *testing.T) {
	b, _ := New(5, 3)
	out := &lockedBuffer{}
	dumps := make(chan models.Dump, 4)
	d := NewDumper(b, out, DumperConfig{Period: time.Hour, Untraced: true}, WithArchiver("test", collect(dumps)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	for i := 0; i < 3; i++ {
		b.Record(1, models.JobStart, int64(10*i))
	}

	dump := waitDump(t, dumps)
	if dump.Trigger != models.TriggerWatermark {
		t.Fatalf("expected watermark trigger got %s", dump.Trigger)
	}
	if len(dump.Records) != 3 {
		t.Fatalf("expected 3 drained records got %d", len(dump.Records))
	}
	want := StartMarker + "\n1,1,0\n1,1,10\n1,1,20\n" + EndMarker + "\n"
	if got := out.String(); got != want {
		t.Fatalf("unexpected sink output:\n%s\nwant:\n%s", got, want)
	}
	if b.Len() != 0 || b.Full() {
		t.Fatalf("buffer not reset: len=%d full=%v", b.Len(), b.Full())
	}

	b.Record(1, models.JobCompletion, 40)
	if b.Len() != 1 {
		t.Fatalf("record after reset should succeed")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled got %v", err)
	}
}

func TestPeriodicDrainWithoutSignal(t *testing.T) {
	b, _ := New(500, 600)
	dumps := make(chan models.Dump, 4)
	d := NewDumper(b, &lockedBuffer{}, DumperConfig{Period: 20 * time.Millisecond, Untraced: true}, WithArchiver("test", collect(dumps)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	dump := waitDump(t, dumps)
	if dump.Trigger != models.TriggerPeriod {
		t.Fatalf("expected period trigger got %s", dump.Trigger)
	}
	if len(dump.Records) != 0 {
		t.Fatalf("expected empty dump got %d records", len(dump.Records))
	}
}

func TestDrainTracesItself(t *testing.T) {
	b, _ := New(10, 0)
	clk := clock.NewManual(42)
	var out bytes.Buffer
	d := NewDumper(b, &out, DumperConfig{Period: time.Hour, TaskID: 0}, WithClock(clk))

	b.Record(1, models.JobStart, 40)
	b.Record(1, models.JobCompletion, 41)

	dump, err := d.Drain(context.Background(), models.TriggerPeriod)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	want := []string{StartMarker, "1,1,40", "1,0,41", "0,1,42", EndMarker}
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected lines %q", lines)
	}
	if len(dump.Records) != 3 || dump.StartedMS != 42 {
		t.Fatalf("unexpected dump %+v", dump)
	}
	// The completion record of the dumper's own job opens the next dump.
	if b.Len() != 1 || b.records[0] != (models.EventRecord{TaskID: 0, Phase: models.JobCompletion, Timestamp: 42}) {
		t.Fatalf("expected dumper completion record, len=%d first=%+v", b.Len(), b.records[0])
	}
}

func TestDrainMatchesWriteDump(t *testing.T) {
	b, _ := New(16, 0)
	for i := 0; i < 6; i++ {
		b.Record(models.TaskID(i%3+1), models.Phase(i%2), int64(i*7))
	}
	var got bytes.Buffer
	d := NewDumper(b, &got, DumperConfig{Untraced: true})
	dump, err := d.Drain(context.Background(), models.TriggerPeriod)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	var want bytes.Buffer
	if err := WriteDump(&want, dump.Records); err != nil {
		t.Fatalf("write dump: %v", err)
	}
	if got.String() != want.String() {
		t.Fatalf("drain output %q differs from WriteDump %q", got.String(), want.String())
	}
	parsed, err := ParseDump(&got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed) != 6 || parsed[5] != dump.Records[5] {
		t.Fatalf("parsed records do not match: %+v", parsed)
	}
}

func TestDrainResetsEvenWhenSinkFails(t *testing.T) {
	b, _ := New(4, 0)
	b.Record(1, models.JobStart, 1)
	b.Record(1, models.JobCompletion, 2)

	d := NewDumper(b, failingWriter{}, DumperConfig{Untraced: true})
	dump, err := d.Drain(context.Background(), models.TriggerPeriod)
	if err == nil {
		t.Fatalf("expected sink error")
	}
	if len(dump.Records) != 2 {
		t.Fatalf("dump should still carry records, got %d", len(dump.Records))
	}
	if b.Len() != 0 {
		t.Fatalf("buffer should be reset after failed sink")
	}
}

func TestArchiverFailureDoesNotFailDrain(t *testing.T) {
	b, _ := New(4, 0)
	b.Record(3, models.JobStart, 7)
	failing := ArchiverFunc(func(context.Context, models.Dump) error { return errors.New("unreachable") })
	d := NewDumper(b, &bytes.Buffer{}, DumperConfig{Untraced: true}, WithArchiver("broken", failing))
	if _, err := d.Drain(context.Background(), models.TriggerPeriod); err != nil {
		t.Fatalf("archiver errors must not surface from Drain: %v", err)
	}
}

func TestRunWithoutBufferIsDisabled(t *testing.T) {
	d := NewDumper(nil, &bytes.Buffer{}, DumperConfig{})
	if err := d.Run(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled got %v", err)
	}
}

func TestNoRecordLostUnderConcurrentDrains(t *testing.T) {
	const producers, perProducer = 4, 500
	b, _ := New(64, 48)

	var mu sync.Mutex
	drained := 0
	count := ArchiverFunc(func(_ context.Context, d models.Dump) error {
		mu.Lock()
		drained += len(d.Records)
		mu.Unlock()
		return nil
	})
	d := NewDumper(b, &lockedBuffer{}, DumperConfig{Period: time.Millisecond, Untraced: true}, WithArchiver("count", count))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

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
	cancel()
	<-done

	if _, err := d.Drain(context.Background(), models.TriggerPeriod); err != nil {
		t.Fatalf("final drain: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if uint64(drained) != b.Accepted() {
		t.Fatalf("drained %d records but %d were accepted", drained, b.Accepted())
	}
	if b.Accepted()+b.Dropped() != producers*perProducer {
		t.Fatalf("accepted %d + dropped %d != %d", b.Accepted(), b.Dropped(), producers*perProducer)
	}
}
