package deadline

import (
	"sync"
	"testing"

	"rt-trace-monitor/internal/models"
)

func TestObserveMissAndMet(t *testing.T) {
	tr := NewTracker(FromStart)

	out := tr.Observe(1, Observation{Wake: 0, Start: 0, Finish: 60, Deadline: 50})
	if !out.Missed {
		t.Fatalf("finish 60 past deadline 50 should miss")
	}
	st, ok := tr.Stats(1)
	if !ok {
		t.Fatalf("stats missing for task 1")
	}
	if st.WorstMS == nil || *st.WorstMS < 60 {
		t.Fatalf("expected worst >= 60 got %v", st.WorstMS)
	}

	out = tr.Observe(1, Observation{Wake: 100, Start: 100, Finish: 140, Deadline: 50})
	if out.Missed {
		t.Fatalf("finish 40ms after wake should meet a 50ms deadline")
	}
	st, _ = tr.Stats(1)
	if st.Met != 1 || st.Missed != 1 {
		t.Fatalf("expected 1 met 1 missed got %+v", st)
	}
	if *st.BestMS != 40 || *st.WorstMS != 60 {
		t.Fatalf("expected best 40 worst 60 got best=%d worst=%d", *st.BestMS, *st.WorstMS)
	}
}

func TestFinishOnDeadlineIsMet(t *testing.T) {
	tr := NewTracker(FromStart)
	if out := tr.Observe(2, Observation{Wake: 10, Start: 12, Finish: 60, Deadline: 50}); out.Missed {
		t.Fatalf("finishing exactly at the deadline is not a miss")
	}
}

func TestDeadlineCountsFromWakeNotStart(t *testing.T) {
	tr := NewTracker(FromStart)
	// Released at 0, started late at 30, ran 25ms: execution fits, deadline does not.
	out := tr.Observe(3, Observation{Wake: 0, Start: 30, Finish: 55, Deadline: 50})
	if !out.Missed {
		t.Fatalf("late start should count toward the deadline")
	}
	if out.ResponseMS != 25 {
		t.Fatalf("start-based response should be 25 got %d", out.ResponseMS)
	}
}

func TestResponseFromWake(t *testing.T) {
	tr := NewTracker(FromWake)
	out := tr.Observe(4, Observation{Wake: 0, Start: 30, Finish: 55, Deadline: 100})
	if out.ResponseMS != 55 {
		t.Fatalf("wake-based response should be 55 got %d", out.ResponseMS)
	}
	if tr.Base() != FromWake {
		t.Fatalf("unexpected base %v", tr.Base())
	}
}

func TestStatsUnsetBeforeFirstObservation(t *testing.T) {
	tr := NewTracker(FromStart)
	tr.Slot(7)
	st, ok := tr.Stats(7)
	if !ok {
		t.Fatalf("registered slot should be visible")
	}
	if st.BestMS != nil || st.WorstMS != nil || st.Met != 0 || st.Missed != 0 {
		t.Fatalf("expected empty stats got %+v", st)
	}
	if _, ok := tr.Stats(8); ok {
		t.Fatalf("unknown task should not report stats")
	}
}

func TestParseResponseBase(t *testing.T) {
	if b, err := ParseResponseBase("wake"); err != nil || b != FromWake {
		t.Fatalf("wake: %v %v", b, err)
	}
	if b, err := ParseResponseBase(""); err != nil || b != FromStart {
		t.Fatalf("default: %v %v", b, err)
	}
	if _, err := ParseResponseBase("release"); err == nil {
		t.Fatalf("expected error for unknown base")
	}
}

func TestSlotsAreIndependentAcrossTasks(t *testing.T) {
	tr := NewTracker(FromStart)
	var wg sync.WaitGroup
	for id := models.TaskID(1); id <= 4; id++ {
		wg.Add(1)
		go func(id models.TaskID) {
			defer wg.Done()
			slot := tr.Slot(id)
			for i := int64(0); i < 100; i++ {
				slot.Observe(Observation{Wake: i * 100, Start: i * 100, Finish: i*100 + int64(id)*10, Deadline: 25})
			}
		}(id)
	}
	// Concurrent readers are allowed while tasks update their slots.
	for i := 0; i < 50; i++ {
		_ = tr.All()
	}
	wg.Wait()

	all := tr.All()
	if len(all) != 4 {
		t.Fatalf("expected 4 slots got %d", len(all))
	}
	for _, st := range all {
		if st.Met+st.Missed != 100 {
			t.Fatalf("task %d observed %d jobs", st.TaskID, st.Met+st.Missed)
		}
		wantMissed := uint64(0)
		if st.TaskID >= 3 {
			wantMissed = 100
		}
		if st.Missed != wantMissed {
			t.Fatalf("task %d missed %d want %d", st.TaskID, st.Missed, wantMissed)
		}
		if *st.BestMS != int64(st.TaskID)*10 || *st.WorstMS != int64(st.TaskID)*10 {
			t.Fatalf("task %d extrema best=%d worst=%d", st.TaskID, *st.BestMS, *st.WorstMS)
		}
	}
	if all[0].TaskID != 1 || all[3].TaskID != 4 {
		t.Fatalf("All must be sorted by id")
	}
}
