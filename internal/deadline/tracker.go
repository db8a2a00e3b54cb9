// Package deadline keeps per-task deadline counters and response-time extrema.
//
// Each task owns one Slot and is its only writer, so updates take no lock.
// Readers may observe a slot mid-update; every field is individually atomic.
package deadline

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"rt-trace-monitor/internal/models"
)

// ResponseBase selects where response time is measured from.
type ResponseBase int

const (
	// FromStart measures finish - start, the job's execution span.
	FromStart ResponseBase = iota
	// FromWake measures finish - wake, including any release delay.
	FromWake
)

func (b ResponseBase) String() string {
	if b == FromWake {
		return "wake"
	}
	return "start"
}

// ParseResponseBase accepts "start" or "wake".
func ParseResponseBase(s string) (ResponseBase, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "start":
		return FromStart, nil
	case "wake":
		return FromWake, nil
	default:
		return FromStart, fmt.Errorf("unknown response base %q", s)
	}
}

// Observation describes one completed job, all in milliseconds. Deadline is
// relative to Wake, the job's scheduled release time.
type Observation struct {
	Wake     int64
	Start    int64
	Finish   int64
	Deadline int64
}

// Outcome is what a single observation produced.
type Outcome struct {
	Missed     bool
	ResponseMS int64
}

const unset = -1

// Slot accumulates statistics for one task.
type Slot struct {
	id     models.TaskID
	base   ResponseBase
	met    atomic.Uint64
	missed atomic.Uint64
	best   atomic.Int64
	worst  atomic.Int64
}

func newSlot(id models.TaskID, base ResponseBase) *Slot {
	s := &Slot{id: id, base: base}
	s.best.Store(unset)
	s.worst.Store(unset)
	return s
}

// Observe records one job completion. It must not be called concurrently for
// the same slot.
func (s *Slot) Observe(obs Observation) Outcome {
	out := Outcome{Missed: obs.Finish > obs.Wake+obs.Deadline}
	if out.Missed {
		s.missed.Add(1)
	} else {
		s.met.Add(1)
	}

	if s.base == FromWake {
		out.ResponseMS = obs.Finish - obs.Wake
	} else {
		out.ResponseMS = obs.Finish - obs.Start
	}
	if w := s.worst.Load(); w == unset || out.ResponseMS > w {
		s.worst.Store(out.ResponseMS)
	}
	if b := s.best.Load(); b == unset || out.ResponseMS < b {
		s.best.Store(out.ResponseMS)
	}
	return out
}

// Stats returns a snapshot of the slot.
func (s *Slot) Stats() models.TaskStats {
	st := models.TaskStats{
		TaskID: s.id,
		Met:    s.met.Load(),
		Missed: s.missed.Load(),
	}
	if b := s.best.Load(); b != unset {
		st.BestMS = &b
	}
	if w := s.worst.Load(); w != unset {
		st.WorstMS = &w
	}
	return st
}

// Tracker owns the slots of every task.
type Tracker struct {
	base  ResponseBase
	mu    sync.RWMutex
	slots map[models.TaskID]*Slot
}

func NewTracker(base ResponseBase) *Tracker {
	return &Tracker{base: base, slots: make(map[models.TaskID]*Slot)}
}

func (t *Tracker) Base() ResponseBase {
	return t.base
}

// Slot returns the slot for id, creating it on first use. Tasks should fetch
// their slot once at start-up and keep it.
func (t *Tracker) Slot(id models.TaskID) *Slot {
	t.mu.RLock()
	s, ok := t.slots[id]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.slots[id]; ok {
		return s
	}
	s = newSlot(id, t.base)
	t.slots[id] = s
	return s
}

// Observe is shorthand for t.Slot(id).Observe(obs).
func (t *Tracker) Observe(id models.TaskID, obs Observation) Outcome {
	return t.Slot(id).Observe(obs)
}

// Stats returns the snapshot for id, or false if the task never registered.
func (t *Tracker) Stats(id models.TaskID) (models.TaskStats, bool) {
	t.mu.RLock()
	s, ok := t.slots[id]
	t.mu.RUnlock()
	if !ok {
		return models.TaskStats{}, false
	}
	return s.Stats(), true
}

// All returns a snapshot of every slot ordered by task id.
func (t *Tracker) All() []models.TaskStats {
	t.mu.RLock()
	out := make([]models.TaskStats, 0, len(t.slots))
	for _, s := range t.slots {
		out = append(out, s.Stats())
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}
