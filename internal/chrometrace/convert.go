// Package chrometrace turns a trace dump into the JSON event format loaded by
// chrome://tracing and Perfetto.
//
// The dump only records job starts and completions. On a single core a start
// while another job is running means that job was preempted, so Convert
// replays the records against a stack of active tasks and emits explicit
// end/begin pairs around every preemption.
package chrometrace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"rt-trace-monitor/internal/models"
)

// ErrUnbalanced reports a completion that does not belong to the running task.
var ErrUnbalanced = errors.New("chrometrace: completion does not match running task")

const (
	PhaseBegin = "B"
	PhaseEnd   = "E"
)

// Event is one duration event. TS is in microseconds.
type Event struct {
	Name string `json:"name"`
	Cat  string `json:"cat"`
	Ph   string `json:"ph"`
	PID  uint32 `json:"pid"`
	TID  string `json:"tid"`
	TS   int64  `json:"ts"`
}

type span struct {
	task models.TaskID
	ph   string
	ts   int64
}

// Convert replays records in order and returns the begin/end events.
// Completions of tasks that have not started within records are skipped.
func Convert(records []models.EventRecord) ([]Event, error) {
	var (
		spans  []span
		active []models.TaskID
		begun  = map[models.TaskID]bool{}
	)
	for _, r := range records {
		switch r.Phase {
		case models.JobStart:
			if n := len(active); n > 0 {
				spans = append(spans, span{active[n-1], PhaseEnd, r.Timestamp})
			}
			active = append(active, r.TaskID)
			begun[r.TaskID] = true
			spans = append(spans, span{r.TaskID, PhaseBegin, r.Timestamp})
		case models.JobCompletion:
			if !begun[r.TaskID] {
				// The job started before this dump; the dumper's own completion
				// always opens the next dump this way.
				continue
			}
			n := len(active)
			if n == 0 {
				return nil, fmt.Errorf("%w: task %d completed at %d with nothing running", ErrUnbalanced, r.TaskID, r.Timestamp)
			}
			if running := active[n-1]; running != r.TaskID {
				return nil, fmt.Errorf("%w: task %d completed at %d while task %d was running", ErrUnbalanced, r.TaskID, r.Timestamp, running)
			}
			spans = append(spans, span{r.TaskID, PhaseEnd, r.Timestamp})
			active = active[:n-1]
			if len(active) > 0 {
				spans = append(spans, span{active[len(active)-1], PhaseBegin, r.Timestamp})
			}
		default:
			return nil, fmt.Errorf("chrometrace: unknown phase %d", r.Phase)
		}
	}

	// Drop begin/end pairs of zero length; they render as slivers.
	filtered := make([]span, 0, len(spans))
	var lastBegin *span
	for i := range spans {
		s := spans[i]
		if s.ph == PhaseBegin {
			lastBegin = &spans[i]
			filtered = append(filtered, s)
			continue
		}
		if lastBegin != nil && lastBegin.task == s.task && lastBegin.ts == s.ts &&
			len(filtered) > 0 && filtered[len(filtered)-1] == *lastBegin {
			filtered = filtered[:len(filtered)-1]
			continue
		}
		filtered = append(filtered, s)
	}
	if n := len(filtered); n > 0 && filtered[n-1].ph == PhaseBegin {
		filtered = filtered[:n-1]
	}

	events := make([]Event, 0, len(filtered))
	for _, s := range filtered {
		name := fmt.Sprintf("task%d", s.task)
		events = append(events, Event{
			Name: name,
			Cat:  "task",
			Ph:   s.ph,
			PID:  uint32(s.task),
			TID:  name,
			TS:   s.ts * 1000,
		})
	}
	return events, nil
}

// Write encodes events as an indented JSON array.
func Write(w io.Writer, events []Event) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(events); err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	return nil
}
