package models

import "errors"

// ErrNotFound is returned by archive readers for an unknown dump id.
var ErrNotFound = errors.New("not found")

// TaskID identifies a logical periodic task. IDs are assigned by the caller.
type TaskID uint32

// Phase marks which end of a job an event describes. The numeric value is the
// phase code written to the dump sink.
type Phase uint8

const (
	JobCompletion Phase = 0
	JobStart      Phase = 1
)

func (p Phase) String() string {
	switch p {
	case JobStart:
		return "start"
	case JobCompletion:
		return "completion"
	default:
		return "unknown"
	}
}

// EventRecord is one timestamped job boundary. Timestamps are milliseconds since
// an arbitrary monotonic epoch.
type EventRecord struct {
	TaskID    TaskID `json:"task_id"`
	Phase     Phase  `json:"phase"`
	Timestamp int64  `json:"timestamp_ms"`
}

// Trigger names the condition that woke the dumper.
type Trigger string

const (
	TriggerWatermark Trigger = "watermark"
	TriggerPeriod    Trigger = "period"
	// TriggerManual is an operator-requested drain.
	TriggerManual Trigger = "manual"
	// TriggerShutdown is the final drain on exit.
	TriggerShutdown Trigger = "shutdown"
)

// Dump is the content of one drain, in buffer order.
type Dump struct {
	ID         string        `json:"id"`
	Trigger    Trigger       `json:"trigger"`
	StartedMS  int64         `json:"started_ms"`
	FinishedMS int64         `json:"finished_ms"`
	Records    []EventRecord `json:"records"`
}

// DumpSummary describes an archived dump without its records.
type DumpSummary struct {
	ID         string  `json:"id"`
	Trigger    Trigger `json:"trigger"`
	StartedMS  int64   `json:"started_ms"`
	FinishedMS int64   `json:"finished_ms"`
	Records    int     `json:"records"`
}

// TaskStats is a snapshot of one task's deadline counters and response extrema.
// BestMS and WorstMS are nil until the first job completes.
type TaskStats struct {
	TaskID  TaskID `json:"task_id"`
	Met     uint64 `json:"met"`
	Missed  uint64 `json:"missed"`
	BestMS  *int64 `json:"best_ms,omitempty"`
	WorstMS *int64 `json:"worst_ms,omitempty"`
}
