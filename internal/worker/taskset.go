package worker

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"rt-trace-monitor/internal/models"
)

// ErrInvalidTask reports a task set entry the runner cannot schedule.
var ErrInvalidTask = errors.New("invalid task")

// TaskSpec describes one periodic task.
type TaskSpec struct {
	ID           models.TaskID `yaml:"id"`
	Name         string        `yaml:"name"`
	Period       time.Duration `yaml:"period"`
	Deadline     time.Duration `yaml:"deadline"`
	Exec         time.Duration `yaml:"exec"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	// Kind selects the work handler; empty means "busy".
	Kind string `yaml:"kind"`
	// Jobs bounds how many jobs run; 0 runs until cancelled.
	Jobs int `yaml:"jobs"`
}

type taskFile struct {
	Tasks []TaskSpec `yaml:"tasks"`
}

// DefaultTaskSet returns the four reference tasks.
func DefaultTaskSet() []TaskSpec {
	ms := time.Millisecond
	return []TaskSpec{
		{ID: 1, Name: "task1", Period: 50 * ms, Deadline: 40 * ms, Exec: 10 * ms},
		{ID: 2, Name: "task2", Period: 100 * ms, Deadline: 80 * ms, Exec: 20 * ms},
		{ID: 3, Name: "task3", Period: 150 * ms, Deadline: 150 * ms, Exec: 30 * ms},
		{ID: 4, Name: "task4", Period: 300 * ms, Deadline: 140 * ms, Exec: 60 * ms},
	}
}

// LoadTaskSet reads a YAML task set. Durations use Go syntax ("50ms").
func LoadTaskSet(path string) ([]TaskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task set %s: %w", path, err)
	}
	var f taskFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse task set %s: %w", path, err)
	}
	return f.Tasks, nil
}

// ValidateTaskSet checks ids are unique and do not collide with reserved ids
// (the dumper's own id), and that every period and deadline is positive.
func ValidateTaskSet(tasks []TaskSpec, reserved ...models.TaskID) error {
	seen := make(map[models.TaskID]bool, len(tasks)+len(reserved))
	for _, id := range reserved {
		seen[id] = true
	}
	for _, t := range tasks {
		if seen[t.ID] {
			return fmt.Errorf("%w: duplicate or reserved id %d", ErrInvalidTask, t.ID)
		}
		seen[t.ID] = true
		if t.Period <= 0 {
			return fmt.Errorf("%w: task %d period must be positive", ErrInvalidTask, t.ID)
		}
		if t.Deadline <= 0 {
			return fmt.Errorf("%w: task %d deadline must be positive", ErrInvalidTask, t.ID)
		}
		if t.Exec < 0 || t.InitialDelay < 0 || t.Jobs < 0 {
			return fmt.Errorf("%w: task %d has a negative field", ErrInvalidTask, t.ID)
		}
	}
	return nil
}
