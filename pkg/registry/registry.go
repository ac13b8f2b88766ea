// pkg/registry/registry.go
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

//go:embed events.json
var defaultRegistry []byte

var (
	defaultOnce sync.Once
	defaultReg  *EventRegistry
	defaultErr  error
)

// Default returns the registry compiled into the binary.
func Default() (*EventRegistry, error) {
	defaultOnce.Do(func() {
		defaultReg, defaultErr = Parse(defaultRegistry)
	})
	return defaultReg, defaultErr
}

func LoadRegistry(path string) (*EventRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*EventRegistry, error) {
	var reg EventRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Validate checks that every definition is complete and that kinds, task
// types and subjects are unique.
func (r *EventRegistry) Validate() error {
	if len(r.Events) == 0 {
		return fmt.Errorf("registry contains no events")
	}

	kinds := make(map[string]bool)
	tasks := make(map[string]bool)
	subjects := make(map[string]bool)
	for _, ev := range r.Events {
		if ev.Kind == "" {
			return fmt.Errorf("event missing required field: kind")
		}
		if ev.EventType == "" || ev.TaskType == "" || ev.Subject == "" {
			return fmt.Errorf("event %s missing eventType, taskType or subject", ev.Kind)
		}
		if kinds[ev.Kind] {
			return fmt.Errorf("duplicate event kind: %s", ev.Kind)
		}
		if tasks[ev.TaskType] {
			return fmt.Errorf("duplicate task type: %s", ev.TaskType)
		}
		if subjects[ev.Subject] {
			return fmt.Errorf("duplicate subject: %s", ev.Subject)
		}
		kinds[ev.Kind] = true
		tasks[ev.TaskType] = true
		subjects[ev.Subject] = true
	}
	return nil
}

func (r *EventRegistry) ByKind(kind string) (EventDefinition, bool) {
	for _, ev := range r.Events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return EventDefinition{}, false
}

func (r *EventRegistry) ByTaskType(taskType string) (EventDefinition, bool) {
	for _, ev := range r.Events {
		if ev.TaskType == taskType {
			return ev, true
		}
	}
	return EventDefinition{}, false
}

func (r *EventRegistry) BySubject(subject string) (EventDefinition, bool) {
	for _, ev := range r.Events {
		if ev.Subject == subject {
			return ev, true
		}
	}
	return EventDefinition{}, false
}
