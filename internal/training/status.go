package training

import (
	"maps"
	"sync"
	"time"
)

// Status messages.
const (
	MessageIdle       = "Idle"
	MessageInProgress = "in progress"
	MessageNoImages   = "no images ready for training"
)

// Status is the externally visible progress of a model type.
type Status struct {
	Running    bool       `json:"running"`
	Message    string     `json:"message"`
	ResultPath string     `json:"result_path"`
	RunName    string     `json:"run_name,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StatusRegistry holds the last known status of every model type. Writes come
// from the run that owns the type; reads never block on a run.
type StatusRegistry struct {
	mu     sync.RWMutex
	states map[string]Status
}

// NewStatusRegistry creates an empty registry.
func NewStatusRegistry() *StatusRegistry {
	return &StatusRegistry{states: make(map[string]Status)}
}

// Get returns the status of modelType. Unknown or never-run types are idle.
func (r *StatusRegistry) Get(modelType string) Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.states[modelType]; ok {
		return s
	}
	return Status{Message: MessageIdle}
}

// All returns a snapshot of every recorded status.
func (r *StatusRegistry) All() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.states)
}

// update applies fn to the status of modelType.
func (r *StatusRegistry) update(modelType string, fn func(*Status)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[modelType]
	if !ok {
		s = Status{Message: MessageIdle}
	}
	fn(&s)
	r.states[modelType] = s
}
