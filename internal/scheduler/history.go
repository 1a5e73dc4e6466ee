package scheduler

import (
	"sync"
	"time"

	"github.com/i474232898/weather-etl/internal/weather"
)

// Status is the state of a run.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Trigger records what started a run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
	TriggerCatchup  Trigger = "catchup"
	TriggerCLI      Trigger = "cli"
)

// Attempt is one pass through the pipeline within a run.
type Attempt struct {
	Number     int        `json:"number"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Stage      string     `json:"stage,omitempty"`
	ErrorKind  string     `json:"errorKind,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Run is one triggered execution of the pipeline for a date, including retries.
type Run struct {
	ID         string       `json:"id"`
	Date       weather.Date `json:"date"`
	Trigger    Trigger      `json:"trigger"`
	Status     Status       `json:"status"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
	ErrorKind  string       `json:"errorKind,omitempty"`
	Error      string       `json:"error,omitempty"`
	Attempts   []Attempt    `json:"attempts"`
}

func (r *Run) clone() Run {
	c := *r
	c.Attempts = append([]Attempt(nil), r.Attempts...)
	return c
}

// History is a bounded, concurrency-safe log of runs.
type History struct {
	mu sync.RWMutex

	runs  []*Run // oldest first
	index map[string]*Run

	// max number of runs kept (0 = unlimited)
	max int
}

// NewHistory creates a History keeping at most max runs.
func NewHistory(max int) *History {
	return &History{
		index: make(map[string]*Run),
		max:   max,
	}
}

func (h *History) add(r *Run) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.runs = append(h.runs, r)
	h.index[r.ID] = r

	if h.max > 0 && len(h.runs) > h.max {
		over := len(h.runs) - h.max
		for _, old := range h.runs[:over] {
			delete(h.index, old.ID)
		}
		h.runs = h.runs[over:]
	}
}

func (h *History) update(id string, fn func(*Run)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.index[id]; ok {
		fn(r)
	}
}

// List returns all kept runs, newest first.
func (h *History) List() []Run {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Run, 0, len(h.runs))
	for i := len(h.runs) - 1; i >= 0; i-- {
		out = append(out, h.runs[i].clone())
	}
	return out
}

// Get returns the run with the given id.
func (h *History) Get(id string) (Run, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r, ok := h.index[id]
	if !ok {
		return Run{}, false
	}
	return r.clone(), true
}
