package match

import (
	"sync"
	"time"
)

// Phase is the stage of arm evaluation a trace event reports.
type Phase string

const (
	PhasePattern Phase = "pattern"
	PhaseGuard   Phase = "guard"
	PhaseResult  Phase = "result"
)

// TraceEvent is one step of an Apply. A PhasePattern event with Ok=false is
// a missed arm; a PhaseResult event with Ok=true names the winning arm.
type TraceEvent struct {
	RunID   string
	Ruleset string
	Arm     int
	Phase   Phase
	Ok      bool
	Depth   int
	Elapsed time.Duration
}

// Tracer receives trace events during Apply. Implementations must be safe
// for concurrent use when the corpus runner shares an engine.
type Tracer interface {
	Event(TraceEvent)
}

// Collector is a Tracer that buffers events in memory.
type Collector struct {
	mu     sync.Mutex
	events []TraceEvent
}

// NewCollector returns an empty collector.
func NewCollector() *Collector { return &Collector{} }

// Event appends one event.
func (c *Collector) Event(ev TraceEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

// Events returns a copy of the buffered events.
func (c *Collector) Events() []TraceEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TraceEvent, len(c.events))
	copy(out, c.events)
	return out
}

// Reset discards buffered events.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}
