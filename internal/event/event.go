// Package event carries operational notifications from the engines to
// whoever wants to watch them (the stats server broadcasts them over
// websocket). Publishing is fire-and-forget; a nil or slow sink must never
// stall an engine.
package event

import (
	"sync/atomic"
	"time"
)

// Type labels an engine notification.
type Type string

const (
	// TypeTaskApplied is emitted after a sync task's batch write confirms.
	TypeTaskApplied Type = "task_applied"

	// TypeTaskAbandoned is emitted when a task's retry budget runs out.
	TypeTaskAbandoned Type = "task_abandoned"

	// TypeDegradedFetch is emitted when content retrieval fell back to the
	// degraded record set.
	TypeDegradedFetch Type = "degraded_fetch"

	// TypeConsistencyWarning is emitted when verification finds the fast
	// tier disagreeing with the authoritative tier.
	TypeConsistencyWarning Type = "consistency_warning"
)

// Event is one notification.
type Event struct {
	Type      Type              `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Sink receives events. Implementations must not block.
type Sink interface {
	Publish(ev Event)
}

// Publish sends an event to sink if it is non-nil, stamping the time.
func Publish(sink Sink, typ Type, fields map[string]string) {
	if sink == nil {
		return
	}
	sink.Publish(Event{Type: typ, Timestamp: time.Now(), Fields: fields})
}

// Relay is a sink whose target can be set after the publishers holding it
// were constructed. Events published before a target is set are dropped.
type Relay struct {
	target atomic.Pointer[Sink]
}

// SetTarget routes subsequent events to sink.
func (r *Relay) SetTarget(sink Sink) {
	r.target.Store(&sink)
}

// Publish implements Sink.
func (r *Relay) Publish(ev Event) {
	if p := r.target.Load(); p != nil && *p != nil {
		(*p).Publish(ev)
	}
}
