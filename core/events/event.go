package events

import (
	"sync"

	"p2pnfts/core/types"
)

// Event represents a structured state change emitted by a market or the
// collateral controller.
type Event interface {
	EventType() string
}

// Wire is implemented by events that have a flat attribute representation for
// API subscribers and the indexer.
type Wire interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer queues events raised while a call is in flight. Engines flush it once
// the call has committed and reset it when the call reverts.
type Buffer struct {
	pending []Event
}

func (b *Buffer) Emit(e Event) {
	if e == nil {
		return
	}
	b.pending = append(b.pending, e)
}

// Flush forwards the queued events to out in emission order.
func (b *Buffer) Flush(out Emitter) {
	if out != nil {
		for _, e := range b.pending {
			out.Emit(e)
		}
	}
	b.Reset()
}

func (b *Buffer) Reset() { b.pending = b.pending[:0] }

// Len reports how many events are queued.
func (b *Buffer) Len() int { return len(b.pending) }

// Recorder keeps every emitted event. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events whose EventType equals typ.
func (r *Recorder) OfType(typ string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.EventType() == typ {
			out = append(out, e)
		}
	}
	return out
}

// FanOut delivers every event to each emitter in order.
type FanOut []Emitter

func (f FanOut) Emit(e Event) {
	for _, em := range f {
		if em != nil {
			em.Emit(e)
		}
	}
}
