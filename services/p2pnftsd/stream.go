package p2pnftsd

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"p2pnfts/core/events"
	"p2pnfts/core/types"
)

const streamHistoryLimit = 2048

// StreamUpdate is one published event with its position in the stream.
type StreamUpdate struct {
	Sequence uint64       `json:"sequence"`
	Cursor   string       `json:"cursor"`
	Event    *types.Event `json:"event"`
}

// Hub fans protocol events out to websocket subscribers and keeps a bounded
// history so clients can resume from a cursor.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]chan StreamUpdate
	history []StreamUpdate
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan StreamUpdate)}
}

func cloneUpdate(update StreamUpdate) StreamUpdate {
	if update.Event == nil {
		return update
	}
	attrs := make(map[string]string, len(update.Event.Attributes))
	for k, v := range update.Event.Attributes {
		attrs[k] = v
	}
	update.Event = &types.Event{Type: update.Event.Type, Attributes: attrs}
	return update
}

// Emit publishes events that have a wire form. Slow subscribers miss updates
// rather than block the market.
func (h *Hub) Emit(e events.Event) {
	wire, ok := e.(events.Wire)
	if h == nil || !ok {
		return
	}
	update := StreamUpdate{Event: wire.Event()}

	h.mu.Lock()
	h.seq++
	update.Sequence = h.seq
	update.Cursor = strconv.FormatUint(update.Sequence, 10)
	h.history = append(h.history, cloneUpdate(update))
	if len(h.history) > streamHistoryLimit {
		excess := len(h.history) - streamHistoryLimit
		trimmed := make([]StreamUpdate, streamHistoryLimit)
		copy(trimmed, h.history[excess:])
		h.history = trimmed
	}
	// Sends stay under mu so cancel cannot close a channel mid-send.
	for _, ch := range h.subs {
		select {
		case ch <- cloneUpdate(update):
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe registers a subscriber and returns the retained updates after
// cursor. The subscription ends when ctx is done or cancel is called.
func (h *Hub) Subscribe(ctx context.Context, cursor string) (<-chan StreamUpdate, func(), []StreamUpdate) {
	updates := make(chan StreamUpdate, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = updates
	history := make([]StreamUpdate, len(h.history))
	copy(history, h.history)
	h.mu.Unlock()

	backlog := make([]StreamUpdate, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneUpdate(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}
