package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"vetoken/core/events"
	"vetoken/core/types"
	"vetoken/observability"
)

const eventHistoryLimit = 2048

type eventPayload interface {
	Event() *types.Event
}

// Emit satisfies events.Emitter: the engines hand the node every protocol
// event, and the node assigns a sequence number, keeps a bounded replay
// history and fans the event out to live subscribers. Slow subscribers drop
// events rather than stalling the emitting operation; the cursor-based
// backlog lets them recover.
func (n *Node) Emit(evt events.Event) {
	if n == nil || evt == nil {
		return
	}
	payload, ok := evt.(eventPayload)
	if !ok {
		return
	}
	event := payload.Event()
	if event == nil {
		return
	}
	observability.Engine().RecordEvent(event.Type)

	n.streamMu.Lock()
	n.streamSeq++
	event.Sequence = n.streamSeq
	n.streamHistory = append(n.streamHistory, cloneEvent(*event))
	if len(n.streamHistory) > eventHistoryLimit {
		excess := len(n.streamHistory) - eventHistoryLimit
		trimmed := make([]types.Event, eventHistoryLimit)
		copy(trimmed, n.streamHistory[excess:])
		n.streamHistory = trimmed
	}
	subscribers := make([]chan types.Event, 0, len(n.streamSubs))
	for _, ch := range n.streamSubs {
		subscribers = append(subscribers, ch)
	}
	n.streamMu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- cloneEvent(*event):
		default:
		}
	}
}

func cloneEvent(event types.Event) types.Event {
	cloned := event
	if len(event.Attributes) > 0 {
		cloned.Attributes = make(map[string]string, len(event.Attributes))
		for k, v := range event.Attributes {
			cloned.Attributes[k] = v
		}
	}
	return cloned
}

// EventsSubscribe registers a subscriber for protocol events with sequence
// numbers greater than the supplied cursor (empty or unparsable cursors read
// from the start of the retained history). It returns the live channel, a
// cancel function that must be called when done, and the replay backlog.
func (n *Node) EventsSubscribe(ctx context.Context, cursor string) (<-chan types.Event, func(), []types.Event, error) {
	if n == nil {
		return nil, nil, nil, fmt.Errorf("node unavailable")
	}
	updates := make(chan types.Event, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	n.streamMu.Lock()
	if n.streamSubs == nil {
		n.streamSubs = make(map[uint64]chan types.Event)
	}
	id := n.streamNextID
	n.streamNextID++
	n.streamSubs[id] = updates
	history := make([]types.Event, len(n.streamHistory))
	copy(history, n.streamHistory)
	n.streamMu.Unlock()

	backlog := make([]types.Event, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneEvent(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.streamMu.Lock()
			sub, ok := n.streamSubs[id]
			if ok {
				delete(n.streamSubs, id)
				close(sub)
			}
			n.streamMu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}
