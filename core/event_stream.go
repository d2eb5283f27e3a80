package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"refnet/core/types"
)

const eventStreamHistoryLimit = 2048

// EventStreamEntry wraps a module event with its position in the stream.
// Sequence numbers start at 1 and the cursor is the decimal sequence, so a
// client can resume with the last cursor it has processed.
type EventStreamEntry struct {
	Sequence  uint64
	Cursor    string
	Timestamp int64
	Event     *types.Event
}

func cloneEventStreamEntry(entry EventStreamEntry) EventStreamEntry {
	cloned := entry
	if entry.Event != nil {
		cloned.Event = entry.Event.Clone()
	}
	return cloned
}

// publishEvent appends the event to the bounded history and fans it out to
// live subscribers. Slow subscribers miss entries rather than block settlement.
func (n *Node) publishEvent(event *types.Event) {
	if n == nil || event == nil {
		return
	}

	n.eventStreamMu.Lock()
	if n.eventStreamSubs == nil {
		n.eventStreamSubs = make(map[uint64]chan EventStreamEntry)
	}
	n.eventStreamSeq++
	entry := EventStreamEntry{
		Sequence:  n.eventStreamSeq,
		Cursor:    strconv.FormatUint(n.eventStreamSeq, 10),
		Timestamp: n.nowFn(),
		Event:     event.Clone(),
	}
	n.eventStreamHistory = append(n.eventStreamHistory, cloneEventStreamEntry(entry))
	if len(n.eventStreamHistory) > eventStreamHistoryLimit {
		excess := len(n.eventStreamHistory) - eventStreamHistoryLimit
		trimmed := make([]EventStreamEntry, eventStreamHistoryLimit)
		copy(trimmed, n.eventStreamHistory[excess:])
		n.eventStreamHistory = trimmed
	}
	subscribers := make([]chan EventStreamEntry, 0, len(n.eventStreamSubs))
	for _, ch := range n.eventStreamSubs {
		subscribers = append(subscribers, ch)
	}
	n.eventStreamMu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- cloneEventStreamEntry(entry):
		default:
		}
	}
}

// EventsSubscribe registers a subscriber for module events starting after the
// supplied cursor. The backlog contains retained history entries newer than
// the cursor; live entries follow on the channel until cancel is called or the
// context ends.
func (n *Node) EventsSubscribe(ctx context.Context, cursor string) (<-chan EventStreamEntry, func(), []EventStreamEntry, error) {
	if n == nil {
		return nil, nil, nil, fmt.Errorf("node not initialised")
	}
	updates := make(chan EventStreamEntry, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid cursor %q", cursor)
		}
		since = parsed
	}

	n.eventStreamMu.Lock()
	if n.eventStreamSubs == nil {
		n.eventStreamSubs = make(map[uint64]chan EventStreamEntry)
	}
	id := n.eventStreamNextID
	n.eventStreamNextID++
	n.eventStreamSubs[id] = updates
	history := make([]EventStreamEntry, len(n.eventStreamHistory))
	copy(history, n.eventStreamHistory)
	n.eventStreamMu.Unlock()

	backlog := make([]EventStreamEntry, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneEventStreamEntry(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.eventStreamMu.Lock()
			sub, ok := n.eventStreamSubs[id]
			if ok {
				delete(n.eventStreamSubs, id)
				close(sub)
			}
			n.eventStreamMu.Unlock()
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

// EventsAfter returns retained history entries with a sequence greater than
// the supplied cursor. Used by polling readers that do not hold a stream open.
func (n *Node) EventsAfter(cursor uint64) []EventStreamEntry {
	if n == nil {
		return nil
	}
	n.eventStreamMu.Lock()
	history := make([]EventStreamEntry, len(n.eventStreamHistory))
	copy(history, n.eventStreamHistory)
	n.eventStreamMu.Unlock()

	out := make([]EventStreamEntry, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > cursor {
			out = append(out, cloneEventStreamEntry(entry))
		}
	}
	return out
}
