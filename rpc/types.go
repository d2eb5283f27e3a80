package rpc

import (
	"refnet/core"
	"refnet/core/types"
)

// EventEntryResult is the wire form of one event stream entry, shared by the
// polling endpoint and the websocket stream.
type EventEntryResult struct {
	Sequence  uint64       `json:"sequence"`
	Cursor    string       `json:"cursor"`
	Timestamp int64        `json:"timestamp"`
	Event     *types.Event `json:"event"`
}

func eventEntryResultFrom(entry core.EventStreamEntry) EventEntryResult {
	return EventEntryResult{
		Sequence:  entry.Sequence,
		Cursor:    entry.Cursor,
		Timestamp: entry.Timestamp,
		Event:     entry.Event,
	}
}
