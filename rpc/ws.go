package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"refnet/core"

	"nhooyr.io/websocket"
)

const wsWriteTimeout = 10 * time.Second

// handleEventsWS upgrades the request and streams referral events as JSON
// text frames. A cursor query parameter replays the retained backlog after
// that sequence number before switching to live delivery.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.node == nil {
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	if err := s.streamEvents(r.Context(), conn, cursor); err != nil {
		if websocket.CloseStatus(err) == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor string) error {
	updates, cancel, backlog, err := s.node.EventsSubscribe(ctx, cursor)
	if err != nil {
		return err
	}
	defer cancel()

	send := func(entry core.EventStreamEntry) error {
		frame, err := json.Marshal(eventEntryResultFrom(entry))
		if err != nil {
			return err
		}
		writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
		defer cancelWrite()
		return conn.Write(writeCtx, websocket.MessageText, frame)
	}

	for _, entry := range backlog {
		if err := send(entry); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-updates:
			if !ok {
				return nil
			}
			if err := send(entry); err != nil {
				return err
			}
		}
	}
}
