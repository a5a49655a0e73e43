package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"

	"termlend/core/events"
	"termlend/observability"
)

const wsWriteTimeout = 10 * time.Second

// handleEventsWS upgrades the request to a websocket and streams
// ledger events to the client. A cursor query parameter resumes the
// stream after the given event, replaying the retained backlog first.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		http.Error(w, "event stream disabled", http.StatusServiceUnavailable)
		return
	}
	if !s.allowSource(clientSource(r), time.Now()) {
		observability.RPCMetrics().RecordThrottle("websocket")
		http.Error(w, "request rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	cursor := r.URL.Query().Get("cursor")
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	if err := s.streamEvents(r.Context(), conn, cursor); err != nil {
		if websocket.CloseStatus(err) == -1 {
			s.logger.Warn("event stream aborted", "error", err)
			conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates, release, backlog, err := s.stream.Subscribe(ctx, cursor)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "invalid cursor")
		return nil
	}
	defer release()

	for _, update := range backlog {
		if err := writeEventUpdate(ctx, conn, update); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeEventUpdate(ctx, conn, update); err != nil {
				return err
			}
		}
	}
}

func writeEventUpdate(ctx context.Context, conn *websocket.Conn, update events.Update) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
