package httpadapter

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kirillkom/sumulas-assistant/internal/core/domain"
)

const wsWriteTimeout = 10 * time.Second

// queryRAGWebSocket answers every question message received on the
// connection with the same events the SSE endpoint sends, as JSON text
// messages.
func (rt *Router) queryRAGWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rt.logger.Warn("ws_upgrade_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		return
	}
	defer conn.Close()

	emit := func(ev domain.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			return errors.Join(errClientGone, err)
		}
		return nil
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				rt.logger.Debug("ws_read_ended", "request_id", requestIDFromContext(r.Context()), "error", err)
			}
			return
		}

		started := time.Now()
		req, err := rt.decodeQuery(bytes.NewReader(raw))
		if err != nil {
			if emit(domain.Event{Type: eventError, Data: errorData{Error: err.Error()}}) != nil {
				return
			}
			continue
		}

		stream, err := rt.workflow.Run(r.Context(), req.Question, req.K)
		if err != nil {
			rt.recordFailure("ws", err)
			if emit(domain.Event{Type: eventError, Data: errorData{Error: err.Error()}}) != nil {
				return
			}
			continue
		}

		summary, err := pumpEvents(stream, emit)
		rt.finishStream(r, "ws", req.Question, started, summary, err, emit)
		if errors.Is(err, errClientGone) {
			return
		}
	}
}
