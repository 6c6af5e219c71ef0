package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pockitect/pockitect/pkg/bus"
)

const (
	streamBuffer = 64
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamFilter builds a status filter from the request_id and types query
// parameters.
func streamFilter(r *http.Request) bus.StatusFilter {
	q := r.URL.Query()
	var filters []bus.StatusFilter
	if id := q.Get("request_id"); id != "" {
		filters = append(filters, bus.FilterByRequestID(id))
	}
	if types := q.Get("types"); types != "" {
		filters = append(filters, bus.FilterByType(strings.Split(types, ",")...))
	}
	if len(filters) == 0 {
		return nil
	}
	return func(e bus.Status) bool {
		for _, f := range filters {
			if !f(e) {
				return false
			}
		}
		return true
	}
}

// StreamStatus relays status events to a WebSocket client as JSON text
// frames. A client that falls behind loses events rather than stalling the
// bus.
func (s *Server) StreamStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan bus.Status, streamBuffer)
	sub, err := s.Bus.SubscribeStatus(ctx, func(_ context.Context, e bus.Status) {
		select {
		case events <- e:
		default:
			s.Logger.Warn().Str("event", e.Type).Msg("status stream client too slow, dropping event")
		}
	}, streamFilter(r))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case e := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
