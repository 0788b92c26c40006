package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/basket/taskchat/internal/bus"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	eventWriteTimeout = 5 * time.Second
	eventPingInterval = 30 * time.Second
)

// eventMessage is one frame on the /events socket.
type eventMessage struct {
	Type string        `json:"type"`
	Task bus.TaskEvent `json:"task"`
}

// handleEvents upgrades to a websocket and pushes the caller's task changes
// until either side closes. Client frames are ignored.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bus == nil {
		writeError(w, r, http.StatusServiceUnavailable, CodeServiceUnavailable, "Live events are not available")
		return
	}
	owner := ownerID(r)
	// Subscribe before the handshake completes so no event published after
	// the client sees the upgrade is missed.
	sub := s.cfg.Bus.SubscribeOwner(owner)
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Same-origin requests are always allowed by the websocket library.
		OriginPatterns: s.originPatterns(),
	})
	if err != nil {
		s.cfg.Bus.Unsubscribe(sub)
		s.logger.Debug("events: accept failed", "error", err)
		return
	}
	s.logger.Info("events: client connected", "user_id", owner)
	defer func() {
		s.cfg.Bus.Unsubscribe(sub)
		s.logger.Info("events: client disconnected", "user_id", owner, "dropped", sub.Dropped())
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx := conn.CloseRead(r.Context())
	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			te, ok := ev.Payload.(bus.TaskEvent)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, eventMessage{Type: ev.Topic, Task: te})
			cancel()
			if err != nil {
				s.logger.Debug("events: write failed", "user_id", owner, "error", err)
				return
			}
		}
	}
}

// originPatterns converts the CORS allowlist to websocket host patterns.
func (s *Server) originPatterns() []string {
	if !s.cfg.CORS.Enabled {
		return nil
	}
	out := make([]string, 0, len(s.cfg.CORS.AllowedOrigins))
	for _, o := range s.cfg.CORS.AllowedOrigins {
		o = strings.TrimPrefix(strings.TrimPrefix(o, "https://"), "http://")
		out = append(out, strings.TrimRight(o, "/"))
	}
	return out
}
