package dashboard

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"rpan_bot/internal/events"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// eventMessage is one frame of the /api/events stream.
type eventMessage struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// handleEvents upgrades to a websocket and forwards delivery and watcher state events until the
// client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := s.logger(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	deliveries, unsubDeliveries := s.bus.Subscribe(events.TopicDelivery)
	defer unsubDeliveries()
	states, unsubStates := s.bus.Subscribe(events.TopicWatcherState)
	defer unsubStates()

	// The read loop only notices the client closing.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	log.Info("events client connected", "remote", r.RemoteAddr)
	defer log.Info("events client disconnected", "remote", r.RemoteAddr)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		var msg eventMessage
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
			continue
		case v, ok := <-deliveries:
			if !ok {
				return
			}
			msg = eventMessage{Topic: events.TopicDelivery, Data: v}
		case v, ok := <-states:
			if !ok {
				return
			}
			msg = eventMessage{Topic: events.TopicWatcherState, Data: v}
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug("events write failed", "error", err)
			return
		}
	}
}
