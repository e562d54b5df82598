package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kjannette/trahn-sim/internal/bot"
	"github.com/kjannette/trahn-sim/internal/metrics"
)

const (
	streamBuffer = 32
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// handleStream upgrades to a websocket and pushes the user's trades and
// alerts as JSON. Slow clients lose updates rather than block the event
// stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, userID string) {
	send := make(chan bot.Update, streamBuffer)
	done := make(chan struct{})

	stop := s.sim.Listen(userID, func(u bot.Update) {
		select {
		case <-done:
		case send <- u:
		default:
			metrics.NotificationsDropped.WithLabelValues("stream").Inc()
		}
	})
	defer stop()

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).WithField("user", userID).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	s.streams.Add(1)
	metrics.StreamClients.Inc()
	defer func() {
		s.streams.Add(-1)
		metrics.StreamClients.Dec()
	}()
	s.log.WithField("user", userID).Info("Stream client connected")

	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			s.log.WithField("user", userID).Info("Stream client disconnected")
			return
		case u := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(u); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.corsOrigin == "*" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	allowed, err := url.Parse(s.corsOrigin)
	if err != nil {
		return false
	}
	return u.Scheme == allowed.Scheme && u.Host == allowed.Host
}
