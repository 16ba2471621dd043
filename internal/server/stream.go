package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/mudlink/mudlink/internal/protocol"
)

const (
	// Time allowed to write a frame to the peer
	writeWait = 10 * time.Second
	// Time allowed to read the next pong from the peer
	pongWait = 60 * time.Second
	// Ping frame period; must be less than pongWait
	pingPeriod = (pongWait * 9) / 10
	// Subscribers only receive; inbound frames stay tiny
	maxStreamMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleEvents upgrades the connection and streams broadcast events,
// one JSON record per text frame, until either side closes. When the
// stream ends, cleanup equivalent to session end runs exactly once
// for the client id named at subscribe time.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	clientID := r.URL.Query().Get("client_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARN] gateway: websocket upgrade failed: %v", err)
		return
	}
	log.Printf("[INFO] GET /events client_id=%s subscribed", clientID)

	sub := s.fabric.Subscribe()

	var once sync.Once
	teardown := func() {
		once.Do(func() {
			sub.Close()
			conn.Close()
			if clientID == "" {
				return
			}
			s.registry.Remove(clientID)
			s.fabric.Publish(protocol.EndSessionEvent(clientID))
			log.Printf("[INFO] gateway: stream for client_id=%s torn down, session ended", clientID)
		})
	}

	// Read pump: subscribers send nothing, but reading is what
	// detects the peer going away and keeps pong handling alive.
	go func() {
		defer teardown()
		conn.SetReadLimit(maxStreamMessageSize)
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

	// Write pump: fabric events plus idle ping keepalives.
	defer teardown()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Dropped by the fabric for falling behind
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber too slow"))
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Printf("[ERROR] gateway: failed to marshal event: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
