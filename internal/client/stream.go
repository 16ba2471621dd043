package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/mudlink/mudlink/internal/protocol"
)

// EventStream is a live subscription to the gateway's broadcast
// events. The Events channel closes when the connection does.
type EventStream struct {
	conn   *websocket.Conn
	events chan protocol.Event
}

// Subscribe opens the event stream, tagging it with clientID so the
// server can end this session when the stream drops. clientID may be
// empty for a watch-only stream.
func (c *Client) Subscribe(ctx context.Context, clientID string) (*EventStream, error) {
	wsURL, err := eventsURL(c.baseURL, clientID)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}

	stream := &EventStream{
		conn:   conn,
		events: make(chan protocol.Event),
	}
	go stream.readLoop()
	return stream, nil
}

// Events delivers decoded broadcast events in arrival order
func (s *EventStream) Events() <-chan protocol.Event {
	return s.events
}

// Close tears the stream down; the server treats it like a session end
func (s *EventStream) Close() error {
	return s.conn.Close()
}

func (s *EventStream) readLoop() {
	defer close(s.events)
	defer s.conn.Close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var ev protocol.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Printf("[DEBUG] client: discarding malformed event %q: %v", data, err)
			continue
		}
		s.events <- ev
	}
}

// eventsURL rewrites the gateway base URL into the websocket endpoint
func eventsURL(baseURL, clientID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %s: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/events"
	if clientID != "" {
		u.RawQuery = url.Values{"client_id": {clientID}}.Encode()
	}
	return u.String(), nil
}
