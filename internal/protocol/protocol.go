// Package protocol defines the JSON wire types shared by the session
// gateway and its clients: the broadcast event stream and the
// request/response bodies of the HTTP endpoints.
package protocol

// EventType identifies the broadcast event variant
type EventType string

const (
	// EventStartSession is published when a client session begins
	EventStartSession EventType = "start_session"
	// EventEndSession is published when a session ends, by request or by the reaper
	EventEndSession EventType = "end_session"
	// EventPing is reserved for client-originated heartbeats
	EventPing EventType = "ping"
	// EventPong is the server heartbeat broadcast to all subscribers
	EventPong EventType = "pong"
)

// Event is one record on the broadcast stream. SessionID is set only
// for the session variants.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
}

// StartSessionEvent builds a start_session event for the given id
func StartSessionEvent(sessionID string) Event {
	return Event{Type: EventStartSession, SessionID: sessionID}
}

// EndSessionEvent builds an end_session event for the given id
func EndSessionEvent(sessionID string) Event {
	return Event{Type: EventEndSession, SessionID: sessionID}
}

// ServerInfoResponse is the body of GET /server/info
type ServerInfoResponse struct {
	ServerID string `json:"server_id"`
}

// SessionStartRequest is the body of POST /session/start.
// ClientID is empty when the client has no previous identity.
type SessionStartRequest struct {
	ClientID string `json:"client_id,omitempty"`
}

// SessionStartResponse carries the resolved client id and the server id
type SessionStartResponse struct {
	ClientID string `json:"client_id"`
	ServerID string `json:"server_id"`
}

// PingRequest is the body of POST /ping
type PingRequest struct {
	ClientID string `json:"client_id"`
}

// SessionEndRequest is the body of POST /session/end
type SessionEndRequest struct {
	SessionID string `json:"session_id"`
}
