package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/mudlink/mudlink/internal/protocol"
)

// handleServerInfo returns this server's stable identity
func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	log.Printf("[INFO] GET /server/info")
	writeJSON(w, protocol.ServerInfoResponse{ServerID: s.identity.ID})
}

// handleSessionStart registers a session. A supplied client id is
// echoed back unchanged; an absent one gets a freshly minted id.
func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body protocol.SessionStartRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		rejectBadBody(w, err)
		return
	}

	clientID := body.ClientID
	if clientID == "" {
		clientID = uuid.New().String()
	}
	log.Printf("[INFO] POST /session/start client_id=%s", clientID)

	s.registry.Upsert(clientID)
	s.fabric.Publish(protocol.StartSessionEvent(clientID))

	writeJSON(w, protocol.SessionStartResponse{
		ClientID: clientID,
		ServerID: s.identity.ID,
	})
}

// handlePing refreshes a session's liveness. A ping for an unknown id
// is accepted without registering anything, and the pong heartbeat is
// broadcast to every subscriber either way.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body protocol.PingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		rejectBadBody(w, err)
		return
	}
	log.Printf("[INFO] POST /ping client_id=%s", body.ClientID)

	s.registry.Touch(body.ClientID)
	s.fabric.Publish(protocol.Event{Type: protocol.EventPong})

	w.Write([]byte("ok"))
}

// handleSessionEnd ends a session. Ending an absent id is a no-op,
// but the end_session event is published regardless.
func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body protocol.SessionEndRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		rejectBadBody(w, err)
		return
	}
	log.Printf("[INFO] POST /session/end session_id=%s", body.SessionID)

	s.registry.Remove(body.SessionID)
	s.fabric.Publish(protocol.EndSessionEvent(body.SessionID))

	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[ERROR] gateway: failed to encode response: %v", err)
	}
}

func rejectBadBody(w http.ResponseWriter, err error) {
	log.Printf("[WARN] gateway: rejecting malformed body: %v", err)
	http.Error(w, "malformed request body", http.StatusBadRequest)
}
