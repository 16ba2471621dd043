package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mudlink/mudlink/internal/identity"
	"github.com/mudlink/mudlink/internal/protocol"
)

func startTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	cfg.DisableDiscovery = true
	srv := New(identity.Identity{ID: "srv-test", Name: cfg.Name}, cfg)
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv
}

func baseURL(srv *Server) string {
	return fmt.Sprintf("http://127.0.0.1:%d", srv.Port())
}

func postJSON(t *testing.T, url string, body any, out any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("failed to decode response from %s: %v", url, err)
		}
	}
	return resp
}

func startSession(t *testing.T, srv *Server, clientID string) protocol.SessionStartResponse {
	t.Helper()
	var resp protocol.SessionStartResponse
	postJSON(t, baseURL(srv)+"/session/start", protocol.SessionStartRequest{ClientID: clientID}, &resp)
	return resp
}

func subscribe(t *testing.T, srv *Server, clientID string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://127.0.0.1:%d/events", srv.Port())
	if clientID != "" {
		url += "?client_id=" + clientID
	}
	before := srv.Fabric().SubscriberCount()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// The handshake completes before the handler registers with the
	// fabric; wait for the subscription so no published event races
	// past it.
	deadline := time.Now().Add(time.Second)
	for srv.Fabric().SubscriberCount() <= before {
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered with the fabric")
		}
		time.Sleep(time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	var ev protocol.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("failed to decode event %q: %v", data, err)
	}
	return ev
}

func TestServerInfo(t *testing.T) {
	srv := startTestServer(t, Config{})

	resp, err := http.Get(baseURL(srv) + "/server/info")
	if err != nil {
		t.Fatalf("GET /server/info failed: %v", err)
	}
	defer resp.Body.Close()

	var info protocol.ServerInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("failed to decode info: %v", err)
	}
	if info.ServerID != "srv-test" {
		t.Errorf("expected server_id srv-test, got %q", info.ServerID)
	}
}

func TestStartSessionMintsFreshIDs(t *testing.T) {
	srv := startTestServer(t, Config{})

	first := startSession(t, srv, "")
	second := startSession(t, srv, "")

	if first.ClientID == "" || second.ClientID == "" {
		t.Fatal("expected minted client ids")
	}
	if first.ClientID == second.ClientID {
		t.Error("two anonymous starts must mint distinct ids")
	}
	if first.ServerID != "srv-test" {
		t.Errorf("expected server_id srv-test, got %q", first.ServerID)
	}
}

func TestStartSessionEchoesKnownID(t *testing.T) {
	srv := startTestServer(t, Config{})

	resp := startSession(t, srv, "returning-client")
	if resp.ClientID != "returning-client" {
		t.Errorf("expected the supplied id back, got %q", resp.ClientID)
	}
	if !srv.Registry().Contains("returning-client") {
		t.Error("expected registry entry after start")
	}
}

func TestStartPingEndLifecycle(t *testing.T) {
	srv := startTestServer(t, Config{})

	id := startSession(t, srv, "").ClientID
	if !srv.Registry().Contains(id) {
		t.Fatal("expected registry entry after start")
	}

	postJSON(t, baseURL(srv)+"/ping", protocol.PingRequest{ClientID: id}, nil)
	if !srv.Registry().Contains(id) {
		t.Error("expected registry entry after ping")
	}

	postJSON(t, baseURL(srv)+"/session/end", protocol.SessionEndRequest{SessionID: id}, nil)
	if srv.Registry().Contains(id) {
		t.Error("expected no registry entry after end")
	}
}

// A ping from a client nobody registered is accepted, registers
// nothing, and the pong heartbeat still goes to every subscriber.
// The pong is a broadcast, not a directed acknowledgment, so every
// connected client sees every other client's heartbeat.
func TestPingUnknownClientBroadcastsPong(t *testing.T) {
	srv := startTestServer(t, Config{})
	watcher := subscribe(t, srv, "")

	resp := postJSON(t, baseURL(srv)+"/ping", protocol.PingRequest{ClientID: "ghost"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if srv.Registry().Contains("ghost") {
		t.Error("ping must not register an unknown client")
	}

	if ev := readEvent(t, watcher); ev.Type != protocol.EventPong {
		t.Errorf("expected pong, got %+v", ev)
	}
}

func TestMalformedBodyIsRejectedNotFatal(t *testing.T) {
	srv := startTestServer(t, Config{})

	resp, err := http.Post(baseURL(srv)+"/session/start", "application/json",
		bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}

	// The gateway keeps serving other clients.
	if got := startSession(t, srv, "survivor"); got.ClientID != "survivor" {
		t.Errorf("gateway stopped serving after a bad body: %+v", got)
	}
}

func TestFanOutSameOrderNoReplay(t *testing.T) {
	srv := startTestServer(t, Config{})

	// One event before anyone subscribes; nobody may see it.
	startSession(t, srv, "early-bird")

	a := subscribe(t, srv, "")
	b := subscribe(t, srv, "")

	startSession(t, srv, "c1")
	postJSON(t, baseURL(srv)+"/ping", protocol.PingRequest{ClientID: "c1"}, nil)
	postJSON(t, baseURL(srv)+"/session/end", protocol.SessionEndRequest{SessionID: "c1"}, nil)

	want := []protocol.Event{
		protocol.StartSessionEvent("c1"),
		{Type: protocol.EventPong},
		protocol.EndSessionEvent("c1"),
	}
	for name, conn := range map[string]*websocket.Conn{"a": a, "b": b} {
		for i, w := range want {
			got := readEvent(t, conn)
			if got != w {
				t.Errorf("subscriber %s event %d: got %+v, want %+v", name, i, got, w)
			}
		}
	}
}

func TestStreamTeardownEndsSession(t *testing.T) {
	srv := startTestServer(t, Config{})

	id := startSession(t, srv, "dropper").ClientID
	watcher := subscribe(t, srv, "")
	own := subscribe(t, srv, id)

	// Abrupt close, as if the client crashed.
	own.Close()

	if ev := readEvent(t, watcher); ev != protocol.EndSessionEvent(id) {
		t.Errorf("expected end_session for %s, got %+v", id, ev)
	}

	deadline := time.Now().Add(time.Second)
	for srv.Registry().Contains(id) {
		if time.Now().After(deadline) {
			t.Fatal("registry entry survived stream teardown")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStreamTeardownWithoutClientIDSkipsCleanup(t *testing.T) {
	srv := startTestServer(t, Config{})

	id := startSession(t, srv, "stayer").ClientID
	watcher := subscribe(t, srv, "")
	anon := subscribe(t, srv, "")
	anon.Close()

	// Give teardown a moment; no end_session may appear and the
	// unrelated session stays registered.
	watcher.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, data, err := watcher.ReadMessage(); err == nil {
		t.Errorf("unexpected event after anonymous teardown: %s", data)
	}
	if !srv.Registry().Contains(id) {
		t.Error("unrelated session lost its registry entry")
	}
}

func TestReaperEvictsSilentClient(t *testing.T) {
	srv := startTestServer(t, Config{
		ReapInterval: 20 * time.Millisecond,
		ReapTimeout:  60 * time.Millisecond,
	})

	id := startSession(t, srv, "").ClientID
	watcher := subscribe(t, srv, "")

	// Consume the watcher's view until the eviction shows up.
	var ev protocol.Event
	for ev = readEvent(t, watcher); ev.Type != protocol.EventEndSession; ev = readEvent(t, watcher) {
	}
	if ev != protocol.EndSessionEvent(id) {
		t.Errorf("expected end_session for %s, got %+v", id, ev)
	}
	if srv.Registry().Contains(id) {
		t.Error("registry entry survived the reaper")
	}

	// Exactly one eviction: nothing further arrives.
	watcher.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, data, err := watcher.ReadMessage(); err == nil {
		t.Errorf("unexpected event after eviction: %s", data)
	}
}

// TestEndToEndScenario walks the full session lifecycle with a
// simulated clock: start, subscribe, ping, then fall silent past the
// liveness timeout and get reaped.
func TestEndToEndScenario(t *testing.T) {
	srv := startTestServer(t, Config{
		Name:         "north-keep",
		ReapInterval: 20 * time.Millisecond,
		ReapTimeout:  30 * time.Second,
	})

	var mu sync.Mutex
	clock := time.Unix(0, 0)
	srv.Registry().SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	})
	advance := func(d time.Duration) {
		mu.Lock()
		clock = clock.Add(d)
		mu.Unlock()
	}

	resp := startSession(t, srv, "")
	if resp.ClientID == "" || resp.ServerID != "srv-test" {
		t.Fatalf("unexpected start response %+v", resp)
	}
	x := resp.ClientID

	watcher := subscribe(t, srv, "")
	if ev := startSession(t, srv, x); ev.ClientID != x {
		t.Fatalf("restart did not echo id: %+v", ev)
	}
	if got := readEvent(t, watcher); got != protocol.StartSessionEvent(x) {
		t.Fatalf("expected start_session for %s, got %+v", x, got)
	}

	// Pings every 10 simulated seconds keep the session alive.
	for i := 0; i < 3; i++ {
		advance(10 * time.Second)
		postJSON(t, baseURL(srv)+"/ping", protocol.PingRequest{ClientID: x}, nil)
		if got := readEvent(t, watcher); got.Type != protocol.EventPong {
			t.Fatalf("expected pong, got %+v", got)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if !srv.Registry().Contains(x) {
		t.Fatal("session reaped despite fresh pings")
	}

	// 31 simulated seconds of silence.
	advance(31 * time.Second)

	if got := readEvent(t, watcher); got != protocol.EndSessionEvent(x) {
		t.Errorf("expected end_session for %s, got %+v", x, got)
	}
	if srv.Registry().Contains(x) {
		t.Error("registry still contains the reaped client")
	}
}
