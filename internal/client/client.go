// Package client talks to a session gateway: request/response calls,
// the websocket event stream, and the identity-resuming connect flow.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/mudlink/mudlink/internal/identity"
	"github.com/mudlink/mudlink/internal/protocol"
)

// DefaultPingInterval is how often a connected client pings the
// gateway to stay registered.
const DefaultPingInterval = 10 * time.Second

// Client issues requests against one gateway base URL
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the gateway at baseURL, e.g.
// "http://192.168.1.7:4242".
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ServerInfo fetches the server's stable identity
func (c *Client) ServerInfo(ctx context.Context) (protocol.ServerInfoResponse, error) {
	var info protocol.ServerInfoResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/server/info", nil)
	if err != nil {
		return info, fmt.Errorf("failed to build info request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return info, fmt.Errorf("failed to fetch server info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return info, fmt.Errorf("server info returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return info, fmt.Errorf("failed to decode server info: %w", err)
	}
	return info, nil
}

// StartSession starts or resumes a session. An empty clientID asks
// the server to mint one; a non-empty id is echoed back.
func (c *Client) StartSession(ctx context.Context, clientID string) (protocol.SessionStartResponse, error) {
	var started protocol.SessionStartResponse
	err := c.post(ctx, "/session/start", protocol.SessionStartRequest{ClientID: clientID}, &started)
	if err != nil {
		return started, fmt.Errorf("failed to start session: %w", err)
	}
	return started, nil
}

// Ping refreshes the session's liveness window
func (c *Client) Ping(ctx context.Context, clientID string) error {
	if err := c.post(ctx, "/ping", protocol.PingRequest{ClientID: clientID}, nil); err != nil {
		return fmt.Errorf("failed to ping: %w", err)
	}
	return nil
}

// EndSession ends the session explicitly
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	if err := c.post(ctx, "/session/end", protocol.SessionEndRequest{SessionID: sessionID}, nil); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// PingLoop pings every interval until the context is cancelled or a
// ping fails, whichever comes first.
func (c *Client) PingLoop(ctx context.Context, clientID string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Ping(ctx, clientID); err != nil {
				return err
			}
		}
	}
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return nil
}

// Session is an established session plus the client used to open it
type Session struct {
	Client   *Client
	ClientID string
	ServerID string
}

// Connect resolves the server's identity, resumes the identity this
// machine was previously issued by that server (if any), starts the
// session, and persists the resulting identity for next time. A store
// that cannot be read falls back to connecting as a new client.
func Connect(ctx context.Context, baseURL string, store *identity.Store) (*Session, error) {
	c := New(baseURL)

	info, err := c.ServerInfo(ctx)
	if err != nil {
		return nil, err
	}

	var previousID string
	if saved, ok, err := store.LoadClient(info.ServerID); err != nil {
		log.Printf("[WARN] client: could not read saved identity, connecting as new: %v", err)
	} else if ok {
		previousID = saved.ID
	}

	started, err := c.StartSession(ctx, previousID)
	if err != nil {
		return nil, err
	}

	if err := store.SaveClient(started.ServerID, identity.Identity{ID: started.ClientID}); err != nil {
		log.Printf("[WARN] client: failed to persist identity: %v", err)
	}

	return &Session{
		Client:   c,
		ClientID: started.ClientID,
		ServerID: started.ServerID,
	}, nil
}
