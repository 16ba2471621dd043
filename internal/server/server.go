// Package server implements the session gateway: the HTTP endpoints
// clients use to start, keep alive and end sessions, the websocket
// event stream, and the background reaper that evicts silent clients.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/mudlink/mudlink/internal/discovery"
	"github.com/mudlink/mudlink/internal/fabric"
	"github.com/mudlink/mudlink/internal/identity"
	"github.com/mudlink/mudlink/internal/registry"
)

const (
	// DefaultReapInterval is how often the reaper scans for silent clients
	DefaultReapInterval = 10 * time.Second
	// DefaultReapTimeout is the silence duration after which a client is evicted
	DefaultReapTimeout = 30 * time.Second
)

// Config controls how the gateway is started
type Config struct {
	// Addr is the TCP listen address; an empty port picks one
	Addr string
	// Name is the display name announced over discovery
	Name string
	// DisableDiscovery skips binding the discovery port entirely
	DisableDiscovery bool

	// ReapInterval and ReapTimeout default to the package constants
	// when zero
	ReapInterval time.Duration
	ReapTimeout  time.Duration
}

// Server is the session gateway and its background activities
type Server struct {
	identity identity.Identity
	cfg      Config

	registry *registry.Registry
	fabric   *fabric.Fabric
	reaper   *Reaper

	listener  net.Listener
	httpSrv   *http.Server
	responder *discovery.Responder
}

// New creates a gateway serving sessions for the given server identity
func New(id identity.Identity, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "0.0.0.0:0"
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if cfg.ReapTimeout == 0 {
		cfg.ReapTimeout = DefaultReapTimeout
	}

	reg := registry.New()
	fab := fabric.New()
	return &Server{
		identity: id,
		cfg:      cfg,
		registry: reg,
		fabric:   fab,
		reaper:   NewReaper(reg, fab, cfg.ReapInterval, cfg.ReapTimeout),
	}
}

// Registry exposes the session registry, mainly for tests
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Fabric exposes the broadcast fabric, mainly for tests
func (s *Server) Fabric() *fabric.Fabric {
	return s.fabric
}

// Start binds the gateway, the discovery responder and the reaper.
// A discovery bind failure only degrades discovery; the gateway keeps
// serving.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind gateway on %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener

	router := httprouter.New()
	router.GET("/server/info", s.handleServerInfo)
	router.GET("/events", s.handleEvents)
	router.POST("/ping", s.handlePing)
	router.POST("/session/start", s.handleSessionStart)
	router.POST("/session/end", s.handleSessionEnd)

	s.httpSrv = &http.Server{Handler: router}
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[ERROR] gateway: serve failed: %v", err)
		}
	}()

	if !s.cfg.DisableDiscovery {
		responder := discovery.NewResponder(s.Port(), s.cfg.Name)
		if err := responder.Start(); err != nil {
			log.Printf("[WARN] discovery disabled: %v", err)
		} else {
			s.responder = responder
		}
	}

	s.reaper.Start()

	log.Printf("[INFO] gateway listening on %s (server_id %s)", listener.Addr(), s.identity.ID)
	return nil
}

// Stop shuts everything down: reaper first, then discovery, then the
// HTTP server with the given context as the drain deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.reaper.Stop()
	if s.responder != nil {
		s.responder.Stop()
	}
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shut down gateway: %w", err)
		}
	}
	log.Printf("[INFO] gateway stopped")
	return nil
}

// Addr returns the bound gateway address, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Port returns the bound gateway TCP port, or 0 before Start
func (s *Server) Port() int {
	addr, ok := s.Addr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return addr.Port
}
