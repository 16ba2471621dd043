package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// Responder answers discovery probes with this server's gateway port
// and display name. It runs independently of the gateway; if the
// discovery port cannot be bound the gateway keeps serving and only
// discovery degrades.
type Responder struct {
	gatewayPort int
	name        string
	port        int

	conn *net.UDPConn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewResponder creates a responder announcing the given gateway port
// and optional display name on the default discovery port.
func NewResponder(gatewayPort int, name string) *Responder {
	ctx, cancel := context.WithCancel(context.Background())
	return &Responder{
		gatewayPort: gatewayPort,
		name:        name,
		port:        Port,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start binds the discovery port and begins answering probes
func (r *Responder) Start() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: r.port})
	if err != nil {
		return fmt.Errorf("failed to bind UDP port %d: %w", r.port, err)
	}
	r.conn = conn

	r.wg.Add(1)
	go r.listenLoop()

	log.Printf("[INFO] discovery responder listening on UDP port %d", r.port)
	return nil
}

// LocalAddr returns the bound UDP address, or nil before Start
func (r *Responder) LocalAddr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Stop shuts the responder down and waits for its loop to exit
func (r *Responder) Stop() {
	r.cancel()
	if r.conn != nil {
		r.conn.Close()
	}
	r.wg.Wait()
	log.Printf("[INFO] discovery responder stopped")
}

// listenLoop receives probe datagrams and replies to each sender
func (r *Responder) listenLoop() {
	defer r.wg.Done()

	buf := make([]byte, 64)
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		// Short read deadline so the ctx check above runs periodically
		r.conn.SetReadDeadline(time.Now().Add(1 * time.Second))

		n, peer, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if r.ctx.Err() != nil {
				return
			}
			log.Printf("[WARN] discovery: read error: %v", err)
			continue
		}

		if n < len(Magic) || !bytes.Equal(buf[:len(Magic)], Magic) {
			// Not a probe, just noise on the port
			continue
		}

		r.reply(peer)
	}
}

// reply sends the announce payload back to the probe's sender
func (r *Responder) reply(peer *net.UDPAddr) {
	announce := Announce{
		Host: peer.IP.String(),
		Port: r.gatewayPort,
		Name: r.name,
	}
	data, err := json.Marshal(announce)
	if err != nil {
		log.Printf("[ERROR] discovery: failed to marshal announce: %v", err)
		return
	}
	if _, err := r.conn.WriteToUDP(data, peer); err != nil {
		log.Printf("[DEBUG] discovery: reply to %s failed: %v", peer, err)
	}
}
