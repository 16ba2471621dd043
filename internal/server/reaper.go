package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mudlink/mudlink/internal/fabric"
	"github.com/mudlink/mudlink/internal/protocol"
	"github.com/mudlink/mudlink/internal/registry"
)

// Reaper periodically evicts sessions that stopped pinging and
// announces each eviction as an end_session event. Eviction is
// externally indistinguishable from an explicit session end.
type Reaper struct {
	registry *registry.Registry
	fabric   *fabric.Fabric
	interval time.Duration
	timeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper creates a reaper scanning every interval and evicting
// sessions silent for longer than timeout.
func NewReaper(reg *registry.Registry, fab *fabric.Fabric, interval, timeout time.Duration) *Reaper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reaper{
		registry: reg,
		fabric:   fab,
		interval: interval,
		timeout:  timeout,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the reap loop
func (p *Reaper) Start() {
	p.wg.Add(1)
	go p.run()
}

// Stop halts the loop and waits for it to exit
func (p *Reaper) Stop() {
	p.cancel()
	p.wg.Wait()
}

func (p *Reaper) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.reapOnce()
		}
	}
}

// reapOnce evicts every stale session and publishes one end_session
// per evicted id. The registry does the scan-and-remove atomically;
// events are published after the lock is released.
func (p *Reaper) reapOnce() {
	for _, id := range p.registry.Reap(p.timeout) {
		p.fabric.Publish(protocol.EndSessionEvent(id))
		log.Printf("[INFO] reaper: evicted stale client_id=%s", id)
	}
}
