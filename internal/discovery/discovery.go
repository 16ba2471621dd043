// Package discovery implements the LAN discovery protocol: a client
// broadcasts a 4-byte magic probe on a fixed UDP port and every server
// answers with a small JSON payload describing where its gateway
// listens.
package discovery

import "fmt"

const (
	// Port is the fixed UDP port discovery probes are sent to
	Port = 7878
	// MaxPayloadSize is the maximum response datagram size
	MaxPayloadSize = 512
)

// Magic is the probe payload. Anything else on the discovery port is
// ignored.
var Magic = []byte("mdrm")

// BroadcastAddr is the limited-broadcast target for probes
const BroadcastAddr = "255.255.255.255"

// Announce is the JSON response a responder sends back to a prober
type Announce struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Name string `json:"name,omitempty"`
}

// DiscoveredServer describes one server that answered a probe.
// Duplicate answers from the same server are kept as-is; multiple
// broadcast paths legitimately produce repeats.
type DiscoveredServer struct {
	Host string
	Port int
	Name string
}

// URL returns the base URL of the server's gateway
func (d DiscoveredServer) URL() string {
	return fmt.Sprintf("http://%s:%d", d.Host, d.Port)
}
