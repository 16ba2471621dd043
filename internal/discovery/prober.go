package discovery

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Probe broadcasts one discovery probe on the LAN and collects every
// answer received before the timeout. Zero answers is a normal result,
// not an error. Malformed datagrams are discarded silently.
func Probe(timeout time.Duration) ([]DiscoveredServer, error) {
	return probe(&net.UDPAddr{IP: net.IPv4bcast, Port: Port}, timeout)
}

// ProbeTarget probes a single known address instead of the broadcast
// address, e.g. a host on another subnet.
func ProbeTarget(target string, timeout time.Duration) ([]DiscoveredServer, error) {
	addr, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return nil, fmt.Errorf("invalid probe target %s: %w", target, err)
	}
	return probe(addr, timeout)
}

func probe(target *net.UDPAddr, timeout time.Duration) ([]DiscoveredServer, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("failed to bind probe socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.WriteToUDP(Magic, target); err != nil {
		return nil, fmt.Errorf("failed to send probe: %w", err)
	}

	// Collect until the deadline; the race between receipt and
	// timeout is decided by the socket deadline, not a reply count.
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)

	var servers []DiscoveredServer
	buf := make([]byte, MaxPayloadSize)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			return servers, fmt.Errorf("failed to read probe response: %w", err)
		}

		var announce Announce
		if err := json.Unmarshal(buf[:n], &announce); err != nil {
			continue
		}
		if announce.Port <= 0 || announce.Port > 65535 {
			continue
		}

		// The datagram's source address is authoritative for the
		// host; the payload host only reflects what the responder
		// observed.
		servers = append(servers, DiscoveredServer{
			Host: peer.IP.String(),
			Port: announce.Port,
			Name: announce.Name,
		})
	}

	return servers, nil
}
