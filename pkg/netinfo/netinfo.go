// Package netinfo discovers this node's public endpoint via STUN before it
// attests to the rendezvous directory, filling in the `public_endpoint`
// field a rendezvous record requires.
package netinfo

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/stun"
)

// Endpoint is a discovered public IP/port pair.
type Endpoint struct {
	IP   net.IP
	Port int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// DiscoverPublicEndpoint sends a single STUN binding request to stunServer
// (e.g. "stun.l.google.com:19302") over a fresh UDP socket and returns the
// XOR-mapped address the server observed.
func DiscoverPublicEndpoint(stunServer string, timeout time.Duration) (Endpoint, error) {
	conn, err := net.Dial("udp4", stunServer)
	if err != nil {
		return Endpoint{}, fmt.Errorf("netinfo: dialing stun server: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return Endpoint{}, fmt.Errorf("netinfo: setting deadline: %w", err)
	}

	client, err := stun.NewClient(conn)
	if err != nil {
		return Endpoint{}, fmt.Errorf("netinfo: creating stun client: %w", err)
	}
	defer client.Close()

	message := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	var endpoint Endpoint
	var doErr error
	done := make(chan struct{})

	err = client.Do(message, func(res stun.Event) {
		defer close(done)
		if res.Error != nil {
			doErr = fmt.Errorf("netinfo: stun request failed: %w", res.Error)
			return
		}
		var xorAddr stun.XORMappedAddress
		if err := xorAddr.GetFrom(res.Message); err != nil {
			doErr = fmt.Errorf("netinfo: reading xor-mapped address: %w", err)
			return
		}
		endpoint = Endpoint{IP: xorAddr.IP, Port: xorAddr.Port}
	})
	if err != nil {
		return Endpoint{}, fmt.Errorf("netinfo: sending stun request: %w", err)
	}

	<-done
	if doErr != nil {
		return Endpoint{}, doErr
	}
	return endpoint, nil
}

// DefaultSTUNServers are well-known public STUN servers to try in order.
var DefaultSTUNServers = []string{
	"stun.l.google.com:19302",
	"stun1.l.google.com:19302",
}

// DiscoverPublicEndpointAny tries each server in order, returning the
// first success.
func DiscoverPublicEndpointAny(servers []string, timeout time.Duration) (Endpoint, error) {
	var lastErr error
	for _, server := range servers {
		ep, err := DiscoverPublicEndpoint(server, timeout)
		if err == nil {
			return ep, nil
		}
		lastErr = err
	}
	return Endpoint{}, fmt.Errorf("netinfo: all stun servers failed, last error: %w", lastErr)
}
