package pt

import (
	"context"
	"crypto/ed25519"
)

// Transport abstracts PT's three delivery paths so the sender/receiver
// state machines can be exercised without real sockets (see socket.go for
// the UDP/TCP/relay-backed implementation used by cmd/photon-node).
type Transport interface {
	// SendUDP best-effort sends payload to addr. Errors are transient.
	SendUDP(ctx context.Context, addr string, payload []byte) error
	// SendTCP opens a connection to addr, length-prefixes payload, sends
	// it, and waits for the peer to close its write side (FIN).
	SendTCP(ctx context.Context, addr string, payload []byte) error
	// SendRelay submits payload to the FGTW relay addressed by recipient.
	SendRelay(ctx context.Context, recipient ed25519.PublicKey, payload []byte) error
}

// Endpoint resolves a contact to the address PT should try first.
type Endpoint struct {
	Addr      string // host:port to try first (local hairpin or public)
	Recipient ed25519.PublicKey
}
