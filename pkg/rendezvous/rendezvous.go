// Package rendezvous implements the Photon core's client-side view of
// FGTW: an HTTP(S) directory the node attests its endpoint to and looks
// peers up in, a store-and-forward relay for undeliverable ciphertext,
// and a
// WebSocket-pushed IP-change notification.
//
// FGTW itself is external and out of scope; this package is
// the dumb client half of that contract. internal/fgtwsim provides an
// in-memory double of the server half for integration tests.
package rendezvous

import (
	"crypto/ed25519"
	"encoding/base64"
	"time"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
)

// Attestation is the record a node publishes to FGTW and consumes for
// its peers: handle proof, device pubkey, public endpoint, the LAN
// address if one has been discovered, and a last-seen timestamp.
type Attestation struct {
	HandleProof    [digest.Size]byte
	DevicePubkey   ed25519.PublicKey
	PublicEndpoint string // "ip:port"
	LocalIP        string // empty if unknown
	LastSeen       eagletime.Time
}

// attestationWire is Attestation's JSON wire shape for the FGTW HTTP API.
type attestationWire struct {
	HandleProof    string  `json:"handle_proof"`
	DevicePubkey   string  `json:"device_pubkey"`
	PublicEndpoint string  `json:"public_endpoint"`
	LocalIP        string  `json:"local_ip,omitempty"`
	LastSeen       float64 `json:"last_seen"`
}

func toWire(a Attestation) attestationWire {
	return attestationWire{
		HandleProof:    base64.StdEncoding.EncodeToString(a.HandleProof[:]),
		DevicePubkey:   base64.StdEncoding.EncodeToString(a.DevicePubkey),
		PublicEndpoint: a.PublicEndpoint,
		LocalIP:        a.LocalIP,
		LastSeen:       float64(a.LastSeen),
	}
}

func fromWire(w attestationWire) (Attestation, error) {
	var a Attestation
	hp, err := base64.StdEncoding.DecodeString(w.HandleProof)
	if err != nil {
		return a, err
	}
	copy(a.HandleProof[:], hp)

	pub, err := base64.StdEncoding.DecodeString(w.DevicePubkey)
	if err != nil {
		return a, err
	}
	a.DevicePubkey = ed25519.PublicKey(pub)
	a.PublicEndpoint = w.PublicEndpoint
	a.LocalIP = w.LocalIP
	a.LastSeen = eagletime.Time(w.LastSeen)
	return a, nil
}

// SyncRecord is the per-conversation receipt a pong carries: the last
// eagle-time this peer has seen
// from us on a given conversation, used to prune what needs retransmit.
type SyncRecord struct {
	ConversationToken [digest.Size]byte
	LastReceivedTime  eagletime.Time
}

// DefaultRequestTimeout bounds a single HTTP round trip to FGTW.
const DefaultRequestTimeout = 10 * time.Second
