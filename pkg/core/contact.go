// Package core wires the ceremony, ratchet, transport, and persistence
// packages into the process's three-thread shape: a UI thread
// owning canonical contact/ceremony/chain state, a network thread owning
// PT's sockets, and one-shot low-priority background workers for CLUTCH's
// heavy steps. There is no GUI here; cmd/photon-node drives this package
// from a CLI loop, and pkg/pollapi exposes the same state to a UI process.
package core

import (
	"crypto/ed25519"
	"sync"

	"github.com/nickspiker/photon/pkg/chain"
	"github.com/nickspiker/photon/pkg/clutch"
	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
	"github.com/nickspiker/photon/pkg/pt"
)

// TrustLevel is how far this contact's identity has been established.
type TrustLevel int

const (
	// Unverified: a handle the user added and we've looked up in the
	// rendezvous directory, but never exchanged a CLUTCH ceremony with.
	Unverified TrustLevel = iota
	// Attested: we've completed at least one CLUTCH ceremony with this
	// device pubkey.
	Attested
	// Confirmed: the user has out-of-band verified this contact's
	// handle/identity (e.g. compared proof fingerprints).
	Confirmed
)

func (t TrustLevel) String() string {
	switch t {
	case Unverified:
		return "unverified"
	case Attested:
		return "attested"
	case Confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// Contact is one peer's full local record: identity, network addressing,
// ceremony state, and (once the ceremony completes) ratchet chains.
// Owned exclusively by the UI thread; the network thread and background workers only ever
// hand back deltas through the channels in queues.go.
type Contact struct {
	Handle     string
	HandleHash [digest.Size]byte
	Trust      TrustLevel

	DevicePubkey ed25519.PublicKey
	Addressing   pt.ContactAddressing

	// Proof is the contact's handle-proof, once computed or learned (the
	// rendezvous lookup key and the LAN beacon identity). Deriving it
	// costs about a second of CPU, so it is set explicitly rather than on
	// every NewContact.
	Proof    [digest.Size]byte
	HasProof bool

	Ceremony *clutch.Ceremony
	Chains   *chain.FriendshipChains

	// FirstAckSeen flips when the first MessageAck over a fresh ceremony
	// arrives, triggering ephemeral-key wipe.
	FirstAckSeen bool

	LastSeen    eagletime.Time
	Online      bool
	SyncRecords map[[digest.Size]byte]eagletime.Time // conversation_token -> their last_received_eagle_time, from their last pong
}

// NewContact starts a bare contact record in Pending ceremony state, ready
// for key generation once the owning Node schedules it.
func NewContact(handle string, localHandleHash, peerHandleHash [digest.Size]byte) *Contact {
	return &Contact{
		Handle:      handle,
		HandleHash:  peerHandleHash,
		Trust:       Unverified,
		Ceremony:    clutch.New(localHandleHash, peerHandleHash),
		SyncRecords: make(map[[digest.Size]byte]eagletime.Time),
	}
}

// ContactBook is the UI thread's canonical collection of contacts, keyed
// by device pubkey (PT's acceptance gate) and by handle hash (ceremony/
// chain lookups address by handle hash, not pubkey, since a ceremony can
// start before a device pubkey is known).
type ContactBook struct {
	mu         sync.RWMutex
	byPubkey   map[string]*Contact
	byHandle   map[[digest.Size]byte]*Contact
}

func NewContactBook() *ContactBook {
	return &ContactBook{
		byPubkey: make(map[string]*Contact),
		byHandle: make(map[[digest.Size]byte]*Contact),
	}
}

// Add registers a contact under both indices. Safe to call again for the
// same contact once its device pubkey becomes known.
func (b *ContactBook) Add(c *Contact) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byHandle[c.HandleHash] = c
	if len(c.DevicePubkey) == ed25519.PublicKeySize {
		b.byPubkey[string(c.DevicePubkey)] = c
	}
}

// BindPubkey associates a device pubkey with an existing handle-hash
// record, once a ceremony reveals it (the offer's signer).
func (b *ContactBook) BindPubkey(handleHash [digest.Size]byte, pub ed25519.PublicKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.byHandle[handleHash]
	if !ok {
		return
	}
	c.DevicePubkey = append(ed25519.PublicKey(nil), pub...)
	b.byPubkey[string(c.DevicePubkey)] = c
}

func (b *ContactBook) ByHandleHash(h [digest.Size]byte) (*Contact, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.byHandle[h]
	return c, ok
}

func (b *ContactBook) ByPubkey(pub ed25519.PublicKey) (*Contact, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.byPubkey[string(pub)]
	return c, ok
}

// All returns a snapshot of every known contact.
func (b *ContactBook) All() []*Contact {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Contact, 0, len(b.byHandle))
	for _, c := range b.byHandle {
		out = append(out, c)
	}
	return out
}

// IsKnownContact implements pt.ContactBook: PT's sole resource-exhaustion
// defense at the receiver. Known means the user
// deliberately added this contact and its device pubkey is on record
// trust level beyond that gates nothing at the transport, since the first
// ceremony with a fresh contact necessarily precedes attestation.
func (b *ContactBook) IsKnownContact(pub ed25519.PublicKey) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.byPubkey[string(pub)]
	return ok
}
