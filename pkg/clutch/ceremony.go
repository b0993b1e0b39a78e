package clutch

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sort"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/identity"
)

// State is a contact's position in the ceremony lifecycle.
type State int

const (
	Pending State = iota
	AwaitingProof
	Complete
	Fatal
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case AwaitingProof:
		return "awaiting_proof"
	case Complete:
		return "complete"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	// ErrProofMismatch is the fatal, loud condition reached when both
	// sides derived different eggs, which means a MITM or a bug.
	// Ceremonies that reach this error must not be silently retried.
	ErrProofMismatch = errors.New("clutch: eggs proof mismatch, aborting ceremony")
	ErrWrongState    = errors.New("clutch: operation invalid in current state")
	ErrStaleOffer    = errors.New("clutch: stale offer, discarding")
)

// inProgress is the tri-state background-work guard: keygen, KEM
// encapsulation, and avalanche_expand each
// run on a one-shot low-priority worker and must not be spawned twice
// concurrently for the same contact.
type inProgress struct {
	keygen     bool
	encapsulate bool
	expand     bool
}

// Ceremony tracks one contact's CLUTCH state. It is owned exclusively by
// the UI thread; background
// workers post results back through a channel rather than mutating this
// struct directly; see pkg/core for that wiring.
type Ceremony struct {
	State State

	LocalHandleHash [digest.Size]byte
	PeerHandleHash  [digest.Size]byte

	ConversationToken [digest.Size]byte

	LocalOffer *Offer
	LocalKeys  EphemeralKeys
	Peer       PartySlot

	LocalProvenance [digest.Size]byte
	PeerProvenance  [digest.Size]byte
	CeremonyID      [digest.Size]byte

	Eggs      [8][digest.Size]byte
	EggsProof [digest.Size]byte
	PeerProof *[digest.Size]byte

	KemResponseSent bool

	inProgress inProgress
}

// New starts a fresh ceremony shell for a contact identified by its
// handle hash, before any offer has been generated or received.
func New(localHandleHash, peerHandleHash [digest.Size]byte) *Ceremony {
	return &Ceremony{
		State:             Pending,
		LocalHandleHash:   localHandleHash,
		PeerHandleHash:    peerHandleHash,
		ConversationToken: identity.ConversationToken(localHandleHash, peerHandleHash),
	}
}

// localIsLow reports whether the local participant sorts before the
// peer, the canonical ordering egg derivation uses to assign low/high.
func (c *Ceremony) localIsLow() bool {
	return bytes.Compare(c.LocalHandleHash[:], c.PeerHandleHash[:]) < 0
}

// TryStartKeygen flag-guards key generation: it
// returns false if keygen already ran or is in flight, so a caller's
// background-worker spawn is a no-op in that case.
func (c *Ceremony) TryStartKeygen() bool {
	if c.inProgress.keygen || c.LocalOffer != nil {
		return false
	}
	c.inProgress.keygen = true
	return true
}

// FinishKeygen installs the result of a completed background keygen.
func (c *Ceremony) FinishKeygen(offer Offer, keys EphemeralKeys) {
	c.LocalOffer = &offer
	c.LocalKeys = keys
	c.inProgress.keygen = false
}

// SetLocalProvenance records this device's offer provenance,
// BLAKE3(signer_pubkey || creation_time_ns).
func (c *Ceremony) SetLocalProvenance(signer ed25519.PublicKey, provenance [digest.Size]byte) {
	c.LocalProvenance = provenance
}

// OfferAction tells the caller what an incoming offer did to the
// ceremony and what to do next.
type OfferAction int

const (
	OfferAccepted OfferAction = iota
	OfferIgnoredRetransmit
	OfferTriggeredRekey
	OfferCachedPending
)

func (c *Ceremony) ReceiveOffer(offer Offer, provenance [digest.Size]byte) (OfferAction, error) {
	newPrefix := offer.HQCPrefix()

	switch c.State {
	case Pending:
		if c.Peer.Offer != nil {
			oldPrefix := c.Peer.Offer.HQCPrefix()
			if oldPrefix != newPrefix {
				// Peer re-rolled before we completed; discard partial
				// slot data and start over with the new offer.
				c.Peer = PartySlot{HandleHash: c.PeerHandleHash}
			} else {
				return OfferIgnoredRetransmit, nil
			}
		}
		c.Peer.Offer = &offer
		c.PeerProvenance = provenance
		return OfferAccepted, nil

	case AwaitingProof:
		oldPrefix := c.Peer.Offer.HQCPrefix()
		if oldPrefix == newPrefix {
			return OfferIgnoredRetransmit, nil
		}
		c.resetToPending()
		c.Peer.Offer = &offer
		c.PeerProvenance = provenance
		return OfferAccepted, nil

	case Complete:
		oldPrefix := c.Peer.Offer.HQCPrefix()
		if oldPrefix == newPrefix {
			// PT retransmit from before the peer saw our proof.
			return OfferIgnoredRetransmit, nil
		}
		// Peer lost its chain state; full re-key required.
		c.resetToPending()
		c.Peer.Offer = &offer
		c.PeerProvenance = provenance
		return OfferTriggeredRekey, nil

	default:
		return OfferIgnoredRetransmit, ErrWrongState
	}
}

func (c *Ceremony) resetToPending() {
	c.State = Pending
	c.LocalOffer = nil
	c.LocalKeys = EphemeralKeys{}
	c.Peer = PartySlot{HandleHash: c.PeerHandleHash}
	c.LocalProvenance = [digest.Size]byte{}
	c.PeerProvenance = [digest.Size]byte{}
	c.CeremonyID = [digest.Size]byte{}
	c.Eggs = [8][digest.Size]byte{}
	c.EggsProof = [digest.Size]byte{}
	c.PeerProof = nil
	c.KemResponseSent = false
	c.inProgress = inProgress{}
}

// TryStartEncapsulate flag-guards KEM encapsulation.
func (c *Ceremony) TryStartEncapsulate() bool {
	if c.inProgress.encapsulate || c.Peer.Offer == nil || c.LocalOffer == nil || c.KemResponseSent {
		return false
	}
	c.inProgress.encapsulate = true
	return true
}

// FinishEncapsulate computes every classical DH and records the PQ
// ciphertexts this device will send in its KemResponse.
func (c *Ceremony) FinishEncapsulate() (ciphertexts [5][]byte, err error) {
	defer func() { c.inProgress.encapsulate = false }()

	if err := c.Peer.FillClassicalSecrets(c.LocalKeys); err != nil {
		return ciphertexts, err
	}
	ciphertexts, err = c.Peer.EncapsulateToThem()
	if err != nil {
		return ciphertexts, err
	}
	c.KemResponseSent = true
	return ciphertexts, nil
}

// ReceiveKemResponse decapsulates the peer's PQ ciphertexts. targetHQC is
// the 8-byte prefix the peer claims as the offer it is responding to;
// a mismatch against our current offer means the response is stale.
func (c *Ceremony) ReceiveKemResponse(ciphertexts [5][]byte, ceremonyID [digest.Size]byte, targetHQC [8]byte) error {
	if c.LocalOffer == nil {
		return errNoOffer
	}
	if c.LocalOffer.HQCPrefix() != targetHQC {
		return ErrStaleOffer
	}
	if err := c.Peer.DecapsulateFromThem(c.LocalKeys, ciphertexts); err != nil {
		return err
	}
	return nil
}

// TryStartExpand flag-guards the memory-hard eggs/avalanche expansion. It
// starts only once the peer's KEM response has been decapsulated, so every
// PQ slot carries both encapsulation directions.
func (c *Ceremony) TryStartExpand() bool {
	if c.inProgress.expand || !c.Peer.Complete() || c.State != Pending {
		return false
	}
	for i := 0; i < 5; i++ {
		if c.Peer.SecretsFromThem[pqIndex(i)] == nil {
			return false
		}
	}
	c.inProgress.expand = true
	return true
}

// ComputeCeremonyID derives the ceremony identifier from the sorted
// handle-hashes and sorted offer provenances. Both
// provenances must be known before calling this.
func (c *Ceremony) ComputeCeremonyID() [digest.Size]byte {
	hashes := [][digest.Size]byte{c.LocalHandleHash, c.PeerHandleHash}
	sort.Slice(hashes, func(i, j int) bool { return bytes.Compare(hashes[i][:], hashes[j][:]) < 0 })

	provs := [][digest.Size]byte{c.LocalProvenance, c.PeerProvenance}
	sort.Slice(provs, func(i, j int) bool { return bytes.Compare(provs[i][:], provs[j][:]) < 0 })

	parts := make([][]byte, 0, 4)
	for _, h := range hashes {
		h := h
		parts = append(parts, h[:])
	}
	for _, p := range provs {
		p := p
		parts = append(parts, p[:])
	}
	c.CeremonyID = digest.Smear("PHOTON_CEREMONY_v1", parts...)
	return c.CeremonyID
}

// FinishExpand computes the eight eggs from the completed slot and
// transitions to AwaitingProof, clearing the in-progress flag.
func (c *Ceremony) FinishExpand() [8][digest.Size]byte {
	defer func() { c.inProgress.expand = false }()
	c.Eggs = c.computeEggs()
	c.EggsProof = ProofFromEggs(c.Eggs)
	c.State = AwaitingProof

	if c.PeerProof != nil {
		// Peer's proof arrived while we were still computing ours.
		c.checkPeerProof(*c.PeerProof)
	}
	return c.Eggs
}

// computeEggs XORs the ten primitives' contributions into eight eggs,
// combining Ed25519DH into the X25519 egg and MLKEM512 into the HQC256
// egg.
func (c *Ceremony) computeEggs() [8][digest.Size]byte {
	localIsLow := c.localIsLow()
	contribution := func(idx int) [digest.Size]byte {
		ours, theirs := c.Peer.contributionPair(idx, localIsLow)
		low, high := ours, theirs
		if !localIsLow {
			low, high = theirs, ours
		}
		return xor32(low, high)
	}

	var eggs [8][digest.Size]byte
	eggs[0] = xor32(contribution(classicalIndex(0)), contribution(classicalIndex(4))) // X25519 + Ed25519DH
	eggs[1] = contribution(classicalIndex(1))                                         // P-384
	eggs[2] = contribution(classicalIndex(2))                                         // secp256k1
	eggs[3] = contribution(classicalIndex(3))                                         // P-256
	eggs[4] = contribution(pqIndex(0))                                                // FrodoKEM768
	eggs[5] = contribution(pqIndex(1))                                                // NTRU1024
	eggs[6] = contribution(pqIndex(2))                                                // ClassicMcEliece768
	eggs[7] = xor32(contribution(pqIndex(3)), contribution(pqIndex(4)))               // HQC256 + MLKEM512
	return eggs
}

// ProofFromEggs derives the 32-byte confirmation proof from a set of
// eggs: a domain-separated BLAKE3 hash so neither
// side can forge agreement without having derived the same eggs.
func ProofFromEggs(eggs [8][digest.Size]byte) [digest.Size]byte {
	parts := make([][]byte, len(eggs))
	for i := range eggs {
		e := eggs[i]
		parts[i] = e[:]
	}
	return digest.Smear("PHOTON_EGGS_PROOF_v1", parts...)
}

// ReceivePeerProof handles an incoming ClutchComplete's proof. If our own
// eggs aren't derived yet, the proof is cached for later comparison.
func (c *Ceremony) ReceivePeerProof(proof [digest.Size]byte) error {
	if c.State != AwaitingProof {
		p := proof
		c.PeerProof = &p
		return nil
	}
	return c.checkPeerProof(proof)
}

func (c *Ceremony) checkPeerProof(proof [digest.Size]byte) error {
	if !digest.Equal(proof, c.EggsProof) {
		c.State = Fatal
		return fmt.Errorf("%w: local=%x peer=%x", ErrProofMismatch, c.EggsProof, proof)
	}
	c.State = Complete
	return nil
}

// Cleanup wipes the ephemeral keypairs and slot secrets once the first
// ACK on the derived chain confirms both sides are using the new key
// material. The eggs and proof stay; they are
// already committed to the chains.
func (c *Ceremony) Cleanup() {
	for i := range c.LocalKeys.Classical {
		zeroBytes(c.LocalKeys.Classical[i].Private)
	}
	for i := range c.LocalKeys.PQ {
		zeroBytes(c.LocalKeys.PQ[i].Decapsulation)
	}
	c.LocalKeys = EphemeralKeys{}
	for i := range c.Peer.SecretsToThem {
		zeroBytes(c.Peer.SecretsToThem[i])
		zeroBytes(c.Peer.SecretsFromThem[i])
		c.Peer.SecretsToThem[i] = nil
		c.Peer.SecretsFromThem[i] = nil
	}
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func xor32(a, b [digest.Size]byte) [digest.Size]byte {
	var out [digest.Size]byte
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// contributionPair returns this device's and the peer's hashed input for
// one primitive slot. PQ slots carry two genuinely distinct secrets, one
// per encapsulation direction. Classical DH is symmetric, so the single
// shared value is split into two role-tagged hashes; feeding the same
// value into both sides of the egg XOR would cancel to zero and erase
// the primitive from the proof entirely.
func (s *PartySlot) contributionPair(idx int, localIsLow bool) (ours, theirs [digest.Size]byte) {
	if s.SecretsFromThem[idx] == nil {
		low := digest.BLAKE3([]byte("PHOTON_CLASSICAL_LOW_v1"), s.SecretsToThem[idx])
		high := digest.BLAKE3([]byte("PHOTON_CLASSICAL_HIGH_v1"), s.SecretsToThem[idx])
		if localIsLow {
			return low, high
		}
		return high, low
	}
	ours = digest.BLAKE3(s.SecretsToThem[idx])
	theirs = digest.BLAKE3(s.SecretsFromThem[idx])
	return
}
