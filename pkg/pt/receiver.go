package pt

import (
	"crypto/ed25519"
	"errors"
	"sync"
	"time"

	"github.com/nickspiker/photon/pkg/pt/fec"
)

// ErrUnknownSender is returned when a pt_spec arrives from a sender whose
// pubkey is not a known contact.
var ErrUnknownSender = errors.New("pt: pt_spec from unknown sender, dropped")

// ContactBook reports whether a pubkey belongs to a known contact. It is
// PT's sole resource-exhaustion defense at the receiver.
type ContactBook interface {
	IsKnownContact(pubkey ed25519.PublicKey) bool
}

// InboundTransfer tracks one transfer's reassembly state at the receiver.
type InboundTransfer struct {
	TransferID   uint64
	Sender       ed25519.PublicKey
	TotalPackets uint32
	TotalSize    uint64
	StartedAt    time.Time

	mu         sync.Mutex
	chunks     map[uint32][]byte
	duplicates int
	fecDecoder *fec.Decoder // non-nil only if the transfer uses parity shards
}

// NewInboundTransfer allocates reassembly state after the acceptance gate
// has passed.
func NewInboundTransfer(spec Spec, sender ed25519.PublicKey) *InboundTransfer {
	return &InboundTransfer{
		TransferID:   spec.TransferID,
		Sender:       sender,
		TotalPackets: spec.TotalPackets,
		TotalSize:    spec.TotalSize,
		StartedAt:    time.Now(),
		chunks:       make(map[uint32][]byte, spec.TotalPackets),
	}
}

// Accept applies PT's acceptance gate to an incoming pt_spec.
func Accept(spec Spec, sender ed25519.PublicKey, contacts ContactBook) (*InboundTransfer, error) {
	if !contacts.IsKnownContact(sender) {
		return nil, ErrUnknownSender
	}
	return NewInboundTransfer(spec, sender), nil
}

// Store records one inbound chunk, reporting whether it was new.
func (t *InboundTransfer) Store(d Data) (isNew bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.chunks[d.Index]; ok {
		t.duplicates++
		return false
	}
	t.chunks[d.Index] = d.Chunk
	return true
}

// Received returns the sorted-by-nothing set of chunk indices stored so
// far, for building a pt_ack.
func (t *InboundTransfer) Received() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]uint32, 0, len(t.chunks))
	for idx := range t.chunks {
		out = append(out, idx)
	}
	return out
}

// Missing returns the indices in [0, TotalPackets) not yet stored.
func (t *InboundTransfer) Missing() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []uint32
	for i := uint32(0); i < t.TotalPackets; i++ {
		if _, ok := t.chunks[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// Complete reports whether every original (non-parity) chunk index is
// present. With a parity decoder attached the check relaxes: enough
// shards (data or parity) to reconstruct also counts as complete.
func (t *InboundTransfer) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fecDecoder != nil {
		return uint32(len(t.chunks)) >= t.fecDecoder.DataShards()
	}
	for i := uint32(0); i < t.TotalPackets; i++ {
		if _, ok := t.chunks[i]; !ok {
			return false
		}
	}
	return true
}

// UseFEC attaches a parity decoder to this transfer, enabling the relaxed
// completion check.
func (t *InboundTransfer) UseFEC(d *fec.Decoder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fecDecoder = d
}

// Assemble joins stored chunks 0..TotalPackets-1 into the original
// payload, trimming to TotalSize. If a parity decoder is attached and some
// original chunks are missing, it reconstructs them first.
func (t *InboundTransfer) Assemble() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.fecDecoder != nil {
		shards := make([][]byte, t.fecDecoder.TotalShards())
		for idx, c := range t.chunks {
			if int(idx) < len(shards) {
				shards[idx] = c
			}
		}
		reconstructed, err := t.fecDecoder.Reconstruct(shards)
		if err != nil {
			return nil, err
		}
		if uint64(len(reconstructed)) > t.TotalSize {
			reconstructed = reconstructed[:t.TotalSize]
		}
		return reconstructed, nil
	}

	buf := make([]byte, 0, t.TotalSize)
	for i := uint32(0); i < t.TotalPackets; i++ {
		c, ok := t.chunks[i]
		if !ok {
			return nil, errors.New("pt: assemble called before transfer complete")
		}
		buf = append(buf, c...)
	}
	if uint64(len(buf)) > t.TotalSize {
		buf = buf[:t.TotalSize]
	}
	return buf, nil
}

// Stats reports a completed transfer's utilization; received /
// (received + duplicates); plus elapsed time and throughput.
type Stats struct {
	Received    int
	Duplicates  int
	Utilization float64
	Elapsed     time.Duration
	ThroughputBps float64
}

func (t *InboundTransfer) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	received := len(t.chunks)
	elapsed := time.Since(t.StartedAt)
	util := 1.0
	if received+t.duplicates > 0 {
		util = float64(received) / float64(received+t.duplicates)
	}
	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(t.TotalSize) / elapsed.Seconds()
	}
	return Stats{
		Received:      received,
		Duplicates:    t.duplicates,
		Utilization:   util,
		Elapsed:       elapsed,
		ThroughputBps: throughput,
	}
}
