package pt

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/nickspiker/photon/pkg/eagletime"
)

// ChunkSize bounds a pt_data payload to comfortably clear typical path
// MTU after VSF framing overhead.
const ChunkSize = 1200

// EventKind tags an inbound packet the network dispatch loop routes to an
// in-flight OutboundTransfer.
type EventKind int

const (
	EventSpecAck EventKind = iota
	EventAck
	EventNak
	EventDone
)

// InboundEvent is how the receive path hands a parsed ack/nak/done packet
// to the sender state machine that owns its transfer_id.
type InboundEvent struct {
	Kind EventKind
	Ack  Ack
	Nak  Nak
	Done Done
}

// Outcome is what Send reports when an outbound transfer finishes, win
// or lose.
type Outcome struct {
	TransferID uint64
	OK         bool
	Path       string // "udp", "tcp", or "relay"
}

func chunkPayload(payload []byte) [][]byte {
	if len(payload) == 0 {
		return [][]byte{{}}
	}
	var chunks [][]byte
	for i := 0; i < len(payload); i += ChunkSize {
		end := i + ChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[i:end])
	}
	return chunks
}

// Sender drives one outbound transfer through announce/ship/loss-recovery/
// TCP-fallback/relay-fallback/complete.
type Sender struct {
	priv      ed25519.PrivateKey
	transport Transport

	tickInterval  time.Duration
	tcpAfter      time.Duration
	relayAfter    time.Duration
	bucket        *TokenBucket

	mu      sync.Mutex
	events  chan InboundEvent
}

// NewSender builds a Sender with the stock timings: a 150ms resend tick,
// TCP fallback armed at 1s, relay fallback at 4s.
func NewSender(priv ed25519.PrivateKey, transport Transport) *Sender {
	return &Sender{
		priv:         priv,
		transport:    transport,
		tickInterval: 150 * time.Millisecond,
		tcpAfter:     1 * time.Second,
		relayAfter:   4 * time.Second,
		bucket:       NewTokenBucket(32, 8, 100*time.Millisecond),
		events:       make(chan InboundEvent, 64),
	}
}

// Events returns the channel the network dispatch loop feeds parsed
// pt_ack/pt_nak/pt_done packets into for this transfer.
func (s *Sender) Events() chan<- InboundEvent { return s.events }

// Send runs the full outbound state machine for one transfer to completion
// or ctx cancellation.
func (s *Sender) Send(ctx context.Context, endpoint Endpoint, transferID uint64, payload []byte) (Outcome, error) {
	chunks := chunkPayload(payload)
	spec := Spec{
		TransferID:    transferID,
		TotalPackets:  uint32(len(chunks)),
		TotalSize:     uint64(len(payload)),
		RecipientHint: endpoint.Recipient,
	}

	acked := make(map[uint32]bool, len(chunks))
	start := time.Now()

	// Step 1: announce.
	specRaw := EncodeSpec(s.priv, spec, eagletime.Now())
	if err := s.transport.SendUDP(ctx, endpoint.Addr, specRaw); err != nil {
		return Outcome{}, err
	}

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	specAcked := false
	shipped := false
	tcpStarted := false
	tcpDone := make(chan error, 1)
	relayStarted := false
	relayDone := make(chan error, 1)

	ship := func() {
		if shipped || !specAcked {
			return
		}
		shipped = true
		s.shipAll(ctx, endpoint.Addr, transferID, chunks)
	}

	for {
		if len(acked) == len(chunks) {
			doneRaw := EncodeDone(s.priv, Done{TransferID: transferID, Success: true}, eagletime.Now())
			_ = s.transport.SendUDP(ctx, endpoint.Addr, doneRaw)
			return Outcome{TransferID: transferID, OK: true, Path: "udp"}, nil
		}

		select {
		case <-ctx.Done():
			return Outcome{TransferID: transferID, OK: false}, ctx.Err()

		case ev := <-s.events:
			switch ev.Kind {
			case EventSpecAck:
				specAcked = true
				ship()
			case EventAck:
				for _, idx := range ev.Ack.Received {
					acked[idx] = true
				}
			case EventNak:
				s.resend(ctx, endpoint.Addr, transferID, chunks, ev.Nak.Missing)
			case EventDone:
				if ev.Done.Success {
					return Outcome{TransferID: transferID, OK: true, Path: "udp"}, nil
				}
			}

		case err := <-tcpDone:
			if err == nil {
				return Outcome{TransferID: transferID, OK: true, Path: "tcp"}, nil
			}

		case err := <-relayDone:
			return Outcome{TransferID: transferID, OK: err == nil, Path: "relay"}, nil

		case <-ticker.C:
			ship()
			if specAcked {
				s.resendUnacked(ctx, endpoint.Addr, transferID, chunks, acked)
			}

			elapsed := time.Since(start)
			if !tcpStarted && elapsed >= s.tcpAfter {
				tcpStarted = true
				go func() {
					tcpDone <- s.transport.SendTCP(ctx, endpoint.Addr, payload)
				}()
			}
			if !relayStarted && elapsed >= s.relayAfter {
				relayStarted = true
				go func() {
					relayDone <- s.transport.SendRelay(ctx, endpoint.Recipient, payload)
				}()
			}
		}
	}
}

func (s *Sender) shipAll(ctx context.Context, addr string, transferID uint64, chunks [][]byte) {
	for i, c := range chunks {
		s.sendChunk(ctx, addr, transferID, uint32(i), c)
	}
}

func (s *Sender) resendUnacked(ctx context.Context, addr string, transferID uint64, chunks [][]byte, acked map[uint32]bool) {
	for i, c := range chunks {
		if !acked[uint32(i)] {
			s.sendChunk(ctx, addr, transferID, uint32(i), c)
		}
	}
}

func (s *Sender) resend(ctx context.Context, addr string, transferID uint64, chunks [][]byte, indices []uint32) {
	for _, idx := range indices {
		if int(idx) < len(chunks) {
			s.sendChunk(ctx, addr, transferID, idx, chunks[idx])
		}
	}
}

func (s *Sender) sendChunk(ctx context.Context, addr string, transferID uint64, index uint32, chunk []byte) {
	if !s.bucket.Take(1) {
		return
	}
	raw := EncodeData(s.priv, Data{TransferID: transferID, Index: index, Chunk: chunk}, eagletime.Now())
	_ = s.transport.SendUDP(ctx, addr, raw)
}
