package core

import (
	"context"
	"crypto/ed25519"
	"log"
	"net"

	"github.com/nickspiker/photon/pkg/eagletime"
	"github.com/nickspiker/photon/pkg/pt"
	"github.com/nickspiker/photon/pkg/vsf"
)

// ackEvery batches pt_ack emission: one ack per this many newly stored
// chunks, plus one at completion. The sender's per-tick resend policy
// tolerates the latency.
const ackEvery = 16

// NetworkThread owns PT's sockets and every in-flight transfer. It
// consumes OutboundRequests from the UI thread
// and publishes InboundEvents back; it never touches contact or chain
// state beyond the read-only acceptance gate.
func (n *Node) NetworkThread(ctx context.Context) error {
	if n.socket == nil {
		// Test configurations drive handleInbound directly.
		<-ctx.Done()
		return ctx.Err()
	}

	go func() {
		if err := n.socket.ServeUDP(ctx, n.udpHandlers()); err != nil {
			log.Printf("core: udp serve loop: %v", err)
		}
	}()
	go func() {
		if err := n.socket.ServeTCP(ctx, n.dispatchAssembled); err != nil {
			log.Printf("core: tcp accept loop: %v", err)
		}
	}()
	if n.beacon != nil {
		go n.beacon.Run(ctx)
	}
	if n.listener != nil {
		go func() {
			err := n.listener.Serve(ctx, func(d pt.Disc, pub ed25519.PublicKey, src net.Addr) {
				n.postEvent(InboundEvent{Kind: InboundLanDisc, Disc: d, Sender: pub, Source: src})
			})
			if err != nil {
				log.Printf("core: multicast listen loop: %v", err)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-n.outbound:
			switch req.Kind {
			case OutboundSend:
				go n.runSender(ctx, req)
			case OutboundBroadcastDiscovery:
				if n.beacon != nil {
					n.beacon.Broadcast()
				}
			case OutboundClearPending:
				n.cancelSender(req.TransferID)
			}
		}
	}
}

// postEvent hands an event to the UI thread without ever blocking the
// network thread: a full queue drops the event, and the peer's normal
// retry machinery recovers it.
func (n *Node) postEvent(ev InboundEvent) {
	select {
	case n.inbound <- ev:
	default:
		log.Printf("core: ⚠️ inbound queue full, dropping event kind %d", ev.Kind)
	}
}

// runSender drives one outbound transfer through PT's full state machine,
// reporting the outcome upward when it ends.
func (n *Node) runSender(ctx context.Context, req OutboundRequest) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sender := pt.NewSender(n.Device.Private, n.socket)
	n.sendersMu.Lock()
	n.senders[req.TransferID] = &senderEntry{sender: sender, cancel: cancel}
	n.sendersMu.Unlock()
	defer func() {
		n.sendersMu.Lock()
		delete(n.senders, req.TransferID)
		n.sendersMu.Unlock()
	}()

	outcome, err := sender.Send(sctx, req.Endpoint, req.TransferID, req.Payload)
	if err != nil && sctx.Err() == nil {
		log.Printf("core: transfer %d: %v", req.TransferID, err)
	}
	n.postEvent(InboundEvent{Kind: InboundTransferOutcome, TransferID: outcome.TransferID, Success: outcome.OK})
}

func (n *Node) cancelSender(transferID uint64) {
	n.sendersMu.Lock()
	defer n.sendersMu.Unlock()
	if e, ok := n.senders[transferID]; ok && e.cancel != nil {
		e.cancel()
	}
}

func (n *Node) senderEvents(transferID uint64) (chan<- pt.InboundEvent, bool) {
	n.sendersMu.Lock()
	defer n.sendersMu.Unlock()
	e, ok := n.senders[transferID]
	if !ok {
		return nil, false
	}
	return e.sender.Events(), true
}

// udpHandlers routes parsed PT packets to the matching state machine and
// everything else (ping/pong) to the UI thread.
func (n *Node) udpHandlers() pt.Handlers {
	return pt.Handlers{
		OnSpec: n.onSpec,
		OnData: n.onData,
		OnAck: func(a pt.Ack, _ net.Addr) {
			if ch, ok := n.senderEvents(a.TransferID); ok {
				kind := pt.EventAck
				if len(a.Received) == 0 {
					kind = pt.EventSpecAck
				}
				select {
				case ch <- pt.InboundEvent{Kind: kind, Ack: a}:
				default:
				}
			}
		},
		OnNak: func(nk pt.Nak, _ net.Addr) {
			if ch, ok := n.senderEvents(nk.TransferID); ok {
				select {
				case ch <- pt.InboundEvent{Kind: pt.EventNak, Nak: nk}:
				default:
				}
			}
		},
		OnDone: func(d pt.Done, _ net.Addr) {
			if ch, ok := n.senderEvents(d.TransferID); ok {
				select {
				case ch <- pt.InboundEvent{Kind: pt.EventDone, Done: d}:
				default:
				}
			}
		},
		OnDisc: func(d pt.Disc, pub ed25519.PublicKey, src net.Addr) {
			n.postEvent(InboundEvent{Kind: InboundLanDisc, Disc: d, Sender: pub, Source: src})
		},
		OnOther: n.onOther,
	}
}

// onSpec applies the acceptance gate and, on accept, allocates reassembly
// state and acknowledges the announcement. An empty-index pt_ack is the spec acknowledgement.
func (n *Node) onSpec(spec pt.Spec, sender ed25519.PublicKey, src net.Addr) {
	inbound, err := pt.Accept(spec, sender, n.acceptanceGate())
	if err != nil {
		return // dropped silently, no buffers, no ACK
	}

	n.receiversMu.Lock()
	if existing, ok := n.receivers[spec.TransferID]; ok {
		inbound = existing // retransmitted spec
	} else {
		n.receivers[spec.TransferID] = inbound
	}
	n.receiversMu.Unlock()

	ack := pt.EncodeAck(n.Device.Private, pt.Ack{TransferID: spec.TransferID}, eagletime.Now())
	_ = n.socket.SendUDP(context.Background(), src.String(), ack)
}

// onData stores one chunk, acknowledges periodically, and on completion
// assembles and delivers the payload upward.
func (n *Node) onData(d pt.Data, sender ed25519.PublicKey, src net.Addr) {
	n.receiversMu.Lock()
	inbound, ok := n.receivers[d.TransferID]
	n.receiversMu.Unlock()
	if !ok {
		return
	}

	isNew := inbound.Store(d)
	received := inbound.Received()

	if inbound.Complete() {
		n.receiversMu.Lock()
		delete(n.receivers, d.TransferID)
		n.receiversMu.Unlock()

		payload, err := inbound.Assemble()
		if err != nil {
			log.Printf("core: assembling transfer %d: %v", d.TransferID, err)
			return
		}
		stats := inbound.Stats()
		log.Printf("core: transfer %d complete: %d chunks, %.0f%% utilization, %.1f KiB/s",
			d.TransferID, stats.Received, stats.Utilization*100, stats.ThroughputBps/1024)

		ack := pt.EncodeAck(n.Device.Private, pt.Ack{TransferID: d.TransferID, Received: received}, eagletime.Now())
		_ = n.socket.SendUDP(context.Background(), src.String(), ack)
		done := pt.EncodeDone(n.Device.Private, pt.Done{TransferID: d.TransferID, Success: true}, eagletime.Now())
		_ = n.socket.SendUDP(context.Background(), src.String(), done)

		n.dispatchAssembled(payload, src)
		return
	}

	if isNew && len(received)%ackEvery == 0 {
		ack := pt.EncodeAck(n.Device.Private, pt.Ack{TransferID: d.TransferID, Received: received}, eagletime.Now())
		_ = n.socket.SendUDP(context.Background(), src.String(), ack)
	}
}

// dispatchAssembled parses and verifies a complete payload (from a PT
// reassembly or a TCP-fallback read) and hands it to the UI thread keyed
// by its first section name. Invalid framing and bad signatures are
// absorbed here.
func (n *Node) dispatchAssembled(payload []byte, src net.Addr) {
	env, err := vsf.Parse(payload)
	if err != nil {
		return
	}
	if err := env.Verify(); err != nil {
		return
	}
	if len(env.Sections) == 0 {
		return
	}
	n.postEvent(InboundEvent{
		Kind:        InboundPayload,
		SectionName: env.Sections[0].Name,
		Sender:      env.SignerPubkey,
		Raw:         payload,
		Source:      src,
	})
}

// onOther handles the non-PT envelopes sharing the UDP port: the status
// ping/pong probes.
func (n *Node) onOther(env *vsf.Envelope, src net.Addr) {
	if _, ok := env.SectionByName(SectionStatusPing); ok {
		ping, pub, err := ParseStatusPing(env)
		if err != nil {
			return
		}
		n.postEvent(InboundEvent{Kind: InboundPing, Ping: ping, Sender: pub, Source: src})
		return
	}
	if _, ok := env.SectionByName(SectionStatusPong); ok {
		pong, pub, err := ParseStatusPong(env)
		if err != nil {
			return
		}
		n.postEvent(InboundEvent{Kind: InboundPong, Pong: pong, Sender: pub, Source: src})
	}
}

// acceptanceGate exposes the contact book to PT's receiver-side gate.
func (n *Node) acceptanceGate() pt.ContactBook { return n.contacts }

// DeliverRelayPayload feeds a payload fetched from the FGTW relay through
// the same parse/verify/dispatch pipeline as a PT completion or a TCP
// fallback read.
func (n *Node) DeliverRelayPayload(payload []byte) {
	n.dispatchAssembled(payload, nil)
}
