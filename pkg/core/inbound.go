package core

import (
	"context"
	"log"
	"net"
	"time"

	"github.com/nickspiker/photon/pkg/chain"
	"github.com/nickspiker/photon/pkg/clutch"
	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
	"github.com/nickspiker/photon/pkg/pt"
	"github.com/nickspiker/photon/pkg/vsf"
)

const (
	statusPingInterval = 20 * time.Second
	offlineAfter       = 60 * time.Second
)

// handleInbound routes one network-thread event through the UI thread's
// canonical state.
func (n *Node) handleInbound(ev InboundEvent) {
	switch ev.Kind {
	case InboundPayload:
		n.handlePayload(ev)
	case InboundPing:
		n.handlePing(ev)
	case InboundPong:
		n.handlePong(ev)
	case InboundOnlineChange:
		n.handleOnlineChange(ev)
	case InboundTransferOutcome:
		if !ev.Success {
			log.Printf("core: ⚠️ transfer %d failed on every path", ev.TransferID)
		}
	case InboundLanDisc:
		n.handleLanDisc(ev)
	}
}

// handlePayload dispatches a fully reassembled, verified PT payload by its
// section name to the owning ceremony or chain handler.
func (n *Node) handlePayload(ev InboundEvent) {
	env, err := vsf.Parse(ev.Raw)
	if err != nil {
		return
	}
	if c, ok := n.contacts.ByPubkey(ev.Sender); ok {
		n.markSeen(c)
	}

	switch ev.SectionName {
	case clutch.SectionOffer:
		n.handleClutchOffer(env)
	case clutch.SectionKemResponse:
		n.handleKemResponse(env)
	case clutch.SectionComplete:
		n.handleClutchComplete(env)
	case chain.SectionChatMessage:
		parsed, err := chain.ParseChatMessage(env)
		if err != nil {
			log.Printf("core: parsing ChatMessage: %v", err)
			return
		}
		n.handleChatMessage(parsed)
	case chain.SectionMessageAck:
		parsed, err := chain.ParseAck(env)
		if err != nil {
			log.Printf("core: parsing MessageAck: %v", err)
			return
		}
		n.handleMessageAck(parsed)
	default:
		log.Printf("core: payload with unhandled section %q, dropping", ev.SectionName)
	}
}

// handlePing answers a liveness probe with a pong carrying every
// friendship's sync-record.
func (n *Node) handlePing(ev InboundEvent) {
	c, ok := n.contacts.ByPubkey(ev.Sender)
	if !ok {
		return
	}
	n.markSeen(c)

	if n.socket == nil || ev.Source == nil {
		return
	}
	n.lastReceivedMu.RLock()
	records := make(map[[digest.Size]byte]eagletime.Time, len(n.lastReceived))
	for k, v := range n.lastReceived {
		records[k] = v
	}
	n.lastReceivedMu.RUnlock()

	pong := EncodeStatusPong(n.Device.Private, records, eagletime.Now())
	if err := n.socket.SendUDP(context.Background(), ev.Source.String(), pong); err != nil {
		log.Printf("core: sending pong: %v", err)
	}
}

// handlePong records the peer's sync-records and, on an offline-to-online
// transition, retransmits pending messages.
func (n *Node) handlePong(ev InboundEvent) {
	c, ok := n.contacts.ByPubkey(ev.Sender)
	if !ok {
		return
	}
	for token, last := range ev.Pong.SyncRecords {
		c.SyncRecords[token] = last
	}
	wasOffline := !c.Online
	n.markSeen(c)
	if wasOffline {
		n.retransmitPending(c)
	}
}

func (n *Node) handleOnlineChange(ev InboundEvent) {
	c, ok := n.contacts.ByHandleHash(ev.PeerHandleHash)
	if !ok {
		return
	}
	if ev.Online && !c.Online {
		n.markSeen(c)
		n.retransmitPending(c)
		return
	}
	c.Online = ev.Online
}

func (n *Node) markSeen(c *Contact) {
	c.LastSeen = eagletime.Now()
	if !c.Online {
		c.Online = true
		log.Printf("core: %s is online", c.Handle)
	}
}

// handleLanDisc applies the NAT-hairpin workaround: if a multicast
// beacon's sender shares our public IP, the
// contact's endpoint is overridden with the beacon's LAN source address.
func (n *Node) handleLanDisc(ev InboundEvent) {
	c, ok := n.contacts.ByPubkey(ev.Sender)
	if !ok {
		// Beacons can precede the ceremony that binds a pubkey; match by
		// the advertised handle-proof instead.
		for _, cand := range n.contacts.All() {
			if cand.HasProof && cand.Proof == ev.Disc.HandleProof {
				c, ok = cand, true
				break
			}
		}
		if !ok {
			return
		}
	}
	if c.Addressing.PublicIP == "" || c.Addressing.PublicIP != c.Addressing.OurPublicIP {
		return
	}
	host, _, err := net.SplitHostPort(ev.Source.String())
	if err != nil {
		return
	}
	if c.Addressing.LocalIP != host || c.Addressing.LocalPort != int(ev.Disc.Port) {
		c.Addressing.LocalIP = host
		c.Addressing.LocalPort = int(ev.Disc.Port)
		log.Printf("core: %s reachable on LAN at %s:%d (hairpin bypass)", c.Handle, host, ev.Disc.Port)
	}
}

// statusTick pings every addressable contact and demotes those whose
// pongs have stopped arriving.
func (n *Node) statusTick() {
	now := eagletime.Now()
	for _, c := range n.contacts.All() {
		if c.Online && now.Sub(c.LastSeen) > offlineAfter {
			c.Online = false
			log.Printf("core: %s went offline", c.Handle)
		}
		if n.socket == nil || c.Addressing.PublicIP == "" {
			continue
		}
		ping := EncodeStatusPing(n.Device.Private, eagletime.Now())
		ep := pt.ResolveEndpoint(c.Addressing)
		if err := n.socket.SendUDP(context.Background(), ep.Addr, ping); err != nil {
			log.Printf("core: pinging %s: %v", c.Handle, err)
		}
	}
}

// retransmitPending re-sends every unacknowledged message the peer's
// sync-records say they haven't received; with no sync-record for the
// conversation, everything pending goes out again.
func (n *Node) retransmitPending(c *Contact) {
	if c.Chains == nil {
		return
	}
	after, haveRecord := c.SyncRecords[c.Chains.ConversationToken]
	pending := c.Chains.PendingFor(c.HandleHash, after, haveRecord)
	for _, pm := range pending {
		raw := chain.EncodeChatMessage(n.Device.Private, c.Chains.ConversationToken, pm.PrevMsgHP, pm.Ciphertext, pm.EagleTime)
		n.queueSend(c, raw)
	}
	if len(pending) > 0 {
		log.Printf("core: 📬 retransmitting %d pending messages to %s", len(pending), c.Handle)
	}
}
