package core

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nickspiker/photon/pkg/chain"
	"github.com/nickspiker/photon/pkg/clutch"
	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
	"github.com/nickspiker/photon/pkg/identity"
	"github.com/nickspiker/photon/pkg/persistence"
	"github.com/nickspiker/photon/pkg/pt"
	"github.com/nickspiker/photon/pkg/rendezvous"
	"github.com/nickspiker/photon/pkg/vsf"
)

// Node is one running Photon device: the UI thread's canonical state plus
// handles to the network thread's socket and the rendezvous client. There
// is no GUI inside this package; cmd/photon-node drives RunUIThread and
// NetworkThread from its own goroutines, and pkg/pollapi exposes the same
// ContactBook/FriendshipChains state to an external UI process.
type Node struct {
	Handle     string
	HandleHash [digest.Size]byte
	Device     identity.DeviceKeyPair

	contacts   *ContactBook
	byToken    map[[digest.Size]byte]*Contact // conversation_token -> contact, for routing inbound ceremony/chat wire messages
	tokenMu    sync.RWMutex

	friendships   map[[digest.Size]byte]*chain.FriendshipChains // keyed by conversation_token
	friendshipsMu sync.RWMutex

	lastReceived   map[[digest.Size]byte]eagletime.Time // conversation_token -> our last-received eagle time, for pong sync-records
	lastReceivedMu sync.RWMutex

	vault     *persistence.Vault
	history   *persistence.History
	directory *rendezvous.Client
	socket    *pt.Socket
	beacon    *pt.Beacon
	listener  *pt.Listener

	outbound chan OutboundRequest
	inbound  chan InboundEvent
	work     chan WorkResult
	poll     chan pollRequest

	nextTransferID uint64

	sendersMu sync.Mutex
	senders   map[uint64]*senderEntry

	receiversMu sync.Mutex
	receivers   map[uint64]*pt.InboundTransfer
}

type senderEntry struct {
	sender *pt.Sender
	cancel context.CancelFunc
}

// NewNode wires a Node around an already-open vault, history database,
// rendezvous client, and PT socket. beacon/listener may be nil when LAN
// discovery isn't wanted (e.g. in tests).
func NewNode(handle string, device identity.DeviceKeyPair, vault *persistence.Vault, history *persistence.History, directory *rendezvous.Client, socket *pt.Socket, beacon *pt.Beacon, listener *pt.Listener) *Node {
	return &Node{
		Handle:       handle,
		HandleHash:   identity.HandleHash(handle),
		Device:       device,
		contacts:     NewContactBook(),
		byToken:      make(map[[digest.Size]byte]*Contact),
		friendships:  make(map[[digest.Size]byte]*chain.FriendshipChains),
		lastReceived: make(map[[digest.Size]byte]eagletime.Time),
		vault:        vault,
		history:      history,
		directory:    directory,
		socket:       socket,
		beacon:       beacon,
		listener:     listener,
		outbound:     make(chan OutboundRequest, queueDepth),
		inbound:      make(chan InboundEvent, queueDepth),
		work:         make(chan WorkResult, queueDepth),
		poll:         make(chan pollRequest),
		senders:      make(map[uint64]*senderEntry),
		receivers:    make(map[uint64]*pt.InboundTransfer),
	}
}

// Contacts exposes the canonical contact collection, e.g. for pkg/pollapi.
func (n *Node) Contacts() *ContactBook { return n.contacts }

// History exposes the local message-history store (nil if none was
// configured).
func (n *Node) History() *persistence.History { return n.history }

// Directory exposes the rendezvous client (nil in offline tests).
func (n *Node) Directory() *rendezvous.Client { return n.directory }

func (n *Node) nextID() uint64 {
	return atomic.AddUint64(&n.nextTransferID, 1)
}

// AddContact registers a new contact record and indexes it by the
// conversation token its ceremony will use, so inbound ceremony and chat
// wire messages can be routed back to it.
func (n *Node) AddContact(handle string, addressing pt.ContactAddressing) *Contact {
	peerHash := identity.HandleHash(handle)
	c := NewContact(handle, n.HandleHash, peerHash)
	c.Addressing = addressing
	if len(addressing.Recipient) > 0 {
		// The rendezvous lookup already told us this contact's device
		// pubkey; binding it now opens PT's acceptance gate for their
		// ceremony traffic.
		c.DevicePubkey = append(ed25519.PublicKey(nil), addressing.Recipient...)
	}
	n.contacts.Add(c)

	n.tokenMu.Lock()
	n.byToken[c.Ceremony.ConversationToken] = c
	n.tokenMu.Unlock()

	n.persistContactIndex()
	return c
}

func (n *Node) contactByToken(token [digest.Size]byte) (*Contact, bool) {
	n.tokenMu.RLock()
	defer n.tokenMu.RUnlock()
	c, ok := n.byToken[token]
	return c, ok
}

// StartCeremony kicks off CLUTCH key generation for a contact if it hasn't
// already run. Safe to call repeatedly.
func (n *Node) StartCeremony(c *Contact) {
	if !c.Ceremony.TryStartKeygen() {
		return
	}
	spawnKeygen(n.Device, c.Ceremony.ConversationToken, c.HandleHash, n.work)
}

func (n *Node) maybeEncapsulate(c *Contact) {
	if !c.Ceremony.TryStartEncapsulate() {
		return
	}
	spawnEncapsulate(c.Ceremony, c.HandleHash, n.work)
}

func (n *Node) maybeExpand(c *Contact) {
	if !c.Ceremony.TryStartExpand() {
		return
	}
	spawnExpand(c.Ceremony, c.HandleHash, n.work)
}

// queueSend hands a ready-to-transmit envelope to the network thread,
// addressed to one contact.
func (n *Node) queueSend(c *Contact, payload []byte) {
	n.outbound <- OutboundRequest{
		Kind:       OutboundSend,
		Endpoint:   pt.ResolveEndpoint(c.Addressing),
		Payload:    payload,
		TransferID: n.nextID(),
	}
}

// applyWorkResult commits a completed background-worker stage into the
// owning contact's Ceremony and advances the ceremony to its next step.
func (n *Node) applyWorkResult(wr WorkResult) {
	c, ok := n.contacts.ByHandleHash(wr.PeerHandleHash)
	if !ok {
		log.Printf("core: work result for unknown contact %x, dropping", wr.PeerHandleHash)
		return
	}

	switch wr.Kind {
	case WorkKeygen:
		if wr.Err != nil {
			log.Printf("core: keygen failed for %s: %v", c.Handle, wr.Err)
			return
		}
		c.Ceremony.FinishKeygen(wr.Offer, wr.Keys)
		now := eagletime.Now()
		provenance := clutch.ProvenanceHash(n.Device.Public, now)
		c.Ceremony.SetLocalProvenance(n.Device.Public, provenance)
		n.persistCeremony(c)
		n.queueSend(c, clutch.EncodeOffer(n.Device.Private, wr.Offer, now))
		n.maybeEncapsulate(c)

	case WorkEncapsulate:
		if wr.Err != nil {
			log.Printf("core: kem encapsulation failed for %s: %v", c.Handle, wr.Err)
			return
		}
		cid := c.Ceremony.CeremonyID
		if cid == ([digest.Size]byte{}) {
			cid = c.Ceremony.ComputeCeremonyID()
		}
		targetHQC := c.Ceremony.Peer.Offer.HQCPrefix()
		n.persistCeremony(c)
		raw := clutch.EncodeKemResponse(n.Device.Private, c.Ceremony.ConversationToken, cid, wr.Ciphertexts, targetHQC, eagletime.Now())
		n.queueSend(c, raw)
		n.maybeExpand(c)

	case WorkExpand:
		friendshipID := identity.FriendshipID(n.HandleHash, c.HandleHash)
		fc := chain.FromClutch(friendshipID, c.Ceremony.ConversationToken, n.HandleHash, wr.Eggs, c.HandleHash)
		c.Chains = fc
		n.friendshipsMu.Lock()
		n.friendships[c.Ceremony.ConversationToken] = fc
		n.friendshipsMu.Unlock()

		if err := n.persistChains(fc); err != nil {
			log.Printf("core: persisting freshly derived chains for %s: %v", c.Handle, err)
		}
		n.persistCeremony(c)
		if c.Ceremony.State == clutch.Complete {
			// The peer's proof arrived while we were still expanding and
			// matched the moment FinishExpand derived ours.
			c.Trust = Attested
			log.Printf("core: ✅ ceremony with %s complete", c.Handle)
		}

		raw := clutch.EncodeComplete(n.Device.Private, c.Ceremony.ConversationToken, c.Ceremony.CeremonyID, c.Ceremony.EggsProof, eagletime.Now())
		n.queueSend(c, raw)
	}
}

// handleClutchOffer processes an inbound ClutchOffer.
func (n *Node) handleClutchOffer(env *vsf.Envelope) {
	offer, err := clutch.ParseOffer(env)
	if err != nil {
		log.Printf("core: parsing ClutchOffer: %v", err)
		return
	}
	c, ok := n.contactByToken(offer.ConversationToken)
	if !ok {
		log.Printf("core: ClutchOffer for unknown conversation %x, dropping", offer.ConversationToken)
		return
	}
	n.contacts.BindPubkey(c.HandleHash, env.SignerPubkey)

	provenance := clutch.ProvenanceHash(env.SignerPubkey, env.CreationTime)
	action, err := c.Ceremony.ReceiveOffer(offer, provenance)
	if err != nil {
		log.Printf("core: ClutchOffer from %s rejected: %v", c.Handle, err)
		return
	}
	switch action {
	case clutch.OfferTriggeredRekey:
		// Peer lost its chains; ours are now garbage too.
		n.dropChains(c)
		fallthrough
	case clutch.OfferAccepted:
		n.persistCeremony(c)
		n.StartCeremony(c)
		n.maybeEncapsulate(c)
	}
}

// dropChains discards a friendship's derived chains in memory and on
// disk, ahead of a full re-key.
func (n *Node) dropChains(c *Contact) {
	if c.Chains == nil {
		return
	}
	dir := friendshipDir(c.Chains)
	n.friendshipsMu.Lock()
	delete(n.friendships, c.Chains.ConversationToken)
	n.friendshipsMu.Unlock()
	c.Chains = nil
	c.FirstAckSeen = false
	if n.vault != nil {
		if err := n.vault.Delete(persistence.FriendshipChainsPath(dir)); err != nil {
			log.Printf("core: deleting stale chains for %s: %v", c.Handle, err)
		}
	}
}

func (n *Node) handleKemResponse(env *vsf.Envelope) {
	parsed, err := clutch.ParseKemResponse(env)
	if err != nil {
		log.Printf("core: parsing ClutchKemResponse: %v", err)
		return
	}
	c, ok := n.contactByToken(parsed.ConversationToken)
	if !ok {
		return
	}
	if err := c.Ceremony.ReceiveKemResponse(parsed.Ciphertexts, parsed.CeremonyID, parsed.TargetHQC); err != nil {
		log.Printf("core: ClutchKemResponse from %s rejected: %v", c.Handle, err)
		return
	}
	n.persistCeremony(c)
	n.maybeExpand(c)
}

func (n *Node) handleClutchComplete(env *vsf.Envelope) {
	parsed, err := clutch.ParseComplete(env)
	if err != nil {
		log.Printf("core: parsing ClutchComplete: %v", err)
		return
	}
	c, ok := n.contactByToken(parsed.ConversationToken)
	if !ok {
		return
	}
	if err := c.Ceremony.ReceivePeerProof(parsed.EggsProof); err != nil {
		log.Printf("core: ‼️ CLUTCH proof mismatch with %s, ceremony aborted: %v", c.Handle, err)
		n.persistCeremony(c)
		return
	}
	if c.Ceremony.State == clutch.Complete {
		c.Trust = Attested
		n.persistCeremony(c)
		if c.Chains != nil {
			if err := n.persistChains(c.Chains); err != nil {
				log.Printf("core: persisting chains for %s: %v", c.Handle, err)
			}
		}
		log.Printf("core: ✅ ceremony with %s complete", c.Handle)
	}
}

// SendMessage encrypts text for peer and queues it for delivery. Returns
// an error if no completed
// ceremony has established a chain yet.
func (n *Node) SendMessage(c *Contact, text string) error {
	if c.Chains == nil {
		return fmt.Errorf("core: no established chain with %s yet", c.Handle)
	}
	now := eagletime.Now()
	ciphertext, err := c.Chains.Encrypt(c.HandleHash, text, now)
	if err != nil {
		return fmt.Errorf("core: encrypting message to %s: %w", c.Handle, err)
	}
	pending := c.Chains.Pending[len(c.Chains.Pending)-1]

	// The disk write is the commit; the send is a notification.
	if err := n.persistChains(c.Chains); err != nil {
		return fmt.Errorf("core: persisting chain state before send: %w", err)
	}

	raw := chain.EncodeChatMessage(n.Device.Private, c.Ceremony.ConversationToken, pending.PrevMsgHP, ciphertext, now)
	n.queueSend(c, raw)

	if n.history != nil {
		if _, err := n.history.Append(persistence.StoredMessage{
			ConversationToken: c.Ceremony.ConversationToken,
			SenderHandleHash:  n.HandleHash,
			Text:              text,
			EagleTime:         now,
			IsOutgoing:        true,
			Status:            persistence.StatusSending,
		}); err != nil {
			log.Printf("core: recording outgoing message history: %v", err)
		}
	}
	return nil
}

func (n *Node) handleChatMessage(parsed chain.ParsedChatMessage) {
	c, ok := n.contactByToken(parsed.ConversationToken)
	if !ok || c.Chains == nil {
		return
	}
	result, err := c.Chains.Decrypt(c.HandleHash, parsed.PrevMsgHP, parsed.Ciphertext, parsed.CreationTime)
	if err != nil {
		// Duplicates and gaps are absorbed without an ACK;
		// the peer retransmits or learns our state from the next pong.
		log.Printf("core: ChatMessage from %s not processed: %v", c.Handle, err)
		return
	}

	n.lastReceivedMu.Lock()
	n.lastReceived[parsed.ConversationToken] = parsed.CreationTime
	n.lastReceivedMu.Unlock()

	if n.history != nil {
		if _, err := n.history.Append(persistence.StoredMessage{
			ConversationToken: parsed.ConversationToken,
			SenderHandleHash:  c.HandleHash,
			Text:              result.Text,
			EagleTime:         parsed.CreationTime,
			IsOutgoing:        false,
			Status:            persistence.StatusDelivered,
		}); err != nil {
			log.Printf("core: recording incoming message history: %v", err)
		}
	}

	// Persist, then ACK.
	if err := n.persistChains(c.Chains); err != nil {
		log.Printf("core: persisting chain state for %s, withholding ACK: %v", c.Handle, err)
		return
	}
	ack := chain.EncodeAck(n.Device.Private, parsed.ConversationToken, parsed.CreationTime, result.PlaintextHash, eagletime.Now())
	n.queueSend(c, ack)
}

func (n *Node) handleMessageAck(parsed chain.ParsedAck) {
	c, ok := n.contactByToken(parsed.ConversationToken)
	if !ok || c.Chains == nil {
		return
	}
	if err := c.Chains.HandleAck(c.HandleHash, parsed.AckedEagleTime, parsed.PlaintextHash); err != nil {
		log.Printf("core: applying MessageAck from %s: %v", c.Handle, err)
		return
	}
	if err := n.persistChains(c.Chains); err != nil {
		log.Printf("core: persisting chain state after ACK from %s: %v", c.Handle, err)
	}

	// First ACK over a fresh ceremony: both sides are provably on the new
	// key material, so the ephemeral keypairs and pending-ceremony files
	// can go.
	if !c.FirstAckSeen {
		c.FirstAckSeen = true
		c.Ceremony.Cleanup()
		n.cleanupCeremonyFiles(c)
	}

	if n.history != nil {
		if err := n.history.MarkDelivered(parsed.ConversationToken, parsed.AckedEagleTime); err != nil {
			log.Printf("core: marking message delivered: %v", err)
		}
	}
}

// RunUIThread is the single event loop owning every contact, ceremony, and
// chain: it consumes background-worker results
// and network-thread events, applying each serially so nothing here needs
// its own lock. A status ticker doubles as the liveness prober: every tick
// it pings each contact and demotes those whose pongs have stopped.
func (n *Node) RunUIThread(ctx context.Context) error {
	ticker := time.NewTicker(statusPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case wr := <-n.work:
			n.applyWorkResult(wr)
		case ev := <-n.inbound:
			n.handleInbound(ev)
		case req := <-n.poll:
			req.reply <- n.buildSnapshot()
		case <-ticker.C:
			n.statusTick()
		}
	}
}
