package core

import (
	"crypto/ed25519"
	"net"

	"github.com/nickspiker/photon/pkg/clutch"
	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/pt"
)

// OutboundKind tags a control message the UI thread hands to the network
// thread.
type OutboundKind int

const (
	OutboundSend OutboundKind = iota
	OutboundBroadcastDiscovery
	OutboundClearPending
)

// OutboundRequest is one entry on the UI-thread-to-network-thread queue.
type OutboundRequest struct {
	Kind       OutboundKind
	Endpoint   pt.Endpoint
	Payload    []byte // a full VSF-encoded envelope, ready for PT to chunk
	TransferID uint64
}

// InboundKind tags a parsed, verified event the network thread hands back
// to the UI thread.
type InboundKind int

const (
	InboundPayload InboundKind = iota
	InboundPing
	InboundPong
	InboundOnlineChange
	InboundTransferOutcome
	InboundLanDisc
)

// InboundEvent is one entry on the network-thread-to-UI-thread queue.
type InboundEvent struct {
	Kind InboundKind

	// Valid when Kind == InboundPayload: a fully reassembled PT transfer,
	// already VSF-parsed and signature-verified, ready for the UI thread
	// to route by section name to a ceremony/chain handler.
	SectionName string
	Sender      ed25519.PublicKey
	Raw         []byte

	Ping StatusPing
	Pong StatusPong

	PeerHandleHash [digest.Size]byte
	Online         bool

	TransferID uint64
	Success    bool
	Source     net.Addr

	Disc pt.Disc
}

// WorkKind tags which of CLUTCH's three deferred stages a background
// worker result belongs to.
type WorkKind int

const (
	WorkKeygen WorkKind = iota
	WorkEncapsulate
	WorkExpand
)

// WorkResult is what a background worker posts back to the UI thread on
// completion, waking it via the result queue.
type WorkResult struct {
	Kind           WorkKind
	PeerHandleHash [digest.Size]byte
	Err            error

	Offer       clutch.Offer
	Keys        clutch.EphemeralKeys
	Ciphertexts [5][]byte
	Eggs        [8][digest.Size]byte
}

// queueDepth bounds every channel in this package, so a stalled consumer
// applies
// back-pressure instead of growing memory without limit.
const queueDepth = 256
