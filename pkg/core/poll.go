package core

import (
	"context"
	"encoding/hex"

	"github.com/nickspiker/photon/pkg/eagletime"
)

// ContactSummary is the UI-visible slice of one contact's state, safe to
// hand across threads by value.
type ContactSummary struct {
	Handle            string
	HandleHash        string
	ConversationToken string
	Trust             string
	CeremonyState     string
	Online            bool
	LastSeen          eagletime.Time
	PendingCount      int
	HasChains         bool
}

// NodeSnapshot is one coherent poll of the node's state, assembled on the
// UI thread so no observer ever sees a contact mid-mutation.
type NodeSnapshot struct {
	Handle   string
	Contacts []ContactSummary
}

type pollRequest struct {
	reply chan NodeSnapshot
}

// PollSnapshot requests a state snapshot from the UI thread, blocking
// until the UI loop services it or ctx ends.
func (n *Node) PollSnapshot(ctx context.Context) (NodeSnapshot, error) {
	req := pollRequest{reply: make(chan NodeSnapshot, 1)}
	select {
	case n.poll <- req:
	case <-ctx.Done():
		return NodeSnapshot{}, ctx.Err()
	}
	select {
	case snap := <-req.reply:
		return snap, nil
	case <-ctx.Done():
		return NodeSnapshot{}, ctx.Err()
	}
}

// buildSnapshot runs on the UI thread.
func (n *Node) buildSnapshot() NodeSnapshot {
	snap := NodeSnapshot{Handle: n.Handle}
	for _, c := range n.contacts.All() {
		cs := ContactSummary{
			Handle:            c.Handle,
			HandleHash:        hex.EncodeToString(c.HandleHash[:]),
			ConversationToken: hex.EncodeToString(c.Ceremony.ConversationToken[:]),
			Trust:             c.Trust.String(),
			CeremonyState:     c.Ceremony.State.String(),
			Online:            c.Online,
			LastSeen:          c.LastSeen,
			HasChains:         c.Chains != nil,
		}
		if c.Chains != nil {
			cs.PendingCount = len(c.Chains.Pending)
		}
		snap.Contacts = append(snap.Contacts, cs)
	}
	return snap
}
