package core

import (
	"bytes"
	"encoding/base64"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"log"

	"github.com/nickspiker/photon/pkg/chain"
	"github.com/nickspiker/photon/pkg/clutch"
	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/identity"
	"github.com/nickspiker/photon/pkg/persistence"
	"github.com/nickspiker/photon/pkg/pt"
)

// contactID8 is the short per-contact directory name under contacts/:
// the first eight hex characters of the contact's handle hash.
func contactID8(c *Contact) string {
	return hex.EncodeToString(c.HandleHash[:4])
}

func friendshipDir(fc *chain.FriendshipChains) string {
	return base64.RawURLEncoding.EncodeToString(fc.FriendshipID[:])
}

// persistChains writes a friendship's full ratchet state through to the
// vault. Spec.md §5's commit rule: this must succeed-or-be-retried BEFORE
// any ACK authorized by the new state goes out, so callers invoke it
// between the chain mutation and the queueSend of the ACK. A failed write
// is logged and the in-memory state retained; the ACK is withheld so no
// peer believes we hold state we don't.
func (n *Node) persistChains(fc *chain.FriendshipChains) error {
	if n.vault == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(fc.Snapshot()); err != nil {
		return fmt.Errorf("core: encoding chain snapshot: %w", err)
	}
	path := persistence.FriendshipChainsPath(friendshipDir(fc))
	if err := n.vault.Put(path, buf.Bytes()); err != nil {
		return err
	}
	return nil
}

// ceremonySnapshot is the gob shape of a pending ceremony's two vault
// files: clutch_keypairs (ephemeral private halves, deleted at first ACK)
// and clutch_slots (offer, provenances, ceremony id, partial secrets).
type ceremonySnapshot struct {
	State           clutch.State
	LocalOffer      *clutch.Offer
	Peer            clutch.PartySlot
	LocalProvenance [digest.Size]byte
	PeerProvenance  [digest.Size]byte
	CeremonyID      [digest.Size]byte
	Eggs            [8][digest.Size]byte
	EggsProof       [digest.Size]byte
	KemResponseSent bool
}

// persistCeremony writes a contact's in-flight ceremony state. Best-effort: a
// failure is logged and retried at the next state change.
func (n *Node) persistCeremony(c *Contact) {
	if n.vault == nil {
		return
	}
	id8 := contactID8(c)

	var keys bytes.Buffer
	if err := gob.NewEncoder(&keys).Encode(c.Ceremony.LocalKeys); err == nil {
		if err := n.vault.Put(persistence.ContactClutchKeypairsPath(id8), keys.Bytes()); err != nil {
			log.Printf("core: persisting clutch keypairs for %s: %v", c.Handle, err)
		}
	}

	snap := ceremonySnapshot{
		State:           c.Ceremony.State,
		LocalOffer:      c.Ceremony.LocalOffer,
		Peer:            c.Ceremony.Peer,
		LocalProvenance: c.Ceremony.LocalProvenance,
		PeerProvenance:  c.Ceremony.PeerProvenance,
		CeremonyID:      c.Ceremony.CeremonyID,
		Eggs:            c.Ceremony.Eggs,
		EggsProof:       c.Ceremony.EggsProof,
		KemResponseSent: c.Ceremony.KemResponseSent,
	}
	var slots bytes.Buffer
	if err := gob.NewEncoder(&slots).Encode(snap); err == nil {
		if err := n.vault.Put(persistence.ContactClutchSlotsPath(id8), slots.Bytes()); err != nil {
			log.Printf("core: persisting clutch slots for %s: %v", c.Handle, err)
		}
	}
}

// cleanupCeremonyFiles deletes a contact's pending-ceremony vault files
// once the first ACK signals both sides hold the derived chains.
func (n *Node) cleanupCeremonyFiles(c *Contact) {
	if n.vault == nil {
		return
	}
	id8 := contactID8(c)
	if err := n.vault.Delete(persistence.ContactClutchKeypairsPath(id8)); err != nil {
		log.Printf("core: deleting clutch keypairs for %s: %v", c.Handle, err)
	}
	if err := n.vault.Delete(persistence.ContactClutchSlotsPath(id8)); err != nil {
		log.Printf("core: deleting clutch slots for %s: %v", c.Handle, err)
	}
}

// RestoreFriendship loads a friendship's persisted chains back into the
// node at startup. Returns false if none is on disk.
func (n *Node) RestoreFriendship(c *Contact) (bool, error) {
	if n.vault == nil {
		return false, nil
	}
	fid := identity.FriendshipID(n.HandleHash, c.HandleHash)
	dir := base64.RawURLEncoding.EncodeToString(fid[:])
	raw, err := n.vault.Get(persistence.FriendshipChainsPath(dir))
	if errors.Is(err, persistence.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var snap chain.Snapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		return false, fmt.Errorf("core: decoding chain snapshot: %w", err)
	}
	fc := chain.FromSnapshot(snap)
	c.Chains = fc
	c.Ceremony.State = clutch.Complete

	n.friendshipsMu.Lock()
	n.friendships[fc.ConversationToken] = fc
	n.friendshipsMu.Unlock()
	return true, nil
}

// contactIndexEntry is one row of the contacts/index vault file: a
// (handle_proof, handle) pair.
type contactIndexEntry struct {
	Proof    [digest.Size]byte
	HasProof bool
	Handle   string
}

// persistContactIndex rewrites the contacts/index file from the current
// contact book.
func (n *Node) persistContactIndex() {
	if n.vault == nil {
		return
	}
	var entries []contactIndexEntry
	for _, c := range n.contacts.All() {
		entries = append(entries, contactIndexEntry{Proof: c.Proof, HasProof: c.HasProof, Handle: c.Handle})
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		log.Printf("core: encoding contact index: %v", err)
		return
	}
	if err := n.vault.Put(persistence.PathContactsIndex, buf.Bytes()); err != nil {
		log.Printf("core: persisting contact index: %v", err)
	}
}

// LoadContacts rebuilds the contact book from the persisted index,
// restoring any completed friendship's chains alongside. Network
// addressing is not persisted; callers re-learn it from the rendezvous
// directory.
func (n *Node) LoadContacts() error {
	if n.vault == nil {
		return nil
	}
	raw, err := n.vault.Get(persistence.PathContactsIndex)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	var entries []contactIndexEntry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&entries); err != nil {
		return fmt.Errorf("core: decoding contact index: %w", err)
	}
	for _, e := range entries {
		c := n.AddContact(e.Handle, pt.ContactAddressing{})
		c.Proof = e.Proof
		c.HasProof = e.HasProof
		if restored, err := n.RestoreFriendship(c); err != nil {
			log.Printf("core: restoring chains for %s: %v", c.Handle, err)
		} else if restored {
			c.Trust = Attested
			c.FirstAckSeen = true
		}
	}
	return nil
}
