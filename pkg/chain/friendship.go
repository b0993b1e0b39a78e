package chain

import (
	"errors"
	"fmt"
	"time"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
)

// MaxPendingPerFriendship bounds outstanding unacknowledged messages per
// friendship.
const MaxPendingPerFriendship = 256

var (
	ErrUnknownParticipant = errors.New("chain: unknown participant")
	ErrDuplicate          = errors.New("chain: duplicate message")
	ErrGap                = errors.New("chain: hash-chain gap, buffered")
	ErrPendingFull         = errors.New("chain: too many unacknowledged messages")
	ErrNoMatchingPending   = errors.New("chain: no pending message matches this ack")
	ErrParseFailed         = errors.New("chain: message field parse failed")
)

// PendingMessage is an outbound message awaiting ACK.
type PendingMessage struct {
	Peer          [digest.Size]byte
	EagleTime     eagletime.Time
	Plaintext     []byte
	PlaintextHash [digest.Size]byte
	PrevMsgHP     [digest.Size]byte
	MsgHP         [digest.Size]byte
	Ciphertext    []byte
}

// bufferedMessage is an out-of-order inbound message waiting for its
// predecessor to arrive.
type bufferedMessage struct {
	PrevMsgHP  [digest.Size]byte
	EagleTime  eagletime.Time
	Ciphertext []byte
}

// participantState is one remote participant's ratchet bookkeeping: the
// mirror of their chain plus what we last received from them.
type participantState struct {
	Chain                  Chain
	LastReceivedPlaintext  []byte
	LastReceivedHash       [digest.Size]byte
	LastReceivedTime       eagletime.Time
	HasReceived            bool
}

// anchor is the deterministic zero-state hash-chain pointer used before
// any message has been exchanged with a given participant.
func anchor(participantHash [digest.Size]byte) [digest.Size]byte {
	return digest.BLAKE3([]byte("PHOTON_CHAIN_ANCHOR_v1"), participantHash[:])
}

// FriendshipChains is the full per-conversation ratchet state: our own
// chain plus a mirror of every other participant's chain, hash-chain
// bookkeeping, pending sends, and the gap buffer.
type FriendshipChains struct {
	FriendshipID      [digest.Size]byte
	ConversationToken [digest.Size]byte
	Self              [digest.Size]byte

	ownChain Chain
	others   map[[digest.Size]byte]*participantState

	LastSentHash      [digest.Size]byte
	LastSentPlaintext []byte

	Pending   []PendingMessage
	GapBuffer map[[digest.Size]byte][]bufferedMessage
}

// FromClutch derives one chain per participant from the ceremony's
// eggs.
func FromClutch(friendshipID, conversationToken, self [digest.Size]byte, eggs [8][digest.Size]byte, peers ...[digest.Size]byte) *FriendshipChains {
	fc := &FriendshipChains{
		FriendshipID:      friendshipID,
		ConversationToken: conversationToken,
		Self:              self,
		ownChain:          NewChainFromEggs(eggs, self),
		others:            make(map[[digest.Size]byte]*participantState, len(peers)),
		GapBuffer:         make(map[[digest.Size]byte][]bufferedMessage),
	}
	for _, p := range peers {
		fc.others[p] = &participantState{Chain: NewChainFromEggs(eggs, p)}
	}
	return fc
}

func (fc *FriendshipChains) peerState(peer [digest.Size]byte) (*participantState, error) {
	ps, ok := fc.others[peer]
	if !ok {
		return nil, fmt.Errorf("%w: %x", ErrUnknownParticipant, peer)
	}
	return ps, nil
}

// Encrypt builds and encrypts a message field addressed to peer,
// recording it as pending until its ACK arrives.
func (fc *FriendshipChains) Encrypt(peer [digest.Size]byte, text string, now eagletime.Time) (ciphertext []byte, err error) {
	if len(fc.Pending) >= MaxPendingPerFriendship {
		return nil, ErrPendingFull
	}
	ps, err := fc.peerState(peer)
	if err != nil {
		return nil, err
	}

	incorporated := anchor(peer)
	if ps.HasReceived {
		incorporated = ps.LastReceivedHash
	}

	fieldBytes, err := EncodeMessageField(text, incorporated)
	if err != nil {
		return nil, err
	}

	salt := DeriveSalt(fc.LastSentPlaintext, &fc.ownChain)
	currentKey := fc.ownChain.CurrentKey()
	ciphertext, err = EncryptLayers(currentKey, salt, now, fieldBytes)
	if err != nil {
		return nil, fmt.Errorf("chain: encrypting message: %w", err)
	}

	plaintextHash := digest.BLAKE3(fieldBytes)
	prevHP := fc.LastSentHash
	if prevHP == ([digest.Size]byte{}) {
		prevHP = anchor(fc.Self)
	}
	msgHP := DeriveMsgHP(prevHP, plaintextHash, now)

	fc.Pending = append(fc.Pending, PendingMessage{
		Peer:          peer,
		EagleTime:     now,
		Plaintext:     fieldBytes,
		PlaintextHash: plaintextHash,
		PrevMsgHP:     prevHP,
		MsgHP:         msgHP,
		Ciphertext:    ciphertext,
	})
	fc.LastSentHash = msgHP
	fc.LastSentPlaintext = fieldBytes

	return ciphertext, nil
}

// DecryptResult is what Decrypt recovers from a successfully processed
// ChatMessage.
type DecryptResult struct {
	Text          string
	PlaintextHash [digest.Size]byte
}

// Decrypt processes an inbound ChatMessage from peer. On ErrDuplicate or
// ErrGap, callers must not
// ACK; on success, callers persist chain state and then ACK.
func (fc *FriendshipChains) Decrypt(peer [digest.Size]byte, prevMsgHP [digest.Size]byte, ciphertext []byte, eagle eagletime.Time) (DecryptResult, error) {
	ps, err := fc.peerState(peer)
	if err != nil {
		return DecryptResult{}, err
	}

	if ps.HasReceived && eagle <= ps.LastReceivedTime {
		return DecryptResult{}, ErrDuplicate
	}

	expected := anchor(peer)
	if ps.HasReceived {
		expected = ps.LastReceivedHash
	}
	if prevMsgHP != expected {
		fc.bufferGap(peer, prevMsgHP, ciphertext, eagle)
		return DecryptResult{}, ErrGap
	}

	salt := DeriveSalt(ps.LastReceivedPlaintext, &ps.Chain)
	currentKey := ps.Chain.CurrentKey()
	fieldBytes, err := DecryptLayers(currentKey, salt, eagle, ciphertext)
	if err != nil {
		return DecryptResult{}, fmt.Errorf("chain: decrypting message: %w", err)
	}

	field, err := ParseMessageField(fieldBytes)
	if err != nil {
		return DecryptResult{}, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	plaintextHash := digest.BLAKE3(fieldBytes)
	msgHP := DeriveMsgHP(prevMsgHP, plaintextHash, eagle)

	weaveWith := fc.LastSentPlaintext
	for _, pm := range fc.Pending {
		if pm.MsgHP == field.IncorporatedHP {
			weaveWith = pm.Plaintext
			break
		}
	}
	ps.Chain.Advance(Weave(fieldBytes, weaveWith), eagle, salt)

	ps.LastReceivedPlaintext = fieldBytes
	ps.LastReceivedHash = msgHP
	ps.LastReceivedTime = eagle
	ps.HasReceived = true

	fc.flushGap(peer)

	return DecryptResult{Text: field.Text, PlaintextHash: plaintextHash}, nil
}

func (fc *FriendshipChains) bufferGap(peer [digest.Size]byte, prevMsgHP [digest.Size]byte, ciphertext []byte, eagle eagletime.Time) {
	fc.GapBuffer[peer] = append(fc.GapBuffer[peer], bufferedMessage{PrevMsgHP: prevMsgHP, EagleTime: eagle, Ciphertext: ciphertext})
}

// flushGap re-attempts any buffered messages from peer whose predecessor
// has now arrived, in hash-chain order: each step takes the buffered
// message whose prev_msg_hp matches the pointer expected next.
func (fc *FriendshipChains) flushGap(peer [digest.Size]byte) {
	for {
		bucket := fc.GapBuffer[peer]
		if len(bucket) == 0 {
			return
		}
		ps := fc.others[peer]
		expected := anchor(peer)
		if ps.HasReceived {
			expected = ps.LastReceivedHash
		}

		progressed := false
		for i, bm := range bucket {
			if bm.PrevMsgHP != expected {
				continue
			}
			fc.GapBuffer[peer] = append(append([]bufferedMessage(nil), bucket[:i]...), bucket[i+1:]...)
			if _, err := fc.Decrypt(peer, bm.PrevMsgHP, bm.Ciphertext, bm.EagleTime); err != nil {
				return
			}
			progressed = true
			break
		}
		if !progressed {
			return
		}
	}
}

// HandleAck applies an inbound MessageAck. It matches by eagle-time
// within 1ms and exact plaintext
// hash, removes the pending entry, and advances our own chain once.
func (fc *FriendshipChains) HandleAck(peer [digest.Size]byte, ackedEagleTime eagletime.Time, plaintextHash [digest.Size]byte) error {
	idx := -1
	for i, pm := range fc.Pending {
		if pm.Peer != peer {
			continue
		}
		delta := pm.EagleTime.Sub(ackedEagleTime)
		if delta < 0 {
			delta = -delta
		}
		if delta < time.Millisecond && pm.PlaintextHash == plaintextHash {
			idx = i
			break
		}
	}
	if idx == -1 {
		return ErrNoMatchingPending
	}

	acked := fc.Pending[idx]
	fc.Pending = append(fc.Pending[:idx], fc.Pending[idx+1:]...)

	ps, err := fc.peerState(peer)
	if err != nil {
		return err
	}
	peerPlaintext := ps.LastReceivedPlaintext

	salt := DeriveSalt(acked.Plaintext, &fc.ownChain)
	fc.ownChain.Advance(Weave(acked.Plaintext, peerPlaintext), acked.EagleTime, salt)
	return nil
}

// PendingFor reports the pending messages addressed to peer, used by
// retransmit-on-reconnect.
func (fc *FriendshipChains) PendingFor(peer [digest.Size]byte, after eagletime.Time, haveSyncRecord bool) []PendingMessage {
	var out []PendingMessage
	for _, pm := range fc.Pending {
		if pm.Peer != peer {
			continue
		}
		if !haveSyncRecord || pm.EagleTime > after {
			out = append(out, pm)
		}
	}
	return out
}
