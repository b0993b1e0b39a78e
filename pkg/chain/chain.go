package chain

import (
	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
)

// chainRows/chainBytes describe the 512x32-byte key ladder (16 KiB total).
const (
	chainRows       = 512
	chainBytes      = chainRows * digest.Size
	currentKeyRow   = 0
)

// Chain is one participant's 16 KiB key-ladder buffer. Its "current key"
// is always row 0; Advance replaces that row in place, so the rest of
// the buffer is expansion entropy the current key derivation can still
// draw on indirectly via the seed, not a rotating cursor.
type Chain struct {
	Buffer [chainBytes]byte
}

// NewChainFromEggs fills one participant's chain via the memory-hard
// avalanche expansion seeded with the ceremony's eggs and that
// participant's handle-hash.
func NewChainFromEggs(eggs [8][digest.Size]byte, participantHandleHash [digest.Size]byte) Chain {
	seedParts := make([]byte, 0, 8*digest.Size+digest.Size)
	for _, e := range eggs {
		seedParts = append(seedParts, e[:]...)
	}
	seedParts = append(seedParts, participantHandleHash[:]...)
	seed := digest.BLAKE3(seedParts)

	expanded := digest.AvalancheExpand(seed[:], chainBytes)
	var c Chain
	copy(c.Buffer[:], expanded)
	return c
}

// CurrentKey returns the chain's designated current-key row.
func (c *Chain) CurrentKey() [digest.Size]byte {
	return digest.Row(c.Buffer[:], currentKeyRow)
}

// Advance replaces the current-key row with a function of the current
// key, the bidirectional weave, eagle-time, and a salt. weave mixes both
// what we sent and what the
// peer sent, so guessing one side's plaintext never predicts the new key.
func (c *Chain) Advance(weave []byte, eagle eagletime.Time, salt [digest.Size]byte) {
	cur := c.CurrentKey()
	t := eagle.Bytes()
	next := digest.BLAKE3(cur[:], weave, t[:], salt[:])
	copy(c.Buffer[currentKeyRow*digest.Size:(currentKeyRow+1)*digest.Size], next[:])
}

// Weave combines our most recently sent plaintext and the peer's most
// recently received plaintext into the single byte string Advance mixes
// in, so neither side's plaintext alone predicts the next chain state.
func Weave(ourPlaintext, peerPlaintext []byte) []byte {
	h := digest.BLAKE3(ourPlaintext, peerPlaintext)
	return h[:]
}

// DeriveSalt computes the per-message salt from the sender's previously
// sent plaintext and their chain buffer. An empty
// previous plaintext is legal for a conversation's first message.
func DeriveSalt(previousPlaintext []byte, c *Chain) [digest.Size]byte {
	return digest.BLAKE3(previousPlaintext, c.Buffer[:])
}

// DeriveMsgHP computes the hash-chain pointer linking a message to its
// predecessor: a function of the previous pointer, this message's
// plaintext hash, and its eagle-time.
func DeriveMsgHP(prevMsgHP, plaintextHash [digest.Size]byte, eagle eagletime.Time) [digest.Size]byte {
	t := eagle.Bytes()
	return digest.BLAKE3(prevMsgHP[:], plaintextHash[:], t[:])
}
