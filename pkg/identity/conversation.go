package identity

import (
	"bytes"
	"sort"

	"github.com/nickspiker/photon/pkg/digest"
)

const (
	conversationDomain digest.SmearDomain = "PHOTON_CONVERSATION_v1"
	friendshipDomain                      = "PHOTON_FRIENDSHIP_v1"
)

func sortedHashes(handleHashes [][digest.Size]byte) [][digest.Size]byte {
	out := append([][digest.Size]byte(nil), handleHashes...)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// ConversationToken is the privacy-preserving identifier for a set of
// participants: smear_hash(sort(handle_hashes)). Network observers see
// only this 32-byte opaque value; only participants who already know
// every handle in the set can compute it.
func ConversationToken(handleHashes ...[digest.Size]byte) [digest.Size]byte {
	sorted := sortedHashes(handleHashes)
	parts := make([][]byte, len(sorted))
	for i := range sorted {
		parts[i] = sorted[i][:]
	}
	return digest.Smear(conversationDomain, parts...)
}

// FriendshipID is the deterministic conversation identifier
// BLAKE3("PHOTON_FRIENDSHIP_v1" || sort(handle_hashes)). Unlike
// ConversationToken it is a plain BLAKE3 hash, not a smear combination
// it identifies local on-disk state (friendships/{id}/), not a wire value
// that needs independent-family redundancy.
func FriendshipID(handleHashes ...[digest.Size]byte) [digest.Size]byte {
	sorted := sortedHashes(handleHashes)
	data := make([]byte, 0, len(friendshipDomain)+digest.Size*len(sorted))
	data = append(data, []byte(friendshipDomain)...)
	for _, h := range sorted {
		data = append(data, h[:]...)
	}
	return digest.BLAKE3(data)
}
