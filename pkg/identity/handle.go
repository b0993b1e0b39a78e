package identity

import (
	"golang.org/x/text/unicode/norm"

	"github.com/nickspiker/photon/pkg/digest"
)

// NormalizeHandle produces the canonical byte form of a free-form user
// handle: Unicode NFC normalization (so "é" typed as one codepoint or as
// "e" + combining acute hash identically) followed by an "x" text tag, an
// 8-byte big-endian length, and the UTF-8 bytes. pkg/vsf's own fields use
// uvarint lengths and carry no such tag.
func NormalizeHandle(handle string) []byte {
	nfc := norm.NFC.String(handle)
	raw := []byte(nfc)

	out := make([]byte, 0, 9+len(raw))
	var lenBytes [8]byte
	n := uint64(len(raw))
	for i := 0; i < 8; i++ {
		lenBytes[i] = byte(n >> (56 - 8*i))
	}
	out = append(out, 'x')
	out = append(out, lenBytes[:]...)
	out = append(out, raw...)
	return out
}

// HandleHash is the private, never-transmitted derivation of a handle:
// BLAKE3(normalize(handle)). It seeds conversation-token derivation and is
// usable only between participants who already know the handle.
func HandleHash(handle string) [digest.Size]byte {
	return digest.BLAKE3(NormalizeHandle(handle))
}

// HandleProof is the public, memory-hard proof derived from a handle
// hash. It is the rendezvous lookup key: deterministic (same handle
// always yields the same proof) and expensive enough (~1s, ~24MiB) that
// bulk registration is uneconomic.
func HandleProof(handle string) [digest.Size]byte {
	return digest.HandleProof(HandleHash(handle))
}
