// Package digest implements Photon's hashing primitives: a BLAKE3 wrapper,
// the multi-family smear_hash combiner, the handle-proof memory-hard
// proof-of-work, and the avalanche_expand buffer expansion CLUTCH and
// CHAIN both build their key material from.
//
// Every mixing step here is integer XOR or a cryptographic hash; nothing
// floating
// point is folded into any digest, so results are bit-exact across
// platforms.
package digest

import (
	"crypto/sha512"

	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

// Size is the output width, in bytes, of every digest in this package.
const Size = 32

// BLAKE3 hashes data with BLAKE3-256.
func BLAKE3(data ...[]byte) [Size]byte {
	h := blake3.New(Size, nil)
	for _, d := range data {
		h.Write(d)
	}
	var out [Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SmearDomain is prefixed to every smear_hash input for domain separation.
type SmearDomain string

// Smear combines BLAKE3, SHA3-256, and truncated SHA-512 by XOR under the
// given domain tag. If any one of the three families resists
// cryptanalysis, the combined output stays secure.
func Smear(domain SmearDomain, parts ...[]byte) [Size]byte {
	input := make([]byte, 0, len(domain)+32*len(parts))
	input = append(input, domain...)
	for _, p := range parts {
		input = append(input, p...)
	}

	b3 := BLAKE3(input)

	sha3h := sha3.Sum256(input)

	sha512Full := sha512.Sum512(input)
	var sha512Trunc [Size]byte
	copy(sha512Trunc[:], sha512Full[:Size])

	var out [Size]byte
	for i := 0; i < Size; i++ {
		out[i] = b3[i] ^ sha3h[i] ^ sha512Trunc[i]
	}
	return out
}

// Equal is a constant-time-adjacent helper for proof/hash comparisons
// where timing leaks don't matter (both sides are already public 32-byte
// values exchanged on the wire) but a clear helper reads better than
// bytes.Equal at call sites that compare named digest types.
func Equal(a, b [Size]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
