// Package chain implements CHAIN: the per-conversation symmetric ratchet
// keyed from CLUTCH's eggs, its three-layer message cipher, and the
// hash-chain pointer used for ordering, gap detection, and ACK-driven
// advancement.
package chain

import (
	"fmt"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
)

// scratchPadSize is the per-message memory-hard scratch pad size.
const scratchPadSize = 2 * 1024 * 1024

const (
	layerInner1 byte = 1
	layerInner2 byte = 2
	layerOuter  byte = 3
)

// layerKey derives a per-layer key by XORing the layer tag into the
// current chain key and rehashing, so each of the three layers is keyed
// independently even though all three derive from one 32-byte current key.
func layerKey(currentKey [digest.Size]byte, tag byte) [digest.Size]byte {
	tagged := currentKey
	tagged[0] ^= tag
	return digest.BLAKE3(tagged[:], []byte{tag})
}

func layerNonce(eagle eagletime.Time, layer byte) [chacha20.NonceSizeX]byte {
	t := eagle.Bytes()
	h := digest.BLAKE3(t[:], []byte{layer})
	var nonce [chacha20.NonceSizeX]byte
	copy(nonce[:], h[:])
	return nonce
}

// scratchPad expands (key, salt) into the 2 MiB memory-hard pad CHAIN
// mixes into every layer.
func scratchPad(currentKey, salt [digest.Size]byte) []byte {
	seed := digest.BLAKE3(currentKey[:], salt[:])
	return digest.AvalancheExpand(seed[:], scratchPadSize)
}

// scratchRegion extracts n bytes for the given layer from the shared
// scratch pad, starting at the layer's partition offset; if n runs past
// the partition it continues into the following bytes, wrapping only at
// the end of the whole pad.
func scratchRegion(pad []byte, layer byte, n int) []byte {
	partition := len(pad) / 3
	offset := int(layer-1) * partition
	out := make([]byte, n)
	for i := range out {
		out[i] = pad[(offset+i)%len(pad)]
	}
	return out
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}

func streamLayer(currentKey [digest.Size]byte, layer byte, eagle eagletime.Time, pad []byte, data []byte) error {
	key := layerKey(currentKey, layer)
	nonce := layerNonce(eagle, layer)
	s, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return fmt.Errorf("chain: layer %d stream cipher: %w", layer, err)
	}
	s.XORKeyStream(data, data)
	xorInto(data, scratchRegion(pad, layer, len(data)))
	return nil
}

// EncryptLayers runs the three-layer construction: two inner
// stream-cipher-plus-scratch-pad layers, then an
// outer authenticated layer. plaintext is the encoded message field
// bytes (see field.go); the result is ready for the wire.
func EncryptLayers(currentKey [digest.Size]byte, salt [digest.Size]byte, eagle eagletime.Time, plaintext []byte) ([]byte, error) {
	pad := scratchPad(currentKey, salt)

	buf := append([]byte(nil), plaintext...)
	if err := streamLayer(currentKey, layerInner1, eagle, pad, buf); err != nil {
		return nil, err
	}
	if err := streamLayer(currentKey, layerInner2, eagle, pad, buf); err != nil {
		return nil, err
	}

	outerKey := layerKey(currentKey, layerOuter)
	aead, err := chacha20poly1305.NewX(outerKey[:])
	if err != nil {
		return nil, fmt.Errorf("chain: outer AEAD init: %w", err)
	}
	nonce := layerNonce(eagle, layerOuter)
	ciphertext := aead.Seal(nil, nonce[:chacha20poly1305.NonceSizeX], buf, nil)
	return ciphertext, nil
}

// DecryptLayers is the exact inverse of EncryptLayers.
func DecryptLayers(currentKey [digest.Size]byte, salt [digest.Size]byte, eagle eagletime.Time, ciphertext []byte) ([]byte, error) {
	pad := scratchPad(currentKey, salt)

	outerKey := layerKey(currentKey, layerOuter)
	aead, err := chacha20poly1305.NewX(outerKey[:])
	if err != nil {
		return nil, fmt.Errorf("chain: outer AEAD init: %w", err)
	}
	nonce := layerNonce(eagle, layerOuter)
	buf, err := aead.Open(nil, nonce[:chacha20poly1305.NonceSizeX], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: outer layer authentication failed: %w", err)
	}

	if err := streamLayer(currentKey, layerInner2, eagle, pad, buf); err != nil {
		return nil, err
	}
	if err := streamLayer(currentKey, layerInner1, eagle, pad, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
