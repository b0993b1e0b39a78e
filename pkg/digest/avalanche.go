package digest

import "math/big"

// AvalancheExpand fills a size-byte buffer from a seed using the same
// two-phase construction as HandleProof's inner round (sequential fill,
// then data-dependent reads) but without the 17-round time-hardness loop:
// CLUTCH's chain derivation and CHAIN's per-message scratch pad both need
// this to run inline, not take a full second.
//
// size must be a multiple of 32 and at least 64 bytes.
func AvalancheExpand(seed []byte, size int) []byte {
	if size%handleProofChunk != 0 || size < 2*handleProofChunk {
		panic("digest: AvalancheExpand size must be a multiple of 32, at least 64")
	}

	buf := make([]byte, size)
	seedHash := BLAKE3(seed)
	hashNum := new(big.Int).SetBytes(seedHash[:])

	fillSize := (size / 2 / handleProofChunk) * handleProofChunk
	if fillSize == 0 {
		fillSize = handleProofChunk
	}

	copy(buf[:handleProofChunk], seedHash[:])
	for i := 1; i < fillSize/handleProofChunk; i++ {
		prevStart := (i - 1) * handleProofChunk
		currStart := i * handleProofChunk

		prevHash := BLAKE3(buf[prevStart : prevStart+handleProofChunk])
		val := new(big.Int).SetBytes(prevHash[:])
		val.Add(val, hashNum)
		val.Add(val, big.NewInt(int64(i)))
		putBigIntBytes(buf[currStart:currStart+handleProofChunk], val)
	}

	currStart := fillSize
	for currStart+handleProofChunk <= size {
		prevNum := new(big.Int).SetBytes(buf[currStart-handleProofChunk : currStart])
		readRange := big.NewInt(int64(currStart - handleProofChunk))
		if readRange.Sign() == 0 {
			readRange = big.NewInt(1)
		}
		readIdx := int(new(big.Int).Mod(prevNum, readRange).Int64())

		prevHash := BLAKE3(buf[readIdx : readIdx+handleProofChunk])
		val := new(big.Int).SetBytes(prevHash[:])
		val.Add(val, hashNum)
		val.Add(val, big.NewInt(int64(currStart)))
		putBigIntBytes(buf[currStart:currStart+handleProofChunk], val)
		currStart += handleProofChunk
	}

	return buf
}

// Row extracts the 32-byte row at the given index from an expanded
// buffer, used to pick a chain's "current key" row out of a 16 KiB chain
// buffer.
func Row(buf []byte, index int) [Size]byte {
	var out [Size]byte
	copy(out[:], buf[index*Size:(index+1)*Size])
	return out
}
