package digest

import "math/big"

// Handle-proof tuning constants. Fixed for interop: proofs computed
// here must match proofs computed by any other Photon
// node for the same handle.
const (
	handleProofSize  = 24_873_856 // 24 MiB scratch buffer
	handleProofChunk = 32         // BLAKE3 output size
	handleProofMin   = handleProofSize / 4
	handleProofMax   = handleProofSize * 3 / 4
	handleProofRange = handleProofMax - handleProofMin
	handleProofRounds = 17
)

// HandleProof computes the memory-hard, ~1-second proof-of-work over a
// handle's normalized BLAKE3 hash. The result is deterministic: the same
// hash always yields the same proof, on any machine.
func HandleProof(handleHash [Size]byte) [Size]byte {
	scratch := make([]byte, handleProofSize)
	roundHash := handleHash

	for round := 0; round < handleProofRounds; round++ {
		hashNum := new(big.Int).SetBytes(roundHash[:])
		hashNum.Add(hashNum, big.NewInt(int64(round)))

		fillRange := big.NewInt(int64(handleProofRange))
		mod := new(big.Int).Mod(hashNum, fillRange)
		fillSizeRaw := handleProofMin + int(mod.Int64())
		fillSize := (fillSizeRaw / handleProofChunk) * handleProofChunk

		// Phase 1: sequential hash chain; each chunk depends on the
		// previous one, so this phase cannot be parallelized or seeked.
		copy(scratch[:handleProofChunk], roundHash[:])
		for i := 1; i < fillSize/handleProofChunk; i++ {
			prevStart := (i - 1) * handleProofChunk
			currStart := i * handleProofChunk

			prevHash := BLAKE3(scratch[prevStart : prevStart+handleProofChunk])
			val := new(big.Int).SetBytes(prevHash[:])
			val.Add(val, hashNum)
			val.Add(val, big.NewInt(int64(i)))

			putBigIntBytes(scratch[currStart:currStart+handleProofChunk], val)
		}

		// Phase 2: data-dependent reads; the read offset depends on the
		// previous chunk's value, which is cache-hostile and resists
		// table-based precomputation.
		currStart := fillSize
		for currStart+handleProofChunk <= handleProofSize {
			prevNum := new(big.Int).SetBytes(scratch[currStart-handleProofChunk : currStart])
			readRange := big.NewInt(int64(currStart - handleProofChunk))
			if readRange.Sign() == 0 {
				readRange = big.NewInt(1)
			}
			readIdx := int(new(big.Int).Mod(prevNum, readRange).Int64())

			prevHash := BLAKE3(scratch[readIdx : readIdx+handleProofChunk])
			val := new(big.Int).SetBytes(prevHash[:])
			val.Add(val, hashNum)
			val.Add(val, big.NewInt(int64(currStart)))

			putBigIntBytes(scratch[currStart:currStart+handleProofChunk], val)
			currStart += handleProofChunk
		}

		roundHash = BLAKE3(scratch)
	}

	return roundHash
}

// putBigIntBytes writes v's big-endian representation into dst, which
// must be exactly handleProofChunk (32) bytes, wrapping modulo 2^256 the
// way the reference implementation's wrapping_add does.
func putBigIntBytes(dst []byte, v *big.Int) {
	mod := new(big.Int).Lsh(big.NewInt(1), 256)
	v = new(big.Int).Mod(v, mod)
	b := v.Bytes()
	for i := range dst {
		dst[i] = 0
	}
	copy(dst[len(dst)-len(b):], b)
}
