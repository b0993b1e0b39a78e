package fec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeReconstructWithMissingShard(t *testing.T) {
	enc, err := NewEncoder(DefaultDataShards, DefaultParityShards)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0x5A}, 4000)
	shards, err := enc.Encode(payload)
	require.NoError(t, err)
	require.Len(t, shards, DefaultDataShards+DefaultParityShards)

	dec, err := NewDecoder(DefaultDataShards, DefaultParityShards, len(payload))
	require.NoError(t, err)

	// Drop one data shard; the parity shard should cover it.
	lossy := make([][]byte, len(shards))
	copy(lossy, shards)
	lossy[1] = nil

	reconstructed, err := dec.Reconstruct(lossy)
	require.NoError(t, err)
	require.Equal(t, payload, reconstructed)
}

func TestReconstructFailsWithTooManyMissingShards(t *testing.T) {
	enc, err := NewEncoder(DefaultDataShards, DefaultParityShards)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0x11}, 2000)
	shards, err := enc.Encode(payload)
	require.NoError(t, err)

	dec, err := NewDecoder(DefaultDataShards, DefaultParityShards, len(payload))
	require.NoError(t, err)

	lossy := make([][]byte, len(shards))
	copy(lossy, shards)
	lossy[0] = nil
	lossy[1] = nil // 2 missing, only 1 parity shard available

	_, err = dec.Reconstruct(lossy)
	require.Error(t, err)
}

func TestShouldUseThreshold(t *testing.T) {
	require.False(t, ShouldUse(Threshold))
	require.True(t, ShouldUse(Threshold+1))
}
