package pt

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeContacts struct {
	known map[string]bool
}

func (f *fakeContacts) IsKnownContact(pubkey ed25519.PublicKey) bool {
	return f.known[string(pubkey)]
}

func TestAcceptanceGateRejectsUnknownSender(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	contacts := &fakeContacts{known: map[string]bool{}}
	_, err = Accept(Spec{TransferID: 1, TotalPackets: 1, TotalSize: 1}, pub, contacts)
	require.ErrorIs(t, err, ErrUnknownSender)
}

func TestAcceptanceGateAcceptsKnownSender(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	contacts := &fakeContacts{known: map[string]bool{string(pub): true}}
	tr, err := Accept(Spec{TransferID: 1, TotalPackets: 1, TotalSize: 1}, pub, contacts)
	require.NoError(t, err)
	require.Equal(t, uint64(1), tr.TransferID)
}

func TestReassemblyAndCompletion(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xAB}, ChunkSize*2+5)
	chunks := chunkPayload(payload)

	tr := NewInboundTransfer(Spec{TransferID: 1, TotalPackets: uint32(len(chunks)), TotalSize: uint64(len(payload))}, pub)
	require.False(t, tr.Complete())

	for i, c := range chunks {
		isNew := tr.Store(Data{TransferID: 1, Index: uint32(i), Chunk: c})
		require.True(t, isNew)
	}
	require.True(t, tr.Complete())

	assembled, err := tr.Assemble()
	require.NoError(t, err)
	require.Equal(t, payload, assembled)
}

func TestDuplicateChunkIncrementsCounterWithoutOverwriting(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tr := NewInboundTransfer(Spec{TransferID: 1, TotalPackets: 1, TotalSize: 3}, pub)
	require.True(t, tr.Store(Data{TransferID: 1, Index: 0, Chunk: []byte("abc")}))
	require.False(t, tr.Store(Data{TransferID: 1, Index: 0, Chunk: []byte("xyz")}))

	stats := tr.Stats()
	require.Equal(t, 1, stats.Received)
	require.Equal(t, 1, stats.Duplicates)
	require.InDelta(t, 0.5, stats.Utilization, 1e-9)
}

func TestMissingReportsUnfilledIndices(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	tr := NewInboundTransfer(Spec{TransferID: 1, TotalPackets: 3, TotalSize: 3}, pub)
	tr.Store(Data{TransferID: 1, Index: 1, Chunk: []byte("b")})

	missing := tr.Missing()
	require.ElementsMatch(t, []uint32{0, 2}, missing)
}
