package fgtwsim

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
	"github.com/nickspiker/photon/pkg/rendezvous"
)

func TestAttestLookupRoundTrip(t *testing.T) {
	sim := New()
	defer sim.Close()

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	client := rendezvous.New(sim.URL())
	want := rendezvous.Attestation{
		HandleProof:    digest.BLAKE3([]byte("alice")),
		DevicePubkey:   pub,
		PublicEndpoint: "198.51.100.7:7777",
		LastSeen:       eagletime.Now(),
	}
	require.NoError(t, client.Attest(t.Context(), want))

	got, err := client.Lookup(t.Context(), want.HandleProof)
	require.NoError(t, err)
	require.Equal(t, want.PublicEndpoint, got.PublicEndpoint)
	require.Equal(t, want.DevicePubkey, got.DevicePubkey)
}

func TestConduitRelayRoundTrip(t *testing.T) {
	sim := New()
	defer sim.Close()

	senderPub, senderPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	recipientPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	client := rendezvous.New(sim.URL()).WithSigner(senderPub, senderPriv)
	payload := []byte("ciphertext bound for a napping recipient")
	require.NoError(t, client.Submit(t.Context(), recipientPub, payload))

	got, err := client.Pickup(t.Context(), recipientPub)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, payload, got[0])

	// A second pickup finds an empty mailbox.
	empty, err := client.Pickup(t.Context(), recipientPub)
	require.NoError(t, err)
	require.Empty(t, empty)
}
