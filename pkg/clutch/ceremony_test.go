package clutch

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/identity"
	"github.com/nickspiker/photon/pkg/vsf"
)

type party struct {
	device   identity.DeviceKeyPair
	ceremony *Ceremony
}

func newParty(t *testing.T, fingerprint string, localHash, peerHash [digest.Size]byte) *party {
	t.Helper()
	dev := identity.DeriveDeviceKeyPair([]byte(fingerprint))
	return &party{device: dev, ceremony: New(localHash, peerHash)}
}

// runCeremony drives both sides of a 2-party CLUTCH ceremony to
// completion through direct struct calls (bypassing the wire codec,
// exercised separately in TestMessageRoundTrip) and returns both sides'
// final ceremony state for property assertions.
func runCeremony(t *testing.T) (alice, bob *party) {
	t.Helper()

	aliceHash := digest.BLAKE3([]byte("alice-handle"))
	bobHash := digest.BLAKE3([]byte("bob-handle"))

	alice = newParty(t, "alice-machine", aliceHash, bobHash)
	bob = newParty(t, "bob-machine", bobHash, aliceHash)

	require.True(t, alice.ceremony.TryStartKeygen())
	aliceOffer, aliceKeys, err := GenerateOffer(alice.device, alice.ceremony.ConversationToken)
	require.NoError(t, err)
	alice.ceremony.FinishKeygen(aliceOffer, aliceKeys)

	require.True(t, bob.ceremony.TryStartKeygen())
	bobOffer, bobKeys, err := GenerateOffer(bob.device, bob.ceremony.ConversationToken)
	require.NoError(t, err)
	bob.ceremony.FinishKeygen(bobOffer, bobKeys)

	aliceProv := ProvenanceHash(alice.device.Public, 1000)
	bobProv := ProvenanceHash(bob.device.Public, 2000)
	alice.ceremony.SetLocalProvenance(alice.device.Public, aliceProv)
	bob.ceremony.SetLocalProvenance(bob.device.Public, bobProv)

	_, err = alice.ceremony.ReceiveOffer(*bob.ceremony.LocalOffer, bobProv)
	require.NoError(t, err)
	_, err = bob.ceremony.ReceiveOffer(*alice.ceremony.LocalOffer, aliceProv)
	require.NoError(t, err)

	require.True(t, alice.ceremony.TryStartEncapsulate())
	aliceCT, err := alice.ceremony.FinishEncapsulate()
	require.NoError(t, err)

	require.True(t, bob.ceremony.TryStartEncapsulate())
	bobCT, err := bob.ceremony.FinishEncapsulate()
	require.NoError(t, err)

	aliceCeremonyID := alice.ceremony.ComputeCeremonyID()
	bobCeremonyID := bob.ceremony.ComputeCeremonyID()
	require.Equal(t, aliceCeremonyID, bobCeremonyID, "ceremony_id must match regardless of offer arrival order")

	require.NoError(t, alice.ceremony.ReceiveKemResponse(bobCT, bobCeremonyID, alice.ceremony.LocalOffer.HQCPrefix()))
	require.NoError(t, bob.ceremony.ReceiveKemResponse(aliceCT, aliceCeremonyID, bob.ceremony.LocalOffer.HQCPrefix()))

	require.True(t, alice.ceremony.TryStartExpand())
	alice.ceremony.FinishExpand()
	require.True(t, bob.ceremony.TryStartExpand())
	bob.ceremony.FinishExpand()

	require.NoError(t, alice.ceremony.ReceivePeerProof(bob.ceremony.EggsProof))
	require.NoError(t, bob.ceremony.ReceivePeerProof(alice.ceremony.EggsProof))

	return alice, bob
}

func TestCeremonyReachesCompleteWithMatchingOutput(t *testing.T) {
	alice, bob := runCeremony(t)

	require.Equal(t, Complete, alice.ceremony.State)
	require.Equal(t, Complete, bob.ceremony.State)
	require.Equal(t, alice.ceremony.Eggs, bob.ceremony.Eggs)
	require.Equal(t, alice.ceremony.EggsProof, bob.ceremony.EggsProof)
}

func TestClassicalEggsAreNonZero(t *testing.T) {
	alice, _ := runCeremony(t)

	// A zero egg would mean the classical contribution cancelled out of
	// the proof entirely; every slot must depend on its secret.
	var zero [digest.Size]byte
	for i, egg := range alice.ceremony.Eggs {
		require.NotEqual(t, zero, egg, "egg %d must not be the zero block", i)
	}
}

func TestClassicalSecretTamperChangesEggs(t *testing.T) {
	alice, bob := runCeremony(t)

	// A MITM on a classical exchange leaves each side holding a different
	// DH output. Simulate it by flipping one byte of each of alice's five
	// classical secrets in turn and re-deriving: her eggs, and therefore her proof, must diverge
	// from bob's so the mismatch check fires.
	for _, idx := range []int{classicalIndex(0), classicalIndex(1), classicalIndex(2), classicalIndex(3), classicalIndex(4)} {
		tampered := *alice.ceremony
		tampered.Peer.SecretsToThem[idx] = append([]byte(nil), tampered.Peer.SecretsToThem[idx]...)
		tampered.Peer.SecretsToThem[idx][0] ^= 0xFF

		eggs := tampered.computeEggs()
		require.NotEqual(t, bob.ceremony.Eggs, eggs, "tampering classical slot %d must change the eggs", idx)
		require.NotEqual(t, bob.ceremony.EggsProof, ProofFromEggs(eggs))
	}
}

func TestFriendshipIDAndConversationTokenAreOrderIndependent(t *testing.T) {
	aliceHash := digest.BLAKE3([]byte("alice-handle"))
	bobHash := digest.BLAKE3([]byte("bob-handle"))

	require.Equal(t, identity.FriendshipID(aliceHash, bobHash), identity.FriendshipID(bobHash, aliceHash))
	require.Equal(t, identity.ConversationToken(aliceHash, bobHash), identity.ConversationToken(bobHash, aliceHash))
}

func TestProofMismatchIsFatal(t *testing.T) {
	alice, bob := runCeremony(t)
	_ = bob

	tamperedProof := alice.ceremony.EggsProof
	tamperedProof[0] ^= 0xFF

	fresh := New(alice.ceremony.LocalHandleHash, alice.ceremony.PeerHandleHash)
	fresh.State = AwaitingProof
	fresh.EggsProof = alice.ceremony.EggsProof

	err := fresh.ReceivePeerProof(tamperedProof)
	require.ErrorIs(t, err, ErrProofMismatch)
	require.Equal(t, Fatal, fresh.State)
}

func TestMessageRoundTrip(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(make([]byte, ed25519.SeedSize))
	alice, _ := runCeremony(t)

	raw := EncodeOffer(priv, *alice.ceremony.LocalOffer, 12345)
	env, err := vsf.Parse(raw)
	require.NoError(t, err)
	require.NoError(t, env.Verify())

	decoded, err := ParseOffer(env)
	require.NoError(t, err)
	require.Equal(t, alice.ceremony.LocalOffer.ConversationToken, decoded.ConversationToken)
	require.Equal(t, alice.ceremony.LocalOffer.ClassicalPub, decoded.ClassicalPub)
	require.Equal(t, alice.ceremony.LocalOffer.PQPub, decoded.PQPub)
}
