package chain

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
	"github.com/nickspiker/photon/pkg/vsf"
)

func testEggs(seed byte) [8][digest.Size]byte {
	var eggs [8][digest.Size]byte
	for i := range eggs {
		eggs[i] = digest.BLAKE3([]byte{seed, byte(i)})
	}
	return eggs
}

func handleHash(name string) [digest.Size]byte {
	return digest.BLAKE3([]byte(name))
}

func newPair(t *testing.T) (alice, bob *FriendshipChains) {
	t.Helper()
	eggs := testEggs(7)
	aliceHash := handleHash("alice")
	bobHash := handleHash("bob")
	friendshipID := digest.BLAKE3([]byte("friendship"))
	conversationToken := digest.BLAKE3([]byte("conversation"))

	alice = FromClutch(friendshipID, conversationToken, aliceHash, eggs, bobHash)
	bob = FromClutch(friendshipID, conversationToken, bobHash, eggs, aliceHash)
	return alice, bob
}

func deliver(t *testing.T, sender, receiver *FriendshipChains, senderHash, receiverHash [digest.Size]byte, text string, now eagletime.Time) (ciphertext []byte, prevHP [digest.Size]byte, plaintextHash [digest.Size]byte) {
	t.Helper()
	prevHP = sender.LastSentHash
	if prevHP == ([digest.Size]byte{}) {
		prevHP = anchor(senderHash)
	}
	ct, err := sender.Encrypt(receiverHash, text, now)
	require.NoError(t, err)
	pending := sender.Pending[len(sender.Pending)-1]
	return ct, prevHP, pending.PlaintextHash
}

func TestRoundTrip(t *testing.T) {
	alice, bob := newPair(t)
	aliceHash := handleHash("alice")
	bobHash := handleHash("bob")

	now := eagletime.Now()
	ct, prevHP, _ := deliver(t, alice, bob, aliceHash, bobHash, "hello bob", now)

	result, err := bob.Decrypt(aliceHash, prevHP, ct, now)
	require.NoError(t, err)
	require.Equal(t, "hello bob", result.Text)
}

func TestAckAdvancesSenderChainExactlyOnce(t *testing.T) {
	alice, bob := newPair(t)
	aliceHash := handleHash("alice")
	bobHash := handleHash("bob")

	now := eagletime.Now()
	ct, prevHP, plaintextHash := deliver(t, alice, bob, aliceHash, bobHash, "hi", now)

	_, err := bob.Decrypt(aliceHash, prevHP, ct, now)
	require.NoError(t, err)

	keyBefore := alice.ownChain.CurrentKey()

	require.NoError(t, alice.HandleAck(bobHash, now, plaintextHash))
	keyAfterFirstAck := alice.ownChain.CurrentKey()
	require.NotEqual(t, keyBefore, keyAfterFirstAck)

	// A second ack for the same (already-removed) pending message must
	// not find a match, and must not advance the chain again.
	err = alice.HandleAck(bobHash, now, plaintextHash)
	require.ErrorIs(t, err, ErrNoMatchingPending)
	require.Equal(t, keyAfterFirstAck, alice.ownChain.CurrentKey())
}

func TestDuplicateRejection(t *testing.T) {
	alice, bob := newPair(t)
	aliceHash := handleHash("alice")
	bobHash := handleHash("bob")

	now := eagletime.Now()
	ct, prevHP, _ := deliver(t, alice, bob, aliceHash, bobHash, "once", now)

	_, err := bob.Decrypt(aliceHash, prevHP, ct, now)
	require.NoError(t, err)

	keyAfterFirst := bob.others[aliceHash].Chain.CurrentKey()

	_, err = bob.Decrypt(aliceHash, prevHP, ct, now)
	require.ErrorIs(t, err, ErrDuplicate)
	require.Equal(t, keyAfterFirst, bob.others[aliceHash].Chain.CurrentKey())
}

func TestGapIsBufferedThenFlushed(t *testing.T) {
	alice, bob := newPair(t)
	aliceHash := handleHash("alice")
	bobHash := handleHash("bob")

	now1 := eagletime.Now()
	ct1, prevHP1, _ := deliver(t, alice, bob, aliceHash, bobHash, "first", now1)

	now2 := now1 + 1
	ct2, prevHP2, _ := deliver(t, alice, bob, aliceHash, bobHash, "second", now2)

	// Deliver the second message before the first: must buffer as a gap.
	_, err := bob.Decrypt(aliceHash, prevHP2, ct2, now2)
	require.ErrorIs(t, err, ErrGap)
	require.Len(t, bob.GapBuffer[aliceHash], 1)

	// Now deliver the first; the flush should pick up the second automatically.
	result, err := bob.Decrypt(aliceHash, prevHP1, ct1, now1)
	require.NoError(t, err)
	require.Equal(t, "first", result.Text)
	require.Empty(t, bob.GapBuffer[aliceHash])
	require.True(t, bob.others[aliceHash].HasReceived)
	require.Equal(t, now2, bob.others[aliceHash].LastReceivedTime)
}

func TestTamperedCiphertextFailsAuthentication(t *testing.T) {
	alice, bob := newPair(t)
	aliceHash := handleHash("alice")
	bobHash := handleHash("bob")

	now := eagletime.Now()
	ct, prevHP, _ := deliver(t, alice, bob, aliceHash, bobHash, "integrity check", now)

	tampered := append([]byte(nil), ct...)
	tampered[len(tampered)-1] ^= 0xFF

	_, err := bob.Decrypt(aliceHash, prevHP, tampered, now)
	require.Error(t, err)
}

func TestTamperedPrevMsgHPIsDetectedAsGap(t *testing.T) {
	alice, bob := newPair(t)
	aliceHash := handleHash("alice")
	bobHash := handleHash("bob")

	now := eagletime.Now()
	ct, prevHP, _ := deliver(t, alice, bob, aliceHash, bobHash, "trust me", now)

	tamperedPrev := prevHP
	tamperedPrev[0] ^= 0xFF

	_, err := bob.Decrypt(aliceHash, tamperedPrev, ct, now)
	require.ErrorIs(t, err, ErrGap)
}

func TestUnknownParticipantRejected(t *testing.T) {
	alice, _ := newPair(t)
	stranger := handleHash("stranger")

	_, err := alice.Encrypt(stranger, "hi", eagletime.Now())
	require.ErrorIs(t, err, ErrUnknownParticipant)
}

func TestPendingFullRejectsFurtherSends(t *testing.T) {
	alice, _ := newPair(t)
	bobHash := handleHash("bob")

	now := eagletime.Now()
	for i := 0; i < MaxPendingPerFriendship; i++ {
		_, err := alice.Encrypt(bobHash, "msg", now+eagletime.Time(i))
		require.NoError(t, err)
	}
	_, err := alice.Encrypt(bobHash, "one too many", now+eagletime.Time(MaxPendingPerFriendship))
	require.ErrorIs(t, err, ErrPendingFull)
}

func TestPendingForFiltersByPeerAndSyncRecord(t *testing.T) {
	alice, _ := newPair(t)
	bobHash := handleHash("bob")
	carolHash := handleHash("carol")
	alice.others[carolHash] = &participantState{Chain: NewChainFromEggs(testEggs(7), carolHash)}

	now := eagletime.Now()
	_, err := alice.Encrypt(bobHash, "to bob", now)
	require.NoError(t, err)
	_, err = alice.Encrypt(carolHash, "to carol", now+1)
	require.NoError(t, err)

	forBob := alice.PendingFor(bobHash, 0, false)
	require.Len(t, forBob, 1)
	require.Equal(t, bobHash, forBob[0].Peer)

	forBobAfter := alice.PendingFor(bobHash, now, true)
	require.Empty(t, forBobAfter)
}

func TestMessageFieldRoundTrip(t *testing.T) {
	var incorporated [digest.Size]byte
	incorporated[0] = 0xAB

	encoded, err := EncodeMessageField("hello field", incorporated)
	require.NoError(t, err)

	decoded, err := ParseMessageField(encoded)
	require.NoError(t, err)
	require.Equal(t, "hello field", decoded.Text)
	require.Equal(t, incorporated, decoded.IncorporatedHP)
}

func TestChatMessageAndAckWireRoundTrip(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	conversationToken := digest.BLAKE3([]byte("conversation"))
	prevHP := digest.BLAKE3([]byte("prev"))
	now := eagletime.Now()

	raw := EncodeChatMessage(priv, conversationToken, prevHP, []byte("ciphertext-bytes"), now)
	env, err := vsf.Parse(raw)
	require.NoError(t, err)
	require.NoError(t, env.Verify())

	parsed, err := ParseChatMessage(env)
	require.NoError(t, err)
	require.Equal(t, conversationToken, parsed.ConversationToken)
	require.Equal(t, prevHP, parsed.PrevMsgHP)
	require.Equal(t, []byte("ciphertext-bytes"), parsed.Ciphertext)

	plaintextHash := digest.BLAKE3([]byte("plaintext"))
	ackRaw := EncodeAck(priv, conversationToken, now, plaintextHash, now)
	ackEnv, err := vsf.Parse(ackRaw)
	require.NoError(t, err)
	require.NoError(t, ackEnv.Verify())

	parsedAck, err := ParseAck(ackEnv)
	require.NoError(t, err)
	require.Equal(t, conversationToken, parsedAck.ConversationToken)
	require.Equal(t, now, parsedAck.AckedEagleTime)
	require.Equal(t, plaintextHash, parsedAck.PlaintextHash)
}
