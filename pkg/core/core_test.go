package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nickspiker/photon/pkg/clutch"
	"github.com/nickspiker/photon/pkg/eagletime"
	"github.com/nickspiker/photon/pkg/identity"
	"github.com/nickspiker/photon/pkg/pt"
	"github.com/nickspiker/photon/pkg/vsf"
)

// testNode builds an offline node with no sockets, no vault, and no
// history; handleInbound and the work queue are driven directly by the
// test.
func testNode(handle, fingerprint string) *Node {
	device := identity.DeriveDeviceKeyPair([]byte(fingerprint))
	return NewNode(handle, device, nil, nil, nil, nil, nil, nil)
}

// deliver hands one queued outbound payload to the receiving node the way
// the network thread would after PT reassembly: parsed, verified, routed
// by section name.
func deliver(t *testing.T, dst *Node, req OutboundRequest) {
	t.Helper()
	if req.Kind != OutboundSend {
		return
	}
	env, err := vsf.Parse(req.Payload)
	require.NoError(t, err)
	require.NoError(t, env.Verify())
	require.NotEmpty(t, env.Sections)
	dst.handleInbound(InboundEvent{
		Kind:        InboundPayload,
		SectionName: env.Sections[0].Name,
		Sender:      env.SignerPubkey,
		Raw:         req.Payload,
	})
}

// pump shuttles worker results and queued sends between two nodes until
// done reports true, failing the test if everything stalls first.
func pump(t *testing.T, a, b *Node, done func() bool) {
	t.Helper()
	deadline := time.After(60 * time.Second)
	for !done() {
		select {
		case wr := <-a.work:
			a.applyWorkResult(wr)
		case wr := <-b.work:
			b.applyWorkResult(wr)
		case req := <-a.outbound:
			deliver(t, b, req)
		case req := <-b.outbound:
			deliver(t, a, req)
		case <-deadline:
			t.Fatal("nodes stalled before reaching the expected state")
		}
	}
}

func pairedNodes(t *testing.T) (*Node, *Contact, *Node, *Contact) {
	t.Helper()
	alice := testNode("alice", "machine-a")
	bob := testNode("bob", "machine-b")

	ca := alice.AddContact("bob", pt.ContactAddressing{Recipient: bob.Device.Public})
	cb := bob.AddContact("alice", pt.ContactAddressing{Recipient: alice.Device.Public})
	return alice, ca, bob, cb
}

func completeCeremony(t *testing.T, alice *Node, ca *Contact, bob *Node, cb *Contact) {
	t.Helper()
	alice.StartCeremony(ca)
	bob.StartCeremony(cb)
	pump(t, alice, bob, func() bool {
		return ca.Ceremony.State == clutch.Complete && cb.Ceremony.State == clutch.Complete
	})
}

func TestTwoPartyCeremony(t *testing.T) {
	alice, ca, bob, cb := pairedNodes(t)
	completeCeremony(t, alice, ca, bob, cb)

	require.Equal(t, ca.Ceremony.EggsProof, cb.Ceremony.EggsProof)
	require.Equal(t, ca.Ceremony.CeremonyID, cb.Ceremony.CeremonyID)
	require.Equal(t, ca.Ceremony.Eggs, cb.Ceremony.Eggs)
	require.NotNil(t, ca.Chains)
	require.NotNil(t, cb.Chains)
	require.Equal(t, ca.Chains.FriendshipID, cb.Chains.FriendshipID)
	require.Equal(t, Attested, ca.Trust)
	require.Equal(t, Attested, cb.Trust)
}

func TestMessageRoundTripAndAck(t *testing.T) {
	alice, ca, bob, cb := pairedNodes(t)
	completeCeremony(t, alice, ca, bob, cb)

	require.NoError(t, alice.SendMessage(ca, "hello bob"))
	require.Len(t, ca.Chains.Pending, 1)

	pump(t, alice, bob, func() bool {
		return len(ca.Chains.Pending) == 0
	})

	// First ACK over the fresh ceremony triggers ephemeral-key wipe.
	require.True(t, ca.FirstAckSeen)
	for _, kp := range ca.Ceremony.LocalKeys.PQ {
		require.Nil(t, kp.Decapsulation)
	}
}

func TestConcurrentSendsDoNotDeadlock(t *testing.T) {
	alice, ca, bob, cb := pairedNodes(t)
	completeCeremony(t, alice, ca, bob, cb)

	require.NoError(t, alice.SendMessage(ca, "ping from alice"))
	require.NoError(t, bob.SendMessage(cb, "ping from bob"))

	pump(t, alice, bob, func() bool {
		return len(ca.Chains.Pending) == 0 && len(cb.Chains.Pending) == 0
	})
}

func TestDuplicateChatMessageDropped(t *testing.T) {
	alice, ca, bob, cb := pairedNodes(t)
	completeCeremony(t, alice, ca, bob, cb)

	require.NoError(t, alice.SendMessage(ca, "once only"))
	chat := <-alice.outbound

	deliver(t, bob, chat)
	require.Len(t, bob.outbound, 1) // the ACK

	// Replay: recognized by eagle-time as duplicate, no state change, no
	// second ACK.
	before := cb.Chains.Snapshot()
	deliver(t, bob, chat)
	require.Len(t, bob.outbound, 1)
	require.Equal(t, before, cb.Chains.Snapshot())
}

func TestAcceptanceGateRequiresKnownPubkey(t *testing.T) {
	alice := testNode("alice", "machine-a")
	stranger := identity.DeriveDeviceKeyPair([]byte("machine-x"))

	require.False(t, alice.Contacts().IsKnownContact(stranger.Public))

	bob := identity.DeriveDeviceKeyPair([]byte("machine-b"))
	alice.AddContact("bob", pt.ContactAddressing{Recipient: bob.Public})
	require.True(t, alice.Contacts().IsKnownContact(bob.Public))
}

func TestStatusPongSyncRecordsRoundTrip(t *testing.T) {
	device := identity.DeriveDeviceKeyPair([]byte("machine-a"))
	token := identity.ConversationToken(identity.HandleHash("alice"), identity.HandleHash("bob"))
	records := map[[32]byte]eagletime.Time{token: eagletime.Now()}

	raw := EncodeStatusPong(device.Private, records, eagletime.Now())
	env, err := vsf.Parse(raw)
	require.NoError(t, err)
	require.NoError(t, env.Verify())

	pong, signer, err := ParseStatusPong(env)
	require.NoError(t, err)
	require.Equal(t, []byte(device.Public), []byte(signer))
	require.Equal(t, records[token], pong.SyncRecords[token])
}

func TestRetransmitOnReconnect(t *testing.T) {
	alice, ca, bob, cb := pairedNodes(t)
	completeCeremony(t, alice, ca, bob, cb)

	require.NoError(t, alice.SendMessage(ca, "while you were out"))
	// Drop the original send on the floor: bob never sees it.
	<-alice.outbound
	require.Len(t, ca.Chains.Pending, 1)

	// Bob drops offline (the ceremony traffic had marked him online).
	alice.handleInbound(InboundEvent{Kind: InboundOnlineChange, PeerHandleHash: ca.HandleHash, Online: false})

	// Bob comes back online with no sync-record for this conversation:
	// everything pending goes out again.
	alice.handleInbound(InboundEvent{Kind: InboundOnlineChange, PeerHandleHash: ca.HandleHash, Online: true})

	pump(t, alice, bob, func() bool {
		return len(ca.Chains.Pending) == 0
	})
}
