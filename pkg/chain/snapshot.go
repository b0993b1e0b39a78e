package chain

import (
	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
)

// ParticipantSnapshot is the persisted form of one participantState: the
// private fields of that type, exported so pkg/persistence can encode
// them into a vault entry.
type ParticipantSnapshot struct {
	Peer                  [digest.Size]byte
	Chain                 Chain
	LastReceivedPlaintext []byte
	LastReceivedHash      [digest.Size]byte
	LastReceivedTime      eagletime.Time
	HasReceived           bool
}

// BufferedMessageSnapshot is the persisted form of one gap-buffered
// inbound message.
type BufferedMessageSnapshot struct {
	Peer       [digest.Size]byte
	PrevMsgHP  [digest.Size]byte
	EagleTime  eagletime.Time
	Ciphertext []byte
}

// Snapshot is the full persisted state of one FriendshipChains, gob-
// encodable since every field here is exported.
type Snapshot struct {
	FriendshipID      [digest.Size]byte
	ConversationToken [digest.Size]byte
	Self              [digest.Size]byte

	OwnChain     Chain
	Participants []ParticipantSnapshot

	LastSentHash      [digest.Size]byte
	LastSentPlaintext []byte

	Pending   []PendingMessage
	GapBuffer []BufferedMessageSnapshot
}

// Snapshot captures fc's full state for persistence.
func (fc *FriendshipChains) Snapshot() Snapshot {
	s := Snapshot{
		FriendshipID:      fc.FriendshipID,
		ConversationToken: fc.ConversationToken,
		Self:              fc.Self,
		OwnChain:          fc.ownChain,
		LastSentHash:      fc.LastSentHash,
		LastSentPlaintext: fc.LastSentPlaintext,
		Pending:           append([]PendingMessage(nil), fc.Pending...),
	}
	for peer, ps := range fc.others {
		s.Participants = append(s.Participants, ParticipantSnapshot{
			Peer:                  peer,
			Chain:                 ps.Chain,
			LastReceivedPlaintext: ps.LastReceivedPlaintext,
			LastReceivedHash:      ps.LastReceivedHash,
			LastReceivedTime:      ps.LastReceivedTime,
			HasReceived:           ps.HasReceived,
		})
	}
	for peer, bucket := range fc.GapBuffer {
		for _, bm := range bucket {
			s.GapBuffer = append(s.GapBuffer, BufferedMessageSnapshot{
				Peer:       peer,
				PrevMsgHP:  bm.PrevMsgHP,
				EagleTime:  bm.EagleTime,
				Ciphertext: bm.Ciphertext,
			})
		}
	}
	return s
}

// FromSnapshot rebuilds a FriendshipChains from a previously captured
// Snapshot, restoring it to exactly the state it was persisted in.
func FromSnapshot(s Snapshot) *FriendshipChains {
	fc := &FriendshipChains{
		FriendshipID:      s.FriendshipID,
		ConversationToken: s.ConversationToken,
		Self:              s.Self,
		ownChain:          s.OwnChain,
		others:            make(map[[digest.Size]byte]*participantState, len(s.Participants)),
		LastSentHash:      s.LastSentHash,
		LastSentPlaintext: s.LastSentPlaintext,
		Pending:           append([]PendingMessage(nil), s.Pending...),
		GapBuffer:         make(map[[digest.Size]byte][]bufferedMessage),
	}
	for _, ps := range s.Participants {
		fc.others[ps.Peer] = &participantState{
			Chain:                 ps.Chain,
			LastReceivedPlaintext: ps.LastReceivedPlaintext,
			LastReceivedHash:      ps.LastReceivedHash,
			LastReceivedTime:      ps.LastReceivedTime,
			HasReceived:           ps.HasReceived,
		}
	}
	for _, bm := range s.GapBuffer {
		fc.GapBuffer[bm.Peer] = append(fc.GapBuffer[bm.Peer], bufferedMessage{
			PrevMsgHP:  bm.PrevMsgHP,
			EagleTime:  bm.EagleTime,
			Ciphertext: bm.Ciphertext,
		})
	}
	return fc
}
