package chain

import (
	"crypto/ed25519"
	"fmt"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
	"github.com/nickspiker/photon/pkg/vsf"
)

// Section names for CHAIN's two wire messages.
const (
	SectionChatMessage = "ChatMessage"
	SectionMessageAck  = "MessageAck"
)

// EncodeChatMessage builds and signs a ChatMessage envelope.
func EncodeChatMessage(priv ed25519.PrivateKey, conversationToken, prevMsgHP [digest.Size]byte, ciphertext []byte, creation eagletime.Time) []byte {
	env := &vsf.Envelope{
		CreationTime: creation,
		Sections: []vsf.Section{{
			Name: SectionChatMessage,
			Fields: []vsf.Field{
				{Name: "conversation_token", Values: [][]byte{conversationToken[:]}},
				{Name: "prev_msg_hp", Values: [][]byte{prevMsgHP[:]}},
				{Name: "ciphertext", Values: [][]byte{ciphertext}},
			},
		}},
	}
	env.Sign(priv)
	return env.Encode()
}

// ParsedChatMessage is the decoded, not-yet-decrypted form of a
// ChatMessage envelope.
type ParsedChatMessage struct {
	ConversationToken [digest.Size]byte
	PrevMsgHP         [digest.Size]byte
	Ciphertext        []byte
	SenderPubkey      ed25519.PublicKey
	CreationTime      eagletime.Time
}

func ParseChatMessage(env *vsf.Envelope) (ParsedChatMessage, error) {
	sec, ok := env.SectionByName(SectionChatMessage)
	if !ok {
		return ParsedChatMessage{}, fmt.Errorf("chain: envelope has no %s section", SectionChatMessage)
	}
	var out ParsedChatMessage
	out.SenderPubkey = env.SignerPubkey
	out.CreationTime = env.CreationTime

	tok, ok := sec.Field("conversation_token")
	if !ok {
		return out, fmt.Errorf("chain: chat message missing conversation_token")
	}
	copy(out.ConversationToken[:], tok.Value())

	prev, ok := sec.Field("prev_msg_hp")
	if !ok {
		return out, fmt.Errorf("chain: chat message missing prev_msg_hp")
	}
	copy(out.PrevMsgHP[:], prev.Value())

	ct, ok := sec.Field("ciphertext")
	if !ok {
		return out, fmt.Errorf("chain: chat message missing ciphertext")
	}
	out.Ciphertext = ct.Value()

	return out, nil
}

// EncodeAck builds and signs a MessageAck envelope.
func EncodeAck(priv ed25519.PrivateKey, conversationToken [digest.Size]byte, ackedEagleTime eagletime.Time, plaintextHash [digest.Size]byte, creation eagletime.Time) []byte {
	t := ackedEagleTime.Bytes()
	env := &vsf.Envelope{
		CreationTime: creation,
		Sections: []vsf.Section{{
			Name: SectionMessageAck,
			Fields: []vsf.Field{
				{Name: "conversation_token", Values: [][]byte{conversationToken[:]}},
				{Name: "acked_eagle_time", Values: [][]byte{t[:]}},
				{Name: "plaintext_hash", Values: [][]byte{plaintextHash[:]}},
			},
		}},
	}
	env.Sign(priv)
	return env.Encode()
}

// ParsedAck is the decoded form of a MessageAck envelope.
type ParsedAck struct {
	ConversationToken [digest.Size]byte
	AckedEagleTime    eagletime.Time
	PlaintextHash     [digest.Size]byte
	SenderPubkey      ed25519.PublicKey
}

func ParseAck(env *vsf.Envelope) (ParsedAck, error) {
	sec, ok := env.SectionByName(SectionMessageAck)
	if !ok {
		return ParsedAck{}, fmt.Errorf("chain: envelope has no %s section", SectionMessageAck)
	}
	var out ParsedAck
	out.SenderPubkey = env.SignerPubkey

	tok, ok := sec.Field("conversation_token")
	if !ok {
		return out, fmt.Errorf("chain: ack missing conversation_token")
	}
	copy(out.ConversationToken[:], tok.Value())

	t, ok := sec.Field("acked_eagle_time")
	if !ok {
		return out, fmt.Errorf("chain: ack missing acked_eagle_time")
	}
	var tb [8]byte
	copy(tb[:], t.Value())
	out.AckedEagleTime = eagletime.FromBytes(tb)

	ph, ok := sec.Field("plaintext_hash")
	if !ok {
		return out, fmt.Errorf("chain: ack missing plaintext_hash")
	}
	copy(out.PlaintextHash[:], ph.Value())

	return out, nil
}
