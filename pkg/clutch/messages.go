package clutch

import (
	"crypto/ed25519"
	"fmt"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
	"github.com/nickspiker/photon/pkg/vsf"
)

// Section names for the three CLUTCH wire messages.
const (
	SectionOffer       = "ClutchOffer"
	SectionKemResponse = "ClutchKemResponse"
	SectionComplete    = "ClutchComplete"
)

var classicalFieldNames = [5]string{"x25519", "p384", "secp256k1", "p256", "ed25519dh"}
var pqFieldNames = [5]string{"frodokem768", "ntru1024", "classicmceliece768", "hqc256", "mlkem512"}

// EncodeOffer builds and signs a ClutchOffer envelope.
func EncodeOffer(priv ed25519.PrivateKey, offer Offer, creation eagletime.Time) []byte {
	fields := make([]vsf.Field, 0, 6)
	for i, name := range classicalFieldNames {
		fields = append(fields, vsf.Field{Name: name, Values: [][]byte{offer.ClassicalPub[i]}})
	}
	for i, name := range pqFieldNames {
		fields = append(fields, vsf.Field{Name: name, Values: [][]byte{offer.PQPub[i]}})
	}

	env := &vsf.Envelope{
		CreationTime: creation,
		Sections: []vsf.Section{{
			Name: SectionOffer,
			Fields: append(fields, vsf.Field{
				Name:   "conversation_token",
				Values: [][]byte{offer.ConversationToken[:]},
			}),
		}},
	}
	env.Sign(priv)
	return env.Encode()
}

// ParseOffer extracts an Offer and the envelope's provenance/signer from
// a parsed ClutchOffer envelope.
func ParseOffer(env *vsf.Envelope) (Offer, error) {
	sec, ok := env.SectionByName(SectionOffer)
	if !ok {
		return Offer{}, fmt.Errorf("clutch: envelope has no %s section", SectionOffer)
	}

	var offer Offer
	for i, name := range classicalFieldNames {
		f, ok := sec.Field(name)
		if !ok {
			return Offer{}, fmt.Errorf("clutch: offer missing field %q", name)
		}
		offer.ClassicalPub[i] = f.Value()
	}
	for i, name := range pqFieldNames {
		f, ok := sec.Field(name)
		if !ok {
			return Offer{}, fmt.Errorf("clutch: offer missing field %q", name)
		}
		offer.PQPub[i] = f.Value()
	}
	tokField, ok := sec.Field("conversation_token")
	if !ok {
		return Offer{}, fmt.Errorf("clutch: offer missing conversation_token")
	}
	copy(offer.ConversationToken[:], tokField.Value())

	if err := validateOfferShape(offer); err != nil {
		return Offer{}, err
	}
	return offer, nil
}

// EncodeKemResponse builds and signs a ClutchKemResponse envelope.
func EncodeKemResponse(priv ed25519.PrivateKey, conversationToken [digest.Size]byte, ceremonyID [digest.Size]byte, ciphertexts [5][]byte, targetHQC [8]byte, creation eagletime.Time) []byte {
	fields := make([]vsf.Field, 0, 8)
	fields = append(fields, vsf.Field{Name: "conversation_token", Values: [][]byte{conversationToken[:]}})
	fields = append(fields, vsf.Field{Name: "ceremony_id", Values: [][]byte{ceremonyID[:]}})
	fields = append(fields, vsf.Field{Name: "target_hqc_prefix", Values: [][]byte{targetHQC[:]}})
	for i, name := range pqFieldNames {
		fields = append(fields, vsf.Field{Name: "ct_" + name, Values: [][]byte{ciphertexts[i]}})
	}

	env := &vsf.Envelope{
		CreationTime: creation,
		Sections:     []vsf.Section{{Name: SectionKemResponse, Fields: fields}},
	}
	env.Sign(priv)
	return env.Encode()
}

// ParsedKemResponse is the decoded form of a ClutchKemResponse.
type ParsedKemResponse struct {
	ConversationToken [digest.Size]byte
	CeremonyID        [digest.Size]byte
	TargetHQC         [8]byte
	Ciphertexts       [5][]byte
}

func ParseKemResponse(env *vsf.Envelope) (ParsedKemResponse, error) {
	sec, ok := env.SectionByName(SectionKemResponse)
	if !ok {
		return ParsedKemResponse{}, fmt.Errorf("clutch: envelope has no %s section", SectionKemResponse)
	}
	var out ParsedKemResponse

	tok, ok := sec.Field("conversation_token")
	if !ok {
		return out, fmt.Errorf("clutch: kem response missing conversation_token")
	}
	copy(out.ConversationToken[:], tok.Value())

	cid, ok := sec.Field("ceremony_id")
	if !ok {
		return out, fmt.Errorf("clutch: kem response missing ceremony_id")
	}
	copy(out.CeremonyID[:], cid.Value())

	hqc, ok := sec.Field("target_hqc_prefix")
	if !ok {
		return out, fmt.Errorf("clutch: kem response missing target_hqc_prefix")
	}
	copy(out.TargetHQC[:], hqc.Value())

	for i, name := range pqFieldNames {
		f, ok := sec.Field("ct_" + name)
		if !ok {
			return out, fmt.Errorf("clutch: kem response missing ciphertext %q", name)
		}
		out.Ciphertexts[i] = f.Value()
	}
	return out, nil
}

// EncodeComplete builds and signs a ClutchComplete envelope.
func EncodeComplete(priv ed25519.PrivateKey, conversationToken, ceremonyID, eggsProof [digest.Size]byte, creation eagletime.Time) []byte {
	env := &vsf.Envelope{
		CreationTime: creation,
		Sections: []vsf.Section{{
			Name: SectionComplete,
			Fields: []vsf.Field{
				{Name: "conversation_token", Values: [][]byte{conversationToken[:]}},
				{Name: "ceremony_id", Values: [][]byte{ceremonyID[:]}},
				{Name: "eggs_proof", Values: [][]byte{eggsProof[:]}},
			},
		}},
	}
	env.Sign(priv)
	return env.Encode()
}

// ParsedComplete is the decoded form of a ClutchComplete.
type ParsedComplete struct {
	ConversationToken [digest.Size]byte
	CeremonyID        [digest.Size]byte
	EggsProof         [digest.Size]byte
}

func ParseComplete(env *vsf.Envelope) (ParsedComplete, error) {
	sec, ok := env.SectionByName(SectionComplete)
	if !ok {
		return ParsedComplete{}, fmt.Errorf("clutch: envelope has no %s section", SectionComplete)
	}
	var out ParsedComplete

	tok, ok := sec.Field("conversation_token")
	if !ok {
		return out, fmt.Errorf("clutch: complete missing conversation_token")
	}
	copy(out.ConversationToken[:], tok.Value())

	cid, ok := sec.Field("ceremony_id")
	if !ok {
		return out, fmt.Errorf("clutch: complete missing ceremony_id")
	}
	copy(out.CeremonyID[:], cid.Value())

	proof, ok := sec.Field("eggs_proof")
	if !ok {
		return out, fmt.Errorf("clutch: complete missing eggs_proof")
	}
	copy(out.EggsProof[:], proof.Value())
	return out, nil
}
