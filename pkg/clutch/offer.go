// Package clutch implements the CLUTCH composite key-establishment
// ceremony: a hybrid of five classical Diffie-Hellman families and five
// post-quantum KEMs, combined by XOR into eight 32-byte "eggs" per
// participant pair and expanded into per-participant ratchet chains.
package clutch

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/nickspiker/photon/pkg/clutch/classicalkex"
	"github.com/nickspiker/photon/pkg/clutch/pqkem"
	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
	"github.com/nickspiker/photon/pkg/identity"
)

// classicalFamilies and pqFamilies fix the wire order of the ten
// primitives inside an Offer. See DESIGN.md for how the five-plus-five
// slot assignment was chosen.
var classicalFamilies = [5]classicalkex.Family{
	classicalkex.X25519,
	classicalkex.P384,
	classicalkex.Secp256k1,
	classicalkex.P256,
	classicalkex.Ed25519DH,
}

var pqFamilies = [5]pqkem.Family{
	pqkem.FrodoKEM768,
	pqkem.NTRU1024,
	pqkem.ClassicMcEliece768,
	pqkem.HQC256,
	pqkem.MLKEM512,
}

// hqcSlot is the PQ-family index whose 8-byte encapsulation-key prefix
// serves as the stale-offer identity tag.
const hqcSlot = 3

// EphemeralKeys holds every private half of an Offer: the five classical
// private scalars and the five PQ decapsulation keys. Never persisted
// past the ceremony's first ACK.
type EphemeralKeys struct {
	Classical [5]classicalkex.KeyPair
	PQ        [5]pqkem.KeyPair
}

// Offer is the ten ephemeral public keys one device emits for a
// single ceremony round, plus the conversation token it claims.
type Offer struct {
	ConversationToken [digest.Size]byte
	ClassicalPub      [5][]byte
	PQPub             [5][]byte
}

// GenerateOffer creates a fresh set of ephemeral keypairs for every
// primitive except Ed25519DH, whose "ephemeral" form is always the
// device's persistent signing identity converted to an X25519 scalar.
func GenerateOffer(device identity.DeviceKeyPair, conversationToken [digest.Size]byte) (Offer, EphemeralKeys, error) {
	var offer Offer
	var keys EphemeralKeys
	offer.ConversationToken = conversationToken

	for i, fam := range classicalFamilies {
		if fam == classicalkex.Ed25519DH {
			scalar := device.X25519Scalar()
			pub, err := device.X25519Public()
			if err != nil {
				return Offer{}, EphemeralKeys{}, fmt.Errorf("clutch: deriving ed25519dh public: %w", err)
			}
			kp := classicalkex.KeyPair{Family: fam, Private: scalar[:], Public: pub[:]}
			keys.Classical[i] = kp
			offer.ClassicalPub[i] = kp.Public
			continue
		}
		kp, err := classicalkex.Generate(fam)
		if err != nil {
			return Offer{}, EphemeralKeys{}, fmt.Errorf("clutch: generating %s keypair: %w", fam, err)
		}
		keys.Classical[i] = kp
		offer.ClassicalPub[i] = kp.Public
	}

	for i, fam := range pqFamilies {
		kp, err := pqkem.Generate(fam)
		if err != nil {
			return Offer{}, EphemeralKeys{}, fmt.Errorf("clutch: generating %s keypair: %w", fam, err)
		}
		keys.PQ[i] = kp
		offer.PQPub[i] = kp.Encapsulation
	}

	return offer, keys, nil
}

// HQCPrefix returns the 8-byte stable identity tag used for stale-offer
// detection.
func (o Offer) HQCPrefix() [8]byte {
	var out [8]byte
	pub := o.PQPub[hqcSlot]
	n := copy(out[:], pub)
	_ = n
	return out
}

var errBadOfferShape = errors.New("clutch: offer has wrong number of keys")

func validateOfferShape(o Offer) error {
	for _, p := range o.ClassicalPub {
		if len(p) == 0 {
			return errBadOfferShape
		}
	}
	for _, p := range o.PQPub {
		if len(p) == 0 {
			return errBadOfferShape
		}
	}
	return nil
}

// ProvenanceHash recomputes the per-offer entropy source,
// BLAKE3(signer_pubkey || creation_time_ns). Callers
// normally get this from the VSF envelope that carried the offer, but it
// is re-derivable given the signer and the envelope's creation time.
func ProvenanceHash(signer ed25519.PublicKey, creation eagletime.Time) [digest.Size]byte {
	nanos := creation.Bytes()
	return digest.BLAKE3(signer, nanos[:])
}
