package clutch

import (
	"fmt"

	"github.com/nickspiker/photon/pkg/clutch/classicalkex"
	"github.com/nickspiker/photon/pkg/clutch/pqkem"
	"github.com/nickspiker/photon/pkg/digest"
)

// PartySlot is one participant's position in a ceremony, indexed by the
// sorted order of handle-hashes. A slot is
// complete once it holds an offer and at least one direction of secrets.
type PartySlot struct {
	HandleHash [digest.Size]byte
	Offer      *Offer

	// SecretsToThem holds the secret this device contributed for each
	// primitive: for classical families, the (symmetric) DH output; for
	// PQ families, the secret from this device's own encapsulation to
	// the peer's offer.
	SecretsToThem [10][]byte

	// SecretsFromThem holds, for PQ families only, the secret recovered
	// by decapsulating the peer's KEM response. Classical families never
	// populate this slice: a symmetric DH output is identical from either
	// side, so there is nothing distinct to decapsulate.
	SecretsFromThem [10][]byte
}

// primitiveIndex maps the ten offer primitives to a flat 0..9 index:
// slots 0-4 are classicalFamilies, slots 5-9 are pqFamilies.
func classicalIndex(i int) int { return i }
func pqIndex(i int) int        { return 5 + i }

// Complete reports whether this slot has an offer and our own
// contribution for every primitive.
func (s *PartySlot) Complete() bool {
	if s.Offer == nil {
		return false
	}
	for i := 0; i < 10; i++ {
		if s.SecretsToThem[i] == nil {
			return false
		}
	}
	return true
}

// FillClassicalSecrets computes the symmetric DH output for all five
// classical families against the peer's offer, using our own ephemeral
// (or Ed25519-derived) private scalars.
func (s *PartySlot) FillClassicalSecrets(keys EphemeralKeys) error {
	if s.Offer == nil {
		return errNoOffer
	}
	for i, fam := range classicalFamilies {
		secret, err := classicalkex.DH(fam, keys.Classical[i].Private, s.Offer.ClassicalPub[i])
		if err != nil {
			return fmt.Errorf("clutch: %s DH: %w", fam, err)
		}
		// SecretsFromThem stays nil: the DH output is symmetric, and
		// contributionPair splits it into role-tagged halves instead of
		// holding the same value twice.
		s.SecretsToThem[classicalIndex(i)] = secret
	}
	return nil
}

// EncapsulateToThem runs KEM encapsulation against the peer's offer for
// all five PQ families, returning the ciphertexts to send in a
// ClutchKemResponse and filling SecretsToThem.
func (s *PartySlot) EncapsulateToThem() (ciphertexts [5][]byte, err error) {
	if s.Offer == nil {
		return ciphertexts, errNoOffer
	}
	for i, fam := range pqFamilies {
		ct, secret, err := pqkem.Encapsulate(fam, s.Offer.PQPub[i])
		if err != nil {
			return ciphertexts, fmt.Errorf("clutch: %s encapsulate: %w", fam, err)
		}
		ciphertexts[i] = ct
		s.SecretsToThem[pqIndex(i)] = secret
	}
	return ciphertexts, nil
}

// DecapsulateFromThem recovers the peer's contributed PQ secrets from
// their KEM response ciphertexts, using our own ephemeral decapsulation
// keys.
func (s *PartySlot) DecapsulateFromThem(keys EphemeralKeys, ciphertexts [5][]byte) error {
	for i, fam := range pqFamilies {
		secret, err := pqkem.Decapsulate(fam, keys.PQ[i].Decapsulation, ciphertexts[i])
		if err != nil {
			return fmt.Errorf("clutch: %s decapsulate: %w", fam, err)
		}
		s.SecretsFromThem[pqIndex(i)] = secret
	}
	return nil
}

var errNoOffer = fmt.Errorf("clutch: slot has no offer yet")
