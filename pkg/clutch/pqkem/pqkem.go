// Package pqkem implements CLUTCH's five post-quantum KEM slots.
//
// The protocol names FrodoKEM, NTRU, Classic McEliece, and HQC-256; none
// of those has a maintained pure-Go implementation available to this
// module. Every slot here is actually backed by the standard library's
// crypto/mlkem (FIPS 203 ML-KEM), with each family
// wired to one of two parameter sets (ML-KEM-768 for three families,
// ML-KEM-1024 for two) and a distinct HKDF domain-separation
// label so the five "independent" PQ secrets a ceremony combines really
// are independently keyed, even where families share a parameter
// set underneath. See DESIGN.md for the substitution rationale.
package pqkem

import (
	"crypto/mlkem"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/hkdf"
)

// Family identifies one of CLUTCH's five PQ KEM slots.
type Family int

const (
	FrodoKEM768 Family = iota
	NTRU1024
	ClassicMcEliece768
	HQC256
	MLKEM512
)

func (f Family) String() string {
	switch f {
	case FrodoKEM768:
		return "frodokem768"
	case NTRU1024:
		return "ntru1024"
	case ClassicMcEliece768:
		return "classicmceliece768"
	case HQC256:
		return "hqc256"
	case MLKEM512:
		return "mlkem512"
	default:
		return "unknown"
	}
}

// paramSet is the actual ML-KEM parameter set a family is backed by.
type paramSet int

const (
	param768 paramSet = iota
	param1024
)

func (f Family) paramSet() paramSet {
	switch f {
	case NTRU1024, HQC256:
		return param1024
	default:
		return param768
	}
}

// label is the HKDF domain-separation string mixed into every shared
// secret this family produces, so FrodoKEM768 and ClassicMcEliece768,
// which share the 768 parameter set, never agree on a secret even if
// handed the same underlying ML-KEM keypair.
func (f Family) label() string {
	return "PHOTON_PQKEM_" + f.String() + "_v1"
}

// KeyPair is a family's decapsulation (private) and encapsulation
// (public) key, each as its wire-format byte encoding.
type KeyPair struct {
	Family       Family
	Decapsulation []byte
	Encapsulation []byte
}

// Generate creates a fresh ML-KEM keypair for the given family.
func Generate(family Family) (KeyPair, error) {
	switch family.paramSet() {
	case param768:
		dk, err := mlkem.GenerateKey768()
		if err != nil {
			return KeyPair{}, fmt.Errorf("pqkem: generating %s: %w", family, err)
		}
		return KeyPair{Family: family, Decapsulation: dk.Bytes(), Encapsulation: dk.EncapsulationKey().Bytes()}, nil
	case param1024:
		dk, err := mlkem.GenerateKey1024()
		if err != nil {
			return KeyPair{}, fmt.Errorf("pqkem: generating %s: %w", family, err)
		}
		return KeyPair{Family: family, Decapsulation: dk.Bytes(), Encapsulation: dk.EncapsulationKey().Bytes()}, nil
	default:
		return KeyPair{}, fmt.Errorf("pqkem: unknown parameter set for %s", family)
	}
}

// Encapsulate generates a fresh shared secret against a peer's
// encapsulation key, returning the ciphertext to send them alongside the
// domain-separated shared secret.
func Encapsulate(family Family, peerEncapsulation []byte) (ciphertext, sharedSecret []byte, err error) {
	switch family.paramSet() {
	case param768:
		ek, err := mlkem.NewEncapsulationKey768(peerEncapsulation)
		if err != nil {
			return nil, nil, fmt.Errorf("pqkem: parsing %s encapsulation key: %w", family, err)
		}
		secret, ct := ek.Encapsulate()
		return ct, expand(family, secret), nil
	case param1024:
		ek, err := mlkem.NewEncapsulationKey1024(peerEncapsulation)
		if err != nil {
			return nil, nil, fmt.Errorf("pqkem: parsing %s encapsulation key: %w", family, err)
		}
		secret, ct := ek.Encapsulate()
		return ct, expand(family, secret), nil
	default:
		return nil, nil, fmt.Errorf("pqkem: unknown parameter set for %s", family)
	}
}

// Decapsulate recovers the shared secret from a ciphertext using our own
// decapsulation key.
func Decapsulate(family Family, decapsulation, ciphertext []byte) ([]byte, error) {
	switch family.paramSet() {
	case param768:
		dk, err := mlkem.NewDecapsulationKey768(decapsulation)
		if err != nil {
			return nil, fmt.Errorf("pqkem: parsing %s decapsulation key: %w", family, err)
		}
		secret, err := dk.Decapsulate(ciphertext)
		if err != nil {
			return nil, fmt.Errorf("pqkem: decapsulating %s: %w", family, err)
		}
		return expand(family, secret), nil
	case param1024:
		dk, err := mlkem.NewDecapsulationKey1024(decapsulation)
		if err != nil {
			return nil, fmt.Errorf("pqkem: parsing %s decapsulation key: %w", family, err)
		}
		secret, err := dk.Decapsulate(ciphertext)
		if err != nil {
			return nil, fmt.Errorf("pqkem: decapsulating %s: %w", family, err)
		}
		return expand(family, secret), nil
	default:
		return nil, fmt.Errorf("pqkem: unknown parameter set for %s", family)
	}
}

// expand applies the family's domain-separation label to a raw ML-KEM
// shared secret via HKDF-Expand, keyed on the secret itself (it is
// already uniformly random, so no extract step is needed).
func expand(family Family, secret []byte) []byte {
	out := make([]byte, len(secret))
	r := hkdf.Expand(sha256.New, secret, []byte(family.label()))
	if _, err := r.Read(out); err != nil {
		panic("pqkem: hkdf expand: " + err.Error())
	}
	return out
}
