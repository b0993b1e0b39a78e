// Package classicalkex implements the five classical Diffie-Hellman
// families CLUTCH combines: X25519, NIST P-384, secp256k1, NIST P-256,
// and a fifth confirmation slot derived from the device's own Ed25519
// signing key.
package classicalkex

// Family identifies one of the five classical DH primitives in an Offer.
type Family int

const (
	X25519 Family = iota
	P384
	Secp256k1
	P256
	Ed25519DH
)

func (f Family) String() string {
	switch f {
	case X25519:
		return "x25519"
	case P384:
		return "p384"
	case Secp256k1:
		return "secp256k1"
	case P256:
		return "p256"
	case Ed25519DH:
		return "ed25519dh"
	default:
		return "unknown"
	}
}

// KeyPair is a classical DH keypair: opaque private material plus a wire
// public key of whatever fixed length the family uses.
type KeyPair struct {
	Family  Family
	Private []byte
	Public  []byte
}

// DH performs the family's Diffie-Hellman operation between priv and a
// peer's public key, returning the raw shared secret.
func DH(family Family, priv []byte, peerPub []byte) ([]byte, error) {
	switch family {
	case X25519:
		return x25519DH(priv, peerPub)
	case P384:
		return p384DH(priv, peerPub)
	case Secp256k1:
		return secp256k1DH(priv, peerPub)
	case P256:
		return p256DH(priv, peerPub)
	case Ed25519DH:
		return x25519DH(priv, peerPub) // same curve once converted, see pkg/identity.DeviceKeyPair.X25519Scalar
	default:
		return nil, errUnknownFamily(family)
	}
}

// Generate creates a fresh ephemeral keypair for the given family.
//
// Ed25519DH has no fresh-ephemeral form: its keypair is always the
// device's persistent signing identity converted to an X25519 scalar
// (see pkg/identity.DeviceKeyPair.X25519Scalar), so callers build that
// KeyPair directly rather than through Generate.
func Generate(family Family) (KeyPair, error) {
	var (
		priv, pub []byte
		err       error
	)
	switch family {
	case X25519:
		priv, pub, err = generateX25519()
	case P384:
		priv, pub, err = generateP384()
	case Secp256k1:
		priv, pub, err = generateSecp256k1()
	case P256:
		priv, pub, err = generateP256()
	default:
		return KeyPair{}, errUnknownFamily(family)
	}
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Family: family, Private: priv, Public: pub}, nil
}

type unknownFamilyError Family

func (e unknownFamilyError) Error() string {
	return "classicalkex: unknown family " + Family(e).String()
}

func errUnknownFamily(f Family) error {
	return unknownFamilyError(f)
}
