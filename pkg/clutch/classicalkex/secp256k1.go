package classicalkex

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func generateSecp256k1() (priv, pub []byte, err error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}
	return key.Serialize(), key.PubKey().SerializeCompressed(), nil
}

// secp256k1DH performs a raw ECDH-style scalar multiplication: our
// private scalar times the peer's curve point, with the resulting point's
// affine X coordinate as the shared secret. This is the same construction
// libsecp256k1-based ECDH implementations use.
func secp256k1DH(priv, peerPub []byte) ([]byte, error) {
	privKey := secp256k1.PrivKeyFromBytes(priv)
	pubKey, err := secp256k1.ParsePubKey(peerPub)
	if err != nil {
		return nil, fmt.Errorf("classicalkex: parsing secp256k1 peer pubkey: %w", err)
	}

	var peerPoint, result secp256k1.JacobianPoint
	pubKey.AsJacobian(&peerPoint)

	k := privKey.Key
	secp256k1.ScalarMultNonConst(&k, &peerPoint, &result)
	result.ToAffine()

	xBytes := result.X.Bytes()
	return xBytes[:], nil
}
