package classicalkex

import (
	"crypto/rand"

	"golang.org/x/crypto/curve25519"
)

func generateX25519() (priv, pub []byte, err error) {
	priv = make([]byte, curve25519.ScalarSize)
	if _, err = rand.Read(priv); err != nil {
		return nil, nil, err
	}
	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	return priv, pub, err
}

func x25519DH(priv, peerPub []byte) ([]byte, error) {
	return curve25519.X25519(priv, peerPub)
}
