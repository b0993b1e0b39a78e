package classicalkex

import (
	"crypto/ecdh"
	"crypto/rand"
)

func generateP384() (priv, pub []byte, err error) {
	key, err := ecdh.P384().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return key.Bytes(), key.PublicKey().Bytes(), nil
}

func p384DH(priv, peerPub []byte) ([]byte, error) {
	key, err := ecdh.P384().NewPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	peer, err := ecdh.P384().NewPublicKey(peerPub)
	if err != nil {
		return nil, err
	}
	return key.ECDH(peer)
}

func generateP256() (priv, pub []byte, err error) {
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return key.Bytes(), key.PublicKey().Bytes(), nil
}

func p256DH(priv, peerPub []byte) ([]byte, error) {
	key, err := ecdh.P256().NewPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	peer, err := ecdh.P256().NewPublicKey(peerPub)
	if err != nil {
		return nil, err
	}
	return key.ECDH(peer)
}
