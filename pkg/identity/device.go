package identity

import (
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"
	"os"

	"golang.org/x/crypto/curve25519"

	"github.com/nickspiker/photon/pkg/digest"
)

// DeviceKeyPair is the per-device Ed25519 identity: never persisted to
// disk, re-derived deterministically from a per-machine fingerprint every
// time the node starts.
type DeviceKeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// DeriveDeviceKeyPair deterministically derives an Ed25519 keypair from a
// per-machine fingerprint, so a device's identity survives process
// restarts without ever touching disk.
func DeriveDeviceKeyPair(fingerprint []byte) DeviceKeyPair {
	seed := digest.BLAKE3([]byte("PHOTON_DEVICE_SEED_v1"), fingerprint)
	priv := ed25519.NewKeyFromSeed(seed[:])
	return DeviceKeyPair{
		Public:  priv.Public().(ed25519.PublicKey),
		Private: priv,
	}
}

// MachineFingerprint derives a stable per-machine byte string from the
// hostname and OS user. It is not a security boundary by itself; it only
// needs to be stable across restarts on the same machine, not secret or
// collision-resistant against an attacker who controls the machine.
func MachineFingerprint() ([]byte, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("identity: reading hostname: %w", err)
	}
	uid := os.Getuid()
	fp := digest.BLAKE3([]byte(host), []byte(fmt.Sprintf("uid:%d", uid)))
	return fp[:], nil
}

// X25519Scalar converts an Ed25519 private key to an X25519 scalar via
// SHA-512 + clamp, the standard birational map used whenever a
// Diffie-Hellman operation is needed from a signing key (CLUTCH's
// Ed25519-derived-DH offer primitive starts here; its X25519 primitive
// uses a fresh ephemeral key instead).
func (d DeviceKeyPair) X25519Scalar() [32]byte {
	h := sha512.Sum512(d.Private.Seed())
	var scalar [32]byte
	copy(scalar[:], h[:32])
	clampScalar(&scalar)
	return scalar
}

// X25519Public derives the X25519 public key matching X25519Scalar.
func (d DeviceKeyPair) X25519Public() ([32]byte, error) {
	scalar := d.X25519Scalar()
	var pub [32]byte
	if err := curve25519ScalarBaseMult(&pub, &scalar); err != nil {
		return pub, err
	}
	return pub, nil
}

func curve25519ScalarBaseMult(dst, scalar *[32]byte) error {
	out, err := curve25519.X25519(scalar[:], curve25519.Basepoint)
	if err != nil {
		return err
	}
	copy(dst[:], out)
	return nil
}

func clampScalar(s *[32]byte) {
	s[0] &= 248
	s[31] &= 127
	s[31] |= 64
}
