package classicalkex

import (
	"bytes"
	"testing"
)

func TestDHAgreement(t *testing.T) {
	families := []Family{X25519, P384, Secp256k1, P256}

	for _, fam := range families {
		fam := fam
		t.Run(fam.String(), func(t *testing.T) {
			alice, err := Generate(fam)
			if err != nil {
				t.Fatalf("Generate(alice): %v", err)
			}
			bob, err := Generate(fam)
			if err != nil {
				t.Fatalf("Generate(bob): %v", err)
			}

			aliceSecret, err := DH(fam, alice.Private, bob.Public)
			if err != nil {
				t.Fatalf("DH(alice): %v", err)
			}
			bobSecret, err := DH(fam, bob.Private, alice.Public)
			if err != nil {
				t.Fatalf("DH(bob): %v", err)
			}

			if !bytes.Equal(aliceSecret, bobSecret) {
				t.Fatalf("%s: shared secrets disagree", fam)
			}
		})
	}
}

func TestGenerateDistinctKeys(t *testing.T) {
	a, err := Generate(X25519)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	b, err := Generate(X25519)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if bytes.Equal(a.Private, b.Private) {
		t.Fatalf("two ephemeral keypairs produced identical private keys")
	}
}

func TestUnknownFamily(t *testing.T) {
	if _, err := Generate(Family(99)); err == nil {
		t.Fatalf("expected error for unknown family")
	}
}

func TestFamilyString(t *testing.T) {
	if Secp256k1.String() != "secp256k1" {
		t.Fatalf("unexpected String() for Secp256k1: %q", Secp256k1.String())
	}
	if Family(99).String() != "unknown" {
		t.Fatalf("expected unknown family to stringify as unknown")
	}
}
