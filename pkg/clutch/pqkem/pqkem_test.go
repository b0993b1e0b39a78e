package pqkem

import (
	"bytes"
	"testing"
)

func TestEncapsulateDecapsulateAgree(t *testing.T) {
	families := []Family{FrodoKEM768, NTRU1024, ClassicMcEliece768, HQC256, MLKEM512}

	for _, fam := range families {
		fam := fam
		t.Run(fam.String(), func(t *testing.T) {
			kp, err := Generate(fam)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			ct, secretA, err := Encapsulate(fam, kp.Encapsulation)
			if err != nil {
				t.Fatalf("Encapsulate: %v", err)
			}
			secretB, err := Decapsulate(fam, kp.Decapsulation, ct)
			if err != nil {
				t.Fatalf("Decapsulate: %v", err)
			}
			if !bytes.Equal(secretA, secretB) {
				t.Fatalf("%s: shared secrets disagree", fam)
			}
		})
	}
}

func TestSharedParamSetsAreDomainSeparated(t *testing.T) {
	// FrodoKEM768 and ClassicMcEliece768 both run on ML-KEM-768
	// underneath; this only proves something if their labels differ.
	if FrodoKEM768.label() == ClassicMcEliece768.label() {
		t.Fatalf("FrodoKEM768 and ClassicMcEliece768 share a domain label")
	}
	if NTRU1024.label() == HQC256.label() {
		t.Fatalf("NTRU1024 and HQC256 share a domain label")
	}
}

func TestEncapsulateRejectsWrongParamSetKey(t *testing.T) {
	kp768, err := Generate(FrodoKEM768)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, _, err := Encapsulate(NTRU1024, kp768.Encapsulation); err == nil {
		t.Fatalf("expected error encapsulating against a mismatched parameter-set key")
	}
}
