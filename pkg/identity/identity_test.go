package identity

import "testing"

func TestHandleHashNormalizesNFCNFD(t *testing.T) {
	nfc := "café"        // é as one codepoint
	nfd := "café"       // e + combining acute
	if HandleHash(nfc) != HandleHash(nfd) {
		t.Fatalf("NFC and NFD forms of the same handle hashed differently")
	}
}

func TestHandleHashDeterministic(t *testing.T) {
	a := HandleHash("nem")
	b := HandleHash("nem")
	if a != b {
		t.Fatalf("HandleHash not deterministic")
	}
}

func TestDeriveDeviceKeyPairDeterministic(t *testing.T) {
	fp := []byte("machine-a")
	a := DeriveDeviceKeyPair(fp)
	b := DeriveDeviceKeyPair(fp)
	if !a.Public.Equal(b.Public) {
		t.Fatalf("device keypair derivation not deterministic")
	}
}

func TestX25519ConversionStable(t *testing.T) {
	kp := DeriveDeviceKeyPair([]byte("machine-a"))
	pub1, err := kp.X25519Public()
	if err != nil {
		t.Fatalf("X25519Public: %v", err)
	}
	pub2, err := kp.X25519Public()
	if err != nil {
		t.Fatalf("X25519Public: %v", err)
	}
	if pub1 != pub2 {
		t.Fatalf("X25519 conversion not stable")
	}
}
