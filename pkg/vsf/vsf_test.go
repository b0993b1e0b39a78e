package vsf

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nickspiker/photon/pkg/eagletime"
)

func testKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv
}

func TestEncodeParseRoundTrip(t *testing.T) {
	priv := testKey(t)
	env := &Envelope{
		CreationTime: eagletime.Now(),
		HeaderFields: []Field{{Name: "hint", Values: [][]byte{[]byte("abc")}}},
		Sections: []Section{{
			Name: "ChatMessage",
			Fields: []Field{
				{Name: "conversation_token", Values: [][]byte{make([]byte, 32)}},
				{Name: "ciphertext", Values: [][]byte{{1, 2, 3, 4}}},
			},
		}},
	}
	env.Sign(priv)
	raw := env.Encode()

	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.NoError(t, parsed.Verify())

	require.Equal(t, env.CreationTime, parsed.CreationTime)
	require.Equal(t, env.ProvenanceHash, parsed.ProvenanceHash)
	require.Equal(t, []byte(env.SignerPubkey), []byte(parsed.SignerPubkey))

	sec, ok := parsed.SectionByName("ChatMessage")
	require.True(t, ok)
	ct, ok := sec.Field("ciphertext")
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3, 4}, ct.Value())

	hint, ok := parsed.Field("hint")
	require.True(t, ok)
	require.Equal(t, []byte("abc"), hint.Value())
}

func TestParseRejectsBadMagic(t *testing.T) {
	priv := testKey(t)
	env := &Envelope{CreationTime: eagletime.Now()}
	env.Sign(priv)
	raw := env.Encode()
	raw[0] ^= 0xFF

	_, err := Parse(raw)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestVerifyRejectsTamperedProvenance(t *testing.T) {
	priv := testKey(t)
	env := &Envelope{CreationTime: eagletime.Now()}
	env.Sign(priv)
	raw := env.Encode()

	// The provenance hash sits right after magic + '<' + 8-byte timestamp.
	raw[len(Magic)+1+8] ^= 0x01

	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.ErrorIs(t, parsed.Verify(), ErrBadSignature)
}

func TestVerifyRejectsForeignSigner(t *testing.T) {
	priv := testKey(t)
	env := &Envelope{CreationTime: eagletime.Now()}
	env.Sign(priv)

	other := testKey(t)
	env.SignerPubkey = other.Public().(ed25519.PublicKey)
	require.ErrorIs(t, env.Verify(), ErrBadSignature)
}

func TestParseTruncated(t *testing.T) {
	priv := testKey(t)
	env := &Envelope{CreationTime: eagletime.Now()}
	env.Sign(priv)
	raw := env.Encode()

	for _, cut := range []int{1, 5, 20, len(raw) - 1} {
		_, err := Parse(raw[:cut])
		require.Error(t, err, "cut at %d", cut)
	}
}
