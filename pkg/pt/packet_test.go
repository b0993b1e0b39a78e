package pt

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
	"github.com/nickspiker/photon/pkg/vsf"
)

func TestSpecWireRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	spec := Spec{TransferID: 123, TotalPackets: 4, TotalSize: 4096, RecipientHint: pub}
	raw := EncodeSpec(priv, spec, eagletime.Now())

	env, err := vsf.Parse(raw)
	require.NoError(t, err)
	require.NoError(t, env.Verify())

	parsed, signer, err := ParseSpec(env)
	require.NoError(t, err)
	require.Equal(t, spec.TransferID, parsed.TransferID)
	require.Equal(t, spec.TotalPackets, parsed.TotalPackets)
	require.Equal(t, spec.TotalSize, parsed.TotalSize)
	require.Equal(t, pub, parsed.RecipientHint)
	require.Equal(t, pub, signer)
}

func TestDataWireRoundTrip(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	d := Data{TransferID: 1, Index: 2, Chunk: []byte("chunk bytes"), IsParity: true}
	raw := EncodeData(priv, d, eagletime.Now())

	env, err := vsf.Parse(raw)
	require.NoError(t, err)

	parsed, _, err := ParseData(env)
	require.NoError(t, err)
	require.Equal(t, d.TransferID, parsed.TransferID)
	require.Equal(t, d.Index, parsed.Index)
	require.Equal(t, d.Chunk, parsed.Chunk)
	require.True(t, parsed.IsParity)
}

func TestAckAndNakWireRoundTrip(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	ack := Ack{TransferID: 5, Received: []uint32{0, 2, 4}}
	raw := EncodeAck(priv, ack, eagletime.Now())
	env, err := vsf.Parse(raw)
	require.NoError(t, err)
	parsedAck, err := ParseAck(env)
	require.NoError(t, err)
	require.Equal(t, ack.Received, parsedAck.Received)

	nak := Nak{TransferID: 5, Missing: []uint32{1, 3}}
	rawNak := EncodeNak(priv, nak, eagletime.Now())
	envNak, err := vsf.Parse(rawNak)
	require.NoError(t, err)
	parsedNak, err := ParseNak(envNak)
	require.NoError(t, err)
	require.Equal(t, nak.Missing, parsedNak.Missing)
}

func TestDoneWireRoundTrip(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	done := Done{TransferID: 9, Success: true}
	raw := EncodeDone(priv, done, eagletime.Now())
	env, err := vsf.Parse(raw)
	require.NoError(t, err)
	parsed, err := ParseDone(env)
	require.NoError(t, err)
	require.True(t, parsed.Success)
	require.Equal(t, done.TransferID, parsed.TransferID)
}

func TestDiscWireRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	disc := Disc{HandleProof: digest.BLAKE3([]byte("handle")), Port: 7777}
	raw := EncodeDisc(priv, disc, eagletime.Now())
	env, err := vsf.Parse(raw)
	require.NoError(t, err)
	parsed, signer, err := ParseDisc(env)
	require.NoError(t, err)
	require.Equal(t, disc.HandleProof, parsed.HandleProof)
	require.Equal(t, disc.Port, parsed.Port)
	require.Equal(t, pub, signer)
}
