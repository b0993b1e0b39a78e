package rendezvous

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
)

func TestAttestAndLookup(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	want := Attestation{
		HandleProof:    digest.BLAKE3([]byte("handle-proof")),
		DevicePubkey:   pub,
		PublicEndpoint: "203.0.113.5:7777",
		LastSeen:       eagletime.Now(),
	}

	var stored attestationWire
	mux := http.NewServeMux()
	mux.HandleFunc("/directory/attest", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&stored))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/directory/lookup/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(stored)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := New(srv.URL)
	require.NoError(t, client.Attest(t.Context(), want))

	got, err := client.Lookup(t.Context(), want.HandleProof)
	require.NoError(t, err)
	assert.Equal(t, want.HandleProof, got.HandleProof)
	assert.Equal(t, want.PublicEndpoint, got.PublicEndpoint)
	assert.Equal(t, want.DevicePubkey, got.DevicePubkey)
}

func TestLookupNotAttested(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/directory/lookup/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := New(srv.URL)
	_, err := client.Lookup(t.Context(), digest.BLAKE3([]byte("nobody")))
	assert.ErrorIs(t, err, ErrNotAttested)
}

func TestRelaySubmitAndPickup(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	recipient, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	payload := []byte("a signed vsf envelope, stand-in bytes")
	var gotRecipient, gotSender string

	mux := http.NewServeMux()
	mux.HandleFunc("/conduit", func(w http.ResponseWriter, r *http.Request) {
		gotRecipient = r.Header.Get("X-Photon-Recipient")
		gotSender = r.Header.Get("X-Photon-Sender")
		sig, err := base64.StdEncoding.DecodeString(r.Header.Get("X-Photon-Signature"))
		require.NoError(t, err)
		assert.True(t, ed25519.Verify(pub, payload, sig))
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := New(srv.URL).WithSigner(pub, priv)
	require.NoError(t, client.Submit(t.Context(), recipient, payload))
	assert.Equal(t, base64.StdEncoding.EncodeToString(recipient), gotRecipient)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pub), gotSender)
}

func TestSplitFramed(t *testing.T) {
	var raw []byte
	frame := func(b []byte) {
		n := len(b)
		for i := 7; i >= 0; i-- {
			raw = append(raw, byte(n>>(8*i)))
		}
		raw = append(raw, b...)
	}
	frame([]byte("first"))
	frame([]byte("second"))

	out, err := splitFramed(raw)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "first", string(out[0]))
	assert.Equal(t, "second", string(out[1]))
}
