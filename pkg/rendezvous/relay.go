package rendezvous

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/nickspiker/photon/pkg/digest"
)

// deviceSigner is set once via WithSigner so Submit can sign the relay
// request headers in addition
// to whatever signature is already embedded in the VSF envelope payload
// this is FGTW's own admission check on who may fill a recipient's
// mailbox, separate from the payload's own authenticity.
type deviceSigner struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// WithSigner attaches the device identity that Submit signs relay
// requests with. Required before Submit serves as the relay fallback.
func (c *Client) WithSigner(pub ed25519.PublicKey, priv ed25519.PrivateKey) *Client {
	c.signer = &deviceSigner{pub: pub, priv: priv}
	return c
}

// Submit implements both pt.RelaySubmitter and the relay half of
// pt.Transport: an HTTP PUT of the signed VSF payload to FGTW's /conduit
// endpoint, addressed by recipient pubkey.
func (c *Client) Submit(ctx context.Context, recipient ed25519.PublicKey, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/conduit", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("rendezvous: building relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Photon-Recipient", base64.StdEncoding.EncodeToString(recipient))

	if c.signer != nil {
		sig := ed25519.Sign(c.signer.priv, payload)
		req.Header.Set("X-Photon-Sender", base64.StdEncoding.EncodeToString(c.signer.pub))
		req.Header.Set("X-Photon-Signature", base64.StdEncoding.EncodeToString(sig))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rendezvous: relay submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("rendezvous: relay rejected submission: %s", resp.Status)
	}
	return nil
}

// Pickup polls FGTW for any payloads queued for our own device pubkey.
// Each returned item is a complete VSF-framed payload, ready for the
// same dispatch pipeline as a UDP/TCP delivery.
func (c *Client) Pickup(ctx context.Context, self ed25519.PublicKey) ([][]byte, error) {
	url := fmt.Sprintf("%s/conduit/%s", c.baseURL, base64.StdEncoding.EncodeToString(self))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: building pickup request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: pickup request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rendezvous: pickup failed: %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rendezvous: reading pickup body: %w", err)
	}
	return splitFramed(raw)
}

// splitFramed walks length-prefixed (8-byte big-endian) payloads packed
// back to back, the shape FGTW's pickup response bundles queued mailbox
// entries in.
func splitFramed(raw []byte) ([][]byte, error) {
	var out [][]byte
	for len(raw) > 0 {
		if len(raw) < 8 {
			return nil, fmt.Errorf("rendezvous: truncated pickup frame")
		}
		n := 0
		for i := 0; i < 8; i++ {
			n = n<<8 | int(raw[i])
		}
		raw = raw[8:]
		if len(raw) < n {
			return nil, fmt.Errorf("rendezvous: truncated pickup payload")
		}
		out = append(out, raw[:n])
		raw = raw[n:]
	}
	return out, nil
}

// handleProofQuery formats a handle-proof for use in a URL path segment,
// matching the %x format Lookup's URL builder uses.
func handleProofQuery(hp [digest.Size]byte) string {
	return fmt.Sprintf("%x", hp)
}
