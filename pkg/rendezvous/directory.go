package rendezvous

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nickspiker/photon/pkg/digest"
)

// Client is an HTTP(S) client for FGTW's directory and relay endpoints.
// One Client is shared by the attestation loop, contact lookups, and PT's
// relay fallback (it implements pt.RelaySubmitter; see relay.go).
type Client struct {
	baseURL string
	http    *http.Client
	signer  *deviceSigner
}

// New builds a Client against an FGTW base URL, e.g.
// "https://fgtw.example.com".
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultRequestTimeout},
	}
}

// Attest publishes this node's attestation record.
func (c *Client) Attest(ctx context.Context, a Attestation) error {
	body, err := json.Marshal(toWire(a))
	if err != nil {
		return fmt.Errorf("rendezvous: encoding attestation: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/directory/attest", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rendezvous: building attest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rendezvous: attest request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rendezvous: attest rejected: %s", resp.Status)
	}
	return nil
}

// Lookup resolves a handle-proof to its current attestation.
func (c *Client) Lookup(ctx context.Context, handleProof [digest.Size]byte) (Attestation, error) {
	url := fmt.Sprintf("%s/directory/lookup/%s", c.baseURL, handleProofQuery(handleProof))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Attestation{}, fmt.Errorf("rendezvous: building lookup request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Attestation{}, fmt.Errorf("rendezvous: lookup request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return Attestation{}, ErrNotAttested
	}
	if resp.StatusCode != http.StatusOK {
		return Attestation{}, fmt.Errorf("rendezvous: lookup failed: %s", resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Attestation{}, fmt.Errorf("rendezvous: reading lookup body: %w", err)
	}
	var wire attestationWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Attestation{}, fmt.Errorf("rendezvous: decoding lookup body: %w", err)
	}
	return fromWire(wire)
}

// ErrNotAttested is returned by Lookup when no attestation is on file for
// the given handle-proof.
var ErrNotAttested = fmt.Errorf("rendezvous: no attestation on file for that handle-proof")
