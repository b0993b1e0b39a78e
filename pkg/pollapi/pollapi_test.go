package pollapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nickspiker/photon/pkg/core"
	"github.com/nickspiker/photon/pkg/identity"
	"github.com/nickspiker/photon/pkg/pt"
)

func startNode(t *testing.T) *core.Node {
	t.Helper()
	device := identity.DeriveDeviceKeyPair([]byte("poll-test-machine"))
	node := core.NewNode("alice", device, nil, nil, nil, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go node.RunUIThread(ctx)
	return node
}

func TestStatusAndContacts(t *testing.T) {
	node := startNode(t)
	bob := identity.DeriveDeviceKeyPair([]byte("poll-test-bob"))
	node.AddContact("bob", pt.ContactAddressing{Recipient: bob.Public})

	ts := httptest.NewServer(New(node).Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		Handle   string `json:"handle"`
		Contacts int    `json:"contacts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, "alice", status.Handle)
	require.Equal(t, 1, status.Contacts)

	resp2, err := http.Get(ts.URL + "/v1/contacts")
	require.NoError(t, err)
	defer resp2.Body.Close()

	var contacts struct {
		Contacts []struct {
			Handle        string `json:"handle"`
			Trust         string `json:"trust"`
			CeremonyState string `json:"ceremony_state"`
		} `json:"contacts"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&contacts))
	require.Len(t, contacts.Contacts, 1)
	require.Equal(t, "bob", contacts.Contacts[0].Handle)
	require.Equal(t, "unverified", contacts.Contacts[0].Trust)
	require.Equal(t, "pending", contacts.Contacts[0].CeremonyState)
}

func TestMessagesRejectsBadToken(t *testing.T) {
	node := startNode(t)
	ts := httptest.NewServer(New(node).Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/conversations/nothex/messages")
	require.NoError(t, err)
	defer resp.Body.Close()
	// With no history store configured the 404 wins; with one, a malformed
	// token is a 400. Either way it is an error, never a 200.
	require.NotEqual(t, http.StatusOK, resp.StatusCode)
}
