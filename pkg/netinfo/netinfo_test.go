package netinfo

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEndpointString(t *testing.T) {
	e := Endpoint{IP: net.ParseIP("203.0.113.5"), Port: 51820}
	require.Equal(t, "203.0.113.5:51820", e.String())
}

func TestDiscoverPublicEndpointFailsFastOnUnresolvableServer(t *testing.T) {
	_, err := DiscoverPublicEndpoint("not-a-real-stun-host.invalid:19302", 200*time.Millisecond)
	require.Error(t, err)
}

func TestDiscoverPublicEndpointAnyReturnsAggregateErrorWhenAllFail(t *testing.T) {
	_, err := DiscoverPublicEndpointAny([]string{
		"not-a-real-stun-host.invalid:19302",
		"also-not-real.invalid:19302",
	}, 200*time.Millisecond)
	require.Error(t, err)
}
