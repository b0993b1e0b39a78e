package pt

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu       sync.Mutex
	udpSends [][]byte
	tcpSends [][]byte
	relaySends [][]byte

	tcpErr   error
	relayErr error
}

func (f *fakeTransport) SendUDP(ctx context.Context, addr string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.udpSends = append(f.udpSends, payload)
	return nil
}

func (f *fakeTransport) SendTCP(ctx context.Context, addr string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tcpSends = append(f.tcpSends, payload)
	return f.tcpErr
}

func (f *fakeTransport) SendRelay(ctx context.Context, recipient ed25519.PublicKey, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relaySends = append(f.relaySends, payload)
	return f.relayErr
}

func (f *fakeTransport) udpCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.udpSends)
}

func genKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return priv
}

func TestSenderCompletesOverUDPWhenAcked(t *testing.T) {
	priv := genKey(t)
	transport := &fakeTransport{}
	s := NewSender(priv, transport)
	s.tickInterval = 10 * time.Millisecond
	s.tcpAfter = time.Hour
	s.relayAfter = time.Hour

	payload := make([]byte, ChunkSize*3+10)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan Outcome, 1)
	errc := make(chan error, 1)
	go func() {
		outcome, err := s.Send(ctx, Endpoint{Addr: "127.0.0.1:9999"}, 42, payload)
		if err != nil {
			errc <- err
			return
		}
		done <- outcome
	}()

	// Wait until the spec has gone out, then simulate the receiver's ack flow.
	require.Eventually(t, func() bool { return transport.udpCount() >= 1 }, time.Second, 5*time.Millisecond)
	s.Events() <- InboundEvent{Kind: EventSpecAck}

	require.Eventually(t, func() bool { return transport.udpCount() >= 4 }, time.Second, 5*time.Millisecond)
	s.Events() <- InboundEvent{Kind: EventAck, Ack: Ack{TransferID: 42, Received: []uint32{0, 1, 2, 3}}}

	select {
	case outcome := <-done:
		require.True(t, outcome.OK)
		require.Equal(t, "udp", outcome.Path)
		require.Equal(t, uint64(42), outcome.TransferID)
	case err := <-errc:
		t.Fatalf("send failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
	}
}

func TestSenderFallsBackToTCPAfterTimeout(t *testing.T) {
	priv := genKey(t)
	transport := &fakeTransport{}
	s := NewSender(priv, transport)
	s.tickInterval = 5 * time.Millisecond
	s.tcpAfter = 20 * time.Millisecond
	s.relayAfter = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	outcome, err := s.Send(ctx, Endpoint{Addr: "127.0.0.1:9999"}, 7, []byte("hello"))
	require.NoError(t, err)
	require.True(t, outcome.OK)
	require.Equal(t, "tcp", outcome.Path)

	transport.mu.Lock()
	defer transport.mu.Unlock()
	require.NotEmpty(t, transport.tcpSends)
	require.Equal(t, []byte("hello"), transport.tcpSends[0])
}

func TestSenderFallsBackToRelayAfterTCPAndUDPFail(t *testing.T) {
	priv := genKey(t)
	transport := &fakeTransport{tcpErr: context.DeadlineExceeded}
	s := NewSender(priv, transport)
	s.tickInterval = 5 * time.Millisecond
	s.tcpAfter = 10 * time.Millisecond
	s.relayAfter = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	outcome, err := s.Send(ctx, Endpoint{Addr: "127.0.0.1:9999"}, 9, []byte("payload"))
	require.NoError(t, err)
	require.True(t, outcome.OK)
	require.Equal(t, "relay", outcome.Path)
}

func TestChunkPayload(t *testing.T) {
	payload := make([]byte, ChunkSize*2+1)
	chunks := chunkPayload(payload)
	require.Len(t, chunks, 3)
	require.Len(t, chunks[0], ChunkSize)
	require.Len(t, chunks[1], ChunkSize)
	require.Len(t, chunks[2], 1)
}
