package rendezvous

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nickspiker/photon/pkg/digest"
)

// IPChangeNotice is pushed over the WebSocket connection when a peer's
// public endpoint changes.
type IPChangeNotice struct {
	HandleProof    [digest.Size]byte
	PublicEndpoint string
}

type ipChangeWire struct {
	HandleProof    string `json:"handle_proof"`
	PublicEndpoint string `json:"public_endpoint"`
}

// PushClient maintains a reconnecting WebSocket connection to FGTW's
// IP-change push endpoint: an exponential-backoff reconnect loop, adapted
// from a TCP relay connection to a WebSocket subscription.
type PushClient struct {
	wsURL string
	dial  *websocket.Dialer
}

// NewPushClient builds a PushClient against an FGTW base URL (http(s)://
// is rewritten to ws(s)://).
func NewPushClient(baseURL string) *PushClient {
	wsURL := strings.Replace(baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	return &PushClient{
		wsURL: wsURL + "/directory/ws",
		dial:  websocket.DefaultDialer,
	}
}

// Run connects and redelivers IP-change notices to onChange until ctx is
// cancelled, reconnecting with exponential backoff on any disconnect and
// resetting the backoff after a healthy connection.
func (p *PushClient) Run(ctx context.Context, onChange func(IPChangeNotice)) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := p.dial.DialContext(ctx, p.wsURL, nil)
		if err != nil {
			log.Printf("⚠️ rendezvous: ws dial failed, retrying in %v: %v", backoff, err)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}

		log.Printf("✅ rendezvous: ws connected to %s", p.wsURL)
		backoff = time.Second
		p.readLoop(ctx, conn, onChange)
		conn.Close()

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (p *PushClient) readLoop(ctx context.Context, conn *websocket.Conn, onChange func(IPChangeNotice)) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go p.pingLoop(conn, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var wire ipChangeWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			continue
		}
		var notice IPChangeNotice
		hp, err := decodeHex32(wire.HandleProof)
		if err != nil {
			continue
		}
		notice.HandleProof = hp
		notice.PublicEndpoint = wire.PublicEndpoint
		onChange(notice)
	}
}

// pingLoop keeps the connection alive through idle intermediaries.
func (p *PushClient) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func decodeHex32(s string) ([digest.Size]byte, error) {
	var out [digest.Size]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

// pingInterval is how often pingLoop keeps the connection alive.
const pingInterval = 30 * time.Second
