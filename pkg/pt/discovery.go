package pt

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net"
	"time"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
	"github.com/nickspiker/photon/pkg/vsf"
)

// Fixed link-local multicast groups for LAN peer discovery.
const (
	MulticastGroupV4 = "239.104.199.144:42424"
	MulticastGroupV6 = "[ff02::68c7:9014]:42424"

	discoveryInterval = 30 * time.Second
)

// Beacon periodically multicasts a pt_disc packet advertising this node's
// handle-proof and listening port.
type Beacon struct {
	priv        ed25519.PrivateKey
	handleProof [digest.Size]byte
	port        uint16

	v4Conn *net.UDPConn
	v6Conn *net.UDPConn
}

// NewBeacon dials both multicast groups for sending (not joining; only
// listeners join the group).
func NewBeacon(priv ed25519.PrivateKey, handleProof [digest.Size]byte, port uint16) (*Beacon, error) {
	v4Addr, err := net.ResolveUDPAddr("udp4", MulticastGroupV4)
	if err != nil {
		return nil, fmt.Errorf("pt: resolving ipv4 multicast group: %w", err)
	}
	v4Conn, err := net.DialUDP("udp4", nil, v4Addr)
	if err != nil {
		return nil, fmt.Errorf("pt: dialing ipv4 multicast group: %w", err)
	}

	v6Addr, err := net.ResolveUDPAddr("udp6", MulticastGroupV6)
	if err != nil {
		v4Conn.Close()
		return nil, fmt.Errorf("pt: resolving ipv6 multicast group: %w", err)
	}
	v6Conn, err := net.DialUDP("udp6", nil, v6Addr)
	if err != nil {
		v4Conn.Close()
		return nil, fmt.Errorf("pt: dialing ipv6 multicast group: %w", err)
	}

	return &Beacon{priv: priv, handleProof: handleProof, port: port, v4Conn: v4Conn, v6Conn: v6Conn}, nil
}

func (b *Beacon) Close() error {
	err1 := b.v4Conn.Close()
	err2 := b.v6Conn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (b *Beacon) send() {
	raw := EncodeDisc(b.priv, Disc{HandleProof: b.handleProof, Port: b.port}, eagletime.Now())
	b.v4Conn.Write(raw)
	b.v6Conn.Write(raw)
}

// Broadcast sends one beacon immediately, outside Run's schedule (the
// upper layer nudges this on demand, e.g. right after attestation).
func (b *Beacon) Broadcast() { b.send() }

// Run sends a beacon immediately, then every discoveryInterval, until ctx
// is cancelled.
func (b *Beacon) Run(ctx context.Context) {
	b.send()
	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.send()
		}
	}
}

// Listener joins both multicast groups and reports pt_disc beacons from
// other nodes.
type Listener struct {
	v4 *net.UDPConn
	v6 *net.UDPConn
}

// NewListener joins both fixed groups for receiving.
func NewListener() (*Listener, error) {
	v4Addr, err := net.ResolveUDPAddr("udp4", MulticastGroupV4)
	if err != nil {
		return nil, fmt.Errorf("pt: resolving ipv4 multicast group: %w", err)
	}
	v4Conn, err := net.ListenMulticastUDP("udp4", nil, v4Addr)
	if err != nil {
		return nil, fmt.Errorf("pt: joining ipv4 multicast group: %w", err)
	}

	v6Addr, err := net.ResolveUDPAddr("udp6", MulticastGroupV6)
	if err != nil {
		v4Conn.Close()
		return nil, fmt.Errorf("pt: resolving ipv6 multicast group: %w", err)
	}
	v6Conn, err := net.ListenMulticastUDP("udp6", nil, v6Addr)
	if err != nil {
		v4Conn.Close()
		return nil, fmt.Errorf("pt: joining ipv6 multicast group: %w", err)
	}

	return &Listener{v4: v4Conn, v6: v6Conn}, nil
}

func (l *Listener) Close() error {
	err1 := l.v4.Close()
	err2 := l.v6.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Serve reads beacons from both groups until ctx is cancelled, calling
// onDisc for each valid one. Source address comparison against a contact's
// advertised public IP (the hairpin-bypass decision) is the caller's job
// this just delivers (Disc, signer, source addr).
func (l *Listener) Serve(ctx context.Context, onDisc func(Disc, ed25519.PublicKey, net.Addr)) error {
	errc := make(chan error, 2)
	go l.serveOne(ctx, l.v4, onDisc, errc)
	go l.serveOne(ctx, l.v6, onDisc, errc)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}

func (l *Listener) serveOne(ctx context.Context, conn *net.UDPConn, onDisc func(Disc, ed25519.PublicKey, net.Addr), errc chan<- error) {
	buf := make([]byte, maxDatagram)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				errc <- fmt.Errorf("pt: multicast read: %w", err)
				return
			}
		}
		env, err := vsf.Parse(append([]byte(nil), buf[:n]...))
		if err != nil {
			continue
		}
		if err := env.Verify(); err != nil {
			continue
		}
		disc, pub, err := ParseDisc(env)
		if err != nil {
			continue
		}
		onDisc(disc, pub, raddr)
	}
}
