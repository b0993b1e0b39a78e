package pt

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/nickspiker/photon/pkg/vsf"
)

// maxDatagram bounds a single UDP read; VSF framing plus one ChunkSize
// chunk comfortably fits.
const maxDatagram = 2048

// RelaySubmitter hands a payload to the FGTW relay addressed by recipient
//. Implemented by pkg/rendezvous.
type RelaySubmitter interface {
	Submit(ctx context.Context, recipient ed25519.PublicKey, payload []byte) error
}

// Handlers routes parsed inbound packets to the owning state machines.
// Any field left nil silently drops that packet kind.
type Handlers struct {
	OnSpec func(Spec, ed25519.PublicKey, net.Addr)
	OnData func(Data, ed25519.PublicKey, net.Addr)
	OnAck  func(Ack, net.Addr)
	OnNak  func(Nak, net.Addr)
	OnDone func(Done, net.Addr)
	OnDisc func(Disc, ed25519.PublicKey, net.Addr)

	// OnOther receives any verified envelope whose section name isn't one
	// of PT's own six: StatusPing/StatusPong
	// and any future top-level message type share this socket without PT
	// needing to know their shape.
	OnOther func(*vsf.Envelope, net.Addr)
}

// Socket owns PT's UDP conn and TCP listener, bound to the same port,
// dual-stack IPv6-preferred.
type Socket struct {
	udpConn     *net.UDPConn
	tcpListener net.Listener
	relay       RelaySubmitter
}

// NewSocket binds addr (e.g. ":7777") for both UDP and TCP.
func NewSocket(addr string, relay RelaySubmitter) (*Socket, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("pt: resolving udp addr: %w", err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("pt: binding udp: %w", err)
	}
	tcpListener, err := net.Listen("tcp", addr)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("pt: binding tcp: %w", err)
	}
	return &Socket{udpConn: udpConn, tcpListener: tcpListener, relay: relay}, nil
}

func (s *Socket) Close() error {
	err1 := s.udpConn.Close()
	err2 := s.tcpListener.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// LocalPort reports the UDP port this socket bound, for advertising in
// attestations and pt_disc beacons.
func (s *Socket) LocalPort() int {
	return s.udpConn.LocalAddr().(*net.UDPAddr).Port
}

// SendUDP implements Transport.
func (s *Socket) SendUDP(ctx context.Context, addr string, payload []byte) error {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("pt: resolving udp peer: %w", err)
	}
	_, err = s.udpConn.WriteToUDP(payload, raddr)
	return err
}

// SendTCP implements Transport: open a connection, length-prefix the
// entire payload, push it, then signal write-done and wait for the peer's
// FIN.
func (s *Socket) SendTCP(ctx context.Context, addr string, payload []byte) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("pt: tcp dial: %w", err)
	}
	defer conn.Close()

	var lenPrefix [8]byte
	binary.BigEndian.PutUint64(lenPrefix[:], uint64(len(payload)))
	if _, err := conn.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("pt: tcp write length: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("pt: tcp write payload: %w", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.CloseWrite(); err != nil {
			return fmt.Errorf("pt: tcp close-write: %w", err)
		}
	}
	if _, err := io.Copy(io.Discard, conn); err != nil && err != io.EOF {
		return fmt.Errorf("pt: tcp awaiting fin: %w", err)
	}
	return nil
}

// SendRelay implements Transport.
func (s *Socket) SendRelay(ctx context.Context, recipient ed25519.PublicKey, payload []byte) error {
	if s.relay == nil {
		return fmt.Errorf("pt: no relay submitter configured")
	}
	return s.relay.Submit(ctx, recipient, payload)
}

// ServeUDP reads datagrams until ctx is cancelled, dispatching each parsed
// envelope to the matching Handlers callback.
func (s *Socket) ServeUDP(ctx context.Context, h Handlers) error {
	go func() {
		<-ctx.Done()
		s.udpConn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, raddr, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("pt: udp read: %w", err)
			}
		}
		dispatchEnvelope(append([]byte(nil), buf[:n]...), raddr, h)
	}
}

// ServeTCP accepts connections until ctx is cancelled, reading each
// length-prefixed full transfer payload and dispatching it as a completed
// TCP-fallback delivery.
func (s *Socket) ServeTCP(ctx context.Context, onPayload func([]byte, net.Addr)) error {
	go func() {
		<-ctx.Done()
		s.tcpListener.Close()
	}()

	for {
		conn, err := s.tcpListener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("pt: tcp accept: %w", err)
			}
		}
		go handleTCPConn(conn, onPayload)
	}
}

func handleTCPConn(conn net.Conn, onPayload func([]byte, net.Addr)) {
	defer conn.Close()

	var lenPrefix [8]byte
	if _, err := io.ReadFull(conn, lenPrefix[:]); err != nil {
		log.Printf("pt: tcp length read: %v", err)
		return
	}
	n := binary.BigEndian.Uint64(lenPrefix[:])

	payload := make([]byte, n)
	if _, err := io.ReadFull(conn, payload); err != nil {
		log.Printf("pt: tcp payload read: %v", err)
		return
	}
	onPayload(payload, conn.RemoteAddr())
}

func dispatchEnvelope(raw []byte, raddr net.Addr, h Handlers) {
	env, err := vsf.Parse(raw)
	if err != nil {
		return
	}
	if err := env.Verify(); err != nil {
		return
	}

	if _, ok := env.SectionByName(SectionSpec); ok && h.OnSpec != nil {
		if spec, pub, err := ParseSpec(env); err == nil {
			h.OnSpec(spec, pub, raddr)
		}
		return
	}
	if _, ok := env.SectionByName(SectionData); ok && h.OnData != nil {
		if data, pub, err := ParseData(env); err == nil {
			h.OnData(data, pub, raddr)
		}
		return
	}
	if _, ok := env.SectionByName(SectionAck); ok && h.OnAck != nil {
		if ack, err := ParseAck(env); err == nil {
			h.OnAck(ack, raddr)
		}
		return
	}
	if _, ok := env.SectionByName(SectionNak); ok && h.OnNak != nil {
		if nak, err := ParseNak(env); err == nil {
			h.OnNak(nak, raddr)
		}
		return
	}
	if _, ok := env.SectionByName(SectionDone); ok && h.OnDone != nil {
		if done, err := ParseDone(env); err == nil {
			h.OnDone(done, raddr)
		}
		return
	}
	if _, ok := env.SectionByName(SectionDisc); ok && h.OnDisc != nil {
		if disc, pub, err := ParseDisc(env); err == nil {
			h.OnDisc(disc, pub, raddr)
		}
		return
	}

	if h.OnOther != nil {
		h.OnOther(env, raddr)
	}
}
