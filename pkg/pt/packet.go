// Package pt implements the packetized transport: reliable delivery of
// arbitrary-size signed payloads across NAT'd, lossy networks, with a
// UDP-first / TCP-fallback / relay-fallback sender state machine and a
// gated, bitmap-reassembling receiver state machine.
package pt

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
	"github.com/nickspiker/photon/pkg/vsf"
)

// Section names for PT's seven wire packet types (pt_ctrl has no encoder
// or parser in this package).
const (
	SectionSpec = "pt_spec"
	SectionData = "pt_data"
	SectionAck  = "pt_ack"
	SectionNak  = "pt_nak"
	SectionCtrl = "pt_ctrl"
	SectionDone = "pt_done"
	SectionDisc = "pt_disc"
)

// Spec announces an outbound transfer.
type Spec struct {
	TransferID         uint64
	TotalPackets       uint32
	TotalSize          uint64
	RecipientHint      ed25519.PublicKey // optional, may be nil
}

func putU64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func putU32(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func getU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("pt: expected 8-byte integer, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func getU32(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("pt: expected 4-byte integer, got %d", len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

// EncodeSpec builds and signs a pt_spec envelope.
func EncodeSpec(priv ed25519.PrivateKey, s Spec, creation eagletime.Time) []byte {
	fields := []vsf.Field{
		{Name: "transfer_id", Values: [][]byte{putU64(s.TransferID)}},
		{Name: "total_packets", Values: [][]byte{putU32(s.TotalPackets)}},
		{Name: "total_size", Values: [][]byte{putU64(s.TotalSize)}},
	}
	if len(s.RecipientHint) == ed25519.PublicKeySize {
		fields = append(fields, vsf.Field{Name: "recipient_hint", Values: [][]byte{s.RecipientHint}})
	}
	env := &vsf.Envelope{
		CreationTime: creation,
		Sections:     []vsf.Section{{Name: SectionSpec, Fields: fields}},
	}
	env.Sign(priv)
	return env.Encode()
}

// ParseSpec recovers a Spec and the sender's pubkey from a parsed envelope.
func ParseSpec(env *vsf.Envelope) (Spec, ed25519.PublicKey, error) {
	sec, ok := env.SectionByName(SectionSpec)
	if !ok {
		return Spec{}, nil, fmt.Errorf("pt: envelope has no %s section", SectionSpec)
	}
	var s Spec
	tf, ok := sec.Field("transfer_id")
	if !ok {
		return s, nil, fmt.Errorf("pt: pt_spec missing transfer_id")
	}
	id, err := getU64(tf.Value())
	if err != nil {
		return s, nil, err
	}
	s.TransferID = id

	pf, ok := sec.Field("total_packets")
	if !ok {
		return s, nil, fmt.Errorf("pt: pt_spec missing total_packets")
	}
	tp, err := getU32(pf.Value())
	if err != nil {
		return s, nil, err
	}
	s.TotalPackets = tp

	szf, ok := sec.Field("total_size")
	if !ok {
		return s, nil, fmt.Errorf("pt: pt_spec missing total_size")
	}
	sz, err := getU64(szf.Value())
	if err != nil {
		return s, nil, err
	}
	s.TotalSize = sz

	if hf, ok := sec.Field("recipient_hint"); ok {
		s.RecipientHint = append(ed25519.PublicKey(nil), hf.Value()...)
	}

	return s, env.SignerPubkey, nil
}

// Data carries one chunk of one transfer.
type Data struct {
	TransferID uint64
	Index      uint32
	IsParity   bool // FEC parity shard, see pkg/pt/fec
	Chunk      []byte
}

func EncodeData(priv ed25519.PrivateKey, d Data, creation eagletime.Time) []byte {
	fields := []vsf.Field{
		{Name: "transfer_id", Values: [][]byte{putU64(d.TransferID)}},
		{Name: "index", Values: [][]byte{putU32(d.Index)}},
		{Name: "chunk", Values: [][]byte{d.Chunk}},
	}
	if d.IsParity {
		fields = append(fields, vsf.Field{Name: "parity", Values: [][]byte{{1}}})
	}
	env := &vsf.Envelope{
		CreationTime: creation,
		Sections:     []vsf.Section{{Name: SectionData, Fields: fields}},
	}
	env.Sign(priv)
	return env.Encode()
}

func ParseData(env *vsf.Envelope) (Data, ed25519.PublicKey, error) {
	sec, ok := env.SectionByName(SectionData)
	if !ok {
		return Data{}, nil, fmt.Errorf("pt: envelope has no %s section", SectionData)
	}
	var d Data
	tf, ok := sec.Field("transfer_id")
	if !ok {
		return d, nil, fmt.Errorf("pt: pt_data missing transfer_id")
	}
	id, err := getU64(tf.Value())
	if err != nil {
		return d, nil, err
	}
	d.TransferID = id

	idxF, ok := sec.Field("index")
	if !ok {
		return d, nil, fmt.Errorf("pt: pt_data missing index")
	}
	idx, err := getU32(idxF.Value())
	if err != nil {
		return d, nil, err
	}
	d.Index = idx

	cf, ok := sec.Field("chunk")
	if !ok {
		return d, nil, fmt.Errorf("pt: pt_data missing chunk")
	}
	d.Chunk = cf.Value()

	if _, ok := sec.Field("parity"); ok {
		d.IsParity = true
	}

	return d, env.SignerPubkey, nil
}

// Ack is a selective acknowledgment: the set of chunk indices the receiver
// has stored so far for transfer_id.
type Ack struct {
	TransferID uint64
	Received   []uint32
}

func encodeIndexVector(indices []uint32) []byte {
	buf := make([]byte, 0, 4*len(indices))
	for _, i := range indices {
		buf = append(buf, putU32(i)...)
	}
	return buf
}

func decodeIndexVector(b []byte) ([]uint32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("pt: malformed index vector, length %d", len(b))
	}
	out := make([]uint32, 0, len(b)/4)
	for i := 0; i+4 <= len(b); i += 4 {
		out = append(out, binary.BigEndian.Uint32(b[i:i+4]))
	}
	return out, nil
}

func EncodeAck(priv ed25519.PrivateKey, a Ack, creation eagletime.Time) []byte {
	env := &vsf.Envelope{
		CreationTime: creation,
		Sections: []vsf.Section{{
			Name: SectionAck,
			Fields: []vsf.Field{
				{Name: "transfer_id", Values: [][]byte{putU64(a.TransferID)}},
				{Name: "received", Values: [][]byte{encodeIndexVector(a.Received)}},
			},
		}},
	}
	env.Sign(priv)
	return env.Encode()
}

func ParseAck(env *vsf.Envelope) (Ack, error) {
	sec, ok := env.SectionByName(SectionAck)
	if !ok {
		return Ack{}, fmt.Errorf("pt: envelope has no %s section", SectionAck)
	}
	var a Ack
	tf, ok := sec.Field("transfer_id")
	if !ok {
		return a, fmt.Errorf("pt: pt_ack missing transfer_id")
	}
	id, err := getU64(tf.Value())
	if err != nil {
		return a, err
	}
	a.TransferID = id

	rf, ok := sec.Field("received")
	if !ok {
		return a, fmt.Errorf("pt: pt_ack missing received")
	}
	indices, err := decodeIndexVector(rf.Value())
	if err != nil {
		return a, err
	}
	a.Received = indices
	return a, nil
}

// Nak names chunks the receiver is still missing, prioritizing resend.
type Nak struct {
	TransferID uint64
	Missing    []uint32
}

func EncodeNak(priv ed25519.PrivateKey, n Nak, creation eagletime.Time) []byte {
	env := &vsf.Envelope{
		CreationTime: creation,
		Sections: []vsf.Section{{
			Name: SectionNak,
			Fields: []vsf.Field{
				{Name: "transfer_id", Values: [][]byte{putU64(n.TransferID)}},
				{Name: "missing", Values: [][]byte{encodeIndexVector(n.Missing)}},
			},
		}},
	}
	env.Sign(priv)
	return env.Encode()
}

func ParseNak(env *vsf.Envelope) (Nak, error) {
	sec, ok := env.SectionByName(SectionNak)
	if !ok {
		return Nak{}, fmt.Errorf("pt: envelope has no %s section", SectionNak)
	}
	var n Nak
	tf, ok := sec.Field("transfer_id")
	if !ok {
		return n, fmt.Errorf("pt: pt_nak missing transfer_id")
	}
	id, err := getU64(tf.Value())
	if err != nil {
		return n, err
	}
	n.TransferID = id

	mf, ok := sec.Field("missing")
	if !ok {
		return n, fmt.Errorf("pt: pt_nak missing missing")
	}
	missing, err := decodeIndexVector(mf.Value())
	if err != nil {
		return n, err
	}
	n.Missing = missing
	return n, nil
}

// Done flags a transfer's completion (success or failure).
type Done struct {
	TransferID uint64
	Success    bool
}

func EncodeDone(priv ed25519.PrivateKey, d Done, creation eagletime.Time) []byte {
	success := byte(0)
	if d.Success {
		success = 1
	}
	env := &vsf.Envelope{
		CreationTime: creation,
		Sections: []vsf.Section{{
			Name: SectionDone,
			Fields: []vsf.Field{
				{Name: "transfer_id", Values: [][]byte{putU64(d.TransferID)}},
				{Name: "success", Values: [][]byte{{success}}},
			},
		}},
	}
	env.Sign(priv)
	return env.Encode()
}

func ParseDone(env *vsf.Envelope) (Done, error) {
	sec, ok := env.SectionByName(SectionDone)
	if !ok {
		return Done{}, fmt.Errorf("pt: envelope has no %s section", SectionDone)
	}
	var d Done
	tf, ok := sec.Field("transfer_id")
	if !ok {
		return d, fmt.Errorf("pt: pt_done missing transfer_id")
	}
	id, err := getU64(tf.Value())
	if err != nil {
		return d, err
	}
	d.TransferID = id

	sf, ok := sec.Field("success")
	if !ok {
		return d, fmt.Errorf("pt: pt_done missing success")
	}
	v := sf.Value()
	d.Success = len(v) == 1 && v[0] == 1
	return d, nil
}

// Disc is the LAN discovery beacon.
type Disc struct {
	HandleProof [digest.Size]byte
	Port        uint16
}

func EncodeDisc(priv ed25519.PrivateKey, d Disc, creation eagletime.Time) []byte {
	var portBytes [2]byte
	binary.BigEndian.PutUint16(portBytes[:], d.Port)
	env := &vsf.Envelope{
		CreationTime: creation,
		Sections: []vsf.Section{{
			Name: SectionDisc,
			Fields: []vsf.Field{
				{Name: "handle_proof", Values: [][]byte{d.HandleProof[:]}},
				{Name: "port", Values: [][]byte{portBytes[:]}},
			},
		}},
	}
	env.Sign(priv)
	return env.Encode()
}

func ParseDisc(env *vsf.Envelope) (Disc, ed25519.PublicKey, error) {
	sec, ok := env.SectionByName(SectionDisc)
	if !ok {
		return Disc{}, nil, fmt.Errorf("pt: envelope has no %s section", SectionDisc)
	}
	var d Disc
	hf, ok := sec.Field("handle_proof")
	if !ok {
		return d, nil, fmt.Errorf("pt: pt_disc missing handle_proof")
	}
	copy(d.HandleProof[:], hf.Value())

	pf, ok := sec.Field("port")
	if !ok {
		return d, nil, fmt.Errorf("pt: pt_disc missing port")
	}
	pv := pf.Value()
	if len(pv) != 2 {
		return d, nil, fmt.Errorf("pt: pt_disc malformed port")
	}
	d.Port = binary.BigEndian.Uint16(pv)

	return d, env.SignerPubkey, nil
}
