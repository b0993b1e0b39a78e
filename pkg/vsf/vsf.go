// Package vsf implements Photon's wire framing envelope: a magic-prefixed,
// signed header carrying inline fields, followed by zero or more named
// sections of fields. Every top-level message type (StatusPing,
// ChatMessage, ClutchOffer, pt_spec, ...) is a VSF envelope with a
// particular section/field shape; this package implements the envelope
// mechanics, leaving the shape of any given message type to its own
// Encode/Parse pair (see pkg/clutch, pkg/chain, pkg/pt).
package vsf

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nickspiker/photon/pkg/digest"
	"github.com/nickspiker/photon/pkg/eagletime"
)

// Magic is the 4-byte sequence every VSF envelope begins with.
var Magic = [4]byte{0x52, 0xC3, 0x85, 0x3C} // "RÅ<"

const (
	headerOpen  = '<'
	headerClose = '>'
	signerField = "ke" // inline field carrying the signer's Ed25519 pubkey
)

var (
	ErrBadMagic     = errors.New("vsf: bad magic")
	ErrTruncated    = errors.New("vsf: truncated envelope")
	ErrBadDelimiter = errors.New("vsf: malformed header delimiter")
	ErrNoSigner     = errors.New("vsf: missing signer pubkey field")
	ErrBadSignature = errors.New("vsf: signature does not verify")
)

// Field is a single named, possibly multi-valued, inline or section field:
// "(name:value1)(name:value2)..." collapsed to one Field per name.
type Field struct {
	Name   string
	Values [][]byte
}

// Section is a named bundle of fields: "[name (f:v)(f:v)...]".
type Section struct {
	Name   string
	Fields []Field
}

// Envelope is a complete VSF message: signed header plus sections.
type Envelope struct {
	CreationTime  eagletime.Time
	ProvenanceHash [digest.Size]byte
	HeaderFields  []Field // does not include the "ke" signer field; added at encode time
	Signature     [ed25519.SignatureSize]byte
	SignerPubkey  ed25519.PublicKey
	Sections      []Section
}

// ProvenanceHash computes BLAKE3(signerPubkey || creation.Bytes()), the
// 8-byte eagle time, giving the per-message nonce every header carries.
func ProvenanceHash(signer ed25519.PublicKey, creation eagletime.Time) [digest.Size]byte {
	nanos := creation.Bytes()
	return digest.BLAKE3(signer, nanos[:])
}

// Sign finalizes the envelope: computes the provenance hash from the
// signer and creation time (overwriting any previous value) and signs
// (provenanceHash || ke-field-bytes) with priv.
func (e *Envelope) Sign(priv ed25519.PrivateKey) {
	e.SignerPubkey = priv.Public().(ed25519.PublicKey)
	e.ProvenanceHash = ProvenanceHash(e.SignerPubkey, e.CreationTime)

	msg := make([]byte, 0, digest.Size+len(e.SignerPubkey))
	msg = append(msg, e.ProvenanceHash[:]...)
	msg = append(msg, e.SignerPubkey...)
	e.Signature = [ed25519.SignatureSize]byte(ed25519.Sign(priv, msg))
}

// Verify checks the header signature against the embedded signer pubkey.
func (e *Envelope) Verify() error {
	if len(e.SignerPubkey) != ed25519.PublicKeySize {
		return ErrNoSigner
	}
	msg := make([]byte, 0, digest.Size+len(e.SignerPubkey))
	msg = append(msg, e.ProvenanceHash[:]...)
	msg = append(msg, e.SignerPubkey...)
	if !ed25519.Verify(e.SignerPubkey, msg, e.Signature[:]) {
		return ErrBadSignature
	}
	return nil
}

// Field looks up a named inline header field. Section fields are reached
// through SectionByName and Section.Field.
func (e *Envelope) Field(name string) (Field, bool) {
	for _, f := range e.HeaderFields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// SectionByName returns the first section with the given name.
func (e *Envelope) SectionByName(name string) (Section, bool) {
	for _, s := range e.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// Field looks up a named field within a section.
func (s Section) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Value returns the field's first value, or nil if it has none.
func (f Field) Value() []byte {
	if len(f.Values) == 0 {
		return nil
	}
	return f.Values[0]
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func writeField(buf *bytes.Buffer, f Field) {
	writeBytes(buf, []byte(f.Name))
	writeUvarint(buf, uint64(len(f.Values)))
	for _, v := range f.Values {
		writeBytes(buf, v)
	}
}

func writeSection(buf *bytes.Buffer, s Section) {
	writeBytes(buf, []byte(s.Name))
	writeUvarint(buf, uint64(len(s.Fields)))
	for _, f := range s.Fields {
		writeField(buf, f)
	}
}

// Encode serializes the envelope. Sign must be called first.
func (e *Envelope) Encode() []byte {
	var buf bytes.Buffer
	buf.Write(Magic[:])
	buf.WriteByte(headerOpen)

	ct := e.CreationTime.Bytes()
	buf.Write(ct[:])
	buf.Write(e.ProvenanceHash[:])

	fields := append([]Field{{Name: signerField, Values: [][]byte{e.SignerPubkey}}}, e.HeaderFields...)
	writeUvarint(&buf, uint64(len(fields)))
	for _, f := range fields {
		writeField(&buf, f)
	}
	buf.Write(e.Signature[:])
	buf.WriteByte(headerClose)

	writeUvarint(&buf, uint64(len(e.Sections)))
	for _, s := range e.Sections {
		writeSection(&buf, s)
	}

	return buf.Bytes()
}

type reader struct {
	b   []byte
	pos int
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.b[r.pos:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	r.pos += n
	return v, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if r.pos+int(n) > len(r.b) {
		return nil, ErrTruncated
	}
	out := r.b[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, ErrTruncated
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.b) {
		return nil, ErrTruncated
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) field() (Field, error) {
	name, err := r.bytes()
	if err != nil {
		return Field{}, err
	}
	n, err := r.uvarint()
	if err != nil {
		return Field{}, err
	}
	f := Field{Name: string(name), Values: make([][]byte, n)}
	for i := range f.Values {
		v, err := r.bytes()
		if err != nil {
			return Field{}, err
		}
		f.Values[i] = append([]byte(nil), v...)
	}
	return f, nil
}

func (r *reader) section() (Section, error) {
	name, err := r.bytes()
	if err != nil {
		return Section{}, err
	}
	n, err := r.uvarint()
	if err != nil {
		return Section{}, err
	}
	s := Section{Name: string(name), Fields: make([]Field, n)}
	for i := range s.Fields {
		f, err := r.field()
		if err != nil {
			return Section{}, err
		}
		s.Fields[i] = f
	}
	return s, nil
}

// Parse decodes bytes off the wire into an Envelope. It does not verify
// the signature; callers must call Verify (or rely on the acceptance
// gate of the layer above, e.g. PT's unknown-contact drop) before trusting
// envelope contents.
func Parse(raw []byte) (*Envelope, error) {
	if len(raw) < len(Magic)+1 {
		return nil, ErrTruncated
	}
	if !bytes.Equal(raw[:len(Magic)], Magic[:]) {
		return nil, ErrBadMagic
	}

	r := &reader{b: raw, pos: len(Magic)}

	open, err := r.byte()
	if err != nil {
		return nil, err
	}
	if open != headerOpen {
		return nil, ErrBadDelimiter
	}

	ctBytes, err := r.take(8)
	if err != nil {
		return nil, err
	}
	var ct [8]byte
	copy(ct[:], ctBytes)

	phBytes, err := r.take(digest.Size)
	if err != nil {
		return nil, err
	}

	numFields, err := r.uvarint()
	if err != nil {
		return nil, err
	}

	e := &Envelope{CreationTime: eagletime.FromBytes(ct)}
	copy(e.ProvenanceHash[:], phBytes)

	for i := uint64(0); i < numFields; i++ {
		f, err := r.field()
		if err != nil {
			return nil, err
		}
		if f.Name == signerField {
			e.SignerPubkey = append(ed25519.PublicKey(nil), f.Value()...)
			continue
		}
		e.HeaderFields = append(e.HeaderFields, f)
	}

	sigBytes, err := r.take(ed25519.SignatureSize)
	if err != nil {
		return nil, err
	}
	copy(e.Signature[:], sigBytes)

	closeByte, err := r.byte()
	if err != nil {
		return nil, err
	}
	if closeByte != headerClose {
		return nil, ErrBadDelimiter
	}

	numSections, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < numSections; i++ {
		s, err := r.section()
		if err != nil {
			return nil, err
		}
		e.Sections = append(e.Sections, s)
	}

	if len(e.SignerPubkey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: size %d", ErrNoSigner, len(e.SignerPubkey))
	}

	return e, nil
}
