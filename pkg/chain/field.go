package chain

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/nickspiker/photon/pkg/digest"
)

// Sub-value type tags for the "message" field. The field's sub-values
// are written in random order; each
// tag lets the parser recover them regardless of order.
const (
	tagText        byte = 't'
	tagIncorporated byte = 'h'
	tagPad         byte = 'p'
)

var ErrMalformedField = errors.New("chain: malformed message field")

// MessageField is the decoded form of the "message" VSF field: the
// user-visible text plus the hash pointer of whichever peer message this
// one's weave acknowledges (all zero if none).
type MessageField struct {
	Text           string
	IncorporatedHP [digest.Size]byte
}

func writeSubValue(buf []byte, tag byte, value []byte) []byte {
	buf = append(buf, tag)
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(value)))
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, value...)
	return buf
}

// randomPadLength biases toward short pads: the minimum of three U[0,255]
// draws.
func randomPadLength() (int, error) {
	min := 256
	for i := 0; i < 3; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(256))
		if err != nil {
			return 0, fmt.Errorf("chain: drawing pad length: %w", err)
		}
		if int(n.Int64()) < min {
			min = int(n.Int64())
		}
	}
	return min, nil
}

// EncodeMessageField builds the randomly-ordered "message" field bytes
// for a user message, including a random-length low-biased pad.
func EncodeMessageField(text string, incorporatedHP [digest.Size]byte) ([]byte, error) {
	padLen, err := randomPadLength()
	if err != nil {
		return nil, err
	}
	pad := make([]byte, padLen)
	if _, err := rand.Read(pad); err != nil {
		return nil, fmt.Errorf("chain: generating pad: %w", err)
	}

	type subValue struct {
		tag   byte
		value []byte
	}
	values := []subValue{
		{tagText, []byte(text)},
		{tagIncorporated, incorporatedHP[:]},
		{tagPad, pad},
	}

	// Fisher-Yates shuffle: the encoder's "random order" requirement
	//; ordering carries no meaning, only the tags do.
	for i := len(values) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return nil, fmt.Errorf("chain: shuffling field order: %w", err)
		}
		j := int(jBig.Int64())
		values[i], values[j] = values[j], values[i]
	}

	var buf []byte
	buf = append(buf, 'm') // "message" field marker
	buf = append(buf, byte(len(values)))
	for _, v := range values {
		buf = writeSubValue(buf, v.tag, v.value)
	}
	return buf, nil
}

// ParseMessageField recovers text and incorporated-hash-pointer from
// field bytes produced by EncodeMessageField, ignoring the pad and
// regardless of sub-value order.
func ParseMessageField(data []byte) (MessageField, error) {
	if len(data) < 2 || data[0] != 'm' {
		return MessageField{}, ErrMalformedField
	}
	count := int(data[1])
	pos := 2

	var out MessageField
	for i := 0; i < count; i++ {
		if pos+5 > len(data) {
			return MessageField{}, ErrMalformedField
		}
		tag := data[pos]
		n := binary.BigEndian.Uint32(data[pos+1 : pos+5])
		pos += 5
		if pos+int(n) > len(data) {
			return MessageField{}, ErrMalformedField
		}
		value := data[pos : pos+int(n)]
		pos += int(n)

		switch tag {
		case tagText:
			out.Text = string(value)
		case tagIncorporated:
			if len(value) != digest.Size {
				return MessageField{}, ErrMalformedField
			}
			copy(out.IncorporatedHP[:], value)
		case tagPad:
			// discarded
		default:
			return MessageField{}, ErrMalformedField
		}
	}
	return out, nil
}
