// Package fec adds optional Reed-Solomon forward error correction over a
// transfer's pt_data chunk set, so a bounded loss fraction completes
// without retransmission.
package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Threshold is the payload size above which FEC is worth its parity
// overhead.
const Threshold = 1500

// DefaultDataShards and DefaultParityShards set a 4:1 data:parity ratio,
// tolerating the loss of any one shard in five without retransmission.
const (
	DefaultDataShards   = 4
	DefaultParityShards = 1
)

// ShouldUse reports whether a transfer of the given size should carry
// parity shards.
func ShouldUse(totalSize int) bool {
	return totalSize > Threshold
}

// Encoder computes parity shards over a chunk set.
type Encoder struct {
	enc         reedsolomon.Encoder
	dataShards  int
	parityShards int
}

// NewEncoder builds an Encoder for the given data:parity ratio.
func NewEncoder(dataShards, parityShards int) (*Encoder, error) {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("fec: creating Reed-Solomon encoder: %w", err)
	}
	return &Encoder{enc: enc, dataShards: dataShards, parityShards: parityShards}, nil
}

// Encode splits payload into dataShards equal-size shards and computes
// parityShards additional parity shards. Parity shards are appended after
// the data shards, so their pt_data indices are
// >= total_packets.
func (e *Encoder) Encode(payload []byte) (shards [][]byte, err error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("fec: cannot encode empty payload")
	}
	shards, err = e.enc.Split(payload)
	if err != nil {
		return nil, fmt.Errorf("fec: splitting payload: %w", err)
	}
	if err := e.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("fec: encoding parity: %w", err)
	}
	return shards, nil
}

// DataShards reports how many data shards (of data+parity) are required
// to reconstruct.
func (e *Encoder) DataShards() uint32 { return uint32(e.dataShards) }

// TotalShards reports data+parity shard count.
func (e *Encoder) TotalShards() int { return e.dataShards + e.parityShards }

// Decoder reconstructs a payload from a possibly-incomplete shard set.
type Decoder struct {
	enc          reedsolomon.Encoder
	dataShards   int
	parityShards int
	originalSize int
}

// NewDecoder builds a Decoder matching the Encoder's shard ratio and the
// original (pre-padding) payload size.
func NewDecoder(dataShards, parityShards, originalSize int) (*Decoder, error) {
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("fec: creating Reed-Solomon decoder: %w", err)
	}
	return &Decoder{enc: enc, dataShards: dataShards, parityShards: parityShards, originalSize: originalSize}, nil
}

// DataShards reports how many of the data+parity shards are required to
// reconstruct (Reed-Solomon property: any dataShards of the total suffice).
func (d *Decoder) DataShards() uint32 { return uint32(d.dataShards) }

// TotalShards reports data+parity shard count.
func (d *Decoder) TotalShards() int { return d.dataShards + d.parityShards }

// Reconstruct rebuilds the original payload from a shard slice where
// missing shards are nil. It requires at least DataShards non-nil entries.
func (d *Decoder) Reconstruct(shards [][]byte) ([]byte, error) {
	if len(shards) != d.dataShards+d.parityShards {
		return nil, fmt.Errorf("fec: expected %d shards, got %d", d.dataShards+d.parityShards, len(shards))
	}
	available := 0
	for _, s := range shards {
		if s != nil {
			available++
		}
	}
	if available < d.dataShards {
		return nil, fmt.Errorf("fec: insufficient shards for recovery: have %d, need %d", available, d.dataShards)
	}

	work := make([][]byte, len(shards))
	copy(work, shards)
	if err := d.enc.Reconstruct(work); err != nil {
		return nil, fmt.Errorf("fec: reconstructing shards: %w", err)
	}

	buf := make([]byte, 0, d.originalSize)
	for i := 0; i < d.dataShards; i++ {
		buf = append(buf, work[i]...)
	}
	if len(buf) > d.originalSize {
		buf = buf[:d.originalSize]
	}
	return buf, nil
}
