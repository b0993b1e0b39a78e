// Package eagletime implements Photon's wire timestamp: a monotonic,
// nanosecond-precision, double-precision seconds counter with a fixed
// epoch. It is used both as the creation-time carried in every VSF header
// and as ratchet nonce input, so its bit representation must match across
// implementations exactly.
package eagletime

import (
	"math"
	"time"
)

// Epoch is 2020-01-01T00:00:00Z. Eagle times are float64 seconds since it,
// so present-day values resolve to a few tens of nanoseconds, not to
// single nanoseconds.
var Epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// Time is a monotonic nanosecond-precision seconds counter since Epoch,
// represented as a float64. Two eagle times compare the way their float64
// values compare; no further normalization is needed or permitted.
type Time float64

// Now returns the current eagle time.
func Now() Time {
	return FromStd(time.Now())
}

// FromStd converts a standard library time to eagle time.
func FromStd(t time.Time) Time {
	return Time(float64(t.Sub(Epoch).Nanoseconds()) / 1e9)
}

// ToStd converts an eagle time back to a standard library time.
func (t Time) ToStd() time.Time {
	return Epoch.Add(time.Duration(float64(t) * 1e9))
}

// Sub returns t-u as a time.Duration.
func (t Time) Sub(u Time) time.Duration {
	return time.Duration((float64(t) - float64(u)) * 1e9)
}

// Bytes returns the big-endian IEEE 754 bit pattern of t, the exact wire
// representation every implementation must reproduce byte for byte.
func (t Time) Bytes() [8]byte {
	bits := math.Float64bits(float64(t))
	var out [8]byte
	for i := 0; i < 8; i++ {
		out[i] = byte(bits >> (56 - 8*i))
	}
	return out
}

// FromBytes parses the wire representation produced by Bytes.
func FromBytes(b [8]byte) Time {
	var bits uint64
	for i := 0; i < 8; i++ {
		bits = bits<<8 | uint64(b[i])
	}
	return Time(math.Float64frombits(bits))
}
