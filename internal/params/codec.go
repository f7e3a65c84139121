package params

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Wire format for snapshot transfer (state recall over a local socket):
//
//	byte 0     version (currently 1)
//	bytes 1-2  parameter count, little-endian uint16
//	then       count * 8 bytes of float64 bits, little-endian
//
// Fixed-width float bits round-trip every value exactly, which matters more
// than squeezing a few extra bytes out of a varint scheme. The result is
// still a fraction of any text rendition of the same values.
const codecVersion = 1

const headerSize = 3

// EncodedSize returns the encoded length for a snapshot with n values.
func EncodedSize(n int) int { return headerSize + n*8 }

// EncodeSnapshot serializes snap into a compact binary form.
func EncodeSnapshot(snap Snapshot) []byte {
	out := make([]byte, EncodedSize(len(snap.Values)))
	EncodeSnapshotInto(out, snap)
	return out
}

// EncodeSnapshotInto writes into dst, which must hold EncodedSize bytes.
// Allocation-free for pre-sized buffers.
func EncodeSnapshotInto(dst []byte, snap Snapshot) {
	dst[0] = codecVersion
	binary.LittleEndian.PutUint16(dst[1:], uint16(len(snap.Values)))
	for i, v := range snap.Values {
		binary.LittleEndian.PutUint64(dst[headerSize+i*8:], math.Float64bits(v))
	}
}

// DecodeSnapshot parses data produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	if len(data) < headerSize {
		return Snapshot{}, fmt.Errorf("params: snapshot truncated at %d bytes", len(data))
	}
	if data[0] != codecVersion {
		return Snapshot{}, fmt.Errorf("params: unknown snapshot version %d", data[0])
	}
	n := int(binary.LittleEndian.Uint16(data[1:]))
	if len(data) < EncodedSize(n) {
		return Snapshot{}, fmt.Errorf("params: snapshot declares %d values but carries %d bytes", n, len(data)-headerSize)
	}
	snap := Snapshot{Values: make([]float64, n)}
	for i := range snap.Values {
		snap.Values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[headerSize+i*8:]))
	}
	return snap, nil
}
