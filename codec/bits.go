// Package codec provides the bit-level conversions shared by the bytecode
// encoder, decoder and virtual machine: fixed-width bit slices, two's
// complement encoding of signed 32-bit integers, and IEEE-754 single
// precision bit transfer.
package codec

import "math"

// Bit widths used by the instruction codec.
const (
	OpcodeBits   = 32
	RegisterBits = 32
	IntBits      = 32
	FloatBits    = 32
	JumpBits     = 32
)

// SignBitMask selects bit 31 of a 32-bit value.
const SignBitMask uint32 = 1 << 31

// ToBits expands v into a slice of width bytes, each 0 or 1, most
// significant bit first. Bits above width are discarded.
func ToBits(v uint32, width int) []byte {
	bits := make([]byte, width)
	for i := 0; i < width; i++ {
		if v&(1<<(width-1-i)) != 0 {
			bits[i] = 1
		}
	}
	return bits
}

// FromBits folds a most-significant-first slice of 0/1 bytes back into an
// unsigned value. The slice length determines the magnitude; slices longer
// than 32 bits have their high bits shifted out.
func FromBits(bits []byte) uint32 {
	var v uint32
	for i := 0; i < len(bits); i++ {
		if bits[i] == 0 {
			continue
		}
		v += 1 << (len(bits) - 1 - i)
	}
	return v
}

// TwosComplement returns the unsigned 32-bit pattern encoding n: the plain
// unsigned representation for n >= 0, otherwise the bits of |n| inverted
// plus one. MinInt32 round-trips because unsigned arithmetic wraps.
func TwosComplement(n int32) uint32 {
	if n >= 0 {
		return uint32(n)
	}
	return ^uint32(-n) + 1
}

// FromTwosComplement reconstructs the signed integer whose two's-complement
// pattern is v: the high bit carries the sign, inverting and adding one
// recovers the magnitude.
func FromTwosComplement(v uint32) int32 {
	if v&SignBitMask == 0 {
		return int32(v)
	}
	return -int32(^v + 1)
}

// FloatToBits returns the IEEE-754 single-precision bit pattern of f.
func FloatToBits(f float32) uint32 {
	return math.Float32bits(f)
}

// BitsToFloat reassembles the float whose sign, exponent and mantissa are
// packed in v.
func BitsToFloat(v uint32) float32 {
	return math.Float32frombits(v)
}
