// Package encoder serializes instruction sequences to the textual bytecode
// format (a string of '0' and '1' characters, one 32-bit opcode followed by
// bit-packed operands per instruction, no separators) and decodes the format
// back into instructions.
package encoder

import (
	"strings"

	"github.com/Quan1umMango/basm/codec"
	"github.com/Quan1umMango/basm/instruction"
)

// Encoder converts an instruction sequence into the bit-string bytecode.
// Jump targets that still name labels are resolved against the label table
// given at construction.
type Encoder struct {
	labels map[string]uint32 // label name -> start index
}

// NewEncoder creates an encoder resolving label names through labels. A nil
// map is allowed for programs whose jump targets are already numeric.
func NewEncoder(labels map[string]uint32) *Encoder {
	return &Encoder{labels: labels}
}

// Encode serializes instrs in order. Each instruction contributes its 32-bit
// opcode followed by its operands at the widths reported by
// instruction.OperandSizes. Signed immediates are two's-complement encoded,
// float immediates are IEEE-754 bit patterns, everything else is raw
// unsigned.
func (e *Encoder) Encode(instrs []instruction.Instruction) (string, error) {
	var sb strings.Builder

	for _, in := range instrs {
		appendBits(&sb, uint32(in.Op), codec.OpcodeBits)

		switch instruction.KindOf(in.Op) {
		case instruction.KindNone:
			// opcode only
		case instruction.KindReg:
			appendBits(&sb, in.R1, codec.RegisterBits)
		case instruction.KindRegImm:
			appendBits(&sb, in.R1, codec.RegisterBits)
			appendBits(&sb, codec.TwosComplement(in.Imm), codec.IntBits)
		case instruction.KindRegFloat:
			appendBits(&sb, in.R1, codec.RegisterBits)
			appendBits(&sb, codec.FloatToBits(in.FImm), codec.FloatBits)
		case instruction.KindRegReg:
			appendBits(&sb, in.R1, codec.RegisterBits)
			appendBits(&sb, in.R2, codec.RegisterBits)
		case instruction.KindRegRegReg:
			appendBits(&sb, in.R1, codec.RegisterBits)
			appendBits(&sb, in.R2, codec.RegisterBits)
			appendBits(&sb, in.R3, codec.RegisterBits)
		case instruction.KindImm:
			appendBits(&sb, codec.TwosComplement(in.Imm), codec.IntBits)
		case instruction.KindJump:
			addr, err := e.resolveTarget(in)
			if err != nil {
				return "", err
			}
			appendBits(&sb, addr, codec.JumpBits)
		}
	}

	return sb.String(), nil
}

// resolveTarget maps a jump destination to an absolute instruction index.
func (e *Encoder) resolveTarget(in instruction.Instruction) (uint32, error) {
	if !in.Target.IsName() {
		return in.Target.Addr, nil
	}
	addr, ok := e.labels[in.Target.Name]
	if !ok {
		return 0, &EncodingError{
			Instruction: in,
			Message:     "unresolved label " + in.Target.Name,
		}
	}
	return addr, nil
}

func appendBits(sb *strings.Builder, v uint32, width int) {
	for _, b := range codec.ToBits(v, width) {
		sb.WriteByte('0' + b)
	}
}
