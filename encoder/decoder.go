package encoder

import (
	"github.com/Quan1umMango/basm/codec"
	"github.com/Quan1umMango/basm/instruction"
)

// Decode scans a bit string left to right and rebuilds the instruction
// sequence. Decoded jump targets are always numeric. Characters other than
// '0' and '1', unknown opcodes and truncated operands are all fatal.
func Decode(s string) ([]instruction.Instruction, error) {
	for i := 0; i < len(s); i++ {
		if s[i] != '0' && s[i] != '1' {
			return nil, newDecodingError(i, "unexpected character %q", s[i])
		}
	}

	var instrs []instruction.Instruction
	pos := 0

	for pos < len(s) {
		opBits, next, err := readBits(s, pos, codec.OpcodeBits)
		if err != nil {
			return nil, err
		}
		pos = next

		op := instruction.Opcode(codec.FromBits(opBits))
		in, err := instruction.DefaultFor(op)
		if err != nil {
			return nil, newDecodingError(pos-codec.OpcodeBits, "%v", err)
		}

		kind := instruction.KindOf(op)
		if kind == instruction.KindNone {
			instrs = append(instrs, in)
			continue
		}

		sizes := instruction.OperandSizes(in)
		var operands [3]uint32
		for i, size := range sizes {
			if size == 0 {
				break
			}
			bits, next, err := readBits(s, pos, size)
			if err != nil {
				return nil, err
			}
			pos = next
			operands[i] = codec.FromBits(bits)
		}

		switch kind {
		case instruction.KindReg:
			in.R1 = operands[0]
		case instruction.KindRegImm:
			in.R1 = operands[0]
			in.Imm = codec.FromTwosComplement(operands[1])
		case instruction.KindRegFloat:
			in.R1 = operands[0]
			in.FImm = codec.BitsToFloat(operands[1])
		case instruction.KindRegReg:
			in.R1 = operands[0]
			in.R2 = operands[1]
		case instruction.KindRegRegReg:
			in.R1 = operands[0]
			in.R2 = operands[1]
			in.R3 = operands[2]
		case instruction.KindImm:
			in.Imm = codec.FromTwosComplement(operands[0])
		case instruction.KindJump:
			in.Target = instruction.AddrTarget(operands[0])
		}

		instrs = append(instrs, in)
	}

	return instrs, nil
}

// readBits slices width bit characters starting at pos, returning the bit
// values and the next read position.
func readBits(s string, pos, width int) ([]byte, int, error) {
	if pos+width > len(s) {
		return nil, 0, newDecodingError(pos, "truncated input: need %d bits, have %d", width, len(s)-pos)
	}
	bits := make([]byte, width)
	for i := 0; i < width; i++ {
		bits[i] = s[pos+i] - '0'
	}
	return bits, pos + width, nil
}
