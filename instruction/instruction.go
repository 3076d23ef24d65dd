// Package instruction defines the basm instruction set: the closed opcode
// table, the operand shape of every opcode, and the tagged instruction
// value passed between the assembler, the bytecode codec and the VM.
package instruction

import (
	"fmt"

	"github.com/Quan1umMango/basm/codec"
)

// Opcode identifies one instruction variant. The numbering is part of the
// bytecode format and must not change.
type Opcode uint32

const (
	OpHalt               Opcode = 0
	OpMov                Opcode = 1
	OpAdd                Opcode = 2
	OpSub                Opcode = 3
	OpMul                Opcode = 4
	OpDiv                Opcode = 5
	OpMod                Opcode = 6
	OpDisplay            Opcode = 7
	OpPush               Opcode = 8
	OpPushRegister       Opcode = 9
	OpPop                Opcode = 10
	OpJump               Opcode = 11
	OpJumpIfZero         Opcode = 12
	OpJumpIfNotZero      Opcode = 13
	OpJumpIfEqual        Opcode = 14
	OpJumpIfNotEqual     Opcode = 15
	OpJumpIfGreater      Opcode = 16
	OpJumpIfLess         Opcode = 17
	OpCompare            Opcode = 18
	OpGetFromStack       Opcode = 19
	OpGetFromStackPtr    Opcode = 20
	OpSetFromStackPtr    Opcode = 21
	OpMalloc             Opcode = 22
	OpGetMemory          Opcode = 23
	OpSetMemory          Opcode = 24
	OpOr                 Opcode = 25
	OpAnd                Opcode = 26
	OpNot                Opcode = 27
	OpXor                Opcode = 28
	OpNand               Opcode = 29
	OpTruncateStack      Opcode = 30
	OpMovf               Opcode = 31
	OpAddf               Opcode = 32
	OpSubf               Opcode = 33
	OpDisplayf           Opcode = 34
	OpMulf               Opcode = 35
	OpDivf               Opcode = 36
	OpModf               Opcode = 37
	OpReturn             Opcode = 38
	OpExtendStack        Opcode = 39
	OpPushFloatRegister  Opcode = 40
	OpPopFloat           Opcode = 41
	OpDisplayChar        Opcode = 42
	OpGetFlag            Opcode = 43
	OpSetStack           Opcode = 44
	OpGetStackPointer    Opcode = 45
	OpTruncateStackRange Opcode = 46
	OpCall               Opcode = 47
	OpWrite              Opcode = 48
	OpFree               Opcode = 49

	opcodeCount = 50
)

var opcodeNames = [opcodeCount]string{
	"Halt", "Mov", "Add", "Sub", "Mul", "Div", "Mod", "Display",
	"Push", "PushRegister", "Pop", "Jump", "JumpIfZero", "JumpIfNotZero",
	"JumpIfEqual", "JumpIfNotEqual", "JumpIfGreater", "JumpIfLess",
	"Compare", "GetFromStack", "GetFromStackPointer", "SetFromStackPointer",
	"Malloc", "GetMemory", "SetMemory", "Or", "And", "Not", "Xor",
	"Nand", "TruncateStack", "Movf", "Addf", "Subf", "Displayf",
	"Mulf", "Divf", "Modf", "Return", "ExtendStack", "PushFloatRegister",
	"PopFloat", "DisplayChar", "GetFlag", "SetStack", "GetStackPointer",
	"TruncateStackRange", "Call", "Write", "Free",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", uint32(op))
}

// Kind groups opcodes by operand shape. The encoder and decoder dispatch on
// it so new opcodes only need a table entry.
type Kind int

const (
	KindNone      Kind = iota // Halt, Return
	KindReg                   // one register operand
	KindRegImm                // register + signed immediate (Mov)
	KindRegFloat              // register + float immediate (Movf)
	KindRegReg                // two register operands
	KindRegRegReg             // three register operands (GetMemory, SetMemory)
	KindJump                  // label name or instruction index
	KindImm                   // signed immediate only (Push)
)

var opcodeKinds = [opcodeCount]Kind{
	OpHalt:               KindNone,
	OpReturn:             KindNone,
	OpMov:                KindRegImm,
	OpMovf:               KindRegFloat,
	OpPush:               KindImm,
	OpAdd:                KindRegReg,
	OpSub:                KindRegReg,
	OpMul:                KindRegReg,
	OpDiv:                KindRegReg,
	OpMod:                KindRegReg,
	OpAddf:               KindRegReg,
	OpSubf:               KindRegReg,
	OpMulf:               KindRegReg,
	OpDivf:               KindRegReg,
	OpModf:               KindRegReg,
	OpCompare:            KindRegReg,
	OpGetFromStack:       KindRegReg,
	OpGetFromStackPtr:    KindRegReg,
	OpSetFromStackPtr:    KindRegReg,
	OpSetStack:           KindRegReg,
	OpOr:                 KindRegReg,
	OpAnd:                KindRegReg,
	OpXor:                KindRegReg,
	OpNand:               KindRegReg,
	OpGetFlag:            KindRegReg,
	OpTruncateStackRange: KindRegReg,
	OpWrite:              KindRegReg,
	OpExtendStack:        KindRegReg,
	OpGetMemory:          KindRegRegReg,
	OpSetMemory:          KindRegRegReg,
	OpDisplay:            KindReg,
	OpDisplayf:           KindReg,
	OpDisplayChar:        KindReg,
	OpPushRegister:       KindReg,
	OpPop:                KindReg,
	OpPushFloatRegister:  KindReg,
	OpPopFloat:           KindReg,
	OpNot:                KindReg,
	OpTruncateStack:      KindReg,
	OpMalloc:             KindReg,
	OpFree:               KindReg,
	OpGetStackPointer:    KindReg,
	OpJump:               KindJump,
	OpJumpIfZero:         KindJump,
	OpJumpIfNotZero:      KindJump,
	OpJumpIfEqual:        KindJump,
	OpJumpIfNotEqual:     KindJump,
	OpJumpIfGreater:      KindJump,
	OpJumpIfLess:         KindJump,
	OpCall:               KindJump,
}

// KindOf returns the operand shape of op. Unknown opcodes report KindNone;
// use Valid to reject them first.
func KindOf(op Opcode) Kind {
	if int(op) < opcodeCount {
		return opcodeKinds[op]
	}
	return KindNone
}

// Valid reports whether op is part of the instruction set.
func Valid(op Opcode) bool {
	return int(op) < opcodeCount
}

// Target is a jump or call destination: an unresolved label name, or an
// absolute index into the instruction array. Decoded bytecode always holds
// indices; assembled programs hold names until encoding.
type Target struct {
	Name string
	Addr uint32
}

// IsName reports whether the target is still an unresolved label name.
func (t Target) IsName() bool { return t.Name != "" }

func (t Target) String() string {
	if t.IsName() {
		return fmt.Sprintf("%q", t.Name)
	}
	return fmt.Sprintf("%d", t.Addr)
}

// NameTarget returns a target referring to a label by name.
func NameTarget(name string) Target { return Target{Name: name} }

// AddrTarget returns a target referring to an absolute instruction index.
func AddrTarget(addr uint32) Target { return Target{Addr: addr} }

// Instruction is one decoded instruction. It is a plain tagged value:
// Op selects the variant and the operand fields it uses; unused fields stay
// zero so instructions compare with ==.
type Instruction struct {
	Op     Opcode
	R1     uint32  // first register operand
	R2     uint32  // second register operand
	R3     uint32  // third register operand (GetMemory, SetMemory)
	Imm    int32   // signed immediate (Mov, Push)
	FImm   float32 // float immediate (Movf)
	Target Target  // jump/call destination
}

func (in Instruction) String() string {
	switch KindOf(in.Op) {
	case KindNone:
		return in.Op.String()
	case KindReg:
		return fmt.Sprintf("%s r%d", in.Op, in.R1)
	case KindRegImm:
		return fmt.Sprintf("%s r%d, %d", in.Op, in.R1, in.Imm)
	case KindRegFloat:
		return fmt.Sprintf("%s f%d, %g", in.Op, in.R1, in.FImm)
	case KindRegReg:
		return fmt.Sprintf("%s r%d, r%d", in.Op, in.R1, in.R2)
	case KindRegRegReg:
		return fmt.Sprintf("%s r%d, r%d, r%d", in.Op, in.R1, in.R2, in.R3)
	case KindJump:
		return fmt.Sprintf("%s %s", in.Op, in.Target)
	case KindImm:
		return fmt.Sprintf("%s %d", in.Op, in.Imm)
	}
	return in.Op.String()
}

// DefaultFor returns the zero-operand template for an opcode number read
// from bytecode. Unknown numbers are an error carrying the decoded value.
func DefaultFor(op Opcode) (Instruction, error) {
	if !Valid(op) {
		return Instruction{}, fmt.Errorf("unknown opcode %d", uint32(op))
	}
	return Instruction{Op: op}, nil
}

// OperandSizes returns the bit width of each operand of in, up to three.
// A zero entry means the operand slot is unused.
func OperandSizes(in Instruction) [3]int {
	switch KindOf(in.Op) {
	case KindNone:
		return [3]int{}
	case KindReg:
		return [3]int{codec.RegisterBits}
	case KindRegImm:
		return [3]int{codec.RegisterBits, codec.IntBits}
	case KindRegFloat:
		return [3]int{codec.RegisterBits, codec.FloatBits}
	case KindRegReg:
		return [3]int{codec.RegisterBits, codec.RegisterBits}
	case KindRegRegReg:
		return [3]int{codec.RegisterBits, codec.RegisterBits, codec.RegisterBits}
	case KindJump:
		return [3]int{codec.JumpBits}
	case KindImm:
		return [3]int{codec.IntBits}
	}
	return [3]int{}
}

// Constructors for the shapes the assembler emits most.

// None returns a no-operand instruction (Halt, Return).
func None(op Opcode) Instruction { return Instruction{Op: op} }

// Reg returns a single-register instruction.
func Reg(op Opcode, r uint32) Instruction { return Instruction{Op: op, R1: r} }

// RegReg returns a two-register instruction.
func RegReg(op Opcode, a, b uint32) Instruction { return Instruction{Op: op, R1: a, R2: b} }

// RegRegReg returns a three-register instruction.
func RegRegReg(op Opcode, a, b, c uint32) Instruction {
	return Instruction{Op: op, R1: a, R2: b, R3: c}
}

// Mov returns a Mov of a signed immediate into an integer register.
func Mov(r uint32, imm int32) Instruction { return Instruction{Op: OpMov, R1: r, Imm: imm} }

// Movf returns a Movf of a float immediate into a float register.
func Movf(r uint32, f float32) Instruction { return Instruction{Op: OpMovf, R1: r, FImm: f} }

// Push returns a Push of a signed immediate.
func Push(imm int32) Instruction { return Instruction{Op: OpPush, Imm: imm} }

// JumpTo returns a jump-family instruction aimed at target.
func JumpTo(op Opcode, target Target) Instruction { return Instruction{Op: op, Target: target} }
