// Package assembler lowers the parsed AST into primitive instructions in a
// VM's instruction array. High-level operand forms that accept literals are
// expanded with scratch-register spills over the operand stack; label names
// are recorded in the VM's label table; imports are lowered in place before
// the importing module.
package assembler

import (
	"fmt"
	"path/filepath"

	"github.com/Quan1umMango/basm/instruction"
	"github.com/Quan1umMango/basm/parser"
	"github.com/Quan1umMango/basm/vm"
)

// LoweringError reports a fault while lowering one source instruction.
type LoweringError struct {
	Pos     parser.Position
	Message string
}

func (e *LoweringError) Error() string {
	return fmt.Sprintf("%s: error: %s", e.Pos, e.Message)
}

// Generator lowers one module (and its imports) into a VM.
type Generator struct {
	machine *vm.VM
	visited map[string]bool // import paths already lowered, cycle guard
}

// NewGenerator creates a generator emitting into machine.
func NewGenerator(machine *vm.VM) *Generator {
	return &Generator{
		machine: machine,
		visited: make(map[string]bool),
	}
}

// Assemble parses nothing itself: it lowers an already-parsed program into
// a fresh VM and installs the entry point.
func Assemble(program *parser.Program) (*vm.VM, error) {
	machine := vm.NewVM()
	if err := NewGenerator(machine).Generate(program); err != nil {
		return nil, err
	}
	return machine, nil
}

// Generate lowers program as the root module: imports first, then every
// label in source order, then the entry jump to main at slot 0.
func (g *Generator) Generate(program *parser.Program) error {
	if program.Filename != "" {
		g.visited[canonicalPath(program.Filename)] = true
	}
	if err := g.lowerModule(program, false); err != nil {
		return err
	}
	return g.machine.RegisterStart()
}

// lowerModule emits a module's imports and labels. Imported modules pass
// noMain=true: their main label is skipped entirely and no entry point is
// installed for them.
func (g *Generator) lowerModule(program *parser.Program, noMain bool) error {
	for _, imp := range program.Imports {
		if err := g.lowerImport(program, imp); err != nil {
			return err
		}
	}

	for _, name := range program.LabelOrder {
		if noMain && name == "main" {
			continue
		}
		if err := g.lowerLabel(program.Labels[name]); err != nil {
			return err
		}
	}
	return nil
}

// lowerImport reads, parses and lowers an imported module in place, so its
// instructions precede the importing module's and its labels merge into the
// shared table.
func (g *Generator) lowerImport(parent *parser.Program, imp parser.Import) error {
	path := imp.Path
	if !filepath.IsAbs(path) && parent.Filename != "" {
		path = filepath.Join(filepath.Dir(parent.Filename), path)
	}

	canonical := canonicalPath(path)
	if g.visited[canonical] {
		return &LoweringError{Pos: imp.Pos, Message: fmt.Sprintf("circular or repeated import of %q", imp.Path)}
	}
	g.visited[canonical] = true

	module, err := parser.ParseFile(path)
	if err != nil {
		return &LoweringError{Pos: imp.Pos, Message: fmt.Sprintf("cannot import %q: %v", imp.Path, err)}
	}
	return g.lowerModule(module, true)
}

// lowerLabel opens the label at the current end of the instruction array,
// lowers its body, and guarantees a trailing Return before closing it.
func (g *Generator) lowerLabel(label *parser.Label) error {
	if err := g.machine.StartLabel(label.Name); err != nil {
		return &LoweringError{Pos: label.Pos, Message: err.Error()}
	}

	lastWasReturn := false
	for _, in := range label.Instructions {
		if err := g.lowerInstruction(in); err != nil {
			return err
		}
		lastWasReturn = in.Mnemonic == "ret"
	}
	if !lastWasReturn {
		if err := g.emit(label.Pos, instruction.None(instruction.OpReturn)); err != nil {
			return err
		}
	}

	return g.machine.EndLabel(label.Name)
}

func (g *Generator) lowerInstruction(in *parser.Instruction) error {
	switch in.Mnemonic {
	case "halt":
		return g.emit(in.Pos, instruction.None(instruction.OpHalt))
	case "ret":
		return g.emit(in.Pos, instruction.None(instruction.OpReturn))

	case "mov":
		return g.lowerMov(in)
	case "add", "sub", "mul", "div", "mod", "or", "and", "xor", "nand":
		return g.lowerBinary(in)
	case "not":
		r, err := g.intReg(in, 0)
		if err != nil {
			return err
		}
		return g.emit(in.Pos, instruction.Reg(instruction.OpNot, r))

	case "display":
		return g.lowerDisplay(in, instruction.OpDisplay)
	case "displaychar":
		return g.lowerDisplay(in, instruction.OpDisplayChar)
	case "displayf":
		return g.lowerDisplayf(in)

	case "push":
		return g.lowerPush(in)
	case "pushr":
		r, err := g.intReg(in, 0)
		if err != nil {
			return err
		}
		return g.emit(in.Pos, instruction.Reg(instruction.OpPushRegister, r))
	case "pushrf":
		f, err := g.floatReg(in, 0)
		if err != nil {
			return err
		}
		return g.emit(in.Pos, instruction.Reg(instruction.OpPushFloatRegister, f))
	case "pop":
		r, err := g.intReg(in, 0)
		if err != nil {
			return err
		}
		return g.emit(in.Pos, instruction.Reg(instruction.OpPop, r))
	case "popf":
		f, err := g.floatReg(in, 0)
		if err != nil {
			return err
		}
		return g.emit(in.Pos, instruction.Reg(instruction.OpPopFloat, f))

	case "jmp":
		return g.lowerJump(in, instruction.OpJump)
	case "call":
		return g.lowerJump(in, instruction.OpCall)
	case "jz":
		return g.lowerJump(in, instruction.OpJumpIfZero)
	case "jnz":
		return g.lowerJump(in, instruction.OpJumpIfNotZero)
	case "je":
		return g.lowerJump(in, instruction.OpJumpIfEqual)
	case "jne":
		return g.lowerJump(in, instruction.OpJumpIfNotEqual)
	case "jg":
		return g.lowerJump(in, instruction.OpJumpIfGreater)
	case "jl":
		return g.lowerJump(in, instruction.OpJumpIfLess)

	case "cmp":
		return g.lowerCompare(in)

	case "getfromstack":
		return g.lowerStackRead(in, instruction.OpGetFromStack)
	case "getfromsp":
		return g.lowerStackRead(in, instruction.OpGetFromStackPtr)
	case "setstack":
		return g.lowerStackWrite(in, instruction.OpSetStack)
	case "setfromsp":
		return g.lowerStackWrite(in, instruction.OpSetFromStackPtr)

	case "truncstack":
		return g.lowerScratchUnary(in, instruction.OpTruncateStack)
	case "truncstackrange":
		return g.lowerTruncateRange(in)
	case "malloc":
		return g.lowerScratchUnary(in, instruction.OpMalloc)
	case "free":
		return g.lowerScratchUnary(in, instruction.OpFree)

	case "getmem":
		return g.lowerGetMemory(in)
	case "setmem":
		return g.lowerSetMemory(in)

	case "movf":
		return g.lowerMovf(in)
	case "addf", "subf", "mulf", "divf", "modf":
		return g.lowerFloatBinary(in)

	case "getflag":
		return g.lowerGetFlag(in)
	case "getsp":
		r, err := g.intReg(in, 0)
		if err != nil {
			return err
		}
		return g.emit(in.Pos, instruction.Reg(instruction.OpGetStackPointer, r))

	case "write":
		return g.lowerWrite(in)
	}

	return g.errorf(in.Pos, "no lowering for instruction %q", in.Mnemonic)
}

// lowerMov: register targets take the immediate directly; register sources
// transfer through the stack rather than a register-to-register move.
func (g *Generator) lowerMov(in *parser.Instruction) error {
	dst, err := g.intReg(in, 0)
	if err != nil {
		return err
	}

	src := in.Operands[1]
	switch src.Kind {
	case parser.OperandInt:
		return g.emit(in.Pos, instruction.Mov(dst, src.Int))
	case parser.OperandRegister:
		return g.emitAll(in.Pos,
			instruction.Reg(instruction.OpPushRegister, src.Reg),
			instruction.Reg(instruction.OpPop, dst),
		)
	}
	return g.errorf(src.Pos, "mov source must be a register or integer, found %s", src.Kind)
}

var binaryOps = map[string]instruction.Opcode{
	"add": instruction.OpAdd, "sub": instruction.OpSub, "mul": instruction.OpMul,
	"div": instruction.OpDiv, "mod": instruction.OpMod,
	"or": instruction.OpOr, "and": instruction.OpAnd, "xor": instruction.OpXor,
	"nand": instruction.OpNand,
}

// lowerBinary expands `op R, imm` by spilling R+1: the adjacent register
// holds the literal for the duration of the primitive.
func (g *Generator) lowerBinary(in *parser.Instruction) error {
	op := binaryOps[in.Mnemonic]
	dst, err := g.intReg(in, 0)
	if err != nil {
		return err
	}

	src := in.Operands[1]
	switch src.Kind {
	case parser.OperandRegister:
		return g.emit(in.Pos, instruction.RegReg(op, dst, src.Reg))
	case parser.OperandInt:
		spill := dst + 1
		return g.emitAll(in.Pos,
			instruction.Reg(instruction.OpPushRegister, spill),
			instruction.Mov(spill, src.Int),
			instruction.RegReg(op, dst, spill),
			instruction.Reg(instruction.OpPop, spill),
		)
	}
	return g.errorf(src.Pos, "%s source must be a register or integer, found %s", in.Mnemonic, src.Kind)
}

// lowerDisplay handles display and displaychar. Literal forms borrow RA and
// restore it, so the instruction has no net register effect.
func (g *Generator) lowerDisplay(in *parser.Instruction, op instruction.Opcode) error {
	operand := in.Operands[0]
	switch operand.Kind {
	case parser.OperandRegister:
		return g.emit(in.Pos, instruction.Reg(op, operand.Reg))
	case parser.OperandInt:
		return g.emitAll(in.Pos,
			instruction.Reg(instruction.OpPushRegister, vm.RA),
			instruction.Mov(vm.RA, operand.Int),
			instruction.Reg(op, vm.RA),
			instruction.Reg(instruction.OpPop, vm.RA),
		)
	}
	return g.errorf(operand.Pos, "%s operand must be a register or integer, found %s", in.Mnemonic, operand.Kind)
}

// lowerDisplayf parallels lowerDisplay with the 0th float register.
func (g *Generator) lowerDisplayf(in *parser.Instruction) error {
	operand := in.Operands[0]
	switch operand.Kind {
	case parser.OperandFloatRegister:
		return g.emit(in.Pos, instruction.Reg(instruction.OpDisplayf, operand.Reg))
	case parser.OperandFloat:
		return g.emitAll(in.Pos,
			instruction.Reg(instruction.OpPushFloatRegister, vm.FA),
			instruction.Movf(vm.FA, operand.Float),
			instruction.Reg(instruction.OpDisplayf, vm.FA),
			instruction.Reg(instruction.OpPopFloat, vm.FA),
		)
	}
	return g.errorf(operand.Pos, "displayf operand must be a float register or float, found %s", operand.Kind)
}

func (g *Generator) lowerPush(in *parser.Instruction) error {
	operand := in.Operands[0]
	switch operand.Kind {
	case parser.OperandInt:
		return g.emit(in.Pos, instruction.Push(operand.Int))
	case parser.OperandRegister:
		return g.emit(in.Pos, instruction.Reg(instruction.OpPushRegister, operand.Reg))
	}
	return g.errorf(operand.Pos, "push operand must be a register or integer, found %s", operand.Kind)
}

// lowerJump accepts a label name or a non-negative instruction index.
func (g *Generator) lowerJump(in *parser.Instruction, op instruction.Opcode) error {
	operand := in.Operands[0]
	switch operand.Kind {
	case parser.OperandLabel:
		return g.emit(in.Pos, instruction.JumpTo(op, instruction.NameTarget(operand.Name)))
	case parser.OperandInt:
		if operand.Int < 0 {
			return g.errorf(operand.Pos, "jump target cannot be negative, found %d", operand.Int)
		}
		return g.emit(in.Pos, instruction.JumpTo(op, instruction.AddrTarget(uint32(operand.Int))))
	}
	return g.errorf(operand.Pos, "jump target must be a label or integer, found %s", operand.Kind)
}

// lowerCompare spills literal operands into the reserved compare registers
// RC and RD, compares, then restores them in reverse order.
func (g *Generator) lowerCompare(in *parser.Instruction) error {
	lhs, rhs := in.Operands[0], in.Operands[1]
	lhsSpilled, rhsSpilled := false, false

	var lreg, rreg uint32
	switch lhs.Kind {
	case parser.OperandRegister:
		lreg = lhs.Reg
	case parser.OperandInt:
		lreg = vm.RC
		lhsSpilled = true
		if err := g.emitAll(in.Pos,
			instruction.Reg(instruction.OpPushRegister, vm.RC),
			instruction.Mov(vm.RC, lhs.Int),
		); err != nil {
			return err
		}
	default:
		return g.errorf(lhs.Pos, "cmp operand must be a register or integer, found %s", lhs.Kind)
	}

	switch rhs.Kind {
	case parser.OperandRegister:
		rreg = rhs.Reg
	case parser.OperandInt:
		rreg = vm.RD
		rhsSpilled = true
		if err := g.emitAll(in.Pos,
			instruction.Reg(instruction.OpPushRegister, vm.RD),
			instruction.Mov(vm.RD, rhs.Int),
		); err != nil {
			return err
		}
	default:
		return g.errorf(rhs.Pos, "cmp operand must be a register or integer, found %s", rhs.Kind)
	}

	if err := g.emit(in.Pos, instruction.RegReg(instruction.OpCompare, lreg, rreg)); err != nil {
		return err
	}
	if rhsSpilled {
		if err := g.emit(in.Pos, instruction.Reg(instruction.OpPop, vm.RD)); err != nil {
			return err
		}
	}
	if lhsSpilled {
		if err := g.emit(in.Pos, instruction.Reg(instruction.OpPop, vm.RC)); err != nil {
			return err
		}
	}
	return nil
}

// lowerStackRead lowers getfromstack/getfromsp: `dst, index`. A literal
// index uses the dst+1 spill slot.
func (g *Generator) lowerStackRead(in *parser.Instruction, op instruction.Opcode) error {
	dst, err := g.intReg(in, 0)
	if err != nil {
		return err
	}

	index := in.Operands[1]
	switch index.Kind {
	case parser.OperandRegister:
		return g.emit(in.Pos, instruction.RegReg(op, index.Reg, dst))
	case parser.OperandInt:
		spill := dst + 1
		return g.emitAll(in.Pos,
			instruction.Reg(instruction.OpPushRegister, spill),
			instruction.Mov(spill, index.Int),
			instruction.RegReg(op, spill, dst),
			instruction.Reg(instruction.OpPop, spill),
		)
	}
	return g.errorf(index.Pos, "%s index must be a register or integer, found %s", in.Mnemonic, index.Kind)
}

// lowerStackWrite lowers setstack/setfromsp: `index, src`. A literal index
// uses the src+1 spill slot.
func (g *Generator) lowerStackWrite(in *parser.Instruction, op instruction.Opcode) error {
	src, err := g.intReg(in, 1)
	if err != nil {
		return err
	}

	index := in.Operands[0]
	switch index.Kind {
	case parser.OperandRegister:
		return g.emit(in.Pos, instruction.RegReg(op, index.Reg, src))
	case parser.OperandInt:
		spill := src + 1
		return g.emitAll(in.Pos,
			instruction.Reg(instruction.OpPushRegister, spill),
			instruction.Mov(spill, index.Int),
			instruction.RegReg(op, spill, src),
			instruction.Reg(instruction.OpPop, spill),
		)
	}
	return g.errorf(index.Pos, "%s index must be a register or integer, found %s", in.Mnemonic, index.Kind)
}

// lowerScratchUnary lowers truncstack/malloc/free, whose literal forms move
// the literal into RES1 first.
func (g *Generator) lowerScratchUnary(in *parser.Instruction, op instruction.Opcode) error {
	operand := in.Operands[0]
	switch operand.Kind {
	case parser.OperandRegister:
		return g.emit(in.Pos, instruction.Reg(op, operand.Reg))
	case parser.OperandInt:
		return g.emitAll(in.Pos,
			instruction.Mov(vm.RES1, operand.Int),
			instruction.Reg(op, vm.RES1),
		)
	}
	return g.errorf(operand.Pos, "%s operand must be a register or integer, found %s", in.Mnemonic, operand.Kind)
}

func (g *Generator) lowerTruncateRange(in *parser.Instruction) error {
	lo, err := g.regOrSpill(in.Operands[0], vm.RES1)
	if err != nil {
		return err
	}
	hi, err := g.regOrSpill(in.Operands[1], vm.RES2)
	if err != nil {
		return err
	}
	return g.emit(in.Pos, instruction.RegReg(instruction.OpTruncateStackRange, lo, hi))
}

// lowerGetMemory lowers `getmem dst, id, offset`. Literal unit ids move
// into RES1, literal offsets into RES2.
func (g *Generator) lowerGetMemory(in *parser.Instruction) error {
	dst, err := g.intReg(in, 0)
	if err != nil {
		return err
	}
	id, err := g.regOrSpill(in.Operands[1], vm.RES1)
	if err != nil {
		return err
	}
	offset, err := g.regOrSpill(in.Operands[2], vm.RES2)
	if err != nil {
		return err
	}
	return g.emit(in.Pos, instruction.RegRegReg(instruction.OpGetMemory, id, dst, offset))
}

// lowerSetMemory lowers `setmem id, src, offset` with the same spills.
func (g *Generator) lowerSetMemory(in *parser.Instruction) error {
	id, err := g.regOrSpill(in.Operands[0], vm.RES1)
	if err != nil {
		return err
	}
	src, err := g.intReg(in, 1)
	if err != nil {
		return err
	}
	offset, err := g.regOrSpill(in.Operands[2], vm.RES2)
	if err != nil {
		return err
	}
	return g.emit(in.Pos, instruction.RegRegReg(instruction.OpSetMemory, id, src, offset))
}

func (g *Generator) lowerMovf(in *parser.Instruction) error {
	dst, err := g.floatReg(in, 0)
	if err != nil {
		return err
	}

	src := in.Operands[1]
	switch src.Kind {
	case parser.OperandFloat:
		return g.emit(in.Pos, instruction.Movf(dst, src.Float))
	case parser.OperandFloatRegister:
		return g.emitAll(in.Pos,
			instruction.Reg(instruction.OpPushFloatRegister, src.Reg),
			instruction.Reg(instruction.OpPopFloat, dst),
		)
	}
	return g.errorf(src.Pos, "movf source must be a float register or float, found %s", src.Kind)
}

var floatBinaryOps = map[string]instruction.Opcode{
	"addf": instruction.OpAddf, "subf": instruction.OpSubf, "mulf": instruction.OpMulf,
	"divf": instruction.OpDivf, "modf": instruction.OpModf,
}

// lowerFloatBinary parallels lowerBinary using the float registers and
// float stack cells for spills.
func (g *Generator) lowerFloatBinary(in *parser.Instruction) error {
	op := floatBinaryOps[in.Mnemonic]
	dst, err := g.floatReg(in, 0)
	if err != nil {
		return err
	}

	src := in.Operands[1]
	switch src.Kind {
	case parser.OperandFloatRegister:
		return g.emit(in.Pos, instruction.RegReg(op, dst, src.Reg))
	case parser.OperandFloat:
		spill := dst + 1
		return g.emitAll(in.Pos,
			instruction.Reg(instruction.OpPushFloatRegister, spill),
			instruction.Movf(spill, src.Float),
			instruction.RegReg(op, dst, spill),
			instruction.Reg(instruction.OpPopFloat, spill),
		)
	}
	return g.errorf(src.Pos, "%s source must be a float register or float, found %s", in.Mnemonic, src.Kind)
}

// lowerGetFlag lowers `getflag dst, flag` where flag is a flag name, an
// index literal, or a register holding the index.
func (g *Generator) lowerGetFlag(in *parser.Instruction) error {
	dst, err := g.intReg(in, 0)
	if err != nil {
		return err
	}

	flag := in.Operands[1]
	switch flag.Kind {
	case parser.OperandRegister:
		return g.emit(in.Pos, instruction.RegReg(instruction.OpGetFlag, dst, flag.Reg))
	case parser.OperandFlag, parser.OperandInt:
		index := int32(flag.Flag)
		if flag.Kind == parser.OperandInt {
			index = flag.Int
		}
		spill := dst + 1
		return g.emitAll(in.Pos,
			instruction.Reg(instruction.OpPushRegister, spill),
			instruction.Mov(spill, index),
			instruction.RegReg(instruction.OpGetFlag, dst, spill),
			instruction.Reg(instruction.OpPop, spill),
		)
	}
	return g.errorf(flag.Pos, "getflag operand must be a flag, register or integer, found %s", flag.Kind)
}

// lowerWrite lowers `write n`: the operand gives the string length, the
// top-of-string index is the live stack pointer captured into RES1.
func (g *Generator) lowerWrite(in *parser.Instruction) error {
	operand := in.Operands[0]

	var lenReg uint32
	switch operand.Kind {
	case parser.OperandRegister:
		lenReg = operand.Reg
	case parser.OperandInt:
		lenReg = vm.RES2
		if err := g.emit(in.Pos, instruction.Mov(vm.RES2, operand.Int)); err != nil {
			return err
		}
	default:
		return g.errorf(operand.Pos, "write operand must be a register or integer, found %s", operand.Kind)
	}

	return g.emitAll(in.Pos,
		instruction.Reg(instruction.OpGetStackPointer, vm.RES1),
		instruction.RegReg(instruction.OpWrite, lenReg, vm.RES1),
	)
}

// regOrSpill resolves an operand that may be a register or a literal; a
// literal moves into the given reserved scratch register.
func (g *Generator) regOrSpill(operand parser.Operand, scratch uint32) (uint32, error) {
	switch operand.Kind {
	case parser.OperandRegister:
		return operand.Reg, nil
	case parser.OperandInt:
		if err := g.emit(operand.Pos, instruction.Mov(scratch, operand.Int)); err != nil {
			return 0, err
		}
		return scratch, nil
	}
	return 0, g.errorf(operand.Pos, "expected a register or integer, found %s", operand.Kind)
}

// intReg resolves operand i as an integer register, accepting numeric
// register references.
func (g *Generator) intReg(in *parser.Instruction, i int) (uint32, error) {
	operand := in.Operands[i]
	switch operand.Kind {
	case parser.OperandRegister:
		return operand.Reg, nil
	case parser.OperandInt:
		if r, ok := parser.RegisterFromNumber(operand.Int, vm.NumIntRegisters); ok {
			return r, nil
		}
		return 0, g.errorf(operand.Pos, "register %d does not exist", operand.Int)
	}
	return 0, g.errorf(operand.Pos, "%s operand %d must be a register, found %s", in.Mnemonic, i+1, operand.Kind)
}

// floatReg resolves operand i as a float register.
func (g *Generator) floatReg(in *parser.Instruction, i int) (uint32, error) {
	operand := in.Operands[i]
	switch operand.Kind {
	case parser.OperandFloatRegister:
		return operand.Reg, nil
	case parser.OperandInt:
		if r, ok := parser.RegisterFromNumber(operand.Int, vm.NumFloatRegisters); ok {
			return r, nil
		}
		return 0, g.errorf(operand.Pos, "float register %d does not exist", operand.Int)
	}
	return 0, g.errorf(operand.Pos, "%s operand %d must be a float register, found %s", in.Mnemonic, i+1, operand.Kind)
}

func (g *Generator) emit(pos parser.Position, in instruction.Instruction) error {
	if err := g.machine.AddInstruction(in); err != nil {
		return &LoweringError{Pos: pos, Message: err.Error()}
	}
	return nil
}

func (g *Generator) emitAll(pos parser.Position, instrs ...instruction.Instruction) error {
	for _, in := range instrs {
		if err := g.emit(pos, in); err != nil {
			return err
		}
	}
	return nil
}

func (g *Generator) errorf(pos parser.Position, format string, args ...any) error {
	return &LoweringError{Pos: pos, Message: fmt.Sprintf(format, args...)}
}

func canonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
