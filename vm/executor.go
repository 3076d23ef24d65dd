package vm

import (
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/Quan1umMango/basm/codec"
	"github.com/Quan1umMango/basm/instruction"
)

// Run drives the fetch-execute loop from the current program counter until
// the program halts or faults. The loop is unbounded unless CycleLimit is
// set; termination is the program's responsibility via Halt.
func (v *VM) Run() error {
	v.state = StateRunning

	for v.state == StateRunning {
		if err := v.Step(); err != nil {
			v.state = StateFaulted
			return err
		}
	}
	return nil
}

// Step fetches and executes a single instruction, then advances the program
// counter unless the instruction rewrote it. Halt flips the state to
// StateHalted without advancing.
func (v *VM) Step() error {
	if v.state == StateIdle {
		v.state = StateRunning
	}
	if v.pc < 0 || v.pc >= MaxInstructions {
		v.state = StateFaulted
		return &RuntimeError{PC: v.pc, Message: fmt.Sprintf("program counter %d outside instruction array", v.pc)}
	}
	if v.CycleLimit > 0 && v.cycles >= v.CycleLimit {
		v.state = StateFaulted
		return &RuntimeError{PC: v.pc, Message: fmt.Sprintf("cycle limit %d exceeded", v.CycleLimit)}
	}

	in := v.instructions[v.pc]
	if v.Trace != nil {
		v.Trace.Record(v.pc, in, v.Registers)
	}
	v.cycles++

	if err := v.execute(in); err != nil {
		v.state = StateFaulted
		return err
	}
	if v.Stats != nil {
		v.Stats.record(in, v)
	}
	if v.state == StateRunning {
		v.pc++
	}
	return nil
}

// execute dispatches one instruction. Jump-family instructions land one
// slot before their target so the loop's post-increment puts execution on
// the target itself.
func (v *VM) execute(in instruction.Instruction) error {
	switch in.Op {
	case instruction.OpHalt:
		v.state = StateHalted
		return nil

	case instruction.OpMov:
		if err := v.checkIntReg(in, in.R1); err != nil {
			return err
		}
		v.Registers[in.R1] = codec.TwosComplement(in.Imm)
		return nil

	case instruction.OpAdd, instruction.OpSub, instruction.OpMul, instruction.OpDiv, instruction.OpMod:
		return v.intArithmetic(in)

	case instruction.OpOr, instruction.OpAnd, instruction.OpXor:
		return v.bitwise(in)

	case instruction.OpNot:
		if err := v.checkIntReg(in, in.R1); err != nil {
			return err
		}
		v.Registers[in.R1] = ^v.Registers[in.R1]
		return nil

	case instruction.OpNand:
		return v.errorf(in, "Nand is not implemented")

	case instruction.OpDisplay:
		if err := v.checkIntReg(in, in.R1); err != nil {
			return err
		}
		n := codec.FromTwosComplement(v.Registers[in.R1])
		return v.print(in, fmt.Sprintf("%d\n", n))

	case instruction.OpDisplayf:
		if err := v.checkFloatReg(in, in.R1); err != nil {
			return err
		}
		format := v.FloatFormat
		if format == 0 {
			format = 'g'
		}
		f := v.FloatRegisters[in.R1]
		return v.print(in, strconv.FormatFloat(float64(f), format, -1, 32)+"\n")

	case instruction.OpDisplayChar:
		if err := v.checkIntReg(in, in.R1); err != nil {
			return err
		}
		n := codec.FromTwosComplement(v.Registers[in.R1])
		r := rune(n)
		if n < 0 || !utf8.ValidRune(r) {
			return v.errorf(in, "value %d is not a valid Unicode scalar", n)
		}
		return v.print(in, string(r))

	case instruction.OpPush:
		v.push(codec.TwosComplement(in.Imm))
		return nil

	case instruction.OpPushRegister:
		if err := v.checkIntReg(in, in.R1); err != nil {
			return err
		}
		v.push(v.Registers[in.R1])
		return nil

	case instruction.OpPop:
		if err := v.checkIntReg(in, in.R1); err != nil {
			return err
		}
		cell, err := v.pop(in)
		if err != nil {
			return err
		}
		v.Registers[in.R1] = cell
		return nil

	case instruction.OpPushFloatRegister:
		if err := v.checkFloatReg(in, in.R1); err != nil {
			return err
		}
		v.push(codec.FloatToBits(v.FloatRegisters[in.R1]))
		return nil

	case instruction.OpPopFloat:
		if err := v.checkFloatReg(in, in.R1); err != nil {
			return err
		}
		cell, err := v.pop(in)
		if err != nil {
			return err
		}
		v.FloatRegisters[in.R1] = codec.BitsToFloat(cell)
		return nil

	case instruction.OpJump:
		return v.jump(in)

	case instruction.OpJumpIfZero:
		return v.jumpIf(in, v.flags[FlagZero])
	case instruction.OpJumpIfNotZero:
		return v.jumpIf(in, !v.flags[FlagZero])
	case instruction.OpJumpIfEqual:
		return v.jumpIf(in, v.flags[FlagEqual])
	case instruction.OpJumpIfNotEqual:
		return v.jumpIf(in, !v.flags[FlagEqual])
	case instruction.OpJumpIfGreater:
		return v.jumpIf(in, v.flags[FlagGreater])
	case instruction.OpJumpIfLess:
		return v.jumpIf(in, v.flags[FlagLess])

	case instruction.OpCall:
		v.callStack = append(v.callStack, v.pc)
		return v.jump(in)

	case instruction.OpReturn:
		if len(v.callStack) == 0 {
			return v.errorf(in, "return with empty call stack")
		}
		v.pc = v.callStack[len(v.callStack)-1]
		v.callStack = v.callStack[:len(v.callStack)-1]
		return nil

	case instruction.OpCompare:
		if err := v.checkIntReg(in, in.R1); err != nil {
			return err
		}
		if err := v.checkIntReg(in, in.R2); err != nil {
			return err
		}
		a := codec.FromTwosComplement(v.Registers[in.R1])
		b := codec.FromTwosComplement(v.Registers[in.R2])
		v.flags[FlagZero] = a == 0 && b == 0
		v.flags[FlagEqual] = a == b
		v.flags[FlagGreater] = a > b
		v.flags[FlagLess] = a < b
		return nil

	case instruction.OpGetFlag:
		if err := v.checkIntReg(in, in.R1); err != nil {
			return err
		}
		if err := v.checkIntReg(in, in.R2); err != nil {
			return err
		}
		idx := codec.FromTwosComplement(v.Registers[in.R2])
		if idx < 0 || idx >= FlagCount {
			return v.errorf(in, "flag %d does not exist", idx)
		}
		var val int32
		if v.flags[idx] {
			val = 1
		}
		v.Registers[in.R1] = codec.TwosComplement(val)
		return nil

	case instruction.OpGetFromStack:
		return v.getFromStack(in)
	case instruction.OpGetFromStackPtr:
		return v.getFromStackPointer(in)
	case instruction.OpSetStack:
		return v.setStack(in)
	case instruction.OpSetFromStackPtr:
		return v.setFromStackPointer(in)
	case instruction.OpExtendStack:
		return v.extendStack(in)
	case instruction.OpTruncateStack:
		return v.truncateStack(in)
	case instruction.OpTruncateStackRange:
		return v.truncateStackRange(in)

	case instruction.OpGetStackPointer:
		if err := v.checkIntReg(in, in.R1); err != nil {
			return err
		}
		v.Registers[in.R1] = codec.TwosComplement(int32(len(v.stack)))
		return nil

	case instruction.OpMalloc:
		return v.malloc(in)
	case instruction.OpFree:
		return v.free(in)
	case instruction.OpGetMemory:
		return v.getMemory(in)
	case instruction.OpSetMemory:
		return v.setMemory(in)

	case instruction.OpMovf:
		if err := v.checkFloatReg(in, in.R1); err != nil {
			return err
		}
		v.FloatRegisters[in.R1] = in.FImm
		return nil

	case instruction.OpAddf, instruction.OpSubf, instruction.OpMulf, instruction.OpDivf, instruction.OpModf:
		return v.floatArithmetic(in)

	case instruction.OpWrite:
		return v.write(in)
	}

	return v.errorf(in, "unimplemented instruction")
}

// intArithmetic performs a signed 32-bit operation: decode both registers
// from two's complement, combine, re-encode into the destination. Overflow
// wraps; division and modulo by zero are fatal.
func (v *VM) intArithmetic(in instruction.Instruction) error {
	if err := v.checkIntReg(in, in.R1); err != nil {
		return err
	}
	if err := v.checkIntReg(in, in.R2); err != nil {
		return err
	}

	a := codec.FromTwosComplement(v.Registers[in.R1])
	b := codec.FromTwosComplement(v.Registers[in.R2])

	var result int32
	switch in.Op {
	case instruction.OpAdd:
		result = a + b
	case instruction.OpSub:
		result = a - b
	case instruction.OpMul:
		result = a * b
	case instruction.OpDiv:
		if b == 0 {
			return v.errorf(in, "division by zero")
		}
		result = a / b
	case instruction.OpMod:
		if b == 0 {
			return v.errorf(in, "modulo by zero")
		}
		result = a % b
	}

	v.Registers[in.R1] = codec.TwosComplement(result)
	return nil
}

func (v *VM) bitwise(in instruction.Instruction) error {
	if err := v.checkIntReg(in, in.R1); err != nil {
		return err
	}
	if err := v.checkIntReg(in, in.R2); err != nil {
		return err
	}

	switch in.Op {
	case instruction.OpOr:
		v.Registers[in.R1] |= v.Registers[in.R2]
	case instruction.OpAnd:
		v.Registers[in.R1] &= v.Registers[in.R2]
	case instruction.OpXor:
		v.Registers[in.R1] ^= v.Registers[in.R2]
	}
	return nil
}

// floatArithmetic operates on the float registers directly. Division by
// zero follows IEEE semantics.
func (v *VM) floatArithmetic(in instruction.Instruction) error {
	if err := v.checkFloatReg(in, in.R1); err != nil {
		return err
	}
	if err := v.checkFloatReg(in, in.R2); err != nil {
		return err
	}

	a := v.FloatRegisters[in.R1]
	b := v.FloatRegisters[in.R2]

	var result float32
	switch in.Op {
	case instruction.OpAddf:
		result = a + b
	case instruction.OpSubf:
		result = a - b
	case instruction.OpMulf:
		result = a * b
	case instruction.OpDivf:
		result = a / b
	case instruction.OpModf:
		result = float32(math.Mod(float64(a), float64(b)))
	}

	v.FloatRegisters[in.R1] = result
	return nil
}

// jump moves the program counter to one before the target so the loop's
// post-increment lands on it. Label targets are resolved through the label
// table; numeric targets are used directly.
func (v *VM) jump(in instruction.Instruction) error {
	target, err := v.resolveTarget(in)
	if err != nil {
		return err
	}
	v.pc = target - 1
	return nil
}

func (v *VM) jumpIf(in instruction.Instruction, cond bool) error {
	if !cond {
		return nil
	}
	return v.jump(in)
}

func (v *VM) resolveTarget(in instruction.Instruction) (int, error) {
	if in.Target.IsName() {
		l, ok := v.labels[in.Target.Name]
		if !ok {
			return 0, v.errorf(in, "label %q does not exist", in.Target.Name)
		}
		return l.Start, nil
	}
	return int(in.Target.Addr), nil
}

func (v *VM) getFromStack(in instruction.Instruction) error {
	if err := v.checkIntReg(in, in.R1); err != nil {
		return err
	}
	if err := v.checkIntReg(in, in.R2); err != nil {
		return err
	}
	idx := int(codec.FromTwosComplement(v.Registers[in.R1]))
	if idx < 0 || idx >= len(v.stack) {
		return v.errorf(in, "stack index %d out of range (stack has %d cells)", idx, len(v.stack))
	}
	v.Registers[in.R2] = v.stack[idx]
	return nil
}

func (v *VM) getFromStackPointer(in instruction.Instruction) error {
	if err := v.checkIntReg(in, in.R1); err != nil {
		return err
	}
	if err := v.checkIntReg(in, in.R2); err != nil {
		return err
	}
	offset := int(codec.FromTwosComplement(v.Registers[in.R1]))
	idx := len(v.stack) - offset
	if idx < 0 || idx >= len(v.stack) {
		return v.errorf(in, "stack index %d out of range (stack has %d cells)", idx, len(v.stack))
	}
	v.Registers[in.R2] = v.stack[idx]
	return nil
}

func (v *VM) setStack(in instruction.Instruction) error {
	if err := v.checkIntReg(in, in.R1); err != nil {
		return err
	}
	if err := v.checkIntReg(in, in.R2); err != nil {
		return err
	}
	idx := int(codec.FromTwosComplement(v.Registers[in.R1]))
	if idx < 0 || idx >= len(v.stack) {
		return v.errorf(in, "stack index %d out of range (stack has %d cells)", idx, len(v.stack))
	}
	v.stack[idx] = v.Registers[in.R2]
	return nil
}

func (v *VM) setFromStackPointer(in instruction.Instruction) error {
	if err := v.checkIntReg(in, in.R1); err != nil {
		return err
	}
	if err := v.checkIntReg(in, in.R2); err != nil {
		return err
	}
	offset := int(codec.FromTwosComplement(v.Registers[in.R1]))
	idx := len(v.stack) - offset
	if idx < 0 || idx >= len(v.stack) {
		return v.errorf(in, "stack index %d out of range (stack has %d cells)", idx, len(v.stack))
	}
	v.stack[idx] = v.Registers[in.R2]
	return nil
}

// extendStack pushes count copies of the raw contents of the default
// register. Negative counts are fatal.
func (v *VM) extendStack(in instruction.Instruction) error {
	if err := v.checkIntReg(in, in.R1); err != nil {
		return err
	}
	if err := v.checkIntReg(in, in.R2); err != nil {
		return err
	}
	count := codec.FromTwosComplement(v.Registers[in.R1])
	if count < 0 {
		return v.errorf(in, "cannot extend stack by negative count %d", count)
	}
	def := v.Registers[in.R2]
	for i := int32(0); i < count; i++ {
		v.push(def)
	}
	return nil
}

func (v *VM) truncateStack(in instruction.Instruction) error {
	if err := v.checkIntReg(in, in.R1); err != nil {
		return err
	}
	n := codec.FromTwosComplement(v.Registers[in.R1])
	if n < 0 {
		return v.errorf(in, "cannot truncate stack by negative count %d", n)
	}
	if int(n) > len(v.stack) {
		return v.errorf(in, "cannot pop %d cells, stack has %d", n, len(v.stack))
	}
	v.stack = v.stack[:len(v.stack)-int(n)]
	return nil
}

// truncateStackRange removes the cells at [lo, hi), shifting the cells
// above down.
func (v *VM) truncateStackRange(in instruction.Instruction) error {
	if err := v.checkIntReg(in, in.R1); err != nil {
		return err
	}
	if err := v.checkIntReg(in, in.R2); err != nil {
		return err
	}
	lo := int(codec.FromTwosComplement(v.Registers[in.R1]))
	hi := int(codec.FromTwosComplement(v.Registers[in.R2]))
	if lo < 0 || hi < lo || hi > len(v.stack) {
		return v.errorf(in, "invalid stack range [%d, %d) for stack of %d cells", lo, hi, len(v.stack))
	}
	v.stack = append(v.stack[:lo], v.stack[hi:]...)
	return nil
}

// malloc allocates a fresh unit and pushes its id onto the operand stack.
func (v *VM) malloc(in instruction.Instruction) error {
	if err := v.checkIntReg(in, in.R1); err != nil {
		return err
	}
	size := codec.FromTwosComplement(v.Registers[in.R1])
	if size < 0 {
		return v.errorf(in, "cannot allocate memory unit of negative size %d", size)
	}
	id := v.Memory.Allocate(int(size))
	v.push(codec.TwosComplement(int32(id)))
	return nil
}

func (v *VM) free(in instruction.Instruction) error {
	if err := v.checkIntReg(in, in.R1); err != nil {
		return err
	}
	id := codec.FromTwosComplement(v.Registers[in.R1])
	if id < 0 {
		return v.errorf(in, "memory unit %d does not exist", id)
	}
	if err := v.Memory.Free(uint32(id)); err != nil {
		return v.errorf(in, "%v", err)
	}
	return nil
}

func (v *VM) getMemory(in instruction.Instruction) error {
	for _, r := range []uint32{in.R1, in.R2, in.R3} {
		if err := v.checkIntReg(in, r); err != nil {
			return err
		}
	}
	id := codec.FromTwosComplement(v.Registers[in.R1])
	offset := codec.FromTwosComplement(v.Registers[in.R3])
	if id < 0 {
		return v.errorf(in, "memory unit %d does not exist", id)
	}
	unit, ok := v.Memory.Get(uint32(id))
	if !ok {
		return v.errorf(in, "memory unit %d does not exist", id)
	}
	value, err := unit.Read(int(offset))
	if err != nil {
		return v.errorf(in, "%v", err)
	}
	v.Registers[in.R2] = value
	return nil
}

func (v *VM) setMemory(in instruction.Instruction) error {
	for _, r := range []uint32{in.R1, in.R2, in.R3} {
		if err := v.checkIntReg(in, r); err != nil {
			return err
		}
	}
	id := codec.FromTwosComplement(v.Registers[in.R1])
	offset := codec.FromTwosComplement(v.Registers[in.R3])
	if id < 0 {
		return v.errorf(in, "memory unit %d does not exist", id)
	}
	unit, ok := v.Memory.Get(uint32(id))
	if !ok {
		return v.errorf(in, "memory unit %d does not exist", id)
	}
	if err := unit.Write(int(offset), v.Registers[in.R2]); err != nil {
		return v.errorf(in, "%v", err)
	}
	return nil
}

// write prints the stack cells at [top-len, top) as characters, taking the
// low byte of each cell, then flushes.
func (v *VM) write(in instruction.Instruction) error {
	if err := v.checkIntReg(in, in.R1); err != nil {
		return err
	}
	if err := v.checkIntReg(in, in.R2); err != nil {
		return err
	}
	length := int(codec.FromTwosComplement(v.Registers[in.R1]))
	top := int(codec.FromTwosComplement(v.Registers[in.R2]))
	if length < 0 || top < 0 || top-length < 0 || top > len(v.stack) {
		return v.errorf(in, "invalid string range [%d, %d) for stack of %d cells", top-length, top, len(v.stack))
	}

	chars := make([]byte, 0, length)
	for _, cell := range v.stack[top-length : top] {
		chars = append(chars, byte(cell))
	}
	return v.print(in, string(chars))
}

func (v *VM) print(in instruction.Instruction, s string) error {
	if _, err := fmt.Fprint(v.Output, s); err != nil {
		return v.errorf(in, "write to output failed: %v", err)
	}
	if f, ok := v.Output.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return v.errorf(in, "flushing output failed: %v", err)
		}
	}
	return nil
}

func (v *VM) push(cell uint32) {
	v.stack = append(v.stack, cell)
}

func (v *VM) pop(in instruction.Instruction) (uint32, error) {
	if len(v.stack) == 0 {
		return 0, v.errorf(in, "cannot pop from empty stack")
	}
	cell := v.stack[len(v.stack)-1]
	v.stack = v.stack[:len(v.stack)-1]
	return cell, nil
}

func (v *VM) checkIntReg(in instruction.Instruction, r uint32) error {
	if r >= NumIntRegisters {
		return v.errorf(in, "integer register %d does not exist", r)
	}
	return nil
}

func (v *VM) checkFloatReg(in instruction.Instruction, r uint32) error {
	if r >= NumFloatRegisters {
		return v.errorf(in, "float register %d does not exist", r)
	}
	return nil
}
