// Package vm implements the basm execution engine: a register machine with
// an operand stack, call stack, compare flags, a 1000-slot instruction
// array, and a heap of independently allocated memory units.
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/Quan1umMango/basm/instruction"
)

// State tracks the VM lifecycle.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateHalted
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	case StateFaulted:
		return "faulted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Label is an entry in the label table: the index of the label's first
// instruction and, once the label is closed, the index one past its last.
type Label struct {
	Start  int
	End    int
	Closed bool
}

// VM is a single-threaded basm virtual machine. It exclusively owns its
// instruction array, register file, stacks, flags, label table and memory
// for its lifetime; nothing is shared across VMs.
type VM struct {
	Registers      [NumIntRegisters]uint32
	FloatRegisters [NumFloatRegisters]float32

	stack     []uint32
	flags     [FlagCount]bool
	callStack []int

	instructions [MaxInstructions]instruction.Instruction
	lastCommand  int // first free slot; slot 0 is the entry jump
	pc           int

	labels map[string]*Label
	Memory *MemoryHandler

	// Output receives everything the program prints (Display*, Write).
	// Defaults to os.Stdout; the debugger redirects it.
	Output io.Writer

	// FloatFormat is the strconv verb Displayf prints with ('g', 'e' or
	// 'f').
	FloatFormat byte

	// CycleLimit faults the VM after this many executed instructions.
	// Zero means unlimited.
	CycleLimit uint64

	// Trace, when non-nil and started, records every executed instruction.
	Trace *ExecutionTrace

	// Stats, when non-nil and enabled, accumulates execution metrics.
	Stats *Statistics

	cycles uint64
	state  State
}

// NewVM creates an idle VM with an empty program. Slot 0 of the instruction
// array stays reserved for the entry jump.
func NewVM() *VM {
	return &VM{
		lastCommand: 1,
		labels:      make(map[string]*Label),
		Memory:      NewMemoryHandler(),
		Output:      os.Stdout,
		FloatFormat: 'g',
	}
}

// Reset returns the VM to its idle state: registers, flags, stacks, program
// counter, cycle count and memory are cleared. The program and label table
// are kept so execution can restart from the top.
func (v *VM) Reset() {
	v.Registers = [NumIntRegisters]uint32{}
	v.FloatRegisters = [NumFloatRegisters]float32{}
	v.stack = nil
	v.flags = [FlagCount]bool{}
	v.callStack = nil
	v.pc = 0
	v.cycles = 0
	v.state = StateIdle
	v.Memory = NewMemoryHandler()
}

// AddInstruction appends in at the next free slot. Exceeding the fixed
// instruction array capacity is fatal.
func (v *VM) AddInstruction(in instruction.Instruction) error {
	if v.lastCommand >= MaxInstructions {
		return fmt.Errorf("instruction array overflow: capacity is %d", MaxInstructions)
	}
	v.instructions[v.lastCommand] = in
	v.lastCommand++
	return nil
}

// CreateLabel records name as starting at instruction index. Duplicate
// names are fatal.
func (v *VM) CreateLabel(index int, name string) error {
	if _, exists := v.labels[name]; exists {
		return fmt.Errorf("label %q is already defined", name)
	}
	v.labels[name] = &Label{Start: index}
	return nil
}

// StartLabel opens a label at the current end of the program.
func (v *VM) StartLabel(name string) error {
	return v.CreateLabel(v.lastCommand, name)
}

// EndLabel closes a label, recording the index one past its last
// instruction.
func (v *VM) EndLabel(name string) error {
	l, ok := v.labels[name]
	if !ok {
		return fmt.Errorf("cannot close label %q: not defined", name)
	}
	l.End = v.lastCommand
	l.Closed = true
	return nil
}

// RegisterStart installs the entry point: an unconditional jump to "main"
// at the reserved slot 0. The main label must exist.
func (v *VM) RegisterStart() error {
	if _, ok := v.labels["main"]; !ok {
		return fmt.Errorf("cannot register entry point: main label does not exist")
	}
	v.instructions[0] = instruction.JumpTo(instruction.OpJump, instruction.NameTarget("main"))
	return nil
}

// SetProgram replaces the whole instruction array with a decoded program,
// starting at slot 0. Used when loading bytecode, where the entry jump is
// already part of the stream.
func (v *VM) SetProgram(instrs []instruction.Instruction) error {
	if len(instrs) > MaxInstructions {
		return fmt.Errorf("program has %d instructions, capacity is %d", len(instrs), MaxInstructions)
	}
	v.instructions = [MaxInstructions]instruction.Instruction{}
	copy(v.instructions[:], instrs)
	v.lastCommand = len(instrs)
	if v.lastCommand == 0 {
		v.lastCommand = 1
	}
	return nil
}

// Program returns the used portion of the instruction array, entry slot
// included.
func (v *VM) Program() []instruction.Instruction {
	return v.instructions[:v.lastCommand]
}

// InstructionAt returns the instruction in slot i.
func (v *VM) InstructionAt(i int) (instruction.Instruction, bool) {
	if i < 0 || i >= MaxInstructions {
		return instruction.Instruction{}, false
	}
	return v.instructions[i], true
}

// LastCommand returns the first free slot of the instruction array.
func (v *VM) LastCommand() int { return v.lastCommand }

// Labels returns the label table. Callers must not mutate it.
func (v *VM) Labels() map[string]*Label { return v.labels }

// LabelStarts returns name -> start index for every label, the shape the
// bytecode encoder resolves jump targets against.
func (v *VM) LabelStarts() map[string]uint32 {
	starts := make(map[string]uint32, len(v.labels))
	for name, l := range v.labels {
		starts[name] = uint32(l.Start)
	}
	return starts
}

// MergeLabel adds an already resolved label under name; it fails if a label
// of that name exists.
func (v *VM) MergeLabel(name string, l Label) error {
	if _, exists := v.labels[name]; exists {
		return fmt.Errorf("label %q is already defined", name)
	}
	copied := l
	v.labels[name] = &copied
	return nil
}

// PC returns the current program counter.
func (v *VM) PC() int { return v.pc }

// SetPC moves the program counter.
func (v *VM) SetPC(pc int) { v.pc = pc }

// State returns the lifecycle state.
func (v *VM) State() State { return v.state }

// Cycles returns the number of instructions executed so far.
func (v *VM) Cycles() uint64 { return v.cycles }

// StackLen returns the stack pointer, which equals the number of cells.
func (v *VM) StackLen() int { return len(v.stack) }

// StackCell returns the cell at absolute index i.
func (v *VM) StackCell(i int) (uint32, bool) {
	if i < 0 || i >= len(v.stack) {
		return 0, false
	}
	return v.stack[i], true
}

// CallDepth returns the number of pending return addresses.
func (v *VM) CallDepth() int { return len(v.callStack) }

// Flag returns the flag in lane i.
func (v *VM) Flag(i int) (bool, bool) {
	if i < 0 || i >= FlagCount {
		return false, false
	}
	return v.flags[i], true
}
