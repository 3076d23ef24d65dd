package vm

import (
	"fmt"

	"github.com/Quan1umMango/basm/instruction"
)

// RuntimeError is a fatal execution fault. It carries the program counter
// and the instruction that faulted so diagnostics can point at the exact
// slot in the instruction array.
type RuntimeError struct {
	PC          int
	Instruction instruction.Instruction
	Message     string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error at %d (%s): %s", e.PC, e.Instruction, e.Message)
}

// errorf builds a RuntimeError for the instruction currently executing.
func (v *VM) errorf(in instruction.Instruction, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		PC:          v.pc,
		Instruction: in,
		Message:     fmt.Sprintf(format, args...),
	}
}
