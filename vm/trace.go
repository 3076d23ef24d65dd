package vm

import (
	"fmt"
	"io"

	"github.com/Quan1umMango/basm/codec"
	"github.com/Quan1umMango/basm/instruction"
)

// ExecutionTrace records every executed instruction to a writer: the slot
// index, the instruction, and the signed contents of the integer registers.
// Attach one to VM.Trace and call Start before running.
type ExecutionTrace struct {
	writer  io.Writer
	enabled bool
	entries uint64
}

// NewExecutionTrace creates a trace writing to w. The trace is inactive
// until Start is called.
func NewExecutionTrace(w io.Writer) *ExecutionTrace {
	return &ExecutionTrace{writer: w}
}

// Start enables recording.
func (t *ExecutionTrace) Start() { t.enabled = true }

// Stop disables recording. Already-written entries are kept.
func (t *ExecutionTrace) Stop() { t.enabled = false }

// Entries returns the number of recorded steps.
func (t *ExecutionTrace) Entries() uint64 { return t.entries }

// Record writes one trace line. Write failures are swallowed; tracing never
// faults the program under observation.
func (t *ExecutionTrace) Record(pc int, in instruction.Instruction, registers [NumIntRegisters]uint32) {
	if !t.enabled || t.writer == nil {
		return
	}
	t.entries++

	regs := ""
	for i, r := range registers {
		if i > 0 {
			regs += " "
		}
		regs += fmt.Sprintf("r%d=%d", i, codec.FromTwosComplement(r))
	}
	fmt.Fprintf(t.writer, "%4d  %-28s %s\n", pc, in, regs)
}
