package vm

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/Quan1umMango/basm/instruction"
)

// Statistics tracks execution metrics while a program runs. Attach one to
// VM.Stats before Run; everything is collected per executed instruction.
type Statistics struct {
	Enabled bool

	// Execution metrics
	TotalInstructions  uint64
	ExecutionTime      time.Duration
	InstructionsPerSec float64

	// Instruction breakdown
	InstructionCounts map[string]uint64 // opcode name -> count

	// Control flow
	CallCount uint64
	JumpCount uint64

	// High-water marks
	MaxStackDepth int
	MaxCallDepth  int
	MemoryUnits   uint64 // total units ever allocated

	startTime time.Time
}

// NewStatistics creates an enabled statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		Enabled:           true,
		InstructionCounts: make(map[string]uint64),
	}
}

// Start records the wall-clock start of execution.
func (s *Statistics) Start() {
	s.startTime = time.Now()
}

// Stop freezes the timing metrics.
func (s *Statistics) Stop() {
	s.ExecutionTime = time.Since(s.startTime)
	if secs := s.ExecutionTime.Seconds(); secs > 0 {
		s.InstructionsPerSec = float64(s.TotalInstructions) / secs
	}
}

// record accumulates one executed instruction against the machine state
// observed after it ran.
func (s *Statistics) record(in instruction.Instruction, v *VM) {
	if !s.Enabled {
		return
	}
	s.TotalInstructions++
	s.InstructionCounts[in.Op.String()]++

	switch instruction.KindOf(in.Op) {
	case instruction.KindJump:
		if in.Op == instruction.OpCall {
			s.CallCount++
		} else {
			s.JumpCount++
		}
	}
	if in.Op == instruction.OpMalloc {
		s.MemoryUnits++
	}

	if depth := v.StackLen(); depth > s.MaxStackDepth {
		s.MaxStackDepth = depth
	}
	if depth := v.CallDepth(); depth > s.MaxCallDepth {
		s.MaxCallDepth = depth
	}
}

// WriteJSON dumps the collected statistics.
func (s *Statistics) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// Summary renders a short human-readable report, most frequent opcodes
// first.
func (s *Statistics) Summary() string {
	type entry struct {
		name  string
		count uint64
	}
	entries := make([]entry, 0, len(s.InstructionCounts))
	for name, count := range s.InstructionCounts {
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})

	out := fmt.Sprintf("instructions: %d in %s (%.0f/s)\n",
		s.TotalInstructions, s.ExecutionTime, s.InstructionsPerSec)
	out += fmt.Sprintf("calls: %d  jumps: %d  max stack: %d  max calls: %d  memory units: %d\n",
		s.CallCount, s.JumpCount, s.MaxStackDepth, s.MaxCallDepth, s.MemoryUnits)
	for _, e := range entries {
		out += fmt.Sprintf("  %-20s %d\n", e.name, e.count)
	}
	return out
}
