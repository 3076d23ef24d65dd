// Package debugger provides interactive execution control for a basm VM:
// breakpoints, single stepping, and state formatting, with a tview-based
// text interface and a fyne-based graphical interface on top.
package debugger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Quan1umMango/basm/codec"
	"github.com/Quan1umMango/basm/config"
	"github.com/Quan1umMango/basm/vm"
)

// Debugger represents the debugger state and functionality
type Debugger struct {
	VM *vm.VM

	// Config governs history depth, number formatting and which state
	// panes the interfaces render.
	Config *config.Config

	Breakpoints *BreakpointManager

	// Command history
	History *CommandHistory

	// Last runtime error, kept for display after a fault
	LastError error

	// Last command (for repeat on empty input)
	LastCommand string
}

// NewDebugger creates a new debugger instance. A nil cfg falls back to the
// defaults.
func NewDebugger(machine *vm.VM, cfg *config.Config) *Debugger {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Debugger{
		VM:          machine,
		Config:      cfg,
		Breakpoints: NewBreakpointManager(),
		History:     NewCommandHistory(cfg.Debugger.HistorySize),
	}
}

// ResolveIndex resolves a label name or a numeric string to an instruction
// index.
func (d *Debugger) ResolveIndex(s string) (int, error) {
	if label, exists := d.VM.Labels()[s]; exists {
		return label.Start, nil
	}
	index, err := strconv.Atoi(s)
	if err != nil || index < 0 || index >= vm.MaxInstructions {
		return 0, fmt.Errorf("invalid instruction index or label: %s", s)
	}
	return index, nil
}

// Step executes exactly one instruction.
func (d *Debugger) Step() error {
	if done := d.finished(); done {
		return nil
	}
	if err := d.VM.Step(); err != nil {
		d.LastError = err
		return err
	}
	return nil
}

// Continue runs until a breakpoint, halt or fault. The breakpoint check
// applies to every slot about to be executed except the one we are resuming
// from.
func (d *Debugger) Continue() error {
	first := true
	for !d.finished() {
		if !first && d.Breakpoints.ShouldBreak(d.VM.PC()) {
			return nil
		}
		first = false
		if err := d.VM.Step(); err != nil {
			d.LastError = err
			return err
		}
	}
	return nil
}

// Reset restarts the program from the entry point, keeping breakpoints.
func (d *Debugger) Reset() {
	d.VM.Reset()
	d.LastError = nil
}

func (d *Debugger) finished() bool {
	state := d.VM.State()
	return state == vm.StateHalted || state == vm.StateFaulted
}

// FormatRegisters renders the integer and float register files. The
// configured number format picks decimal, hex or both columns.
func (d *Debugger) FormatRegisters() string {
	var sb strings.Builder

	names := []string{"rax", "rbx", "rcx", "rdx", "res1", "res2", "r6"}
	for i, name := range names {
		fmt.Fprintf(&sb, "%-4s %s\n", name, d.formatCell(d.VM.Registers[i]))
	}

	sb.WriteString("\n")
	floatNames := []string{"fa", "fb", "fc", "fd", "f4"}
	for i, name := range floatNames {
		fmt.Fprintf(&sb, "%-4s %g\n", name, d.VM.FloatRegisters[i])
	}

	return sb.String()
}

// formatCell renders one 32-bit value per the configured number format.
func (d *Debugger) formatCell(raw uint32) string {
	switch d.Config.Display.NumberFormat {
	case "hex":
		return fmt.Sprintf("0x%08X", raw)
	case "both":
		return fmt.Sprintf("%11d  0x%08X", codec.FromTwosComplement(raw), raw)
	}
	return fmt.Sprintf("%11d", codec.FromTwosComplement(raw))
}

// FormatFlags renders the compare flag lanes.
func (d *Debugger) FormatFlags() string {
	names := []struct {
		lane int
		name string
	}{
		{vm.FlagZero, "zf"},
		{vm.FlagEqual, "eqf"},
		{vm.FlagLess, "lf"},
		{vm.FlagGreater, "gf"},
	}

	var sb strings.Builder
	for _, n := range names {
		set, _ := d.VM.Flag(n.lane)
		value := 0
		if set {
			value = 1
		}
		fmt.Fprintf(&sb, "%s=%d ", n.name, value)
	}
	return strings.TrimSpace(sb.String())
}

// FormatStack renders the top of the operand stack, newest cell first. The
// configured stack context bounds how many cells appear.
func (d *Debugger) FormatStack() string {
	sp := d.VM.StackLen()
	if sp == 0 {
		return "(empty)\n"
	}

	max := d.Config.Display.StackContext
	if max <= 0 {
		max = sp
	}

	var sb strings.Builder
	count := 0
	for i := sp - 1; i >= 0 && count < max; i-- {
		cell, _ := d.VM.StackCell(i)
		fmt.Fprintf(&sb, "[%3d] %s\n", i, d.formatCell(cell))
		count++
	}
	if sp > max {
		fmt.Fprintf(&sb, "... %d more\n", sp-max)
	}
	return sb.String()
}

// FormatInstructions renders the instructions around the program counter,
// marking the current slot and any breakpoints.
func (d *Debugger) FormatInstructions(context int) string {
	pc := d.VM.PC()
	start := pc - context
	if start < 0 {
		start = 0
	}
	end := pc + context + 1
	if end > d.VM.LastCommand() {
		end = d.VM.LastCommand()
	}

	var sb strings.Builder
	for i := start; i < end; i++ {
		in, _ := d.VM.InstructionAt(i)

		marker := "  "
		if i == pc {
			marker = "=>"
		}
		bp := " "
		for _, b := range d.Breakpoints.List() {
			if b.Index == i && b.Enabled {
				bp = "*"
			}
		}
		if name := d.labelAt(i); name != "" {
			fmt.Fprintf(&sb, "      %s:\n", name)
		}
		fmt.Fprintf(&sb, "%s%s %4d  %s\n", marker, bp, i, in)
	}
	return sb.String()
}

// FormatStatus summarizes the machine state in one line.
func (d *Debugger) FormatStatus() string {
	status := fmt.Sprintf("state=%s pc=%d sp=%d calls=%d cycles=%d",
		d.VM.State(), d.VM.PC(), d.VM.StackLen(), d.VM.CallDepth(), d.VM.Cycles())
	if d.LastError != nil {
		status += "  error: " + d.LastError.Error()
	}
	return status
}

func (d *Debugger) labelAt(index int) string {
	for name, label := range d.VM.Labels() {
		if label.Start == index {
			return name
		}
	}
	return ""
}

// ExecuteCommand processes one debugger command line and returns its
// output. Empty input repeats the previous command.
func (d *Debugger) ExecuteCommand(cmdLine string) (string, error) {
	cmdLine = strings.TrimSpace(cmdLine)
	if cmdLine == "" {
		cmdLine = d.LastCommand
	}
	if cmdLine == "" {
		return "", nil
	}
	d.History.Add(cmdLine)
	d.LastCommand = cmdLine

	fields := strings.Fields(cmdLine)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "s", "step":
		if err := d.Step(); err != nil {
			return "", err
		}
		return d.FormatStatus(), nil

	case "c", "continue", "run":
		if err := d.Continue(); err != nil {
			return "", err
		}
		return d.FormatStatus(), nil

	case "b", "break":
		if len(args) != 1 {
			return "", fmt.Errorf("usage: break <label|index>")
		}
		index, err := d.ResolveIndex(args[0])
		if err != nil {
			return "", err
		}
		bp := d.Breakpoints.Add(index, false)
		return fmt.Sprintf("breakpoint %d at instruction %d", bp.ID, bp.Index), nil

	case "d", "delete":
		if len(args) != 1 {
			return "", fmt.Errorf("usage: delete <id>")
		}
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return "", fmt.Errorf("invalid breakpoint id: %s", args[0])
		}
		if err := d.Breakpoints.Delete(id); err != nil {
			return "", err
		}
		return fmt.Sprintf("deleted breakpoint %d", id), nil

	case "bl", "breakpoints":
		var sb strings.Builder
		for _, bp := range d.Breakpoints.List() {
			state := "enabled"
			if !bp.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(&sb, "%d: instruction %d (%s, %d hits)\n", bp.ID, bp.Index, state, bp.HitCount)
		}
		if sb.Len() == 0 {
			return "no breakpoints", nil
		}
		return sb.String(), nil

	case "r", "registers":
		return d.FormatRegisters(), nil
	case "f", "flags":
		return d.FormatFlags(), nil
	case "st", "stack":
		return d.FormatStack(), nil
	case "l", "list":
		return d.FormatInstructions(5), nil
	case "reset":
		d.Reset()
		return d.FormatStatus(), nil
	case "status":
		return d.FormatStatus(), nil
	}

	return "", fmt.Errorf("unknown command %q", cmd)
}
