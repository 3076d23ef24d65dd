package debugger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/Quan1umMango/basm/assembler"
	"github.com/Quan1umMango/basm/config"
	"github.com/Quan1umMango/basm/parser"
	"github.com/Quan1umMango/basm/vm"
)

func debugProgram(t *testing.T, src string) (*Debugger, *bytes.Buffer) {
	t.Helper()

	program, err := parser.ParseString(src, "test.basm")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	machine, err := assembler.Assemble(program)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	out := &bytes.Buffer{}
	machine.Output = out
	return NewDebugger(machine, nil), out
}

const countProgram = `
label main:
  mov rax, 0
  add rax, 1
  add rax, 1
  display rax
  halt
endlabel
`

func TestStepAdvancesOneInstruction(t *testing.T) {
	d, _ := debugProgram(t, countProgram)

	if err := d.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	// The entry jump lands execution at main's first instruction.
	main := d.VM.Labels()["main"]
	if d.VM.PC() != main.Start {
		t.Errorf("pc after first step = %d, want %d", d.VM.PC(), main.Start)
	}
	if d.VM.Cycles() != 1 {
		t.Errorf("cycles = %d, want 1", d.VM.Cycles())
	}
}

func TestContinueRunsToHalt(t *testing.T) {
	d, out := debugProgram(t, countProgram)

	if err := d.Continue(); err != nil {
		t.Fatalf("Continue failed: %v", err)
	}
	if d.VM.State() != vm.StateHalted {
		t.Errorf("state = %s, want halted", d.VM.State())
	}
	if out.String() != "2\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestContinueStopsAtBreakpoint(t *testing.T) {
	d, out := debugProgram(t, countProgram)

	main := d.VM.Labels()["main"]
	// Break on the display instruction: main body is Mov, spill sequence
	// for the two adds (4 each), then Display.
	displayIndex := main.Start + 9
	d.Breakpoints.Add(displayIndex, false)

	if err := d.Continue(); err != nil {
		t.Fatalf("Continue failed: %v", err)
	}
	if d.VM.State() == vm.StateHalted {
		t.Fatal("ran to halt instead of stopping at breakpoint")
	}
	if d.VM.PC() != displayIndex {
		t.Errorf("stopped at %d, want %d", d.VM.PC(), displayIndex)
	}
	if out.Len() != 0 {
		t.Errorf("display already ran: %q", out.String())
	}

	// Resuming finishes the program.
	if err := d.Continue(); err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if out.String() != "2\n" {
		t.Errorf("output = %q", out.String())
	}
}

func TestResetRestartsProgram(t *testing.T) {
	d, out := debugProgram(t, countProgram)

	if err := d.Continue(); err != nil {
		t.Fatalf("Continue failed: %v", err)
	}
	d.Reset()
	out.Reset()

	if err := d.Continue(); err != nil {
		t.Fatalf("Continue after Reset failed: %v", err)
	}
	if out.String() != "2\n" {
		t.Errorf("output after reset = %q", out.String())
	}
}

func TestResolveIndex(t *testing.T) {
	d, _ := debugProgram(t, countProgram)

	main := d.VM.Labels()["main"]
	index, err := d.ResolveIndex("main")
	if err != nil || index != main.Start {
		t.Errorf("ResolveIndex(main) = %d, %v; want %d", index, err, main.Start)
	}

	index, err = d.ResolveIndex("17")
	if err != nil || index != 17 {
		t.Errorf("ResolveIndex(17) = %d, %v", index, err)
	}

	if _, err := d.ResolveIndex("bogus"); err == nil {
		t.Error("unknown label resolved")
	}
	if _, err := d.ResolveIndex("-3"); err == nil {
		t.Error("negative index resolved")
	}
}

func TestExecuteCommandBreakAndContinue(t *testing.T) {
	d, _ := debugProgram(t, countProgram)

	output, err := d.ExecuteCommand("break main")
	if err != nil {
		t.Fatalf("break failed: %v", err)
	}
	if !strings.Contains(output, "breakpoint 1") {
		t.Errorf("break output = %q", output)
	}

	output, err = d.ExecuteCommand("breakpoints")
	if err != nil {
		t.Fatalf("breakpoints failed: %v", err)
	}
	if !strings.Contains(output, "instruction") {
		t.Errorf("breakpoints output = %q", output)
	}

	if _, err := d.ExecuteCommand("continue"); err != nil {
		t.Fatalf("continue failed: %v", err)
	}
	if d.VM.State() == vm.StateHalted {
		t.Error("continue ignored breakpoint at main")
	}
}

func TestExecuteCommandRepeatsLast(t *testing.T) {
	d, _ := debugProgram(t, countProgram)

	if _, err := d.ExecuteCommand("step"); err != nil {
		t.Fatalf("step failed: %v", err)
	}
	cycles := d.VM.Cycles()

	// Empty input repeats the step.
	if _, err := d.ExecuteCommand(""); err != nil {
		t.Fatalf("repeat failed: %v", err)
	}
	if d.VM.Cycles() != cycles+1 {
		t.Errorf("cycles = %d, want %d", d.VM.Cycles(), cycles+1)
	}
}

func TestExecuteCommandUnknown(t *testing.T) {
	d, _ := debugProgram(t, countProgram)
	if _, err := d.ExecuteCommand("frobnicate"); err == nil {
		t.Error("unknown command accepted")
	}
}

func TestFormatters(t *testing.T) {
	d, _ := debugProgram(t, countProgram)

	if err := d.Continue(); err != nil {
		t.Fatalf("Continue failed: %v", err)
	}

	regs := d.FormatRegisters()
	if !strings.Contains(regs, "rax") || !strings.Contains(regs, "2") {
		t.Errorf("FormatRegisters = %q", regs)
	}

	flags := d.FormatFlags()
	for _, name := range []string{"zf", "eqf", "lf", "gf"} {
		if !strings.Contains(flags, name) {
			t.Errorf("FormatFlags missing %s: %q", name, flags)
		}
	}

	if stack := d.FormatStack(); stack != "(empty)\n" {
		t.Errorf("FormatStack = %q", stack)
	}

	listing := d.FormatInstructions(3)
	if !strings.Contains(listing, "=>") {
		t.Errorf("FormatInstructions missing pc marker:\n%s", listing)
	}

	status := d.FormatStatus()
	if !strings.Contains(status, "state=halted") {
		t.Errorf("FormatStatus = %q", status)
	}
}

func TestConfigGovernsFormatting(t *testing.T) {
	program, err := parser.ParseString(`
label main:
  push 1
  push 2
  push 3
  mov rax, -7
  halt
endlabel
`, "test.basm")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	machine, err := assembler.Assemble(program)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	machine.Output = &bytes.Buffer{}

	cfg := config.DefaultConfig()
	cfg.Display.NumberFormat = "hex"
	cfg.Display.StackContext = 2
	d := NewDebugger(machine, cfg)

	if err := d.Continue(); err != nil {
		t.Fatalf("Continue failed: %v", err)
	}

	regs := d.FormatRegisters()
	if !strings.Contains(regs, "0xFFFFFFF9") {
		t.Errorf("hex format not applied: %q", regs)
	}
	if strings.Contains(regs, "-7") {
		t.Errorf("hex mode still shows decimal: %q", regs)
	}

	stack := d.FormatStack()
	if !strings.Contains(stack, "... 1 more") {
		t.Errorf("stack context not applied: %q", stack)
	}
}

func TestConfigGovernsHistorySize(t *testing.T) {
	program, err := parser.ParseString(countProgram, "test.basm")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	machine, err := assembler.Assemble(program)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	machine.Output = &bytes.Buffer{}

	cfg := config.DefaultConfig()
	cfg.Debugger.HistorySize = 2
	d := NewDebugger(machine, cfg)

	for _, cmd := range []string{"status", "flags", "registers"} {
		if _, err := d.ExecuteCommand(cmd); err != nil {
			t.Fatalf("%s failed: %v", cmd, err)
		}
	}
	if got := d.History.All(); len(got) != 2 || got[0] != "flags" || got[1] != "registers" {
		t.Errorf("history = %v, want the last two commands", got)
	}
}

func TestStepAfterHaltIsNoop(t *testing.T) {
	d, _ := debugProgram(t, countProgram)

	if err := d.Continue(); err != nil {
		t.Fatalf("Continue failed: %v", err)
	}
	cycles := d.VM.Cycles()
	if err := d.Step(); err != nil {
		t.Fatalf("Step after halt failed: %v", err)
	}
	if d.VM.Cycles() != cycles {
		t.Error("step after halt executed an instruction")
	}
}

func TestFaultSurfacesInStatus(t *testing.T) {
	d, _ := debugProgram(t, "label main:\n  pop rax\n  halt\nendlabel")

	if err := d.Continue(); err == nil {
		t.Fatal("empty-stack pop did not fault")
	}
	if !strings.Contains(d.FormatStatus(), "error") {
		t.Errorf("status does not surface fault: %q", d.FormatStatus())
	}
}
