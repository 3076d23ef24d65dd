package assembler

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Quan1umMango/basm/instruction"
	"github.com/Quan1umMango/basm/parser"
	"github.com/Quan1umMango/basm/vm"
)

func assemble(t *testing.T, src string) *vm.VM {
	t.Helper()
	program, err := parser.ParseString(src, "test.basm")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	machine, err := Assemble(program)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	return machine
}

// body returns the lowered instructions of a label, including the implicit
// trailing Return.
func body(t *testing.T, machine *vm.VM, name string) []instruction.Instruction {
	t.Helper()
	label, ok := machine.Labels()[name]
	if !ok {
		t.Fatalf("label %q missing", name)
	}
	if !label.Closed {
		t.Fatalf("label %q not closed", name)
	}
	return machine.Program()[label.Start:label.End]
}

func TestEntryPointInstalled(t *testing.T) {
	machine := assemble(t, "label main:\n  halt\nendlabel")

	entry, _ := machine.InstructionAt(0)
	want := instruction.JumpTo(instruction.OpJump, instruction.NameTarget("main"))
	if entry != want {
		t.Errorf("slot 0 = %s, want %s", entry, want)
	}
}

func TestMissingMainFatal(t *testing.T) {
	program, err := parser.ParseString("label helper:\n  ret\nendlabel", "test.basm")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, err := Assemble(program); err == nil {
		t.Error("program without main assembled")
	}
}

func TestMovImmediateLowersDirectly(t *testing.T) {
	machine := assemble(t, "label main:\n  mov rax, -5\n  halt\nendlabel")

	instrs := body(t, machine, "main")
	if instrs[0] != instruction.Mov(vm.RA, -5) {
		t.Errorf("lowered mov = %s", instrs[0])
	}
}

func TestMovRegisterGoesThroughStack(t *testing.T) {
	machine := assemble(t, "label main:\n  mov rax, rbx\n  halt\nendlabel")

	instrs := body(t, machine, "main")
	want := []instruction.Instruction{
		instruction.Reg(instruction.OpPushRegister, vm.RB),
		instruction.Reg(instruction.OpPop, vm.RA),
	}
	for i, w := range want {
		if instrs[i] != w {
			t.Errorf("instruction %d = %s, want %s", i, instrs[i], w)
		}
	}
}

func TestBinaryImmediateSpillsAdjacentRegister(t *testing.T) {
	machine := assemble(t, "label main:\n  add rbx, 7\n  halt\nendlabel")

	instrs := body(t, machine, "main")
	want := []instruction.Instruction{
		instruction.Reg(instruction.OpPushRegister, vm.RB+1),
		instruction.Mov(vm.RB+1, 7),
		instruction.RegReg(instruction.OpAdd, vm.RB, vm.RB+1),
		instruction.Reg(instruction.OpPop, vm.RB+1),
	}
	for i, w := range want {
		if instrs[i] != w {
			t.Errorf("instruction %d = %s, want %s", i, instrs[i], w)
		}
	}
}

func TestBinaryRegisterLowersDirectly(t *testing.T) {
	machine := assemble(t, "label main:\n  xor rax, rbx\n  halt\nendlabel")

	instrs := body(t, machine, "main")
	if instrs[0] != instruction.RegReg(instruction.OpXor, vm.RA, vm.RB) {
		t.Errorf("lowered xor = %s", instrs[0])
	}
}

func TestCompareLiteralsSpillCompareRegisters(t *testing.T) {
	machine := assemble(t, "label main:\n  cmp 1, 2\n  halt\nendlabel")

	instrs := body(t, machine, "main")
	want := []instruction.Instruction{
		instruction.Reg(instruction.OpPushRegister, vm.RC),
		instruction.Mov(vm.RC, 1),
		instruction.Reg(instruction.OpPushRegister, vm.RD),
		instruction.Mov(vm.RD, 2),
		instruction.RegReg(instruction.OpCompare, vm.RC, vm.RD),
		instruction.Reg(instruction.OpPop, vm.RD),
		instruction.Reg(instruction.OpPop, vm.RC),
	}
	for i, w := range want {
		if instrs[i] != w {
			t.Errorf("instruction %d = %s, want %s", i, instrs[i], w)
		}
	}
}

func TestMallocLiteralUsesReservedScratch(t *testing.T) {
	machine := assemble(t, "label main:\n  malloc 3\n  halt\nendlabel")

	instrs := body(t, machine, "main")
	want := []instruction.Instruction{
		instruction.Mov(vm.RES1, 3),
		instruction.Reg(instruction.OpMalloc, vm.RES1),
	}
	for i, w := range want {
		if instrs[i] != w {
			t.Errorf("instruction %d = %s, want %s", i, instrs[i], w)
		}
	}
}

func TestTruncStackLiteralUsesReservedScratch(t *testing.T) {
	machine := assemble(t, "label main:\n  truncstack 2\n  halt\nendlabel")

	instrs := body(t, machine, "main")
	if instrs[0] != instruction.Mov(vm.RES1, 2) ||
		instrs[1] != instruction.Reg(instruction.OpTruncateStack, vm.RES1) {
		t.Errorf("lowered truncstack = %s; %s", instrs[0], instrs[1])
	}
}

func TestGetMemLiteralSpills(t *testing.T) {
	machine := assemble(t, "label main:\n  getmem rdx, 1, 0\n  halt\nendlabel")

	instrs := body(t, machine, "main")
	want := []instruction.Instruction{
		instruction.Mov(vm.RES1, 1),
		instruction.Mov(vm.RES2, 0),
		instruction.RegRegReg(instruction.OpGetMemory, vm.RES1, vm.RD, vm.RES2),
	}
	for i, w := range want {
		if instrs[i] != w {
			t.Errorf("instruction %d = %s, want %s", i, instrs[i], w)
		}
	}
}

func TestSetMemRegisterOperandsLowerDirectly(t *testing.T) {
	machine := assemble(t, "label main:\n  setmem rax, rbx, rcx\n  halt\nendlabel")

	instrs := body(t, machine, "main")
	if instrs[0] != instruction.RegRegReg(instruction.OpSetMemory, vm.RA, vm.RB, vm.RC) {
		t.Errorf("lowered setmem = %s", instrs[0])
	}
}

func TestDisplayfLiteralBorrowsFloatRegisterZero(t *testing.T) {
	machine := assemble(t, "label main:\n  displayf 2.5\n  halt\nendlabel")

	instrs := body(t, machine, "main")
	want := []instruction.Instruction{
		instruction.Reg(instruction.OpPushFloatRegister, vm.FA),
		instruction.Movf(vm.FA, 2.5),
		instruction.Reg(instruction.OpDisplayf, vm.FA),
		instruction.Reg(instruction.OpPopFloat, vm.FA),
	}
	for i, w := range want {
		if instrs[i] != w {
			t.Errorf("instruction %d = %s, want %s", i, instrs[i], w)
		}
	}
}

func TestWriteLowering(t *testing.T) {
	machine := assemble(t, "label main:\n  write rax\n  halt\nendlabel")

	instrs := body(t, machine, "main")
	want := []instruction.Instruction{
		instruction.Reg(instruction.OpGetStackPointer, vm.RES1),
		instruction.RegReg(instruction.OpWrite, vm.RA, vm.RES1),
	}
	for i, w := range want {
		if instrs[i] != w {
			t.Errorf("instruction %d = %s, want %s", i, instrs[i], w)
		}
	}
}

func TestJumpLabelAndNumericTargets(t *testing.T) {
	machine := assemble(t, `
label main:
  jmp done
  jz 4
  halt
endlabel
label done:
  halt
endlabel
`)

	instrs := body(t, machine, "main")
	if instrs[0] != instruction.JumpTo(instruction.OpJump, instruction.NameTarget("done")) {
		t.Errorf("jmp = %s", instrs[0])
	}
	if instrs[1] != instruction.JumpTo(instruction.OpJumpIfZero, instruction.AddrTarget(4)) {
		t.Errorf("jz = %s", instrs[1])
	}
}

func TestNegativeJumpTargetFatal(t *testing.T) {
	program, err := parser.ParseString("label main:\n  jmp -1\nendlabel", "test.basm")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, err := Assemble(program); err == nil {
		t.Error("negative jump target assembled")
	}
}

func TestImplicitReturnAppended(t *testing.T) {
	machine := assemble(t, `
label helper:
  mov rax, 1
endlabel
label main:
  halt
endlabel
`)

	instrs := body(t, machine, "helper")
	last := instrs[len(instrs)-1]
	if last != instruction.None(instruction.OpReturn) {
		t.Errorf("label does not end with Return: %s", last)
	}
}

func TestExplicitReturnNotDuplicated(t *testing.T) {
	machine := assemble(t, `
label helper:
  mov rax, 1
  ret
endlabel
label main:
  halt
endlabel
`)

	instrs := body(t, machine, "helper")
	returns := 0
	for _, in := range instrs {
		if in.Op == instruction.OpReturn {
			returns++
		}
	}
	if returns != 1 {
		t.Errorf("helper has %d Returns, want 1", returns)
	}
}

func TestGetFlagByName(t *testing.T) {
	machine := assemble(t, "label main:\n  getflag rax, gf\n  halt\nendlabel")

	instrs := body(t, machine, "main")
	// gf is flag lane 3, moved through the dst+1 spill slot.
	want := []instruction.Instruction{
		instruction.Reg(instruction.OpPushRegister, vm.RA+1),
		instruction.Mov(vm.RA+1, 3),
		instruction.RegReg(instruction.OpGetFlag, vm.RA, vm.RA+1),
		instruction.Reg(instruction.OpPop, vm.RA+1),
	}
	for i, w := range want {
		if instrs[i] != w {
			t.Errorf("instruction %d = %s, want %s", i, instrs[i], w)
		}
	}
}

func TestNumericRegisterReference(t *testing.T) {
	machine := assemble(t, "label main:\n  display 4\n  halt\nendlabel")

	// display of a literal spills RA; a numeric register reference is only
	// meaningful in register-only positions like pop.
	machine2 := assemble(t, "label main:\n  pop 4\n  halt\nendlabel")
	instrs := body(t, machine2, "main")
	if instrs[0] != instruction.Reg(instruction.OpPop, vm.RES1) {
		t.Errorf("pop 4 = %s, want Pop r4", instrs[0])
	}
	_ = machine
}

func TestRunLoweredProgram(t *testing.T) {
	machine := assemble(t, `
label main:
  mov rax, 0
  add rax, 21
  mul rax, 2
  display rax
  halt
endlabel
`)

	out := &bytes.Buffer{}
	machine.Output = out
	if err := machine.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.String() != "42\n" {
		t.Errorf("output = %q, want 42\\n", out.String())
	}
}

func TestSpillsAreNetNeutral(t *testing.T) {
	machine := assemble(t, `
label main:
  mov rbx, 99
  add rax, 5
  cmp 1, 2
  halt
endlabel
`)

	out := &bytes.Buffer{}
	machine.Output = out
	if err := machine.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if machine.StackLen() != 0 {
		t.Errorf("stack not empty after spilled forms: %d cells", machine.StackLen())
	}
	if machine.Registers[vm.RB] != 99 {
		t.Errorf("rbx clobbered by spills: %d", machine.Registers[vm.RB])
	}
}

func TestImportSplicesLabels(t *testing.T) {
	dir := t.TempDir()

	lib := filepath.Join(dir, "lib.basm")
	if err := os.WriteFile(lib, []byte(`
label double:
  mul rax, 2
  ret
endlabel
label main:
  halt
endlabel
`), 0o644); err != nil {
		t.Fatalf("writing lib: %v", err)
	}

	root := filepath.Join(dir, "prog.basm")
	if err := os.WriteFile(root, []byte(`
@import("lib.basm")
label main:
  mov rax, 21
  call double
  display rax
  halt
endlabel
`), 0o644); err != nil {
		t.Fatalf("writing prog: %v", err)
	}

	program, err := parser.ParseFile(root)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	machine, err := Assemble(program)
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	// The imported module's main is not merged; the importing main wins.
	if _, ok := machine.Labels()["double"]; !ok {
		t.Fatal("imported label not merged")
	}

	// Imported instructions precede the importing module's.
	double := machine.Labels()["double"]
	main := machine.Labels()["main"]
	if double.Start >= main.Start {
		t.Errorf("imported label at %d does not precede main at %d", double.Start, main.Start)
	}

	out := &bytes.Buffer{}
	machine.Output = out
	if err := machine.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.String() != "42\n" {
		t.Errorf("output = %q, want 42\\n", out.String())
	}
}

func TestImportMissingFileFatal(t *testing.T) {
	program, err := parser.ParseString(`
@import("does-not-exist.basm")
label main:
  halt
endlabel
`, filepath.Join(t.TempDir(), "prog.basm"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, err := Assemble(program); err == nil {
		t.Error("missing import assembled")
	}
}

func TestImportDuplicateLabelFatal(t *testing.T) {
	dir := t.TempDir()

	lib := filepath.Join(dir, "lib.basm")
	if err := os.WriteFile(lib, []byte("label helper:\n  ret\nendlabel"), 0o644); err != nil {
		t.Fatalf("writing lib: %v", err)
	}
	root := filepath.Join(dir, "prog.basm")
	if err := os.WriteFile(root, []byte(`
@import("lib.basm")
label helper:
  ret
endlabel
label main:
  halt
endlabel
`), 0o644); err != nil {
		t.Fatalf("writing prog: %v", err)
	}

	program, err := parser.ParseFile(root)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, err := Assemble(program); err == nil {
		t.Error("duplicate label across import assembled")
	}
}

func TestCircularImportFatal(t *testing.T) {
	dir := t.TempDir()

	a := filepath.Join(dir, "a.basm")
	b := filepath.Join(dir, "b.basm")
	if err := os.WriteFile(a, []byte("@import(\"b.basm\")\nlabel main:\n  halt\nendlabel"), 0o644); err != nil {
		t.Fatalf("writing a: %v", err)
	}
	if err := os.WriteFile(b, []byte("@import(\"a.basm\")\nlabel lib:\n  ret\nendlabel"), 0o644); err != nil {
		t.Fatalf("writing b: %v", err)
	}

	program, err := parser.ParseFile(a)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	_, err = Assemble(program)
	if err == nil {
		t.Fatal("circular import assembled")
	}
	if !strings.Contains(err.Error(), "circular") {
		t.Errorf("unexpected diagnostic: %v", err)
	}
}
