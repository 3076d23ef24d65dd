package loader

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/Quan1umMango/basm/instruction"
	"github.com/Quan1umMango/basm/vm"
)

func sampleVM(t *testing.T) *vm.VM {
	t.Helper()
	machine := vm.NewVM()

	if err := machine.StartLabel("main"); err != nil {
		t.Fatalf("StartLabel failed: %v", err)
	}
	for _, in := range []instruction.Instruction{
		instruction.Mov(vm.RA, 1),
		instruction.Mov(vm.RB, 41),
		instruction.RegReg(instruction.OpAdd, vm.RA, vm.RB),
		instruction.Reg(instruction.OpDisplay, vm.RA),
		instruction.None(instruction.OpHalt),
	} {
		if err := machine.AddInstruction(in); err != nil {
			t.Fatalf("AddInstruction failed: %v", err)
		}
	}
	if err := machine.EndLabel("main"); err != nil {
		t.Fatalf("EndLabel failed: %v", err)
	}
	if err := machine.RegisterStart(); err != nil {
		t.Fatalf("RegisterStart failed: %v", err)
	}
	return machine
}

func TestBytecodeRoundTripThroughFile(t *testing.T) {
	machine := sampleVM(t)
	path := filepath.Join(t.TempDir(), "prog.bc")

	if err := WriteBytecodeFile(machine, path); err != nil {
		t.Fatalf("WriteBytecodeFile failed: %v", err)
	}

	loaded := vm.NewVM()
	out := &bytes.Buffer{}
	loaded.Output = out
	if err := LoadBytecodeFile(loaded, path); err != nil {
		t.Fatalf("LoadBytecodeFile failed: %v", err)
	}

	if err := loaded.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.String() != "42\n" {
		t.Errorf("output = %q, want 42\\n", out.String())
	}
}

func TestLoadBytecodeStripsLineBreaks(t *testing.T) {
	machine := sampleVM(t)
	bits, err := Bytecode(machine)
	if err != nil {
		t.Fatalf("Bytecode failed: %v", err)
	}

	// Break the stream across lines; the loader must reassemble it.
	broken := bits[:40] + "\r\n" + bits[40:100] + "\n" + bits[100:]

	loaded := vm.NewVM()
	out := &bytes.Buffer{}
	loaded.Output = out
	if err := LoadBytecode(loaded, broken); err != nil {
		t.Fatalf("LoadBytecode failed: %v", err)
	}
	if err := loaded.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.String() != "42\n" {
		t.Errorf("output = %q, want 42\\n", out.String())
	}
}

func TestLoadBytecodeRejectsStrayCharacters(t *testing.T) {
	loaded := vm.NewVM()
	if err := LoadBytecode(loaded, "01a1"); err == nil {
		t.Error("stray character loaded without error")
	}
}

func TestLoadBytecodeFileMissing(t *testing.T) {
	loaded := vm.NewVM()
	if err := LoadBytecodeFile(loaded, filepath.Join(t.TempDir(), "nope.bc")); err == nil {
		t.Error("missing file loaded without error")
	}
}

func TestWrittenFileIsTextual(t *testing.T) {
	machine := sampleVM(t)
	path := filepath.Join(t.TempDir(), "prog.bc")
	if err := WriteBytecodeFile(machine, path); err != nil {
		t.Fatalf("WriteBytecodeFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	for i, b := range data {
		if b != '0' && b != '1' && b != '\n' {
			t.Fatalf("byte %d = %q, want only 0/1/newline", i, b)
		}
	}
}
