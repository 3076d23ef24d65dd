// Package loader moves programs between VMs and bytecode files. The file
// format is the textual bit string produced by the encoder; line breaks are
// permitted in files and stripped on load.
package loader

import (
	"fmt"
	"os"
	"strings"

	"github.com/Quan1umMango/basm/encoder"
	"github.com/Quan1umMango/basm/vm"
)

// Bytecode serializes the machine's program, resolving label targets
// through its label table.
func Bytecode(machine *vm.VM) (string, error) {
	enc := encoder.NewEncoder(machine.LabelStarts())
	return enc.Encode(machine.Program())
}

// WriteBytecodeFile encodes the machine's program into path.
func WriteBytecodeFile(machine *vm.VM, path string) error {
	bits, err := Bytecode(machine)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(bits+"\n"), 0o644); err != nil {
		return fmt.Errorf("cannot write bytecode file: %w", err)
	}
	return nil
}

// LoadBytecode decodes a bit string into the machine's instruction array,
// replacing any existing program. Line breaks are stripped first; any other
// stray character is rejected by the decoder.
func LoadBytecode(machine *vm.VM, bits string) error {
	bits = strings.NewReplacer("\n", "", "\r", "").Replace(bits)
	instrs, err := encoder.Decode(bits)
	if err != nil {
		return err
	}
	return machine.SetProgram(instrs)
}

// LoadBytecodeFile reads and decodes a bytecode file into the machine.
func LoadBytecodeFile(machine *vm.VM, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- user-specified bytecode path
	if err != nil {
		return fmt.Errorf("cannot read bytecode file: %w", err)
	}
	return LoadBytecode(machine, string(data))
}
