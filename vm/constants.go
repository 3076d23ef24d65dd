package vm

// Integer register indices. RA-RD are the user-visible registers; RES1 and
// RES2 are reserved for the assembler's literal spills and are not intended
// for user code.
const (
	RA   = 0
	RB   = 1
	RC   = 2
	RD   = 3
	RES1 = 4
	RES2 = 5

	// NumIntRegisters leaves one slot above RES2 so the lowering pass's
	// R+1 spill idiom stays in range for every spillable register.
	NumIntRegisters = 7
)

// Float register indices.
const (
	FA = 0
	FB = 1
	FC = 2
	FD = 3

	NumFloatRegisters = 5
)

// Flag lanes set by Compare and read by the conditional jumps and GetFlag.
const (
	FlagZero    = 0
	FlagEqual   = 1
	FlagLess    = 2
	FlagGreater = 3

	FlagCount = 4
)

// MaxInstructions is the fixed capacity of the instruction array. Slot 0 is
// reserved for the entry jump installed by RegisterStart.
const MaxInstructions = 1000
