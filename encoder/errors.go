package encoder

import (
	"fmt"

	"github.com/Quan1umMango/basm/instruction"
)

// EncodingError reports a failure while serializing one instruction, keeping
// the instruction around for the diagnostic.
type EncodingError struct {
	Instruction instruction.Instruction
	Message     string
	Wrapped     error
}

func (e *EncodingError) Error() string {
	msg := fmt.Sprintf("encoding %s: %s", e.Instruction, e.Message)
	if e.Wrapped != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Wrapped)
	}
	return msg
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *EncodingError) Unwrap() error {
	return e.Wrapped
}

// DecodingError reports corrupt or truncated bytecode. Offset is the bit
// index at which decoding failed.
type DecodingError struct {
	Offset  int
	Message string
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("bytecode corrupt at bit %d: %s", e.Offset, e.Message)
}

func newDecodingError(offset int, format string, args ...any) *DecodingError {
	return &DecodingError{Offset: offset, Message: fmt.Sprintf(format, args...)}
}
