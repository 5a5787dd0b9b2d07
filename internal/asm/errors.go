package asm

import (
	"errors"
	"fmt"
)

// Error kinds reported by the assembler. Callers match them with errors.Is;
// the concrete error usually carries more detail and a source position.
var (
	ErrSyntax             = errors.New("syntax error")
	ErrMissingOperand     = fmt.Errorf("%w: missing operand", ErrSyntax)
	ErrUnterminatedString = fmt.Errorf("%w: unterminated string", ErrSyntax)

	ErrUnknownOpcode         = errors.New("unknown opcode")
	ErrInvalidRegister       = errors.New("invalid register")
	ErrInvalidSizeSuffix     = errors.New("invalid size suffix")
	ErrImmediateParse        = errors.New("invalid immediate")
	ErrUndeclaredLabel       = errors.New("undeclared label")
	ErrDuplicateLabel        = errors.New("duplicate label")
	ErrLabelCapacity         = errors.New("too many labels")
	ErrUnsupportedAddressing = errors.New("unsupported addressing form")
	ErrDisplacementRange     = errors.New("displacement out of range")
)

// SourceError attaches a source position to an assembly failure.
type SourceError struct {
	Line     int
	Mnemonic string
	Err      error
}

func (e *SourceError) Error() string {
	if e.Mnemonic == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("line %d: %s: %v", e.Line, e.Mnemonic, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
