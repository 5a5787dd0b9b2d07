package source

import "github.com/tinyrange/z/internal/asm"

type OperandKind uint8

const (
	OperandRegister OperandKind = iota
	OperandImmediate
	OperandLabel
	OperandString
	OperandMemory
)

func (k OperandKind) String() string {
	switch k {
	case OperandRegister:
		return "register"
	case OperandImmediate:
		return "immediate"
	case OperandLabel:
		return "label"
	case OperandString:
		return "string"
	case OperandMemory:
		return "memory"
	default:
		return "unknown"
	}
}

// Classify decides what an operand token refers to from its leading bytes.
// It does not validate the token.
func Classify(tok string) OperandKind {
	if tok == "" {
		return OperandRegister
	}
	switch c := tok[0]; {
	case c >= '0' && c <= '9':
		return OperandImmediate
	case c == '.':
		return OperandLabel
	case c == '"':
		return OperandString
	}
	if len(tok) > 1 && tok[1] == '(' {
		return OperandMemory
	}
	return OperandRegister
}

// LabelName strips the leading '.' from a label reference.
func LabelName(tok string) asm.Label {
	if len(tok) > 0 && tok[0] == '.' {
		return asm.Label(tok[1:])
	}
	return asm.Label(tok)
}
