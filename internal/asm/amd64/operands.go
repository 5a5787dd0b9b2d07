package amd64

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tinyrange/z/internal/asm"
	"github.com/tinyrange/z/internal/asm/source"
)

// Reg is a 64-bit general-purpose register. The value is the 4-bit hardware
// encoding: the low three bits go in ModRM, bit 3 in a REX extension bit.
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var registerNames = [...]string{
	RAX: "rax", RCX: "rcx", RDX: "rdx", RBX: "rbx",
	RSP: "rsp", RBP: "rbp", RSI: "rsi", RDI: "rdi",
	R8: "r8", R9: "r9", R10: "r10", R11: "r11",
	R12: "r12", R13: "r13", R14: "r14", R15: "r15",
}

func (r Reg) String() string {
	if int(r) < len(registerNames) {
		return registerNames[r]
	}
	return fmt.Sprintf("Reg(%d)", uint8(r))
}

// Low3 returns the register's ModRM field bits.
func (r Reg) Low3() byte { return byte(r) & 0b111 }

// Ext returns the REX extension bit (1 for r8-r15).
func (r Reg) Ext() byte { return byte(r) >> 3 }

func (r Reg) isOperand() {}

// ParseRegister resolves a register mnemonic such as "rdi" or "r12".
func ParseRegister(name string) (Reg, error) {
	invalid := func() (Reg, error) {
		return 0, fmt.Errorf("%w %q", asm.ErrInvalidRegister, name)
	}
	if len(name) < 2 || name[0] != 'r' {
		return invalid()
	}

	var third byte
	if len(name) > 2 {
		third = name[2]
	}

	var reg Reg
	switch c := name[1]; {
	case c >= '0' && c <= '9':
		switch c {
		case '8':
			reg = R8
		case '9':
			reg = R9
		case '1':
			if third < '0' || third > '5' {
				return invalid()
			}
			reg = R10 + Reg(third-'0')
		default:
			return invalid()
		}
	case c == 'a':
		reg = RAX
	case c == 'c':
		reg = RCX
	case c == 'd':
		switch third {
		case 'i':
			reg = RDI
		case 'x':
			reg = RDX
		default:
			return invalid()
		}
	case c == 'b':
		switch third {
		case 'p':
			reg = RBP
		case 'x':
			reg = RBX
		default:
			return invalid()
		}
	case c == 's':
		switch third {
		case 'p':
			reg = RSP
		case 'i':
			reg = RSI
		default:
			return invalid()
		}
	default:
		return invalid()
	}

	// The decision above only looks at the leading characters.
	if registerNames[reg] != name {
		return invalid()
	}
	return reg, nil
}

// Size is the width in bytes of a data directive or memory operand.
type Size uint8

const (
	Byte Size = 1
	Word Size = 2
	Long Size = 4
	Quad Size = 8
)

func (s Size) String() string {
	switch s {
	case Byte:
		return "byte"
	case Word:
		return "word"
	case Long:
		return "long"
	case Quad:
		return "quad"
	default:
		return fmt.Sprintf("Size(%d)", uint8(s))
	}
}

// ParseSize resolves a single-character size suffix (b, w, l, q).
func ParseSize(c byte) (Size, error) {
	switch c {
	case 'b':
		return Byte, nil
	case 'w':
		return Word, nil
	case 'l':
		return Long, nil
	case 'q':
		return Quad, nil
	default:
		return 0, fmt.Errorf("%w %q", asm.ErrInvalidSizeSuffix, c)
	}
}

// ParseImmediate parses an unsigned decimal literal.
func ParseImmediate(tok string) (uint64, error) {
	if tok == "" || tok[0] < '0' || tok[0] > '9' {
		return 0, fmt.Errorf("%w %q", asm.ErrImmediateParse, tok)
	}
	v, err := strconv.ParseUint(tok, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", asm.ErrImmediateParse, tok, err)
	}
	return v, nil
}

// Operand is a resolved instruction operand: a Reg, an Immediate, a LabelRef
// or a Memory reference.
type Operand interface {
	isOperand()
}

type Immediate uint64

func (Immediate) isOperand() {}

type LabelRef asm.Label

func (LabelRef) isOperand() {}

// Memory is a sized register-indirect reference written as "q(rax)". It is
// parsed so it can be rejected with a precise error.
type Memory struct {
	Size Size
	Base Reg
}

func (Memory) isOperand() {}

func (m Memory) String() string {
	return fmt.Sprintf("%c(%s)", "?bw?l???q"[m.Size], m.Base)
}

// ParseOperand resolves an operand token.
func ParseOperand(tok string) (Operand, error) {
	switch source.Classify(tok) {
	case source.OperandImmediate:
		v, err := ParseImmediate(tok)
		if err != nil {
			return nil, err
		}
		return Immediate(v), nil
	case source.OperandLabel:
		name := source.LabelName(tok)
		if name == "" {
			return nil, fmt.Errorf("%w: empty label reference", asm.ErrSyntax)
		}
		return LabelRef(name), nil
	case source.OperandMemory:
		size, err := ParseSize(tok[0])
		if err != nil {
			return nil, err
		}
		if !strings.HasSuffix(tok, ")") {
			return nil, fmt.Errorf("%w: unterminated memory operand %q", asm.ErrSyntax, tok)
		}
		base, err := ParseRegister(tok[2 : len(tok)-1])
		if err != nil {
			return nil, err
		}
		return Memory{Size: size, Base: base}, nil
	case source.OperandString:
		return nil, fmt.Errorf("%w: string operand %s", asm.ErrUnsupportedAddressing, tok)
	default:
		reg, err := ParseRegister(tok)
		if err != nil {
			return nil, err
		}
		return reg, nil
	}
}

type fragmentFunc func(asm.Context) error

func (f fragmentFunc) Emit(ctx asm.Context) error { return f(ctx) }
