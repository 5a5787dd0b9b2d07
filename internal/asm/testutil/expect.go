package testutil

import (
	"fmt"
	"testing"
)

// Expectation describes one instruction expected in disassembly order.
type Expectation struct {
	Name     string
	Mnemonic string
	// Operands are substrings of the normalized operand text.
	Operands []string
	// Offset, when non-negative, is the instruction's distance from the first
	// disassembled instruction.
	Offset int
}

// Instr builds an expectation that ignores the instruction offset.
func Instr(name, mnemonic string, operands ...string) Expectation {
	return Expectation{Name: name, Mnemonic: mnemonic, Operands: operands, Offset: -1}
}

func (e Expectation) check(line DisasmLine, base uint64) error {
	if e.Mnemonic != "" && line.Mnemonic != e.Mnemonic {
		return fmt.Errorf("mnemonic=%s, want %s", line.Mnemonic, e.Mnemonic)
	}
	if e.Offset >= 0 && line.Address-base != uint64(e.Offset) {
		return fmt.Errorf("offset=%d, want %d", line.Address-base, e.Offset)
	}
	for _, op := range e.Operands {
		if !line.Contains(op) {
			return fmt.Errorf("operand %q not in %q", op, line.Normalized)
		}
	}
	return nil
}

// CheckInstructions matches expect against the leading disassembled
// instructions. Whatever follows the last expectation, such as inline data
// decoded as code, is ignored.
func CheckInstructions(lines []DisasmLine, expect []Expectation) error {
	if len(lines) < len(expect) {
		return fmt.Errorf("disassembly has %d instructions, want at least %d", len(lines), len(expect))
	}
	if len(lines) == 0 {
		return nil
	}
	base := lines[0].Address
	for i, exp := range expect {
		if err := exp.check(lines[i], base); err != nil {
			return fmt.Errorf("instruction %d (%s): %v\nline: %s", i, exp.Name, err, lines[i].Text)
		}
	}
	return nil
}

// VerifyExpectations fails the test when CheckInstructions does.
func VerifyExpectations(t *testing.T, lines []DisasmLine, expect []Expectation) {
	t.Helper()
	if err := CheckInstructions(lines, expect); err != nil {
		t.Fatal(err)
	}
}
