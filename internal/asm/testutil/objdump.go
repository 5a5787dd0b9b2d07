// Package testutil checks assembled images against an external disassembler.
package testutil

import (
	"bufio"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// DisasmLine is one decoded instruction.
type DisasmLine struct {
	Address    uint64
	Text       string
	Normalized string
	Mnemonic   string
}

// Contains reports whether the normalized text contains substr.
func (l DisasmLine) Contains(substr string) bool {
	return strings.Contains(l.Normalized, substr)
}

// DisassembleImage decodes the executable sections of a linked ELF image
// with GNU objdump. The test is skipped when objdump is not installed.
func DisassembleImage(t *testing.T, image []byte, extraArgs ...string) []DisasmLine {
	t.Helper()
	args := append([]string{"-d", "--no-show-raw-insn"}, extraArgs...)
	return DisassembleWithTool(t, "objdump", image, args...)
}

// DisassembleWithTool runs tool with args followed by the path of a
// temporary copy of image.
func DisassembleWithTool(t *testing.T, tool string, image []byte, args ...string) []DisasmLine {
	t.Helper()

	bin, err := exec.LookPath(tool)
	if err != nil {
		t.Skipf("%s not available: %v", tool, err)
	}

	imagePath := filepath.Join(t.TempDir(), "image")
	if err := os.WriteFile(imagePath, image, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	out, err := exec.Command(bin, append(args, imagePath)...).CombinedOutput()
	if err != nil {
		t.Fatalf("%s %v: %v\n%s", tool, args, err, out)
	}

	lines, err := parseObjdumpOutput(string(out))
	if err != nil {
		t.Fatalf("parse %s output: %v", tool, err)
	}
	if len(lines) == 0 {
		t.Fatalf("%s decoded nothing:\n%s", tool, out)
	}
	return lines
}

// parseObjdumpOutput keeps lines of the form "<hex address>: <instruction>".
// Headers, symbol lines and blank lines are dropped.
func parseObjdumpOutput(out string) ([]DisasmLine, error) {
	var lines []DisasmLine
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		addrText, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		addr, err := strconv.ParseUint(strings.TrimSpace(addrText), 16, 64)
		if err != nil {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "<") {
			continue
		}
		lines = append(lines, DisasmLine{
			Address:    addr,
			Text:       strings.TrimSpace(rest),
			Normalized: strings.Join(fields, " "),
			Mnemonic:   strings.ToLower(fields[0]),
		})
	}
	return lines, sc.Err()
}
