// Package source splits assembly text into statements.
//
// The format is line oriented. A line starting with '.' declares a label,
// any other non-empty line is a mnemonic followed by operands separated by
// whitespace or commas. There are no comments, macros or sections.
package source

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/tinyrange/z/internal/asm"
)

type Kind uint8

const (
	KindInstruction Kind = iota
	KindLabel
)

// Statement is one non-empty source line.
type Statement struct {
	Line     int
	Kind     Kind
	Label    asm.Label
	Mnemonic string
	Operands []string
	// Text is the line with leading whitespace removed.
	Text string
}

// Operand returns the idx-th operand of an instruction.
func (s Statement) Operand(idx int) (string, error) {
	if idx < 0 || idx >= len(s.Operands) {
		return "", fmt.Errorf("%w %d", asm.ErrMissingOperand, idx)
	}
	return s.Operands[idx], nil
}

// Quoted returns the raw bytes between the first and last double quote on the
// line. No escape processing is done.
func (s Statement) Quoted() ([]byte, error) {
	start := strings.IndexByte(s.Text, '"')
	if start < 0 {
		return nil, fmt.Errorf("%w: missing opening quote", asm.ErrUnterminatedString)
	}
	end := strings.LastIndexByte(s.Text, '"')
	if end == start {
		return nil, fmt.Errorf("%w: missing closing quote", asm.ErrUnterminatedString)
	}
	return []byte(s.Text[start+1 : end]), nil
}

type File struct {
	Statements []Statement
}

// Labels returns the declared labels in declaration order.
func (f *File) Labels() []asm.Label {
	var out []asm.Label
	for _, stmt := range f.Statements {
		if stmt.Kind == KindLabel {
			out = append(out, stmt.Label)
		}
	}
	return out
}

// Parse splits src into statements. It stops at the first malformed line.
func Parse(src []byte) (*File, error) {
	f := &File{}
	for idx, raw := range bytes.Split(src, []byte{'\n'}) {
		stmt, ok, err := ParseLine(string(raw), idx+1)
		if err != nil {
			return nil, err
		}
		if ok {
			f.Statements = append(f.Statements, stmt)
		}
	}
	return f, nil
}

// ParseLine parses a single line. ok is false for blank lines.
func ParseLine(line string, lineNo int) (stmt Statement, ok bool, err error) {
	line = strings.TrimSuffix(line, "\r")
	line = strings.TrimLeft(line, " \t\v\f")
	if line == "" {
		return Statement{}, false, nil
	}

	stmt = Statement{Line: lineNo, Text: line}

	if line[0] == '.' {
		name := strings.TrimRight(line[1:], " \t\v\f")
		if name == "" {
			return Statement{}, false, &asm.SourceError{Line: lineNo, Err: fmt.Errorf("%w: empty label name", asm.ErrSyntax)}
		}
		if strings.ContainsAny(name, " \t,") {
			return Statement{}, false, &asm.SourceError{Line: lineNo, Err: fmt.Errorf("%w: malformed label %q", asm.ErrSyntax, name)}
		}
		stmt.Kind = KindLabel
		stmt.Label = asm.Label(name)
		return stmt, true, nil
	}

	tokens := strings.FieldsFunc(line, isSeparator)
	if len(tokens) == 0 {
		return Statement{}, false, &asm.SourceError{Line: lineNo, Err: fmt.Errorf("%w: missing op", asm.ErrSyntax)}
	}
	stmt.Kind = KindInstruction
	stmt.Mnemonic = tokens[0]
	stmt.Operands = tokens[1:]
	return stmt, true, nil
}

func isSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '\v', '\f', ',':
		return true
	}
	return false
}
