package asm

import (
	"fmt"
)

// Context receives the bytes and label bookkeeping produced by fragments.
type Context interface {
	EmitBytes(data []byte)
	Len() int

	SetLabel(label Label) error
	LabelIndex(label Label) (int, error)
	AddRelocation(r Relocation)
}

type Fragment interface {
	Emit(ctx Context) error
}

// Container is implemented by fragments that wrap other fragments, so passes
// that only care about label declarations can see through them.
type Container interface {
	Children() []Fragment
}

type Group []Fragment

var (
	_ Fragment  = Group{}
	_ Container = Group{}
)

func (g Group) Emit(ctx Context) error {
	for _, frag := range g {
		if err := frag.Emit(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (g Group) Children() []Fragment { return g }

type Label string

type labelDef struct {
	label Label
}

func MarkLabel(label Label) Fragment {
	return &labelDef{label: label}
}

func (l *labelDef) Emit(ctx Context) error {
	return ctx.SetLabel(l.label)
}

// located tags a fragment with the source line it came from. Errors returned
// by the inner fragment are wrapped in a SourceError.
type located struct {
	line     int
	mnemonic string
	inner    Fragment
}

// AtLine wraps f so failures are reported against the given line and mnemonic.
func AtLine(line int, mnemonic string, f Fragment) Fragment {
	return &located{line: line, mnemonic: mnemonic, inner: f}
}

func (l *located) Emit(ctx Context) error {
	if err := l.inner.Emit(ctx); err != nil {
		return &SourceError{Line: l.line, Mnemonic: l.mnemonic, Err: err}
	}
	return nil
}

func (l *located) Children() []Fragment { return []Fragment{l.inner} }

// CollectLabels walks f in emission order and returns every label it
// declares. This is the collection pass: the result fixes each label's index
// before any code is encoded.
func CollectLabels(f Fragment) []Label {
	var out []Label
	var walk func(Fragment)
	walk = func(f Fragment) {
		switch v := f.(type) {
		case *labelDef:
			out = append(out, v.label)
		case Container:
			for _, child := range v.Children() {
				walk(child)
			}
		}
	}
	walk(f)
	return out
}

type RelocKind uint8

const (
	// RelocPCRel32 is a signed 32-bit displacement relative to the end of the
	// 4-byte field, as used by RIP-relative addressing.
	RelocPCRel32 RelocKind = iota + 1
)

func (k RelocKind) String() string {
	switch k {
	case RelocPCRel32:
		return "pcrel32"
	default:
		return fmt.Sprintf("RelocKind(%d)", uint8(k))
	}
}

// Relocation records an unresolved reference to a label. Offset is the
// position of the field inside the code buffer.
type Relocation struct {
	Offset int
	Label  int
	Kind   RelocKind
}

type Symbol struct {
	Name   Label
	Offset int
}

type Program struct {
	code    []byte
	symbols []Symbol
}

func (p Program) Bytes() []byte {
	return append([]byte(nil), p.code...)
}

func (p Program) Len() int {
	return len(p.code)
}

// Symbols returns the resolved labels in declaration order.
func (p Program) Symbols() []Symbol {
	return append([]Symbol(nil), p.symbols...)
}

// Lookup returns the resolved offset of a label.
func (p Program) Lookup(name Label) (int, bool) {
	for _, sym := range p.symbols {
		if sym.Name == name {
			return sym.Offset, true
		}
	}
	return 0, false
}

func (p Program) Clone() Program {
	return Program{
		code:    append([]byte(nil), p.code...),
		symbols: append([]Symbol(nil), p.symbols...),
	}
}

func NewProgram(code []byte, symbols []Symbol) Program {
	return Program{
		code:    append([]byte(nil), code...),
		symbols: append([]Symbol(nil), symbols...),
	}
}
