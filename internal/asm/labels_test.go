package asm

import (
	"errors"
	"fmt"
	"testing"
)

func TestLabelTableIndexesInDeclarationOrder(t *testing.T) {
	table, err := NewLabelTable([]Label{"start", "msg", "end"})
	if err != nil {
		t.Fatalf("NewLabelTable failed: %v", err)
	}
	if got, want := table.Len(), 3; got != want {
		t.Fatalf("Len()=%d, want %d", got, want)
	}
	for want, name := range []Label{"start", "msg", "end"} {
		got, err := table.Index(name)
		if err != nil {
			t.Fatalf("Index(%q) failed: %v", name, err)
		}
		if got != want {
			t.Fatalf("Index(%q)=%d, want %d", name, got, want)
		}
		if got := table.Name(want); got != name {
			t.Fatalf("Name(%d)=%q, want %q", want, got, name)
		}
	}
	if got := table.Name(7); got != "" {
		t.Fatalf("Name(7)=%q, want empty", got)
	}
}

func TestLabelTableBind(t *testing.T) {
	table, err := NewLabelTable([]Label{"a", "b"})
	if err != nil {
		t.Fatalf("NewLabelTable failed: %v", err)
	}
	if _, ok := table.Offset(0); ok {
		t.Fatalf("label bound before Bind")
	}
	if err := table.Bind("b", 12); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if off, ok := table.Offset(1); !ok || off != 12 {
		t.Fatalf("Offset(1)=%d (ok=%v), want 12", off, ok)
	}
	if err := table.Bind("b", 20); !errors.Is(err, ErrDuplicateLabel) {
		t.Fatalf("second Bind error=%v, want %v", err, ErrDuplicateLabel)
	}
	if err := table.Bind("c", 0); !errors.Is(err, ErrUndeclaredLabel) {
		t.Fatalf("Bind of unknown label error=%v, want %v", err, ErrUndeclaredLabel)
	}

	// Only bound labels are reported.
	syms := table.Symbols()
	if len(syms) != 1 || syms[0] != (Symbol{Name: "b", Offset: 12}) {
		t.Fatalf("Symbols()=%v, want [{b 12}]", syms)
	}
}

func TestLabelTableErrors(t *testing.T) {
	if _, err := NewLabelTable([]Label{"x", "y", "x"}); !errors.Is(err, ErrDuplicateLabel) {
		t.Fatalf("duplicate error=%v, want %v", err, ErrDuplicateLabel)
	}

	decls := make([]Label, MaxLabels+1)
	for i := range decls {
		decls[i] = Label(fmt.Sprintf("l%d", i))
	}
	if _, err := NewLabelTable(decls); !errors.Is(err, ErrLabelCapacity) {
		t.Fatalf("capacity error=%v, want %v", err, ErrLabelCapacity)
	}
	if _, err := NewLabelTable(decls[:MaxLabels]); err != nil {
		t.Fatalf("NewLabelTable at capacity failed: %v", err)
	}

	table, err := NewLabelTable(nil)
	if err != nil {
		t.Fatalf("NewLabelTable(nil) failed: %v", err)
	}
	if _, err := table.Index("missing"); !errors.Is(err, ErrUndeclaredLabel) {
		t.Fatalf("Index error=%v, want %v", err, ErrUndeclaredLabel)
	}
}
