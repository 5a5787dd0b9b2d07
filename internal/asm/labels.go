package asm

import "fmt"

// MaxLabels bounds the number of labels in one program. Label indices are
// carried in a 12-bit field.
const MaxLabels = 1 << 12

// LabelTable holds labels in declaration order. Offsets start out unbound and
// are filled in as the encoder reaches each declaration.
type LabelTable struct {
	names   []Label
	offsets []int
	index   map[Label]int
}

// NewLabelTable builds the table from the labels found by the collection
// pass. A name declared twice is rejected.
func NewLabelTable(decls []Label) (*LabelTable, error) {
	if len(decls) > MaxLabels {
		return nil, fmt.Errorf("%w: %d declared, limit is %d", ErrLabelCapacity, len(decls), MaxLabels)
	}
	t := &LabelTable{
		names:   make([]Label, 0, len(decls)),
		offsets: make([]int, 0, len(decls)),
		index:   make(map[Label]int, len(decls)),
	}
	for _, name := range decls {
		if _, exists := t.index[name]; exists {
			return nil, fmt.Errorf("%w: label %q already defined", ErrDuplicateLabel, name)
		}
		t.index[name] = len(t.names)
		t.names = append(t.names, name)
		t.offsets = append(t.offsets, -1)
	}
	return t, nil
}

func (t *LabelTable) Len() int { return len(t.names) }

// Index returns the declaration index of name.
func (t *LabelTable) Index(name Label) (int, error) {
	idx, ok := t.index[name]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUndeclaredLabel, name)
	}
	return idx, nil
}

// Bind records the code offset of a declared label.
func (t *LabelTable) Bind(name Label, offset int) error {
	idx, err := t.Index(name)
	if err != nil {
		return err
	}
	if t.offsets[idx] >= 0 {
		return fmt.Errorf("%w: label %q already defined", ErrDuplicateLabel, name)
	}
	t.offsets[idx] = offset
	return nil
}

// Offset returns the bound offset for the label at idx.
func (t *LabelTable) Offset(idx int) (int, bool) {
	if idx < 0 || idx >= len(t.offsets) || t.offsets[idx] < 0 {
		return 0, false
	}
	return t.offsets[idx], true
}

func (t *LabelTable) Name(idx int) Label {
	if idx < 0 || idx >= len(t.names) {
		return ""
	}
	return t.names[idx]
}

// Symbols returns the bound labels in declaration order.
func (t *LabelTable) Symbols() []Symbol {
	out := make([]Symbol, 0, len(t.names))
	for idx, name := range t.names {
		if t.offsets[idx] < 0 {
			continue
		}
		out = append(out, Symbol{Name: name, Offset: t.offsets[idx]})
	}
	return out
}
