package amd64

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/tinyrange/z/internal/asm"
	"github.com/tinyrange/z/internal/asm/source"
)

type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger routes label and instruction traces to l at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type Context struct {
	text        []byte
	labels      *asm.LabelTable
	relocations []asm.Relocation
	logger      *slog.Logger
}

var _ asm.Context = (*Context)(nil)

func newContext(labels *asm.LabelTable, logger *slog.Logger) *Context {
	return &Context{
		labels: labels,
		logger: logger,
	}
}

func (c *Context) EmitBytes(code []byte) {
	c.text = append(c.text, code...)
}

func (c *Context) Len() int {
	return len(c.text)
}

func (c *Context) SetLabel(label asm.Label) error {
	if err := c.labels.Bind(label, len(c.text)); err != nil {
		return err
	}
	c.logger.Debug("label", "name", string(label), "offset", len(c.text))
	return nil
}

func (c *Context) LabelIndex(label asm.Label) (int, error) {
	return c.labels.Index(label)
}

func (c *Context) AddRelocation(r asm.Relocation) {
	c.relocations = append(c.relocations, r)
}

// finalize is the patch pass: every relocation is resolved against the bound
// label offsets and written into its 4-byte window.
func (c *Context) finalize() (asm.Program, error) {
	for _, r := range c.relocations {
		target, ok := c.labels.Offset(r.Label)
		if !ok {
			return asm.Program{}, fmt.Errorf("%w %q: never bound", asm.ErrUndeclaredLabel, c.labels.Name(r.Label))
		}
		if r.Offset < 0 || r.Offset+4 > len(c.text) {
			return asm.Program{}, fmt.Errorf("relocation at %d outside code (%d bytes)", r.Offset, len(c.text))
		}
		switch r.Kind {
		case asm.RelocPCRel32:
			rel := int64(target) - int64(r.Offset+4)
			if rel < math.MinInt32 || rel > math.MaxInt32 {
				return asm.Program{}, fmt.Errorf("%w: label %q at %d from %d", asm.ErrDisplacementRange, c.labels.Name(r.Label), target, r.Offset)
			}
			binary.LittleEndian.PutUint32(c.text[r.Offset:r.Offset+4], uint32(int32(rel)))
		default:
			return asm.Program{}, fmt.Errorf("unsupported relocation kind %v", r.Kind)
		}
	}
	return asm.NewProgram(c.text, c.labels.Symbols()), nil
}

// EmitProgram runs the three passes over fragment: label collection, encoding
// and relocation patching.
func EmitProgram(fragment asm.Fragment, opts ...Option) (asm.Program, error) {
	o := buildOptions(opts)
	labels, err := asm.NewLabelTable(asm.CollectLabels(fragment))
	if err != nil {
		return asm.Program{}, err
	}
	ctx := newContext(labels, o.logger)
	if err := fragment.Emit(ctx); err != nil {
		return asm.Program{}, err
	}
	return ctx.finalize()
}

func EmitBytes(fragment asm.Fragment, opts ...Option) ([]byte, error) {
	prog, err := EmitProgram(fragment, opts...)
	if err != nil {
		return nil, err
	}
	return prog.Bytes(), nil
}

// Assemble parses src and encodes it into a flat code buffer.
func Assemble(src []byte, opts ...Option) (asm.Program, error) {
	file, err := source.Parse(src)
	if err != nil {
		return asm.Program{}, err
	}
	frag, err := Translate(file, opts...)
	if err != nil {
		return asm.Program{}, err
	}
	return EmitProgram(frag, opts...)
}

// Translate turns parsed statements into fragments without encoding them.
func Translate(file *source.File, opts ...Option) (asm.Fragment, error) {
	o := buildOptions(opts)
	group := make(asm.Group, 0, len(file.Statements))
	declared := make(map[asm.Label]int)
	for _, stmt := range file.Statements {
		if stmt.Kind == source.KindLabel {
			if first, ok := declared[stmt.Label]; ok {
				return nil, &asm.SourceError{
					Line: stmt.Line,
					Err:  fmt.Errorf("%w: label %q already defined on line %d", asm.ErrDuplicateLabel, stmt.Label, first),
				}
			}
			declared[stmt.Label] = stmt.Line
			group = append(group, asm.MarkLabel(stmt.Label))
			continue
		}
		frag, err := translateInstruction(stmt)
		if err != nil {
			return nil, &asm.SourceError{Line: stmt.Line, Mnemonic: stmt.Mnemonic, Err: err}
		}
		group = append(group, traced(o.logger, stmt, asm.AtLine(stmt.Line, stmt.Mnemonic, frag)))
	}
	return group, nil
}

func traced(logger *slog.Logger, stmt source.Statement, frag asm.Fragment) asm.Fragment {
	return asm.Group{
		fragmentFunc(func(ctx asm.Context) error {
			logger.Debug("instruction", "line", stmt.Line, "op", stmt.Mnemonic, "args", stmt.Operands, "offset", ctx.Len())
			return nil
		}),
		frag,
	}
}

func translateInstruction(stmt source.Statement) (asm.Fragment, error) {
	switch stmt.Mnemonic {
	case "mov":
		dstTok, err := stmt.Operand(0)
		if err != nil {
			return nil, err
		}
		srcTok, err := stmt.Operand(1)
		if err != nil {
			return nil, err
		}
		dst, err := ParseOperand(dstTok)
		if err != nil {
			return nil, err
		}
		if _, ok := dst.(Reg); !ok {
			return nil, fmt.Errorf("%w: destination %s", asm.ErrUnsupportedAddressing, dstTok)
		}
		src, err := ParseOperand(srcTok)
		if err != nil {
			return nil, err
		}
		return Mov(dst, src), nil
	case "syscall":
		return Syscall(), nil
	case "ds":
		data, err := stmt.Quoted()
		if err != nil {
			return nil, err
		}
		return DataString(data), nil
	}

	if size, ok := dataDirectives[stmt.Mnemonic]; ok {
		tok, err := stmt.Operand(0)
		if err != nil {
			return nil, err
		}
		value, err := ParseImmediate(tok)
		if err != nil {
			return nil, err
		}
		return Data(size, value), nil
	}

	return nil, fmt.Errorf("%w %q", asm.ErrUnknownOpcode, stmt.Mnemonic)
}

// dd is accepted as a spelling of dl.
var dataDirectives = map[string]Size{
	"db": Byte,
	"dw": Word,
	"dl": Long,
	"dd": Long,
	"dq": Quad,
}
