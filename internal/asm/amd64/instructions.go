package amd64

import (
	"fmt"

	"github.com/tinyrange/z/internal/asm"
)

// MovImmediate loads a 64-bit immediate into dst. It always uses the 10-byte
// movabs form so the encoding length does not depend on the value.
func MovImmediate(dst Reg, value uint64) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		bytes, _, err := encodeMovRegImm64(dst, value)
		if err != nil {
			return err
		}
		ctx.EmitBytes(bytes)
		return nil
	})
}

func MovReg(dst, src Reg) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		bytes, err := encodeMovRegReg(dst, src)
		if err != nil {
			return err
		}
		ctx.EmitBytes(bytes)
		return nil
	})
}

// LoadAddress loads the run-time address of label into dst using a
// RIP-relative lea. The displacement is patched once all labels are bound.
func LoadAddress(dst Reg, label asm.Label) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		idx, err := ctx.LabelIndex(label)
		if err != nil {
			return err
		}
		bytes, dispPos, err := encodeLoadAddress(dst)
		if err != nil {
			return err
		}
		pos := ctx.Len() + dispPos
		ctx.EmitBytes(bytes)
		ctx.AddRelocation(asm.Relocation{Offset: pos, Label: idx, Kind: asm.RelocPCRel32})
		return nil
	})
}

// Mov dispatches on the source operand: immediates use movabs, registers a
// register move and label references a lea.
func Mov(dst Operand, src Operand) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		dstReg, ok := dst.(Reg)
		if !ok {
			return fmt.Errorf("%w: mov destination %v", asm.ErrUnsupportedAddressing, dst)
		}
		var frag asm.Fragment
		switch v := src.(type) {
		case Immediate:
			frag = MovImmediate(dstReg, uint64(v))
		case Reg:
			frag = MovReg(dstReg, v)
		case LabelRef:
			frag = LoadAddress(dstReg, asm.Label(v))
		default:
			return fmt.Errorf("%w: mov source %v", asm.ErrUnsupportedAddressing, src)
		}
		return frag.Emit(ctx)
	})
}

func Syscall() asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		ctx.EmitBytes(syscallOpcode())
		return nil
	})
}

// Data emits value as a little-endian field of the given size. Bits above
// the field width are dropped.
func Data(size Size, value uint64) asm.Fragment {
	return fragmentFunc(func(ctx asm.Context) error {
		bytes, err := encodeData(size, value)
		if err != nil {
			return err
		}
		ctx.EmitBytes(bytes)
		return nil
	})
}

// DataString emits data verbatim, without a terminator or length prefix.
func DataString(data []byte) asm.Fragment {
	data = append([]byte(nil), data...)
	return fragmentFunc(func(ctx asm.Context) error {
		ctx.EmitBytes(data)
		return nil
	})
}
