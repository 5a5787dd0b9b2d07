package amd64

import (
	"encoding/binary"
	"fmt"
)

type registerCode struct {
	code byte
	high bool
}

func regInfo(r Reg) (registerCode, error) {
	if r > R15 {
		return registerCode{}, fmt.Errorf("unsupported register %d", uint8(r))
	}
	return registerCode{code: r.Low3(), high: r.Ext() != 0}, nil
}

func rexPrefix(w, r, x, b bool) byte {
	if !w && !r && !x && !b {
		return 0
	}
	prefix := byte(0x40)
	if w {
		prefix |= 0x08
	}
	if r {
		prefix |= 0x04
	}
	if x {
		prefix |= 0x02
	}
	if b {
		prefix |= 0x01
	}
	return prefix
}

const (
	modRegister   = 0b11 << 6
	modRIPRelRM   = 0b101
	opMovImm64    = 0xB8
	opMovRegRM    = 0x8B
	opLoadAddress = 0x8D
)

func modrm(mod, reg, rm byte) byte {
	return mod | reg<<3 | rm
}

// encodeMovRegImm64 encodes movabs $imm64, dst. The returned index is the
// offset of the immediate inside the encoding.
func encodeMovRegImm64(dst Reg, value uint64) ([]byte, int, error) {
	info, err := regInfo(dst)
	if err != nil {
		return nil, 0, err
	}
	out := make([]byte, 0, 10)
	out = append(out, rexPrefix(true, false, false, info.high))
	out = append(out, opMovImm64|info.code)
	immPos := len(out)
	out = binary.LittleEndian.AppendUint64(out, value)
	return out, immPos, nil
}

// encodeMovRegReg encodes mov src, dst using the r64, r/m64 form (8B /r).
func encodeMovRegReg(dst, src Reg) ([]byte, error) {
	dstInfo, err := regInfo(dst)
	if err != nil {
		return nil, err
	}
	srcInfo, err := regInfo(src)
	if err != nil {
		return nil, err
	}
	return []byte{
		rexPrefix(true, dstInfo.high, false, srcInfo.high),
		opMovRegRM,
		modrm(modRegister, dstInfo.code, srcInfo.code),
	}, nil
}

// encodeLoadAddress encodes lea disp32(%rip), dst with a zero displacement.
// The returned index is the offset of the displacement field.
func encodeLoadAddress(dst Reg) ([]byte, int, error) {
	info, err := regInfo(dst)
	if err != nil {
		return nil, 0, err
	}
	out := []byte{
		rexPrefix(true, info.high, false, false),
		opLoadAddress,
		modrm(0, info.code, modRIPRelRM),
	}
	dispPos := len(out)
	out = append(out, 0, 0, 0, 0)
	return out, dispPos, nil
}

func encodeData(size Size, value uint64) ([]byte, error) {
	switch size {
	case Byte:
		return []byte{byte(value)}, nil
	case Word:
		return binary.LittleEndian.AppendUint16(nil, uint16(value)), nil
	case Long:
		return binary.LittleEndian.AppendUint32(nil, uint32(value)), nil
	case Quad:
		return binary.LittleEndian.AppendUint64(nil, value), nil
	default:
		return nil, fmt.Errorf("unsupported data size %d", uint8(size))
	}
}

func syscallOpcode() []byte {
	return []byte{0x0F, 0x05}
}
