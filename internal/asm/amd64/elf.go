package amd64

import (
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/z/internal/asm"
)

const (
	elfHeaderSize        = 64
	elfProgramHeaderSize = 56
	elfSectionHeaderSize = 64
	elfSectionCount      = 3 // null, .text, .shstrtab
	elfTextSectionIndex  = 1
	elfShstrSectionIndex = 2
)

// sectionNames is the .shstrtab contents. The null section and .text both
// use name offset 0.
var sectionNames = []byte(".text\x00.shstrtab\x00")

const (
	textNameOffset  = 0
	shstrNameOffset = 6
)

var (
	// defaultImageConfig holds the layout used when no overrides are given.
	defaultImageConfig = ImageConfig{
		BaseAddress:  0xF000_0000,
		Alignment:    2 << 20,
		SegmentFlags: elf.PF_R | elf.PF_X,
	}
)

// ImageConfig controls the virtual layout of the emitted executable.
type ImageConfig struct {
	// BaseAddress is where file offset 0 is mapped. The whole file, headers
	// included, is loaded as one segment.
	BaseAddress uint64
	// Alignment is the segment alignment. BaseAddress must be a multiple of it.
	Alignment uint64
	// SegmentFlags are the permissions on the single loadable segment.
	SegmentFlags elf.ProgFlag
}

func DefaultImageConfig() ImageConfig {
	return defaultImageConfig
}

func (cfg ImageConfig) withDefaults() ImageConfig {
	defaults := DefaultImageConfig()
	if cfg.BaseAddress == 0 {
		cfg.BaseAddress = defaults.BaseAddress
	}
	if cfg.Alignment == 0 {
		cfg.Alignment = defaults.Alignment
	}
	if cfg.SegmentFlags == 0 {
		cfg.SegmentFlags = defaults.SegmentFlags
	}
	return cfg
}

// Validate reports whether the configuration can describe a loadable image.
// Zero fields are treated as their defaults.
func (cfg ImageConfig) Validate() error {
	return cfg.withDefaults().validate()
}

func (cfg ImageConfig) validate() error {
	if cfg.Alignment&(cfg.Alignment-1) != 0 {
		return fmt.Errorf("segment alignment %#x is not a power of two", cfg.Alignment)
	}
	if cfg.BaseAddress%cfg.Alignment != 0 {
		return fmt.Errorf("base address %#x must be aligned to %#x", cfg.BaseAddress, cfg.Alignment)
	}
	if cfg.SegmentFlags&elf.PF_X == 0 {
		return fmt.Errorf("segment flags %v must include %v", cfg.SegmentFlags, elf.PF_X)
	}
	if cfg.SegmentFlags&^(elf.PF_R|elf.PF_W|elf.PF_X) != 0 {
		return fmt.Errorf("unsupported segment flags %v", cfg.SegmentFlags)
	}
	return nil
}

// Layout gives the file offsets and addresses of every structure in an image.
// Everything is placed back to back: ELF header, program header, section
// headers, section name table, then the code.
type Layout struct {
	ProgramHeaderOffset uint64
	SectionHeaderOffset uint64
	StringTableOffset   uint64
	TextOffset          uint64
	TextSize            uint64
	FileSize            uint64
	Entry               uint64
}

// Layout computes the image layout for a code buffer of codeSize bytes.
func (cfg ImageConfig) Layout(codeSize int) Layout {
	cfg = cfg.withDefaults()
	var l Layout
	l.ProgramHeaderOffset = elfHeaderSize
	l.SectionHeaderOffset = l.ProgramHeaderOffset + elfProgramHeaderSize
	l.StringTableOffset = l.SectionHeaderOffset + elfSectionCount*elfSectionHeaderSize
	l.TextOffset = l.StringTableOffset + uint64(len(sectionNames))
	l.TextSize = uint64(codeSize)
	l.FileSize = l.TextOffset + l.TextSize
	l.Entry = cfg.BaseAddress + l.TextOffset
	return l
}

// Link wraps code into a static ELF64 executable using the default layout.
func Link(code []byte) ([]byte, error) {
	return LinkWithConfig(code, DefaultImageConfig())
}

// LinkWithConfig wraps code into a static ELF64 executable. Execution starts
// at the first byte of code.
func LinkWithConfig(code []byte, cfg ImageConfig) ([]byte, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	layout := cfg.Layout(len(code))
	out := make([]byte, layout.TextOffset, layout.FileSize)

	fillELFHeader(out[:elfHeaderSize], layout)
	fillProgramHeader(out[layout.ProgramHeaderOffset:layout.SectionHeaderOffset], cfg, layout)

	shdrs := out[layout.SectionHeaderOffset:layout.StringTableOffset]
	// Section 0 is the reserved null section and stays zeroed.
	fillSectionHeader(shdrs[elfTextSectionIndex*elfSectionHeaderSize:], elf.Section64{
		Name:      textNameOffset,
		Type:      uint32(elf.SHT_PROGBITS),
		Flags:     uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR),
		Addr:      cfg.BaseAddress + layout.TextOffset,
		Off:       layout.TextOffset,
		Size:      layout.TextSize,
		Addralign: cfg.Alignment,
	})
	fillSectionHeader(shdrs[elfShstrSectionIndex*elfSectionHeaderSize:], elf.Section64{
		Name: shstrNameOffset,
		Type: uint32(elf.SHT_STRTAB),
		Addr: cfg.BaseAddress + layout.StringTableOffset,
		Off:  layout.StringTableOffset,
		Size: uint64(len(sectionNames)),
	})
	copy(out[layout.StringTableOffset:], sectionNames)

	out = append(out, code...)
	return out, nil
}

// LinkProgram links an assembled program with the given configuration.
func LinkProgram(p asm.Program, cfg ImageConfig) ([]byte, error) {
	return LinkWithConfig(p.Bytes(), cfg)
}

func fillELFHeader(buf []byte, layout Layout) {
	copy(buf[0:], elf.ELFMAG)
	buf[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	buf[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	buf[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	buf[elf.EI_OSABI] = byte(elf.ELFOSABI_NONE)
	// EI_ABIVERSION and padding stay zero.

	binary.LittleEndian.PutUint16(buf[16:], uint16(elf.ET_EXEC))
	binary.LittleEndian.PutUint16(buf[18:], uint16(elf.EM_X86_64))
	binary.LittleEndian.PutUint32(buf[20:], uint32(elf.EV_CURRENT))
	binary.LittleEndian.PutUint64(buf[24:], layout.Entry)
	binary.LittleEndian.PutUint64(buf[32:], layout.ProgramHeaderOffset)
	binary.LittleEndian.PutUint64(buf[40:], layout.SectionHeaderOffset)
	binary.LittleEndian.PutUint32(buf[48:], 0) // flags
	binary.LittleEndian.PutUint16(buf[52:], elfHeaderSize)
	binary.LittleEndian.PutUint16(buf[54:], elfProgramHeaderSize)
	binary.LittleEndian.PutUint16(buf[56:], 1) // one program header
	binary.LittleEndian.PutUint16(buf[58:], elfSectionHeaderSize)
	binary.LittleEndian.PutUint16(buf[60:], elfSectionCount)
	binary.LittleEndian.PutUint16(buf[62:], elfShstrSectionIndex)
}

func fillProgramHeader(buf []byte, cfg ImageConfig, layout Layout) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(elf.PT_LOAD))
	binary.LittleEndian.PutUint32(buf[4:], uint32(cfg.SegmentFlags))
	binary.LittleEndian.PutUint64(buf[8:], 0) // the segment starts at file offset 0
	binary.LittleEndian.PutUint64(buf[16:], cfg.BaseAddress)
	binary.LittleEndian.PutUint64(buf[24:], 0) // physical address unused
	binary.LittleEndian.PutUint64(buf[32:], layout.FileSize)
	binary.LittleEndian.PutUint64(buf[40:], layout.FileSize)
	binary.LittleEndian.PutUint64(buf[48:], cfg.Alignment)
}

func fillSectionHeader(buf []byte, sh elf.Section64) {
	binary.LittleEndian.PutUint32(buf[0:], sh.Name)
	binary.LittleEndian.PutUint32(buf[4:], sh.Type)
	binary.LittleEndian.PutUint64(buf[8:], sh.Flags)
	binary.LittleEndian.PutUint64(buf[16:], sh.Addr)
	binary.LittleEndian.PutUint64(buf[24:], sh.Off)
	binary.LittleEndian.PutUint64(buf[32:], sh.Size)
	binary.LittleEndian.PutUint32(buf[40:], sh.Link)
	binary.LittleEndian.PutUint32(buf[44:], sh.Info)
	binary.LittleEndian.PutUint64(buf[48:], sh.Addralign)
	binary.LittleEndian.PutUint64(buf[56:], sh.Entsize)
}

func init() {
	if err := defaultImageConfig.validate(); err != nil {
		panic(err)
	}
}
