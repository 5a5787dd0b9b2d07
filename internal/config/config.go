// Package config loads optional YAML settings for the z command: the virtual
// layout of produced images and the permissions of the output file.
package config

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/z/internal/asm/amd64"
)

// DefaultOutputMode is used when the configuration does not set output.mode.
const DefaultOutputMode FileMode = 0o644

// Config is the top-level configuration document.
type Config struct {
	Link   LinkConfig   `yaml:"link"`
	Output OutputConfig `yaml:"output"`
}

// LinkConfig overrides the image layout. Zero values keep the linker defaults.
type LinkConfig struct {
	BaseAddress Uint64 `yaml:"base_address"`
	Alignment   Uint64 `yaml:"alignment"`
	// Flags lists segment permissions as letters, e.g. "rx" or "rwx".
	Flags string `yaml:"flags"`
}

type OutputConfig struct {
	Mode FileMode `yaml:"mode"`
}

// Uint64 accepts decimal, 0x-prefixed hexadecimal and 0o-prefixed octal
// scalars, with optional underscores.
type Uint64 uint64

// UnmarshalYAML implements yaml.Unmarshaler for Uint64.
func (u *Uint64) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected integer, got %s", value.Line, nodeKind(value))
	}
	if value.Value == "" {
		return nil
	}
	v, err := strconv.ParseUint(value.Value, 0, 64)
	if err != nil {
		return fmt.Errorf("line %d: invalid integer %q: %w", value.Line, value.Value, err)
	}
	*u = Uint64(v)
	return nil
}

// FileMode is a permission mode written in octal ("0755", "755" or "0o755").
type FileMode os.FileMode

// UnmarshalYAML implements yaml.Unmarshaler for FileMode.
func (m *FileMode) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected file mode, got %s", value.Line, nodeKind(value))
	}
	s := strings.TrimPrefix(strings.TrimPrefix(value.Value, "0o"), "0O")
	if s == "" {
		return nil
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return fmt.Errorf("line %d: invalid file mode %q: %w", value.Line, value.Value, err)
	}
	if v&^0o777 != 0 {
		return fmt.Errorf("line %d: file mode %q has bits outside 0777", value.Line, value.Value)
	}
	*m = FileMode(v)
	return nil
}

func (m FileMode) Perm() os.FileMode {
	return os.FileMode(m).Perm()
}

func (m FileMode) String() string {
	return fmt.Sprintf("%#o", uint32(m))
}

func nodeKind(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.AliasNode:
		return "alias"
	default:
		return "scalar"
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Output.Mode == 0 {
		c.Output.Mode = DefaultOutputMode
	}
}

// Load reads a configuration file. An empty path yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration document. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if _, err := cfg.Image(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Image converts the link settings into a linker configuration and validates
// it.
func (c *Config) Image() (amd64.ImageConfig, error) {
	flags, err := ParseSegmentFlags(c.Link.Flags)
	if err != nil {
		return amd64.ImageConfig{}, err
	}
	img := amd64.ImageConfig{
		BaseAddress:  uint64(c.Link.BaseAddress),
		Alignment:    uint64(c.Link.Alignment),
		SegmentFlags: flags,
	}
	if err := img.Validate(); err != nil {
		return amd64.ImageConfig{}, fmt.Errorf("invalid link config: %w", err)
	}
	return img, nil
}

// ParseSegmentFlags turns a permission string such as "rx" into ELF segment
// flags. The empty string yields zero, which the linker treats as its default.
func ParseSegmentFlags(s string) (elf.ProgFlag, error) {
	var flags elf.ProgFlag
	for _, c := range strings.ToLower(s) {
		var bit elf.ProgFlag
		switch c {
		case 'r':
			bit = elf.PF_R
		case 'w':
			bit = elf.PF_W
		case 'x':
			bit = elf.PF_X
		default:
			return 0, fmt.Errorf("invalid segment flag %q in %q", c, s)
		}
		if flags&bit != 0 {
			return 0, fmt.Errorf("segment flag %q repeated in %q", c, s)
		}
		flags |= bit
	}
	return flags, nil
}
