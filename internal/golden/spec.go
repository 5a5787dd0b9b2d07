// Package golden runs YAML-described assembler conformance cases: each case
// assembles a source snippet, checks the encoding or the reported error, and
// optionally executes the linked binary.
package golden

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tinyrange/z/internal/config"
)

// Suite is one YAML case file.
type Suite struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Timeout bounds each executed binary.
	Timeout Duration `yaml:"timeout"`
	// Link overrides the image layout for every case in the suite.
	Link  config.LinkConfig `yaml:"link"`
	Cases []Case            `yaml:"cases"`
}

// Case defines a single assembly case.
type Case struct {
	Name   string      `yaml:"name"`
	Skip   bool        `yaml:"skip"`
	Source string      `yaml:"source"`
	Expect Expectation `yaml:"expect"`
}

// Expectation defines what assembling, linking and running a case produces.
type Expectation struct {
	// Code is the expected machine code in hex; whitespace is ignored.
	Code string `yaml:"code"`
	// Error names the expected error kind (see ErrorKinds). When set, the case
	// must fail to assemble.
	Error     string         `yaml:"error"`
	ErrorLine int            `yaml:"error_line"`
	Labels    map[string]int `yaml:"labels"`
	// Entry is the expected ELF entry point.
	Entry config.Uint64   `yaml:"entry"`
	Run   *RunExpectation `yaml:"run,omitempty"`
}

// RunExpectation defines the expected behaviour of the executed binary.
type RunExpectation struct {
	ExitCode       int    `yaml:"exit_code"`
	StdoutEquals   string `yaml:"stdout_equals"`
	StdoutContains string `yaml:"stdout_contains"`
}

// Duration wraps time.Duration for YAML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

const defaultTimeout = 10 * time.Second

// LoadSuite loads a case file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suite file: %w", err)
	}

	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("parsing suite file: %w", err)
	}

	// Apply defaults
	if suite.Name == "" {
		suite.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if suite.Timeout == 0 {
		suite.Timeout = Duration(defaultTimeout)
	}

	for i, tc := range suite.Cases {
		if tc.Name == "" {
			return nil, fmt.Errorf("case %d: missing name", i)
		}
		if tc.Expect.Error != "" {
			if _, ok := ErrorKinds[tc.Expect.Error]; !ok {
				return nil, fmt.Errorf("case %s: unknown error kind %q", tc.Name, tc.Expect.Error)
			}
			if tc.Expect.Code != "" || tc.Expect.Run != nil {
				return nil, fmt.Errorf("case %s: error cases cannot expect code or run output", tc.Name)
			}
		}
		if _, err := decodeHex(tc.Expect.Code); err != nil {
			return nil, fmt.Errorf("case %s: %w", tc.Name, err)
		}
	}

	return &suite, nil
}
