package golden

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tinyrange/z/internal/asm"
)

// ErrorKinds maps the error names used in case files to assembler error kinds.
var ErrorKinds = map[string]error{
	"syntax":                 asm.ErrSyntax,
	"missing_operand":        asm.ErrMissingOperand,
	"unterminated_string":    asm.ErrUnterminatedString,
	"unknown_opcode":         asm.ErrUnknownOpcode,
	"invalid_register":       asm.ErrInvalidRegister,
	"invalid_size_suffix":    asm.ErrInvalidSizeSuffix,
	"immediate_parse":        asm.ErrImmediateParse,
	"undeclared_label":       asm.ErrUndeclaredLabel,
	"duplicate_label":        asm.ErrDuplicateLabel,
	"label_capacity":         asm.ErrLabelCapacity,
	"unsupported_addressing": asm.ErrUnsupportedAddressing,
	"displacement_range":     asm.ErrDisplacementRange,
}

// AssertionError represents a failed assertion.
type AssertionError struct {
	Field    string
	Expected any
	Actual   any
	Message  string
}

func (e *AssertionError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s: expected %v, got %v", e.Field, e.Expected, e.Actual)
}

func decodeHex(s string) ([]byte, error) {
	clean := strings.Join(strings.Fields(s), "")
	out, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex code %q: %w", s, err)
	}
	return out, nil
}

// AssertAssembly checks the outcome of assembling a case.
func AssertAssembly(prog asm.Program, err error, expect Expectation) []error {
	var errs []error

	if expect.Error != "" {
		kind := ErrorKinds[expect.Error]
		if err == nil {
			return append(errs, &AssertionError{
				Field:    "error",
				Expected: expect.Error,
				Actual:   fmt.Sprintf("success (%d bytes)", prog.Len()),
			})
		}
		if !errors.Is(err, kind) {
			errs = append(errs, &AssertionError{
				Field:    "error",
				Expected: expect.Error,
				Actual:   err,
			})
		}
		if expect.ErrorLine != 0 {
			var srcErr *asm.SourceError
			if !errors.As(err, &srcErr) {
				errs = append(errs, &AssertionError{
					Message: fmt.Sprintf("error_line: %v carries no source position", err),
				})
			} else if srcErr.Line != expect.ErrorLine {
				errs = append(errs, &AssertionError{
					Field:    "error_line",
					Expected: expect.ErrorLine,
					Actual:   srcErr.Line,
				})
			}
		}
		return errs
	}

	if err != nil {
		return append(errs, &AssertionError{
			Message: fmt.Sprintf("assemble failed: %v", err),
		})
	}

	if expect.Code != "" {
		want, decodeErr := decodeHex(expect.Code)
		if decodeErr != nil {
			return append(errs, decodeErr)
		}
		if got := prog.Bytes(); !bytes.Equal(got, want) {
			errs = append(errs, &AssertionError{
				Field:    "code",
				Expected: truncate(hex.EncodeToString(want), 200),
				Actual:   truncate(hex.EncodeToString(got), 200),
			})
		}
	}

	names := make([]string, 0, len(expect.Labels))
	for name := range expect.Labels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		want := expect.Labels[name]
		got, ok := prog.Lookup(asm.Label(name))
		if !ok {
			errs = append(errs, &AssertionError{
				Field:    fmt.Sprintf("labels[%s]", name),
				Expected: want,
				Actual:   "<missing>",
			})
			continue
		}
		if got != want {
			errs = append(errs, &AssertionError{
				Field:    fmt.Sprintf("labels[%s]", name),
				Expected: want,
				Actual:   got,
			})
		}
	}

	return errs
}

// AssertRun checks the output of an executed binary.
func AssertRun(stdout string, exitCode int, expect RunExpectation) []error {
	var errs []error

	if exitCode != expect.ExitCode {
		errs = append(errs, &AssertionError{
			Field:    "exit_code",
			Expected: expect.ExitCode,
			Actual:   exitCode,
		})
	}

	if expect.StdoutContains != "" && !strings.Contains(stdout, expect.StdoutContains) {
		errs = append(errs, &AssertionError{
			Field:    "stdout",
			Expected: fmt.Sprintf("contains %q", expect.StdoutContains),
			Actual:   truncate(stdout, 200),
		})
	}

	if expect.StdoutEquals != "" && stdout != expect.StdoutEquals {
		errs = append(errs, &AssertionError{
			Field:    "stdout",
			Expected: fmt.Sprintf("%q", truncate(expect.StdoutEquals, 200)),
			Actual:   fmt.Sprintf("%q", truncate(stdout, 200)),
		})
	}

	return errs
}

// truncate shortens a string to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// FormatErrors formats multiple errors into a single string.
func FormatErrors(errs []error) string {
	if len(errs) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}
