package main

import (
	"bytes"
	"debug/elf"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/tinyrange/z/internal/asm"
)

func writeSource(t *testing.T, dir, src string) string {
	t.Helper()
	path := filepath.Join(dir, "prog.s")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

func TestRunAssemblesImage(t *testing.T) {
	dir := t.TempDir()
	in := writeSource(t, dir, "mov rax, 60\nmov rdi, 0\nsyscall\n")
	out := filepath.Join(dir, "prog")

	var stderr bytes.Buffer
	if err := run([]string{"asm", in, out}, &stderr); err != nil {
		t.Fatalf("run failed: %v\n%s", err, stderr.String())
	}

	f, err := elf.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	if got, want := f.Machine, elf.EM_X86_64; got != want {
		t.Fatalf("machine=%v, want %v", got, want)
	}
	if got, want := f.Entry, uint64(0xF000_0000+328); got != want {
		t.Fatalf("entry=%#x, want %#x", got, want)
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if got, want := info.Mode().Perm(), os.FileMode(0o644); got != want {
		t.Fatalf("mode=%v, want %v", got, want)
	}
	if !strings.Contains(stderr.String(), "finished in") {
		t.Fatalf("missing timing line in log:\n%s", stderr.String())
	}
	if strings.Contains(stderr.String(), "level=DEBUG") {
		t.Fatalf("debug output at default verbosity:\n%s", stderr.String())
	}
}

func TestRunFailureLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	in := writeSource(t, dir, "mov rax, 60\nmov rsi, .missing\nsyscall\n")
	out := filepath.Join(dir, "prog")

	var stderr bytes.Buffer
	err := run([]string{"asm", in, out}, &stderr)
	if !errors.Is(err, asm.ErrUndeclaredLabel) {
		t.Fatalf("error=%v, want %v", err, asm.ErrUndeclaredLabel)
	}
	if !strings.Contains(err.Error(), "line 2: mov:") {
		t.Fatalf("error %q lacks the source position", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatalf("output exists after failure: %v", statErr)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("stray files after failure: %v", entries)
	}
}

func TestRunFailureKeepsExistingOutput(t *testing.T) {
	dir := t.TempDir()
	in := writeSource(t, dir, "bogus\n")
	out := filepath.Join(dir, "prog")
	if err := os.WriteFile(out, []byte("previous"), 0o644); err != nil {
		t.Fatalf("seed output: %v", err)
	}

	var stderr bytes.Buffer
	if err := run([]string{"asm", in, out}, &stderr); !errors.Is(err, asm.ErrUnknownOpcode) {
		t.Fatalf("error=%v, want %v", err, asm.ErrUnknownOpcode)
	}
	data, err := os.ReadFile(out)
	if err != nil || string(data) != "previous" {
		t.Fatalf("output changed after failure: %q, %v", data, err)
	}
}

func TestRunWithConfig(t *testing.T) {
	dir := t.TempDir()
	in := writeSource(t, dir, "syscall\n")
	out := filepath.Join(dir, "prog")
	cfgPath := filepath.Join(dir, "z.yaml")
	doc := "link:\n  base_address: 0x400000\n  alignment: 0x1000\noutput:\n  mode: \"0755\"\n"
	if err := os.WriteFile(cfgPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var stderr bytes.Buffer
	if err := run([]string{"-config", cfgPath, "asm", in, out}, &stderr); err != nil {
		t.Fatalf("run failed: %v\n%s", err, stderr.String())
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatalf("stat output: %v", err)
	}
	if got, want := info.Mode().Perm(), os.FileMode(0o755); got != want {
		t.Fatalf("mode=%v, want %v", got, want)
	}
	f, err := elf.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	if got, want := f.Entry, uint64(0x400000+328); got != want {
		t.Fatalf("entry=%#x, want %#x", got, want)
	}
}

func TestRunVerboseLogsLabels(t *testing.T) {
	dir := t.TempDir()
	in := writeSource(t, dir, ".start\nmov rsi, .start\nsyscall\n")
	out := filepath.Join(dir, "prog")

	var stderr bytes.Buffer
	if err := run([]string{"-v", "asm", in, out}, &stderr); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	log := stderr.String()
	for _, want := range []string{"msg=label name=start offset=0", "msg=instruction", "uptime="} {
		if !strings.Contains(log, want) {
			t.Fatalf("log missing %q:\n%s", want, log)
		}
	}
	if strings.Contains(log, "time=") {
		t.Fatalf("log still carries wall-clock time:\n%s", log)
	}
}

func TestRunQuiet(t *testing.T) {
	dir := t.TempDir()
	in := writeSource(t, dir, "syscall\n")

	var stderr bytes.Buffer
	if err := run([]string{"-qqq", "asm", in, filepath.Join(dir, "prog")}, &stderr); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if stderr.Len() != 0 {
		t.Fatalf("quiet run logged:\n%s", stderr.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no_subcommand", nil, "subcommand required"},
		{"unknown_subcommand", []string{"link", "a", "b"}, "unknown subcommand"},
		{"missing_output", []string{"asm", "a"}, "expected <input> <output>"},
		{"bad_level", []string{"-V", "loud", "asm", "a", "b"}, "invalid value"},
		{"missing_input", []string{"asm", "/nonexistent/prog.s", "out"}, "read source"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stderr bytes.Buffer
			err := run(tc.args, &stderr)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error=%v, want it to contain %q", err, tc.want)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		verbose, quiet int
		level          slog.Level
		silent         bool
	}{
		{0, 0, slog.LevelInfo, false},
		{1, 0, slog.LevelDebug, false},
		{3, 0, slog.LevelDebug, false},
		{0, 1, slog.LevelWarn, false},
		{0, 2, slog.LevelError, false},
		{0, 3, slog.LevelError, true},
		{2, 2, slog.LevelInfo, false},
	}
	for _, tc := range tests {
		level, silent := logLevel(tc.verbose, tc.quiet, levelFlag{})
		if level != tc.level || silent != tc.silent {
			t.Fatalf("logLevel(%d, %d)=(%v, %v), want (%v, %v)", tc.verbose, tc.quiet, level, silent, tc.level, tc.silent)
		}
	}

	var explicit levelFlag
	if err := explicit.Set("warn"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if level, silent := logLevel(5, 0, explicit); level != slog.LevelWarn || silent {
		t.Fatalf("explicit level ignored: (%v, %v)", level, silent)
	}
	if err := explicit.Set("off"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, silent := logLevel(0, 0, explicit); !silent {
		t.Fatalf("-V off did not silence logging")
	}
}

func TestExpandShortFlags(t *testing.T) {
	got := expandShortFlags([]string{"-vv", "-q", "-config", "x.yaml", "asm", "-vv", "out"})
	want := []string{"-v", "-v", "-q", "-config", "x.yaml", "asm", "-vv", "out"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expandShortFlags=%q, want %q", got, want)
	}
}

func TestUptimeReplacesTime(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, slog.LevelInfo, false, time.Now())
	logger.Info("hello")
	if line := buf.String(); !strings.HasPrefix(line, "uptime=0.") || !strings.Contains(line, "msg=hello") {
		t.Fatalf("log line=%q", line)
	}
}
