package golden

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tinyrange/z/internal/asm"
	"github.com/tinyrange/z/internal/asm/amd64"
)

func newTestRunner(buf *bytes.Buffer) *Runner {
	r := NewRunner()
	r.Output = NewOutput(buf)
	r.Verbose = true
	return r
}

func TestConformanceCases(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRunner(&buf)

	results, err := r.Run(context.Background(), []string{"testdata/..."})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if results.Failed != 0 {
		t.Fatalf("%d cases failed:\n%s", results.Failed, buf.String())
	}
	if results.Total == 0 || results.Passed == 0 {
		t.Fatalf("no cases ran:\n%s", buf.String())
	}
	if got, want := results.Passed+results.Skipped, results.Total; got != want {
		t.Fatalf("passed+skipped=%d, want %d", got, want)
	}
	if HostCanExecute() && results.Skipped != 0 {
		t.Fatalf("%d cases skipped on an executing host:\n%s", results.Skipped, buf.String())
	}
	if !strings.Contains(buf.String(), "PASSED:") {
		t.Fatalf("summary missing from output:\n%s", buf.String())
	}
}

func writeSuite(t *testing.T, dir, name, doc string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write suite: %v", err)
	}
	return path
}

func TestRunReportsFailures(t *testing.T) {
	dir := t.TempDir()
	writeSuite(t, dir, "broken.yaml", `cases:
  - name: wrong_code
    source: "syscall"
    expect:
      code: "9090"
  - name: wrong_error
    source: "syscall"
    expect:
      error: unknown_opcode
  - name: skipped
    skip: true
    source: "bogus"
`)

	var buf bytes.Buffer
	r := newTestRunner(&buf)
	r.Exec = false

	results, err := r.Run(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if results.Failed != 2 || results.Skipped != 1 || results.Passed != 0 {
		t.Fatalf("results=%+v, want 2 failed 1 skipped", results)
	}
	out := buf.String()
	for _, want := range []string{
		"FAIL  broken/wrong_code",
		"code: expected 9090, got 0f05",
		"FAIL  broken/wrong_error",
		"SKIP  skipped",
		"FAILED: 0 passed, 2 failed, 1 skipped",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunWithoutExecSkipsRunCases(t *testing.T) {
	var buf bytes.Buffer
	r := newTestRunner(&buf)
	r.Exec = false

	results, err := r.Run(context.Background(), []string{"testdata/run.yaml"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if results.Skipped != results.Total || results.Failed != 0 {
		t.Fatalf("results=%+v, want every case skipped", results)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	_, err := newTestRunner(&buf).Run(ctx, []string{"testdata/..."})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error=%v, want %v", err, context.Canceled)
	}
}

func TestRunNoSuites(t *testing.T) {
	var buf bytes.Buffer
	if _, err := newTestRunner(&buf).Run(context.Background(), []string{t.TempDir()}); err == nil {
		t.Fatalf("Run succeeded with no case files")
	}
}

func TestLoadSuite(t *testing.T) {
	dir := t.TempDir()
	path := writeSuite(t, dir, "basic.yaml", `cases:
  - name: exit
    source: "syscall"
    expect:
      code: "0f 05"
`)
	suite, err := LoadSuite(path)
	if err != nil {
		t.Fatalf("LoadSuite failed: %v", err)
	}
	if got, want := suite.Name, "basic"; got != want {
		t.Fatalf("name=%q, want %q", got, want)
	}
	if got, want := suite.Timeout.Duration(), 10*time.Second; got != want {
		t.Fatalf("timeout=%v, want %v", got, want)
	}
	if len(suite.Cases) != 1 || suite.Cases[0].Expect.Code != "0f 05" {
		t.Fatalf("cases=%+v", suite.Cases)
	}
}

func TestLoadSuiteErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown_error_kind", "cases: [{name: a, expect: {error: bogus}}]", "unknown error kind"},
		{"error_with_code", "cases: [{name: a, expect: {error: syntax, code: \"00\"}}]", "cannot expect code"},
		{"bad_hex", "cases: [{name: a, expect: {code: \"zz\"}}]", "invalid hex"},
		{"missing_name", "cases: [{source: syscall}]", "missing name"},
		{"bad_timeout", "timeout: soon", "invalid duration"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeSuite(t, t.TempDir(), "case.yaml", tc.doc)
			_, err := LoadSuite(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error=%v, want it to contain %q", err, tc.want)
			}
		})
	}
}

func TestFindSuites(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	a := writeSuite(t, dir, "a.yaml", "cases: []")
	b := writeSuite(t, nested, "b.yml", "cases: []")
	writeSuite(t, dir, "notes.txt", "")

	r := &Runner{}
	paths, err := r.findSuites([]string{dir + "/...", a})
	if err != nil {
		t.Fatalf("findSuites failed: %v", err)
	}
	if len(paths) != 2 || paths[0] != a || paths[1] != b {
		t.Fatalf("paths=%v, want [%s %s]", paths, a, b)
	}

	paths, err = r.findSuites([]string{dir})
	if err != nil {
		t.Fatalf("findSuites failed: %v", err)
	}
	if len(paths) != 1 || paths[0] != a {
		t.Fatalf("paths=%v, want [%s]", paths, a)
	}
}

func TestAssertAssembly(t *testing.T) {
	prog, err := amd64.Assemble([]byte(".top\nsyscall\n.end"))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if errs := AssertAssembly(prog, nil, Expectation{Code: "0f05", Labels: map[string]int{"top": 0, "end": 2}}); len(errs) != 0 {
		t.Fatalf("unexpected failures: %s", FormatErrors(errs))
	}

	errs := AssertAssembly(prog, nil, Expectation{Labels: map[string]int{"end": 3, "gone": 1}})
	if got, want := FormatErrors(errs), "labels[end]: expected 3, got 2; labels[gone]: expected 1, got <missing>"; got != want {
		t.Fatalf("FormatErrors=%q, want %q", got, want)
	}

	_, asmErr := amd64.Assemble([]byte("syscall\nmov rax, .x"))
	if errs := AssertAssembly(asm.Program{}, asmErr, Expectation{Error: "undeclared_label", ErrorLine: 2}); len(errs) != 0 {
		t.Fatalf("unexpected failures: %s", FormatErrors(errs))
	}
	errs = AssertAssembly(asm.Program{}, asmErr, Expectation{Error: "undeclared_label", ErrorLine: 1})
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "error_line: expected 1, got 2") {
		t.Fatalf("errors=%v, want error_line mismatch", errs)
	}
	errs = AssertAssembly(prog, nil, Expectation{Error: "syntax"})
	if len(errs) != 1 || !strings.Contains(errs[0].Error(), "success (2 bytes)") {
		t.Fatalf("errors=%v, want unexpected success", errs)
	}
}

func TestAssertRun(t *testing.T) {
	if errs := AssertRun("hello\n", 0, RunExpectation{StdoutEquals: "hello\n"}); len(errs) != 0 {
		t.Fatalf("unexpected failures: %s", FormatErrors(errs))
	}
	errs := AssertRun("bye", 1, RunExpectation{ExitCode: 0, StdoutContains: "hello"})
	if len(errs) != 2 {
		t.Fatalf("errors=%v, want exit code and stdout mismatches", errs)
	}
}

func TestPadCenter(t *testing.T) {
	if got, want := padCenter("ab", 6), "  ab  "; got != want {
		t.Fatalf("padCenter=%q, want %q", got, want)
	}
	if got, want := padCenter("✓", 3), " ✓ "; got != want {
		t.Fatalf("padCenter=%q, want %q", got, want)
	}
	if got, want := padCenter("toolong", 3), "toolong"; got != want {
		t.Fatalf("padCenter=%q, want %q", got, want)
	}
}
