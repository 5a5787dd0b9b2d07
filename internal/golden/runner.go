package golden

import (
	"bytes"
	"context"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/tinyrange/z/internal/asm/amd64"
	"github.com/tinyrange/z/internal/config"
	"github.com/tinyrange/z/internal/fsutil"
)

// Runner loads case files and checks every case in them.
type Runner struct {
	Verbose bool
	// Exec runs linked binaries for cases with a run expectation. Cases are
	// skipped when the host cannot execute x86-64 Linux binaries.
	Exec bool
	// Timeout overrides each suite's per-binary timeout when non-zero.
	Timeout time.Duration

	Output *Output
	Logger *slog.Logger
}

// NewRunner creates a runner that prints to stdout.
func NewRunner() *Runner {
	return &Runner{
		Exec:   true,
		Output: NewOutput(os.Stdout),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// Results contains the results of a run.
type Results struct {
	Suites   []SuiteResult
	Total    int
	Passed   int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// SuiteResult contains results for a single case file.
type SuiteResult struct {
	Name     string
	Path     string
	Cases    []CaseResult
	Total    int
	Passed   int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// CaseResult contains the result of a single case.
type CaseResult struct {
	Name     string
	Passed   bool
	Skipped  bool
	Error    string
	Duration time.Duration
}

// HostCanExecute reports whether produced binaries can run on this machine.
func HostCanExecute() bool {
	return runtime.GOOS == "linux" && runtime.GOARCH == "amd64"
}

// Run executes every case in the files matching patterns.
func (r *Runner) Run(ctx context.Context, patterns []string) (*Results, error) {
	start := time.Now()
	results := &Results{}

	paths, err := r.findSuites(patterns)
	if err != nil {
		return nil, fmt.Errorf("finding suites: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no case files found matching patterns")
	}

	suites := make([]*Suite, 0, len(paths))
	total := 0
	for _, path := range paths {
		suite, err := LoadSuite(path)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		suites = append(suites, suite)
		total += len(suite.Cases)
	}

	out := r.output()
	out.PrintBanner(len(suites), total)
	out.StartProgress(total)

	for i, suite := range suites {
		if ctx.Err() != nil {
			break
		}
		result := r.runSuite(ctx, suite, paths[i])
		results.Suites = append(results.Suites, result)
		results.Total += result.Total
		results.Passed += result.Passed
		results.Failed += result.Failed
		results.Skipped += result.Skipped
	}

	out.FinishProgress()
	results.Duration = time.Since(start)
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func (r *Runner) output() *Output {
	if r.Output == nil {
		r.Output = NewOutput(os.Stdout)
	}
	return r.Output
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		r.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Logger
}

// findSuites finds all .yaml case files matching the given patterns. A
// pattern ending in "/..." is walked recursively, a directory contributes its
// own .yaml files and anything else is taken as a file path.
func (r *Runner) findSuites(patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = []string{"./testdata/..."}
	}

	var paths []string
	seen := make(map[string]bool)
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			paths = append(paths, path)
		}
	}

	for _, pattern := range patterns {
		if strings.HasSuffix(pattern, "/...") {
			baseDir := strings.TrimSuffix(pattern, "/...")
			var found []string
			err := filepath.WalkDir(baseDir, func(path string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() && isSuiteFile(path) {
					found = append(found, path)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			sort.Strings(found)
			for _, path := range found {
				add(path)
			}
			continue
		}

		info, err := os.Stat(pattern)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(pattern)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(pattern, "*.yaml"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, path := range matches {
			add(path)
		}
	}

	return paths, nil
}

func isSuiteFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}

func (r *Runner) runSuite(ctx context.Context, suite *Suite, path string) SuiteResult {
	start := time.Now()
	out := r.output()
	result := SuiteResult{
		Name:  suite.Name,
		Path:  path,
		Total: len(suite.Cases),
	}

	if r.Verbose || out.IsTTY() {
		out.PrintSuiteHeader(suite.Name)
	}

	image, err := (&config.Config{Link: suite.Link}).Image()
	if err != nil {
		out.PrintSuiteError(err.Error())
		result.Failed = result.Total
		for range suite.Cases {
			out.Advance(suite.Name)
		}
		result.Duration = time.Since(start)
		return result
	}

	timeout := suite.Timeout.Duration()
	if r.Timeout > 0 {
		timeout = r.Timeout
	}

	for _, tc := range suite.Cases {
		if ctx.Err() != nil {
			break
		}
		cr := r.runCase(ctx, tc, image, timeout)
		result.Cases = append(result.Cases, cr)
		out.Advance(tc.Name)

		switch {
		case cr.Skipped:
			result.Skipped++
			if r.Verbose {
				out.PrintCaseSkip(tc.Name, cr.Error)
			}
		case cr.Passed:
			result.Passed++
			if r.Verbose {
				out.PrintCasePass(tc.Name, cr.Duration)
			}
		default:
			result.Failed++
			out.PrintCaseFail(fmt.Sprintf("%s/%s", suite.Name, tc.Name), cr.Error, path)
		}
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) runCase(ctx context.Context, tc Case, image amd64.ImageConfig, timeout time.Duration) CaseResult {
	start := time.Now()
	result := CaseResult{Name: tc.Name}
	finish := func(errs []error) CaseResult {
		if len(errs) > 0 {
			result.Error = FormatErrors(errs)
		} else {
			result.Passed = true
		}
		result.Duration = time.Since(start)
		return result
	}

	if tc.Skip {
		result.Skipped = true
		result.Error = "skipped by case file"
		return result
	}

	log := r.logger().With("case", tc.Name)
	prog, err := amd64.Assemble([]byte(tc.Source), amd64.WithLogger(log))
	errs := AssertAssembly(prog, err, tc.Expect)
	if err != nil || len(errs) > 0 {
		return finish(errs)
	}

	linked, err := amd64.LinkProgram(prog, image)
	if err != nil {
		return finish([]error{fmt.Errorf("link failed: %w", err)})
	}

	if tc.Expect.Entry != 0 {
		if entryErr := checkEntry(linked, uint64(tc.Expect.Entry)); entryErr != nil {
			return finish([]error{entryErr})
		}
	}

	if tc.Expect.Run == nil {
		return finish(nil)
	}
	if !r.Exec || !HostCanExecute() {
		result.Skipped = true
		result.Error = fmt.Sprintf("cannot execute on %s/%s", runtime.GOOS, runtime.GOARCH)
		result.Duration = time.Since(start)
		return result
	}

	stdout, exitCode, err := r.execute(ctx, linked, timeout)
	if err != nil {
		return finish([]error{err})
	}
	return finish(AssertRun(stdout, exitCode, *tc.Expect.Run))
}

func checkEntry(image []byte, want uint64) error {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return fmt.Errorf("parse linked image: %w", err)
	}
	defer f.Close()
	if f.Entry != want {
		return &AssertionError{
			Field:    "entry",
			Expected: fmt.Sprintf("%#x", want),
			Actual:   fmt.Sprintf("%#x", f.Entry),
		}
	}
	return nil
}

// execute writes the image to a private directory and runs it.
func (r *Runner) execute(ctx context.Context, image []byte, timeout time.Duration) (string, int, error) {
	dir, err := os.MkdirTemp("", "zcheck-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "case")
	if err := fsutil.WriteFileAtomic(path, image, 0o755); err != nil {
		return "", 0, err
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, path)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case runCtx.Err() == context.DeadlineExceeded:
			return "", 0, fmt.Errorf("binary timed out after %s", timeout)
		case errors.As(err, &exitErr) && exitErr.Exited():
			exitCode = exitErr.ExitCode()
		default:
			return "", 0, fmt.Errorf("binary failed: %v (stderr: %s)", err, truncate(stderr.String(), 200))
		}
	}

	r.logger().Debug("executed", "exit_code", exitCode, "stdout_bytes", stdout.Len())
	return stdout.String(), exitCode, nil
}
