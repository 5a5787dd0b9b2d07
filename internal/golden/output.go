package golden

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
)

const (
	bannerWidth  = 40
	defaultWidth = 100
)

// Output handles terminal output with optional rich formatting.
type Output struct {
	w     io.Writer
	isTTY bool
	width int

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

// NewOutput creates an Output writing to w. Rich formatting and the progress
// bar are enabled only when w is a terminal.
func NewOutput(w io.Writer) *Output {
	o := &Output{w: w, width: defaultWidth}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		o.isTTY = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			o.width = width
		}
	}
	return o
}

// IsTTY returns whether the output is a terminal.
func (o *Output) IsTTY() bool {
	return o.isTTY
}

// color wraps text in ANSI color codes if TTY.
func (o *Output) color(code, text string) string {
	if !o.isTTY {
		return text
	}
	return code + text + colorReset
}

// fit truncates a line to the terminal width, ignoring escape sequences.
func (o *Output) fit(line string, indent int) string {
	if !o.isTTY {
		return line
	}
	return ansi.Truncate(line, o.width-indent, "…")
}

func padCenter(text string, width int) string {
	w := ansi.StringWidth(text)
	if w >= width {
		return text
	}
	left := (width - w) / 2
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", width-w-left)
}

// clearBarLocked removes the progress bar line so a result line can be
// printed. Must be called with o.mu held.
func (o *Output) clearBarLocked() {
	if o.bar != nil {
		_ = o.bar.Clear()
	}
}

// PrintBanner prints a styled banner at the start of the run.
func (o *Output) PrintBanner(suiteCount, caseCount int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.isTTY {
		fmt.Fprintln(o.w, o.color(colorCyan+colorBold, "╭"+strings.Repeat("─", bannerWidth)+"╮"))
		fmt.Fprintln(o.w, o.color(colorCyan+colorBold, "│")+o.color(colorBold, padCenter("z conformance", bannerWidth))+o.color(colorCyan+colorBold, "│"))
		fmt.Fprintln(o.w, o.color(colorCyan+colorBold, "╰"+strings.Repeat("─", bannerWidth)+"╯"))
		fmt.Fprintf(o.w, "  %s %d suites, %d cases\n\n", o.color(colorDim, "Running"), suiteCount, caseCount)
	} else {
		fmt.Fprintln(o.w, "=== Z CONFORMANCE ===")
		fmt.Fprintf(o.w, "Running %d suites, %d cases\n\n", suiteCount, caseCount)
	}
}

// StartProgress shows a progress bar over total cases on terminals.
func (o *Output) StartProgress(total int) {
	if !o.isTTY {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(o.w),
		progressbar.OptionSetDescription("cases"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(50*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// Advance moves the progress bar past the named case.
func (o *Output) Advance(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bar == nil {
		return
	}
	o.bar.Describe(name)
	_ = o.bar.Add(1)
}

// FinishProgress removes the progress bar.
func (o *Output) FinishProgress() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.bar == nil {
		return
	}
	_ = o.bar.Finish()
	o.bar = nil
}

// PrintSuiteHeader prints the header for a suite.
func (o *Output) PrintSuiteHeader(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clearBarLocked()

	if o.isTTY {
		fmt.Fprintf(o.w, "%s %s\n", o.color(colorCyan+colorBold, "▶"), o.color(colorBold, name))
	} else {
		fmt.Fprintf(o.w, "=== %s ===\n", name)
	}
}

// PrintSuiteError prints an error that stopped a whole suite.
func (o *Output) PrintSuiteError(err string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clearBarLocked()

	if o.isTTY {
		fmt.Fprintf(o.w, "  %s %s\n", o.color(colorRed+colorBold, "✗"), o.fit(o.color(colorRed, err), 4))
	} else {
		fmt.Fprintf(o.w, "    ERROR: %s\n", err)
	}
}

// PrintCasePass prints a passing case.
func (o *Output) PrintCasePass(name string, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clearBarLocked()

	if o.isTTY {
		fmt.Fprintf(o.w, "  %s %s %s\n",
			o.color(colorGreen, "✓"),
			name,
			o.color(colorDim, fmt.Sprintf("(%s)", duration.Round(time.Microsecond))))
	} else {
		fmt.Fprintf(o.w, "    PASS  %s\n", name)
	}
}

// PrintCaseSkip prints a skipped case with the reason.
func (o *Output) PrintCaseSkip(name, reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clearBarLocked()

	if o.isTTY {
		fmt.Fprintf(o.w, "  %s %s %s\n", o.color(colorYellow, "○"), name, o.color(colorDim, reason))
	} else {
		fmt.Fprintf(o.w, "    SKIP  %s: %s\n", name, reason)
	}
}

// PrintCaseFail prints a failing case with a retry command.
func (o *Output) PrintCaseFail(name, errMsg, path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clearBarLocked()

	retryCmd := fmt.Sprintf("go run ./cmd/zcheck -v %s", path)
	lines := strings.Split(errMsg, "; ")

	if o.isTTY {
		fmt.Fprintf(o.w, "  %s %s\n", o.color(colorRed+colorBold, "✗"), o.color(colorRed, name))
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line != "" {
				fmt.Fprintf(o.w, "    %s %s\n", o.color(colorDim, "→"), o.fit(o.color(colorYellow, line), 6))
			}
		}
		fmt.Fprintf(o.w, "    %s %s\n", o.color(colorDim, "retry:"), o.color(colorCyan, retryCmd))
	} else {
		fmt.Fprintf(o.w, "    FAIL  %s:\n", name)
		for _, line := range lines {
			line = strings.TrimSpace(line)
			if line != "" {
				fmt.Fprintf(o.w, "      %s\n", line)
			}
		}
		fmt.Fprintf(o.w, "    retry: %s\n", retryCmd)
	}
}

// PrintResults prints the final summary.
func (o *Output) PrintResults(results *Results) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clearBarLocked()

	fmt.Fprintln(o.w)
	if o.isTTY {
		code, text := colorGreen+colorBold, fmt.Sprintf("PASSED: %d/%d cases", results.Passed, results.Total-results.Skipped)
		if results.Failed > 0 {
			code, text = colorRed+colorBold, fmt.Sprintf("FAILED: %d/%d cases passed", results.Passed, results.Total-results.Skipped)
		}
		fmt.Fprintln(o.w, o.color(code, "╭"+strings.Repeat("─", bannerWidth)+"╮"))
		fmt.Fprintf(o.w, "%s%s%s\n", o.color(code, "│"), o.color(code, padCenter(text, bannerWidth)), o.color(code, "│"))
		fmt.Fprintln(o.w, o.color(code, "╰"+strings.Repeat("─", bannerWidth)+"╯"))
		fmt.Fprintf(o.w, "  %s %d suites in %s (%d skipped)\n\n",
			o.color(colorDim, "Completed"),
			len(results.Suites),
			results.Duration.Round(time.Millisecond),
			results.Skipped)
		return
	}

	status := "PASSED"
	if results.Failed > 0 {
		status = "FAILED"
	}
	fmt.Fprintf(o.w, "%s: %d passed, %d failed, %d skipped (%d suites, %s)\n",
		status, results.Passed, results.Failed, results.Skipped,
		len(results.Suites), results.Duration.Round(time.Millisecond))
}
