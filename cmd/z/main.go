// Command z assembles line-oriented x86-64 source into a static Linux ELF
// executable.
//
//	z [-v]... [-q]... [-V level] [-config file.yaml] asm <input> <output>
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tinyrange/z/internal/asm/amd64"
	"github.com/tinyrange/z/internal/config"
	"github.com/tinyrange/z/internal/fsutil"
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "z: %v\n", err)
		os.Exit(1)
	}
}

type countFlag int

func (f *countFlag) String() string { return strconv.Itoa(int(*f)) }

func (f *countFlag) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if v {
		*f++
	}
	return nil
}

func (f *countFlag) IsBoolFlag() bool { return true }

// levelFlag holds an explicit log level. The zero value means "not set".
type levelFlag struct {
	level  slog.Level
	silent bool
	set    bool
}

func (f *levelFlag) String() string {
	switch {
	case !f.set:
		return ""
	case f.silent:
		return "off"
	default:
		return f.level.String()
	}
}

func (f *levelFlag) Set(s string) error {
	if strings.EqualFold(s, "off") {
		f.silent = true
		f.set = true
		return nil
	}
	if err := f.level.UnmarshalText([]byte(s)); err != nil {
		return err
	}
	f.silent = false
	f.set = true
	return nil
}

// logLevel maps the -v/-q balance to a level: 0 is info, each -v steps
// towards debug and each -q towards error. Three or more -q silence logging.
func logLevel(verbose, quiet int, explicit levelFlag) (slog.Level, bool) {
	if explicit.set {
		return explicit.level, explicit.silent
	}
	switch n := verbose - quiet; {
	case n >= 1:
		return slog.LevelDebug, false
	case n == 0:
		return slog.LevelInfo, false
	case n == -1:
		return slog.LevelWarn, false
	case n == -2:
		return slog.LevelError, false
	default:
		return slog.LevelError, true
	}
}

// newLogger builds the stderr logger. Timestamps are replaced by the time
// since start.
func newLogger(w io.Writer, level slog.Level, silent bool, start time.Time) *slog.Logger {
	if silent {
		w = io.Discard
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String("uptime", fmt.Sprintf("%.3fs", time.Since(start).Seconds()))
			}
			return a
		},
	}))
}

// expandShortFlags rewrites stacked verbosity flags such as -vv or -qqq into
// repeated single flags. Only arguments before the subcommand are touched.
func expandShortFlags(args []string) []string {
	out := make([]string, 0, len(args))
	for i, arg := range args {
		if !strings.HasPrefix(arg, "-") || arg == "-" || arg == "--" {
			return append(out, args[i:]...)
		}
		if len(arg) > 2 && strings.Trim(arg[1:], "vq") == "" {
			for _, c := range arg[1:] {
				out = append(out, "-"+string(c))
			}
			continue
		}
		out = append(out, arg)
	}
	return out
}

func run(args []string, stderr io.Writer) error {
	start := time.Now()

	fs := flag.NewFlagSet("z", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var verbose, quiet countFlag
	var level levelFlag
	fs.Var(&verbose, "v", "Increase log verbosity (repeatable)")
	fs.Var(&quiet, "q", "Decrease log verbosity (repeatable)")
	fs.Var(&level, "V", "Explicit log level: debug, info, warn, error or off")
	configPath := fs.String("config", "", "YAML file with link and output settings")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: z [flags] asm <input> <output>\n\n")
		fmt.Fprintf(stderr, "Assemble x86-64 source into a static ELF64 executable.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(expandShortFlags(args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	lvl, silent := logLevel(int(verbose), int(quiet), level)
	logger := newLogger(stderr, lvl, silent, start)
	slog.SetDefault(logger)

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return fmt.Errorf("subcommand required")
	}

	switch rest[0] {
	case "asm":
		if len(rest) != 3 {
			fs.Usage()
			return fmt.Errorf("asm: expected <input> <output>, got %d arguments", len(rest)-1)
		}
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		if err := assembleFile(logger, cfg, rest[1], rest[2]); err != nil {
			return err
		}
		logger.Info(fmt.Sprintf("finished in %s", time.Since(start).Round(time.Microsecond)))
		return nil
	default:
		fs.Usage()
		return fmt.Errorf("unknown subcommand %q", rest[0])
	}
}

func assembleFile(logger *slog.Logger, cfg *config.Config, input, output string) error {
	src, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	logger.Debug("read source", "path", input, "bytes", len(src))

	prog, err := amd64.Assemble(src, amd64.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("%s: %w", input, err)
	}

	imageCfg, err := cfg.Image()
	if err != nil {
		return err
	}
	image, err := amd64.LinkProgram(prog, imageCfg)
	if err != nil {
		return fmt.Errorf("link: %w", err)
	}

	if err := fsutil.WriteFileAtomic(output, image, cfg.Output.Mode.Perm()); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	logger.Info("wrote image",
		"path", output,
		"code_bytes", prog.Len(),
		"image_bytes", len(image),
		"labels", len(prog.Symbols()),
		"mode", cfg.Output.Mode,
	)
	return nil
}
