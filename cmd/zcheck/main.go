// Command zcheck runs the YAML assembler conformance cases.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/tinyrange/z/internal/golden"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	timeout := flag.Duration("timeout", 0, "Per-binary timeout (overrides case files)")
	noExec := flag.Bool("no-exec", false, "Skip cases that execute the linked binary")
	debug := flag.Bool("debug", false, "Log assembler decisions to stderr")
	flag.Parse()

	runner := golden.NewRunner()
	runner.Verbose = *verbose
	runner.Timeout = *timeout
	runner.Exec = !*noExec
	if *debug {
		runner.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	patterns := flag.Args()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, stopping...")
		cancel()
	}()

	start := time.Now()
	results, err := runner.Run(ctx, patterns)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zcheck: %v\n", err)
		os.Exit(1)
	}

	runner.Output.PrintResults(results)
	slog.Debug("run complete", "elapsed", time.Since(start))

	if results.Failed > 0 {
		os.Exit(1)
	}
}
