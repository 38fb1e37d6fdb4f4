package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/containerd/log"

	"github.com/MarcinKonowalczyk/fastbf/bf"
)

var errUsage = errors.New("invalid argument")

type brainfuckFlags struct {
	filename string
	config   string
	opt      string
	all      bool
	collapse bool
	zero     bool
	brackets bool
	debug    bool
	dump     bool
	verbose  bool
	input    bool
	tape     int
	maxSteps uint64
}

// parseBrainfuckFlags parses the sub-command flags. Options come from the
// -config file first; flags given explicitly override it.
func parseBrainfuckFlags(args []string, output io.Writer) (*brainfuckFlags, bf.Options, error) {
	var f brainfuckFlags
	fs := flag.NewFlagSet("brainfuck", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&f.filename, "file", "", "brainfuck source file")
	fs.StringVar(&f.config, "config", "", "TOML options file")
	fs.StringVar(&f.opt, "opt", "", "comma separated optimizations (collapse, zero, brackets, all, none)")
	fs.BoolVar(&f.all, "O", false, "enable all optimizations")
	fs.BoolVar(&f.collapse, "collapse", false, "collapse runs of identical instructions")
	fs.BoolVar(&f.zero, "zero", false, "replace [-] with a single set-zero instruction")
	fs.BoolVar(&f.brackets, "brackets", false, "precompute loop jump targets")
	fs.BoolVar(&f.debug, "debug", false, "trace every step to stderr")
	fs.BoolVar(&f.dump, "dump", false, "dump the optimized program to stderr before running")
	fs.BoolVar(&f.verbose, "v", false, "debug logging")
	fs.BoolVar(&f.input, "input", false, "read ',' from stdin (no-op otherwise)")
	fs.IntVar(&f.tape, "tape", bf.DefaultTapeSize, "tape size in cells (0 for the default)")
	fs.Uint64Var(&f.maxSteps, "max-steps", 0, "stop after this many steps (0 for no limit)")

	opts := bf.DefaultOptions()
	if err := fs.Parse(args); err != nil {
		return nil, opts, fmt.Errorf("%w: %v", errUsage, err)
	}
	if f.filename == "" {
		return nil, opts, fmt.Errorf("%w: -file is required", errUsage)
	}

	if f.config != "" {
		var err error
		if opts, err = bf.LoadOptions(f.config, opts); err != nil {
			return nil, opts, err
		}
	}

	set := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	if set["opt"] {
		if err := opts.SetOptimizations(f.opt); err != nil {
			return nil, opts, fmt.Errorf("%w: %v", errUsage, err)
		}
	}
	if set["O"] && f.all {
		opts.Collapse, opts.ElideZeroLoops, opts.ResolveBrackets = true, true, true
	}
	if set["collapse"] {
		opts.Collapse = f.collapse
	}
	if set["zero"] {
		opts.ElideZeroLoops = f.zero
	}
	if set["brackets"] {
		opts.ResolveBrackets = f.brackets
	}
	if set["debug"] {
		opts.Debug = f.debug
	}
	if set["dump"] {
		opts.Dump = f.dump
	}
	if set["tape"] {
		opts.TapeSize = f.tape
	}
	if set["max-steps"] {
		opts.MaxSteps = f.maxSteps
	}
	if err := opts.Validate(); err != nil {
		return nil, opts, fmt.Errorf("%w: %v", errUsage, err)
	}
	return &f, opts, nil
}

// runBrainfuck runs the brainfuck sub-command. A fault in the program is
// returned as a *bf.Fault error.
func runBrainfuck(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) (err error) {
	f, opts, err := parseBrainfuckFlags(args, stderr)
	if err != nil {
		return err
	}

	if f.verbose {
		if err := log.SetLevel("debug"); err != nil {
			return err
		}
	}

	source, err := os.ReadFile(f.filename)
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	var input io.Reader
	if f.input {
		input = stdin
	}
	opts.TraceOutput = stderr

	defer func() {
		if r := recover(); r != nil {
			err = bf.AsFault(r)
		}
	}()

	ctx = log.WithLogger(ctx, log.G(ctx).WithField("file", f.filename))
	return bf.RunContext(ctx, string(source), input, stdout, opts)
}
