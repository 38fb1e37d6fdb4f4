package bf

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/containerd/log"
)

// comptime override for debug flag
// set with `-ldflags="-X 'github.com/MarcinKonowalczyk/fastbf/bf.debug=true'"`
var debug string

// Compile decodes the source and applies the passes selected by opts.
func Compile(ctx context.Context, source string, opts Options) Program {
	program := Lex(source)
	log.G(ctx).WithField("instructions", len(program)).Debug("decoded program")

	for _, pass := range opts.Passes() {
		before := len(program)
		program = pass.Rewrite(program)
		log.G(ctx).WithFields(log.Fields{
			"pass":   pass.Name,
			"before": before,
			"after":  len(program),
		}).Debug("applied pass")
	}
	return program
}

// RunContext compiles and runs the source. input may be nil, in which case
// ',' is a no-op. Faults in the program panic with a *Fault.
func RunContext(ctx context.Context, source string, input io.Reader, output io.Writer, opts Options) (err error) {
	if err := opts.Validate(); err != nil {
		return err
	}
	if debug != "" {
		opts.Debug = true
	}

	program := Compile(ctx, source, opts)

	diag := opts.TraceOutput
	if diag == nil {
		diag = os.Stderr
	}
	if opts.Dump {
		if err := Dump(diag, program); err != nil {
			return fmt.Errorf("dumping program: %w", err)
		}
	}

	interpreter := NewInterpreter(program, opts.tapeSize(), input, nil)
	if output != nil {
		out := bufio.NewWriter(output)
		interpreter.Output = out
		// flush on faults too, so the output leading up to one is kept
		defer func() {
			if ferr := out.Flush(); ferr != nil && err == nil {
				err = fmt.Errorf("writing output: %w", ferr)
			}
		}()
	}
	if opts.Debug {
		interpreter.Trace = diag
	}
	interpreter.MaxSteps = opts.MaxSteps

	err = interpreter.RunContext(ctx)
	log.G(ctx).WithField("steps", interpreter.Steps()).Debug("program finished")
	return err
}

func Run(source string, input io.Reader, output io.Writer, opts Options) error {
	return RunContext(context.Background(), source, input, output, opts)
}
