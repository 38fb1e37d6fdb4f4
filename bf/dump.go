package bf

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// errWriter remembers the first write error and drops everything after it.
type errWriter struct {
	w   io.Writer
	err error
}

func (w *errWriter) Write(p []byte) (n int, err error) {
	if w.err != nil {
		return 0, w.err
	}
	n, err = w.w.Write(p)
	if err != nil {
		w.err = err
	}
	return n, err
}

// Dump writes one line per instruction: its index, then the instruction
// indented by loop depth, with counts and resolved targets inline.
func Dump(w io.Writer, program Program) error {
	ew := &errWriter{w: w}
	width := len(strconv.Itoa(len(program)))
	depth := 0
	for ip, ins := range program {
		if ins.Command == LoopEnd && depth > 0 {
			depth--
		}
		fmt.Fprintf(ew, "%*d  %s%s\n", width, ip, strings.Repeat("  ", depth), ins)
		if ins.Command == LoopStart {
			depth++
		}
	}
	return ew.err
}

func (i *Interpreter) trace(ins Instruction) error {
	_, err := fmt.Fprintf(i.Trace, "ip %d dp %d mem[dp] %d op %s\n", i.program_ptr, i.mem_ptr, i.mem[i.mem_ptr], ins)
	return err
}
