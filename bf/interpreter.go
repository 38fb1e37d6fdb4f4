package bf

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ctx.Done() is polled once per this many steps
const cancelCheckInterval = 4096

type Interpreter struct {
	Program     Program
	program_ptr int
	mem         []uint8
	mem_ptr     int
	Input       io.Reader
	Output      io.Writer
	// Trace, if set, receives one line per step before the step runs.
	Trace io.Writer
	// MaxSteps bounds the number of steps of a run. Zero means unbounded.
	MaxSteps uint64
	steps    uint64
	buf      [1]byte
}

// NewInterpreter returns an interpreter with a zeroed tape of tapeSize
// cells (DefaultTapeSize if zero). A nil input makes ',' a no-op and a nil
// output discards '.'.
func NewInterpreter(program Program, tapeSize int, input io.Reader, output io.Writer) *Interpreter {
	if tapeSize == 0 {
		tapeSize = DefaultTapeSize
	}
	return &Interpreter{
		Program:     program,
		program_ptr: 0,
		mem:         make([]uint8, tapeSize),
		mem_ptr:     0,
		Input:       input,
		Output:      output,
	}
}

func (i *Interpreter) Reset() {
	i.program_ptr = 0
	i.mem_ptr = 0
	i.steps = 0
	for j := range i.mem {
		i.mem[j] = 0
	}
}

func (i *Interpreter) MemoryLength() int {
	return len(i.mem)
}

// At returns the tape cell at addr.
func (i *Interpreter) At(addr int) uint8 {
	return i.mem[addr]
}

// Set writes the tape cell at addr.
func (i *Interpreter) Set(addr int, v uint8) {
	i.mem[addr] = v
}

// Pointer returns the data pointer.
func (i *Interpreter) Pointer() int {
	return i.mem_ptr
}

// Steps returns the number of instructions executed since the last Reset.
func (i *Interpreter) Steps() uint64 {
	return i.steps
}

func (i *Interpreter) fault(err error) *Fault {
	return &Fault{
		Err:         err,
		IP:          i.program_ptr,
		DP:          i.mem_ptr,
		Instruction: i.Program[i.program_ptr],
	}
}

// Counts are compared as uint64 so that a large count cannot overflow int.
func (i *Interpreter) moveRight(n uint32) {
	if uint64(n) >= uint64(len(i.mem)-i.mem_ptr) {
		panic(i.fault(ErrPointerRange))
	}
	i.mem_ptr += int(n)
}

func (i *Interpreter) moveLeft(n uint32) {
	if uint64(n) > uint64(i.mem_ptr) {
		panic(i.fault(ErrPointerRange))
	}
	i.mem_ptr -= int(n)
}

// Index of the LoopEnd matching the LoopStart at program_ptr.
func (i *Interpreter) matchForward() int {
	if target, ok := i.Program[i.program_ptr].Jump.Target(); ok {
		return target
	}
	depth := 1
	for j := i.program_ptr + 1; j < len(i.Program); j++ {
		switch i.Program[j].Command {
		case LoopStart:
			depth++
		case LoopEnd:
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	panic(i.fault(ErrUnbalanced))
}

// Index of the LoopStart matching the LoopEnd at program_ptr.
func (i *Interpreter) matchBackward() int {
	if target, ok := i.Program[i.program_ptr].Jump.Target(); ok {
		return target
	}
	depth := 1
	for j := i.program_ptr - 1; j >= 0; j-- {
		switch i.Program[j].Command {
		case LoopEnd:
			depth++
		case LoopStart:
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	panic(i.fault(ErrUnbalanced))
}

func (i *Interpreter) write() error {
	if i.Output == nil {
		return nil
	}
	v := i.mem[i.mem_ptr]
	if bw, ok := i.Output.(io.ByteWriter); ok {
		return bw.WriteByte(v)
	}
	i.buf[0] = v
	_, err := i.Output.Write(i.buf[:])
	return err
}

type flusher interface {
	Flush() error
}

func (i *Interpreter) read() error {
	if i.Input == nil {
		return nil
	}
	// Anything already written may be a prompt for this read.
	if f, ok := i.Output.(flusher); ok {
		if err := f.Flush(); err != nil {
			return err
		}
	}
	_, err := io.ReadFull(i.Input, i.buf[:])
	if err != nil {
		if errors.Is(err, io.EOF) {
			i.mem[i.mem_ptr] = 0
			return nil
		}
		return err
	}
	i.mem[i.mem_ptr] = i.buf[0]
	return nil
}

// Run the program until the instruction pointer runs off its end, the
// context is done, the step budget is spent, or an I/O error occurs.
func (i *Interpreter) RunContext(ctx context.Context) error {
	for i.program_ptr < len(i.Program) {
		if i.steps%cancelCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("stopped after %d steps: %w", i.steps, ctx.Err())
			default:
			}
		}
		if i.MaxSteps > 0 && i.steps >= i.MaxSteps {
			return fmt.Errorf("stopped after %d steps: %w", i.steps, ErrStepLimit)
		}

		ins := i.Program[i.program_ptr]
		if i.Trace != nil {
			if err := i.trace(ins); err != nil {
				return fmt.Errorf("writing trace: %w", err)
			}
		}
		i.steps++

		switch ins.Command {
		case Increment:
			i.mem[i.mem_ptr] += uint8(ins.Count)
		case Decrement:
			i.mem[i.mem_ptr] -= uint8(ins.Count)
		case Right:
			i.moveRight(ins.Count)
		case Left:
			i.moveLeft(ins.Count)
		case Output:
			if err := i.write(); err != nil {
				return fmt.Errorf("writing output: %w", err)
			}
		case Input:
			if err := i.read(); err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
		case SetZero:
			i.mem[i.mem_ptr] = 0
		case LoopStart:
			if i.mem[i.mem_ptr] == 0 {
				i.program_ptr = i.matchForward()
			}
		case LoopEnd:
			if i.mem[i.mem_ptr] != 0 {
				i.program_ptr = i.matchBackward()
			}
		default:
			panic(fmt.Sprintf("bf: unknown command %q", rune(ins.Command)))
		}
		i.program_ptr++
	}
	return nil
}

func (i *Interpreter) Run() error {
	return i.RunContext(context.Background())
}
