package bf

import (
	"fmt"
	"strconv"
)

// Jump is the resolution state of a loop instruction: either unresolved, or
// resolved to the index of the matching bracket.
type Jump struct {
	resolved bool
	target   int
}

// Unresolved is the zero Jump.
var Unresolved = Jump{}

// ResolvedTo returns a Jump pointing at index.
func ResolvedTo(index int) Jump {
	return Jump{resolved: true, target: index}
}

func (j Jump) Resolved() bool {
	return j.resolved
}

// Target returns the index of the matching bracket, if resolved.
func (j Jump) Target() (int, bool) {
	return j.target, j.resolved
}

func (j Jump) String() string {
	if !j.resolved {
		return "?"
	}
	return strconv.Itoa(j.target)
}

// Instruction is a single decoded (and possibly rewritten) command.
//
// Count is the run-length of Left, Right, Increment and Decrement and is
// zero for every other command. Jump is only meaningful for LoopStart and
// LoopEnd.
type Instruction struct {
	Command Command
	Count   uint32
	Jump    Jump
}

// NewInstruction returns the single-step, unresolved form of c.
func NewInstruction(c Command) Instruction {
	ins := Instruction{Command: c}
	if c.Counted() {
		ins.Count = 1
	}
	return ins
}

// Repeat returns c with a run-length of n. c must be a counted command.
func Repeat(c Command, n uint32) Instruction {
	if !c.Counted() {
		panic(fmt.Sprintf("bf: command %q does not take a count", rune(c)))
	}
	return Instruction{Command: c, Count: n}
}

func (ins Instruction) String() string {
	switch {
	case ins.Command.Counted() && ins.Count != 1:
		return fmt.Sprintf("%s x%d", ins.Command, ins.Count)
	case ins.Command.IsLoop() && ins.Jump.Resolved():
		return fmt.Sprintf("%s -> %s", ins.Command, ins.Jump)
	default:
		return ins.Command.String()
	}
}

// Program is an ordered sequence of instructions. Indices into it are the
// unit of jump addressing.
type Program []Instruction

// Resolved reports whether every loop instruction in p carries a target.
// A program without loops is trivially resolved.
func (p Program) Resolved() bool {
	for _, ins := range p {
		if ins.Command.IsLoop() && !ins.Jump.Resolved() {
			return false
		}
	}
	return true
}

// Source renders p back into source characters. Counted instructions are
// expanded, so Lex(p.Source()) undoes Collapse.
func (p Program) Source() string {
	var buf []byte
	for _, ins := range p {
		switch {
		case ins.Command == SetZero:
			buf = append(buf, "[-]"...)
		case ins.Command.Counted():
			for n := uint32(0); n < ins.Count; n++ {
				buf = append(buf, byte(ins.Command))
			}
		default:
			buf = append(buf, byte(ins.Command))
		}
	}
	return string(buf)
}
