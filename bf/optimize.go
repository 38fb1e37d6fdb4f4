package bf

import "math"

// Rewrite is a program-to-program transform. Rewrites never modify their
// input.
type Rewrite func(Program) Program

// Pass is a named Rewrite.
type Pass struct {
	Name    string
	Rewrite Rewrite
}

var (
	ElideZeroLoopsPass  = Pass{Name: "elide-zero-loops", Rewrite: ElideZeroLoops}
	CollapsePass        = Pass{Name: "collapse", Rewrite: Collapse}
	ResolveBracketsPass = Pass{Name: "resolve-brackets", Rewrite: ResolveBrackets}
)

// maxCount caps the run length Collapse packs into one instruction.
var maxCount uint32 = math.MaxUint32

// Optimize applies the passes in order.
func Optimize(program Program, passes ...Pass) Program {
	for _, pass := range passes {
		program = pass.Rewrite(program)
	}
	return program
}

// Collapse merges each maximal run of adjacent single-step Left, Right,
// Increment or Decrement instructions of the same command into one
// instruction carrying the run length. Instructions with a count other than
// 1 are never merged, which keeps Collapse idempotent.
func Collapse(program Program) Program {
	out := make(Program, 0, len(program))
	// whether the last instruction in out is still an open run
	run := false
	for _, ins := range program {
		single := ins.Command.Counted() && ins.Count == 1
		if single && run && out[len(out)-1].Command == ins.Command && out[len(out)-1].Count < maxCount {
			out[len(out)-1].Count++
			continue
		}
		out = append(out, ins)
		run = single
	}
	return out
}

// ElideZeroLoops replaces every unresolved "[-]" with a single SetZero.
func ElideZeroLoops(program Program) Program {
	out := make(Program, 0, len(program))
	for ip := 0; ip < len(program); ip++ {
		if isZeroLoop(program, ip) {
			out = append(out, NewInstruction(SetZero))
			ip += 2
			continue
		}
		out = append(out, program[ip])
	}
	return out
}

func isZeroLoop(program Program, ip int) bool {
	if ip+2 >= len(program) {
		return false
	}
	start, body, end := program[ip], program[ip+1], program[ip+2]
	return start.Command == LoopStart && !start.Jump.Resolved() &&
		body.Command == Decrement && body.Count == 1 &&
		end.Command == LoopEnd && !end.Jump.Resolved()
}

// ResolveBrackets points every LoopStart at its matching LoopEnd and back.
// It bakes absolute indices into the program, so it must be the last pass
// that changes the program's length. Unbalanced brackets panic with a
// *Fault.
func ResolveBrackets(program Program) Program {
	out := make(Program, len(program))
	copy(out, program)

	var open []int
	for ip, ins := range program {
		switch ins.Command {
		case LoopStart:
			open = append(open, ip)
		case LoopEnd:
			if len(open) == 0 {
				panic(&Fault{Err: ErrUnbalanced, IP: ip, DP: -1, Instruction: ins})
			}
			start := open[len(open)-1]
			open = open[:len(open)-1]
			out[start].Jump = ResolvedTo(ip)
			out[ip].Jump = ResolvedTo(start)
		}
	}
	if len(open) > 0 {
		ip := open[len(open)-1]
		panic(&Fault{Err: ErrUnbalanced, IP: ip, DP: -1, Instruction: program[ip]})
	}
	return out
}
