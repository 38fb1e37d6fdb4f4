package bf_test

import (
	"strings"
	"testing"

	"github.com/MarcinKonowalczyk/fastbf/bf"
	"github.com/MarcinKonowalczyk/fastbf/utils"
)

const nested = "+[>++[-]<[->+<]>[<+>-]]<.>,[.,]"

func TestCollapse_Runs(t *testing.T) {
	for n := 1; n <= 40; n++ {
		program := bf.Collapse(bf.Lex(strings.Repeat(">", n)))
		utils.AssertEqualArrays(t, program, bf.Program{bf.Repeat(bf.Right, uint32(n))})
	}
}

func TestCollapse_RunCap(t *testing.T) {
	bf.SetMaxCount(t, 3)
	program := bf.Collapse(bf.Lex("+++++++>"))
	utils.AssertEqualArrays(t, program, bf.Program{
		bf.Repeat(bf.Increment, 3),
		bf.Repeat(bf.Increment, 3),
		bf.NewInstruction(bf.Increment),
		bf.NewInstruction(bf.Right),
	})

	interpreter := bf.NewInterpreter(program, 0, nil, nil)
	utils.AssertNoError(t, interpreter.Run())
	utils.AssertEqual(t, interpreter.At(0), 7)
}

func TestCollapse_Mixed(t *testing.T) {
	program := bf.Collapse(bf.Lex("+++-->><<<.[..]"))
	expected := bf.Program{
		bf.Repeat(bf.Increment, 3),
		bf.Repeat(bf.Decrement, 2),
		bf.Repeat(bf.Right, 2),
		bf.Repeat(bf.Left, 3),
		bf.NewInstruction(bf.Output),
		bf.NewInstruction(bf.LoopStart),
		bf.NewInstruction(bf.Output),
		bf.NewInstruction(bf.Output),
		bf.NewInstruction(bf.LoopEnd),
	}
	utils.AssertEqualArrays(t, program, expected)
}

func TestCollapse_LoopsBreakRuns(t *testing.T) {
	program := bf.Collapse(bf.Lex("+[+]+"))
	utils.AssertEqual(t, len(program), 5)
}

func TestCollapse_Idempotent(t *testing.T) {
	for _, source := range []string{"", "+", nested, "++>>--<<..,,[[]]", strings.Repeat("+-", 20)} {
		once := bf.Collapse(bf.Lex(source))
		twice := bf.Collapse(once)
		utils.AssertEqualArrays(t, once, twice)
		utils.Assert(t, len(once) <= len(bf.Lex(source)), "collapse grew the program")
	}
}

func TestCollapse_DifferentCountsNotMerged(t *testing.T) {
	program := bf.Program{
		bf.Repeat(bf.Increment, 2),
		bf.Repeat(bf.Increment, 3),
		bf.NewInstruction(bf.Increment),
		bf.NewInstruction(bf.Increment),
	}
	once := bf.Collapse(program)
	utils.AssertEqualArrays(t, once, bf.Program{
		bf.Repeat(bf.Increment, 2),
		bf.Repeat(bf.Increment, 3),
		bf.Repeat(bf.Increment, 2),
	})
	utils.AssertEqualArrays(t, bf.Collapse(once), once)
}

func TestCollapse_DoesNotModifyInput(t *testing.T) {
	program := bf.Lex("+++")
	bf.Collapse(program)
	utils.AssertEqualArrays(t, program, bf.Lex("+++"))
}

func TestElideZeroLoops(t *testing.T) {
	program := bf.ElideZeroLoops(bf.Lex("[-]"))
	utils.AssertEqualArrays(t, program, bf.Program{bf.NewInstruction(bf.SetZero)})
}

func TestElideZeroLoops_TwoDecrements(t *testing.T) {
	program := bf.ElideZeroLoops(bf.Lex("[--]"))
	utils.AssertEqualArrays(t, program, bf.Lex("[--]"))
}

func TestElideZeroLoops_OtherLoops(t *testing.T) {
	for _, source := range []string{"[+]", "[->+<]", "[]", "[", "[-", "-]"} {
		program := bf.ElideZeroLoops(bf.Lex(source))
		utils.AssertEqualArrays(t, program, bf.Lex(source))
	}
}

func TestElideZeroLoops_Many(t *testing.T) {
	program := bf.ElideZeroLoops(bf.Lex(">[-]<[-][[-]]"))
	expected := bf.Program{
		bf.NewInstruction(bf.Right),
		bf.NewInstruction(bf.SetZero),
		bf.NewInstruction(bf.Left),
		bf.NewInstruction(bf.SetZero),
		bf.NewInstruction(bf.LoopStart),
		bf.NewInstruction(bf.SetZero),
		bf.NewInstruction(bf.LoopEnd),
	}
	utils.AssertEqualArrays(t, program, expected)
}

func TestElideZeroLoops_AfterCollapse(t *testing.T) {
	// "[--]" collapses to a single decrement by two, which is not the idiom
	program := bf.ElideZeroLoops(bf.Collapse(bf.Lex("[-][--]")))
	utils.AssertEqual(t, len(program), 4)
	utils.AssertEqual(t, program[0].Command, bf.SetZero)
	utils.AssertEqual(t, program[2], bf.Repeat(bf.Decrement, 2))
}

func TestElideZeroLoops_ResolvedLoopsUntouched(t *testing.T) {
	resolved := bf.ResolveBrackets(bf.Lex("[-]"))
	utils.AssertEqualArrays(t, bf.ElideZeroLoops(resolved), resolved)
}

func depthBefore(program bf.Program, index int) int {
	depth := 0
	for _, ins := range program[:index] {
		switch ins.Command {
		case bf.LoopStart:
			depth++
		case bf.LoopEnd:
			depth--
		}
	}
	return depth
}

func TestResolveBrackets_RoundTrip(t *testing.T) {
	program := bf.ResolveBrackets(bf.Lex(nested))
	utils.Assert(t, program.Resolved(), "program not resolved")

	starts := 0
	for ip, ins := range program {
		if ins.Command != bf.LoopStart {
			continue
		}
		starts++
		target, ok := ins.Jump.Target()
		utils.Assert(t, ok, "loop start without target")
		utils.AssertEqual(t, program[target].Command, bf.LoopEnd)

		back, ok := program[target].Jump.Target()
		utils.Assert(t, ok, "loop end without target")
		utils.AssertEqual(t, back, ip)

		// depth after the matching end equals depth before the start
		utils.AssertEqual(t, depthBefore(program, target+1), depthBefore(program, ip))
	}
	utils.AssertEqual(t, starts, strings.Count(nested, "["))
}

func TestResolveBrackets_KeepsOtherInstructions(t *testing.T) {
	source := "+>[-<]."
	program := bf.ResolveBrackets(bf.Lex(source))
	utils.AssertEqual(t, len(program), len(bf.Lex(source)))
	utils.AssertEqual(t, program.Source(), source)
	utils.Assert(t, !bf.Lex(source).Resolved(), "unresolved program reports resolved")
}

func TestResolveBrackets_Unbalanced(t *testing.T) {
	for _, source := range []string{"[", "]", "[[]", "[]]", "][", "+[+[+]"} {
		r := utils.AssertPanics(t, func() { bf.ResolveBrackets(bf.Lex(source)) })
		if r == nil {
			continue
		}
		fault := bf.AsFault(r)
		utils.AssertErrorIs(t, fault, bf.ErrUnbalanced)
	}
}

func TestOptimize_Pipeline(t *testing.T) {
	program := bf.Optimize(bf.Lex("++[-]>>[->+<]"), bf.DefaultOptions().Passes()...)
	utils.AssertEqualArrays(t, program, bf.Lex("++[-]>>[->+<]"))

	opts := bf.DefaultOptions()
	utils.AssertNoError(t, opts.SetOptimizations("all"))
	program = bf.Optimize(bf.Lex("++[-]>>[->+<]"), opts.Passes()...)
	utils.AssertEqual(t, len(program), 9)
	utils.AssertEqual(t, program[0], bf.Repeat(bf.Increment, 2))
	utils.AssertEqual(t, program[1].Command, bf.SetZero)
	utils.AssertEqual(t, program[2], bf.Repeat(bf.Right, 2))
	utils.AssertEqual(t, program[3].Jump, bf.ResolvedTo(8))
	utils.AssertEqual(t, program[8].Jump, bf.ResolvedTo(3))
}
