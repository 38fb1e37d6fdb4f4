package bf

// PreLex strips everything but the eight instruction characters from the
// input.
func PreLex(input string) string {
	var result []rune
	for _, c := range input {
		if parse(c) != Ignore {
			result = append(result, c)
		}
	}
	return string(result)
}

type Lexer struct {
	chars string
}

func NewLexer(input string) *Lexer {
	return &Lexer{
		chars: input,
	}
}

type Command rune

const (
	Increment Command = '+'
	Decrement Command = '-'
	Left      Command = '<'
	Right     Command = '>'
	Output    Command = '.'
	Input     Command = ','
	LoopStart Command = '['
	LoopEnd   Command = ']'
	Ignore    Command = ' '

	// SetZero never appears in source. It is produced by ElideZeroLoops.
	SetZero Command = '0'
)

// Counted reports whether instructions of this kind carry a run-length.
func (c Command) Counted() bool {
	switch c {
	case Increment, Decrement, Left, Right:
		return true
	default:
		return false
	}
}

// IsLoop reports whether c is one of the two bracket commands.
func (c Command) IsLoop() bool {
	return c == LoopStart || c == LoopEnd
}

func parse(c rune) Command {
	switch c {
	case '+':
		return Increment
	case '-':
		return Decrement
	case '>':
		return Right
	case '<':
		return Left
	case '.':
		return Output
	case ',':
		return Input
	case '[':
		return LoopStart
	case ']':
		return LoopEnd
	default:
		return Ignore
	}
}

func (c Command) String() string {
	switch c {
	case Increment:
		return "+"
	case Decrement:
		return "-"
	case Left:
		return "<"
	case Right:
		return ">"
	case Output:
		return "."
	case Input:
		return ","
	case LoopStart:
		return "["
	case LoopEnd:
		return "]"
	case SetZero:
		return "[-]"
	default:
		return " "
	}
}

// Lex decodes the source into a program. Counted instructions start with a
// run-length of 1 and loop instructions are unresolved.
func (l *Lexer) Lex() Program {
	program := Program{}
	for _, c := range l.chars {
		cmd := parse(c)
		if cmd != Ignore {
			program = append(program, NewInstruction(cmd))
		}
	}
	return program
}

func Lex(input string) Program {
	lexer := NewLexer(input)
	return lexer.Lex()
}
