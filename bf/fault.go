package bf

import (
	"errors"
	"fmt"
)

var (
	// ErrUnbalanced marks a bracket without a partner.
	ErrUnbalanced = errors.New("unbalanced brackets")
	// ErrPointerRange marks a data pointer moved off the tape.
	ErrPointerRange = errors.New("data pointer out of range")
	// ErrStepLimit is returned when a run exhausts Options.MaxSteps.
	ErrStepLimit = errors.New("step limit reached")
)

// Fault is a violated precondition of a program: unbalanced brackets or a
// data pointer leaving the tape. Faults are raised with panic, never
// returned. Callers at the edge of the process may recover them with
// AsFault.
type Fault struct {
	Err         error
	IP          int
	DP          int
	Instruction Instruction
}

func (f *Fault) Error() string {
	if f.DP < 0 {
		return fmt.Sprintf("bf: %v at instruction %d (%s)", f.Err, f.IP, f.Instruction)
	}
	return fmt.Sprintf("bf: %v at instruction %d (%s), data pointer %d", f.Err, f.IP, f.Instruction, f.DP)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// AsFault converts a recovered panic value into a *Fault. Any other value is
// re-panicked.
func AsFault(r any) *Fault {
	if f, ok := r.(*Fault); ok {
		return f
	}
	panic(r)
}
