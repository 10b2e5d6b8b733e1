package vm

import (
	"io"
	"os"
)

// Thread carries the I/O streams natives read from and write to. It mirrors
// the teacher's machine.Thread Stdout/Stderr/Stdin override-with-default
// fields, letting tests redirect a program's input and output without any
// global state.
type Thread struct {
	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader

	// MaxSteps caps the number of bytecode instructions a single Run may
	// execute before it is aborted with a runtime error. A value <= 0 means
	// no limit. Mirrors the teacher's machine.Thread.MaxSteps, a safety knob
	// for running untrusted scripts from a REPL or embedder.
	MaxSteps int
}

func (th *Thread) out() io.Writer {
	if th != nil && th.Stdout != nil {
		return th.Stdout
	}
	return os.Stdout
}

func (th *Thread) errOut() io.Writer {
	if th != nil && th.Stderr != nil {
		return th.Stderr
	}
	return os.Stderr
}

func (th *Thread) in() io.Reader {
	if th != nil && th.Stdin != nil {
		return th.Stdin
	}
	return os.Stdin
}
