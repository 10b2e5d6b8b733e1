package maincmd

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/mattn/go-isatty"
	"github.com/mna/mainer"

	"github.com/mna/ember/lang/compiler"
	"github.com/mna/ember/lang/heap"
	"github.com/mna/ember/lang/vm"
)

// Repl runs ember's line-at-a-time interactive loop: one Heap and one VM
// live for the whole session, so globals defined on one line are visible to
// every line after it. Grounded on spec.md §6's REPL description and
// funvibe-funxy's isatty-gated prompt: piped input (tests, scripts) runs
// silently, an interactive terminal gets a "> " prompt.
func (c *Cmd) Repl(ctx context.Context, stdio mainer.Stdio, cfg config) mainer.ExitCode {
	h := heap.NewHeap()
	h.StressGC = cfg.StressGC
	m := vm.New(h, &vm.Thread{
		Stdout:   stdio.Stdout,
		Stderr:   stdio.Stderr,
		Stdin:    stdio.Stdin,
		MaxSteps: cfg.MaxSteps,
	})

	interactive := isInteractive(stdio.Stdin)
	scanner := bufio.NewScanner(stdio.Stdin)
	for {
		if interactive {
			fmt.Fprint(stdio.Stdout, "> ")
		}
		if !scanner.Scan() {
			break
		}
		select {
		case <-ctx.Done():
			return mainer.Success
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}

		p := compiler.New(h)
		fn, err := p.Compile([]byte(line))
		if err != nil {
			printError(stdio, err)
			continue
		}
		if err := m.Run(fn); err != nil {
			// the VM already wrote the message + backtrace to stdio.Stderr
			continue
		}
	}
	return mainer.Success
}

// fder is implemented by *os.File; anything else (a pipe, a bytes.Reader in
// tests) is treated as non-interactive.
type fder interface {
	Fd() uintptr
}

func isInteractive(r io.Reader) bool {
	f, ok := r.(fder)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
