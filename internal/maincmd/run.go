package maincmd

import (
	"context"
	"os"

	"github.com/mna/mainer"

	"github.com/mna/ember/lang/compiler"
	"github.com/mna/ember/lang/heap"
	"github.com/mna/ember/lang/vm"
)

// Run compiles and executes the single file at path, following spec.md §6's
// exit-code contract: 74 if the file cannot be read, 65 on a compile error,
// 70 on an uncaught runtime error, 0 on success.
func (c *Cmd) Run(ctx context.Context, stdio mainer.Stdio, path string, cfg config) mainer.ExitCode {
	select {
	case <-ctx.Done():
		return mainer.Success
	default:
	}

	src, err := os.ReadFile(path)
	if err != nil {
		printError(stdio, err)
		return exitIOErr
	}

	h := heap.NewHeap()
	h.StressGC = cfg.StressGC
	p := compiler.New(h)
	fn, err := p.Compile(src)
	if err != nil {
		printError(stdio, err)
		return exitDataErr
	}

	if c.DebugChunk {
		stdio.Stdout.Write([]byte(compiler.Disassemble(&fn.Chunk, path)))
	}

	m := vm.New(h, &vm.Thread{
		Stdout:   stdio.Stdout,
		Stderr:   stdio.Stderr,
		Stdin:    stdio.Stdin,
		MaxSteps: cfg.MaxSteps,
	})
	if err := m.Run(fn); err != nil {
		// the VM has already written the message + backtrace to stdio.Stderr
		return exitSoftware
	}
	return mainer.Success
}

func printError(stdio mainer.Stdio, err error) {
	if err != nil {
		stdio.Stderr.Write([]byte(err.Error() + "\n"))
	}
}
