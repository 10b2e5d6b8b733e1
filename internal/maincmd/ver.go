package maincmd

import (
	"context"
	"fmt"

	"github.com/mna/mainer"
)

// Ver implements spec.md §6's literal `ver` command: print the language
// version and exit. Dispatched reflectively by buildCmds, same as the
// teacher's parse/resolve/tokenize subcommands.
func (c *Cmd) Ver(ctx context.Context, stdio mainer.Stdio, args []string) error {
	fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
	return nil
}
