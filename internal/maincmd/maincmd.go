// Package maincmd implements ember's command-line entry point: a REPL that
// persists globals across lines, a single-file runner, and a version
// command, dispatched through github.com/mna/mainer the same way the
// teacher's own CLI dispatches parse/resolve/tokenize.
package maincmd

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/mna/mainer"
)

const binName = "ember"

// Exit codes follow spec.md §6 exactly (the BSD sysexits convention), not
// mainer's own Success/Failure/InvalidArgs numbering.
const (
	exitUsage    mainer.ExitCode = 64 // bad command-line arguments
	exitDataErr  mainer.ExitCode = 65 // source failed to compile
	exitSoftware mainer.ExitCode = 70 // uncaught runtime error
	exitIOErr    mainer.ExitCode = 74 // could not read the source file
)

var (
	shortUsage = fmt.Sprintf(`
usage: %s [<option>...] [<command>] [<path>]
Run '%[1]s --help' for details.
`, binName)

	longUsage = fmt.Sprintf(`usage: %s [<option>...] [<command>] [<path>]
       %[1]s -h|--help
       %[1]s -v|--version

ember is a bytecode-compiled scripting language.

With no command and no path, %[1]s starts an interactive REPL: each line is
compiled and run against globals that persist for the session.

The <command> can be one of:
       ver                       Print the language version and exit.

A single <path> argument compiles and runs that source file.

Valid flag options are:
       -h --help                 Show this help and exit.
       -v --version              Print version and exit.
       --config <path>           Load VM tuning knobs from a YAML file
                                 instead of the default ./.ember.yaml.
       --debug-chunk             Print the compiled bytecode disassembly of
                                 a run file before executing it.

More information on the ember language:
       https://github.com/mna/ember
`, binName)
)

// Cmd is ember's command-line entry point, populated from os.Args by
// mainer.Parser and dispatched by Main.
type Cmd struct {
	BuildVersion string
	BuildDate    string

	Help    bool `flag:"h,help"`
	Version bool `flag:"v,version"`

	ConfigPath string `flag:"config"`
	DebugChunk bool   `flag:"debug-chunk"`

	args  []string
	flags map[string]bool
	cmdFn func(context.Context, mainer.Stdio, []string) error
}

func (c *Cmd) SetArgs(args []string) { c.args = args }

func (c *Cmd) SetFlags(flags map[string]bool) { c.flags = flags }

func (c *Cmd) Validate() error {
	if c.Help || c.Version {
		return nil
	}
	if len(c.args) > 1 {
		return fmt.Errorf("at most one path argument is expected, got %d", len(c.args))
	}
	if len(c.args) == 1 {
		if cmdFn := buildCmds(c)[c.args[0]]; cmdFn != nil {
			c.cmdFn = cmdFn
		}
	}
	return nil
}

func (c *Cmd) Main(args []string, stdio mainer.Stdio) mainer.ExitCode {
	p := mainer.Parser{
		EnvVars:   false,
		EnvPrefix: binName + "_",
	}
	if err := p.Parse(args, c); err != nil {
		fmt.Fprintf(stdio.Stderr, "invalid arguments: %s\n%s", err, shortUsage)
		return exitUsage
	}

	switch {
	case c.Help:
		fmt.Fprint(stdio.Stdout, longUsage)
		return mainer.Success
	case c.Version:
		fmt.Fprintf(stdio.Stdout, "%s %s %s\n", binName, c.BuildVersion, c.BuildDate)
		return mainer.Success
	}

	cfg, err := loadConfig(c.ConfigPath)
	if err != nil {
		fmt.Fprintf(stdio.Stderr, "%s\n", err)
		return exitIOErr
	}

	ctx := mainer.CancelOnSignal(context.Background(), os.Interrupt)

	if c.cmdFn != nil {
		if err := c.cmdFn(ctx, stdio, nil); err != nil {
			return mainer.Failure
		}
		return mainer.Success
	}

	if len(c.args) == 1 {
		return c.Run(ctx, stdio, c.args[0], cfg)
	}
	return c.Repl(ctx, stdio, cfg)
}

// buildCmds mirrors the teacher's reflection-based dispatch: any exported
// method shaped like the named subcommands becomes callable by its
// lowercased name.
func buildCmds(v interface{}) map[string]func(context.Context, mainer.Stdio, []string) error {
	cmds := make(map[string]func(context.Context, mainer.Stdio, []string) error)

	vv := reflect.ValueOf(v)
	vt := vv.Type()
	for i := 0; i < vt.NumMethod(); i++ {
		m := vt.Method(i)
		mt := m.Type
		if mt.NumIn() != 4 || mt.NumOut() != 1 {
			continue
		}
		if rt := mt.Out(0); rt.Kind() != reflect.Interface || rt.Name() != "error" {
			continue
		}
		if p1 := mt.In(1); p1.Kind() != reflect.Interface || p1.Name() != "Context" {
			continue
		}
		if p2 := mt.In(2); p2.Kind() != reflect.Struct || p2.Name() != "Stdio" {
			continue
		}
		if p3 := mt.In(3); p3.Kind() != reflect.Slice || p3.Elem().Name() != "string" {
			continue
		}
		cmds[strings.ToLower(m.Name)] = vv.Method(i).Interface().(func(context.Context, mainer.Stdio, []string) error)
	}
	return cmds
}
