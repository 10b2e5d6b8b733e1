package maincmd_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mna/mainer"
	"github.com/stretchr/testify/require"

	"github.com/mna/ember/internal/maincmd"
)

func stdioWith(stdin string) (mainer.Stdio, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return mainer.Stdio{
		Stdin:  strings.NewReader(stdin),
		Stdout: &out,
		Stderr: &errOut,
	}, &out, &errOut
}

func TestVersionFlag(t *testing.T) {
	c := maincmd.Cmd{BuildVersion: "1.2.3", BuildDate: "2026-07-29"}
	stdio, out, _ := stdioWith("")
	code := c.Main([]string{"ember", "-v"}, stdio)
	require.Equal(t, mainer.Success, code)
	require.Equal(t, "ember 1.2.3 2026-07-29\n", out.String())
}

func TestVerCommand(t *testing.T) {
	c := maincmd.Cmd{BuildVersion: "1.2.3", BuildDate: "2026-07-29"}
	stdio, out, _ := stdioWith("")
	code := c.Main([]string{"ember", "ver"}, stdio)
	require.Equal(t, mainer.Success, code)
	require.Equal(t, "ember 1.2.3 2026-07-29\n", out.String())
}

func TestRunFileSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ok.em")
	require.NoError(t, os.WriteFile(path, []byte(`println(1 + 2);`), 0o644))

	c := maincmd.Cmd{}
	stdio, out, _ := stdioWith("")
	code := c.Main([]string{"ember", path}, stdio)
	require.Equal(t, mainer.Success, code)
	require.Equal(t, "3\n", out.String())
}

func TestRunFileCompileErrorExits65(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.em")
	require.NoError(t, os.WriteFile(path, []byte(`let x = ;`), 0o644))

	c := maincmd.Cmd{}
	stdio, _, errOut := stdioWith("")
	code := c.Main([]string{"ember", path}, stdio)
	require.Equal(t, mainer.ExitCode(65), code)
	require.NotEmpty(t, errOut.String())
}

func TestRunFileRuntimeErrorExits70(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "boom.em")
	require.NoError(t, os.WriteFile(path, []byte(`let x = 1 / 0;`), 0o644))

	c := maincmd.Cmd{}
	stdio, _, errOut := stdioWith("")
	code := c.Main([]string{"ember", path}, stdio)
	require.Equal(t, mainer.ExitCode(70), code)
	require.Contains(t, errOut.String(), "Division by zero.")
}

func TestRunMissingFileExits74(t *testing.T) {
	c := maincmd.Cmd{}
	stdio, _, errOut := stdioWith("")
	code := c.Main([]string{"ember", "/no/such/file.em"}, stdio)
	require.Equal(t, mainer.ExitCode(74), code)
	require.NotEmpty(t, errOut.String())
}

func TestReplPersistsGlobalsAcrossLines(t *testing.T) {
	c := maincmd.Cmd{}
	stdio, out, _ := stdioWith("let x = 1;\nprintln(x + 1);\n")
	code := c.Main([]string{"ember"}, stdio)
	require.Equal(t, mainer.Success, code)
	require.Equal(t, "2\n", out.String())
}

func TestReplReportsCompileErrorAndContinues(t *testing.T) {
	c := maincmd.Cmd{}
	stdio, out, errOut := stdioWith("let x = ;\nprintln(42);\n")
	code := c.Main([]string{"ember"}, stdio)
	require.Equal(t, mainer.Success, code)
	require.NotEmpty(t, errOut.String())
	require.Equal(t, "42\n", out.String())
}
