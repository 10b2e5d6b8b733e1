package compiler_test

import (
	"testing"

	"github.com/kylelemons/godebug/diff"
	"github.com/stretchr/testify/require"

	"github.com/mna/ember/lang/compiler"
	"github.com/mna/ember/lang/heap"
)

// assertDasmEqual compares two disassembly renderings, reporting a unified
// diff on mismatch instead of testify's default single-line message —
// easier to read for a multi-line rendering like disassembly output.
func assertDasmEqual(t *testing.T, want, got string) {
	t.Helper()
	if d := diff.Diff(want, got); d != "" {
		t.Fatalf("disassembly mismatch (-want +got):\n%s", d)
	}
}

func TestDisassembleConstantsAndArithmetic(t *testing.T) {
	fn := compileOK(t, `let x = 1 + 2;`)
	out := compiler.Disassemble(&fn.Chunk, "<script>")
	require.Contains(t, out, "== <script> ==")
	require.Contains(t, out, "CONST")
	require.Contains(t, out, "ADD")
	require.Contains(t, out, "DEF_GLOBAL")
}

func TestDisassembleFunctionShowsUpvalueBindings(t *testing.T) {
	fn := compileOK(t, `
		func counter() {
			let n = 0;
			func inc() {
				n = n + 1;
				return n;
			}
			return inc;
		}
	`)
	// Disassemble renders a single chunk, so inc's upvalue binding is found
	// in counter's chunk; n is in slot 1 there (slot 0 is reserved).
	var counter *heap.Function
	for _, k := range fn.Chunk.Constants {
		if f, ok := k.AsObj().(*heap.Function); ok {
			counter = f
		}
	}
	require.NotNil(t, counter)
	out := compiler.Disassemble(&counter.Chunk, "counter")
	require.Contains(t, out, "CLOSURE")
	require.Contains(t, out, "local 1")
}

func TestDisassembleJumpsShowTargetOffsets(t *testing.T) {
	fn := compileOK(t, `
		let x = 1;
		if (x) {
			x = 2;
		} else {
			x = 3;
		}
	`)
	out := compiler.Disassemble(&fn.Chunk, "<script>")
	require.Contains(t, out, "JMPF")
	require.Contains(t, out, "JMP")
	require.Contains(t, out, "->")
}

func TestDisassembleIsStableAcrossRecompiles(t *testing.T) {
	src := `
		class Animal {
			func init(name) { this.name = name; }
			func speak() { return this.name; }
		}
		let a = Animal("Rex");
		println(a.speak());
	`
	fn1 := compileOK(t, src)
	fn2 := compileOK(t, src)
	assertDasmEqual(t,
		compiler.Disassemble(&fn1.Chunk, "<script>"),
		compiler.Disassemble(&fn2.Chunk, "<script>"),
	)
}
