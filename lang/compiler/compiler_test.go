package compiler_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mna/ember/lang/compiler"
	"github.com/mna/ember/lang/heap"
)

func compileOK(t *testing.T, src string) *heap.Function {
	t.Helper()
	h := heap.NewHeap()
	p := compiler.New(h)
	fn, err := p.Compile([]byte(src))
	require.NoError(t, err)
	require.NotNil(t, fn)
	return fn
}

func compileErr(t *testing.T, src string) error {
	t.Helper()
	h := heap.NewHeap()
	p := compiler.New(h)
	_, err := p.Compile([]byte(src))
	require.Error(t, err)
	return err
}

func TestCompileSimpleExpression(t *testing.T) {
	fn := compileOK(t, `let x = 1 + 2;`)
	require.NotEmpty(t, fn.Chunk.Code)
}

func TestCompileFunctionAndCall(t *testing.T) {
	fn := compileOK(t, `
		func add(a, b) {
			return a + b;
		}
		let x = add(1, 2);
	`)
	require.NotEmpty(t, fn.Chunk.Code)
}

func TestCompileClassWithInheritance(t *testing.T) {
	compileOK(t, `
		class Animal {
			func speak() {
				return nil;
			}
		}
		class Dog extends Animal {
			func init() {
				this;
			}
		}
	`)
}

func TestCompileSelfInheritanceIsError(t *testing.T) {
	compileErr(t, `class A extends A { }`)
}

func TestCompileReturnAtTopLevelIsError(t *testing.T) {
	compileErr(t, `return 1;`)
}

func TestCompileMatchEmptyIsError(t *testing.T) {
	compileErr(t, `match (1) { }`)
}

func TestCompileMatchDefaultOnlyIsError(t *testing.T) {
	compileErr(t, `match (1) { _ -> println(1); }`)
}

func TestCompileMatchCaseAfterDefaultIsError(t *testing.T) {
	compileErr(t, `
		match (1) {
			_ -> println(1);
			with 2 -> println(2);
		}
	`)
}

func TestCompileMatchStatementsBeforeCaseIsError(t *testing.T) {
	compileErr(t, `
		match (1) {
			let x = 1;
			with 1 -> let y = 1;
		}
	`)
}

func TestCompileValidMatch(t *testing.T) {
	compileOK(t, `
		let x = 0;
		match (1) {
			with 1 -> x = 1;
			with 2 -> x = 2;
			_ -> x = 3;
		}
	`)
}

func TestCompileForLoop(t *testing.T) {
	compileOK(t, `
		for (let i = 0; i < 10; i = i + 1) {
			let x = i;
		}
	`)
}

func TestCompileWhileLoop(t *testing.T) {
	compileOK(t, `
		let i = 0;
		while (i < 10) {
			i = i + 1;
		}
	`)
}

func TestCompileListLiteralAndIndex(t *testing.T) {
	compileOK(t, `
		let xs = [1, 2, 3];
		let y = xs[0];
		xs[1] = 5;
	`)
}

func TestCompileClosureCapturesUpvalue(t *testing.T) {
	compileOK(t, `
		func outer() {
			let x = 1;
			func inner() {
				return x;
			}
			return inner;
		}
	`)
}

func TestCompileThisOutsideClassIsError(t *testing.T) {
	compileErr(t, `let x = this;`)
}

func TestCompileSuperOutsideClassIsError(t *testing.T) {
	compileErr(t, `let x = super.foo;`)
}

func TestDisassembleDoesNotPanic(t *testing.T) {
	fn := compileOK(t, `let x = 1 + 2;`)
	out := compiler.Disassemble(&fn.Chunk, "<script>")
	require.Contains(t, out, "<script>")
}

func TestCompileLocalSelfReferenceInitializerIsError(t *testing.T) {
	compileErr(t, `{ let x = x; }`)
}

func TestCompileGlobalSelfReferenceInitializerIsError(t *testing.T) {
	compileErr(t, `let x = x;`)
}

func TestCompileGlobalSelfReferenceThroughExpressionIsError(t *testing.T) {
	compileErr(t, `let x = 1 + x;`)
}

// A recursive global function must still compile: the name inside the
// function body is a global read resolved at call time, and the
// self-reference guard applies only to a `let` initializer.
func TestCompileRecursiveGlobalClosureIsOK(t *testing.T) {
	compileOK(t, `
		func fact(n) {
			if (n <= 1) { return 1; }
			return n * fact(n - 1);
		}
		let f = fact;
	`)
}

func TestCompileListLiteralCapsAt255Items(t *testing.T) {
	// nil items add no constants, so the list cap is the only limit hit.
	items := make([]string, 256)
	for i := range items {
		items[i] = "nil"
	}
	src := "let x = [" + strings.Join(items, ", ") + "];"
	compileErr(t, src)
}
