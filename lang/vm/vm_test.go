package vm_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mna/ember/lang/compiler"
	"github.com/mna/ember/lang/heap"
	"github.com/mna/ember/lang/vm"
)

// run compiles and executes src against a fresh Heap+VM, capturing stdout.
// It returns the captured output and the run's error (nil on success).
func run(t *testing.T, src string) (string, error) {
	t.Helper()
	h := heap.NewHeap()
	p := compiler.New(h)
	fn, err := p.Compile([]byte(src))
	require.NoError(t, err, "compile")

	var out bytes.Buffer
	m := vm.New(h, &vm.Thread{Stdout: &out})
	err = m.Run(fn)
	return out.String(), err
}

func runOK(t *testing.T, src string) string {
	t.Helper()
	out, err := run(t, src)
	require.NoError(t, err)
	return out
}

func TestArithmetic(t *testing.T) {
	out := runOK(t, `println(1 + 2 * 3 - 4 / 2);`)
	require.Equal(t, "5\n", out)
}

func TestPowAndMod(t *testing.T) {
	out := runOK(t, `println(2 ^ 10); println(7 % 3);`)
	require.Equal(t, "1024\n1\n", out)
}

func TestDivisionByZero(t *testing.T) {
	_, err := run(t, `let x = 1 / 0;`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Division by zero.")
}

func TestModByZero(t *testing.T) {
	_, err := run(t, `let x = 1 % 0;`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Division by zero.")
}

func TestStringConcatenation(t *testing.T) {
	out := runOK(t, `println("a" + "b" + 1 + true + nil);`)
	require.Equal(t, "ab1truenil\n", out)
}

func TestConcatenationWithUnprintableOperandIsError(t *testing.T) {
	_, err := run(t, `
		class A {}
		let x = "a" + A();
	`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid concatenation type.")
}

func TestComparisonRequiresNumbers(t *testing.T) {
	_, err := run(t, `let x = "a" > 1;`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Operands must be numbers.")
}

func TestEqualityAcrossTypesNeverErrors(t *testing.T) {
	out := runOK(t, `
		println(1 == "1");
		println(nil == false);
		println("x" == "x");
	`)
	require.Equal(t, "false\nfalse\ntrue\n", out)
}

func TestTruthiness(t *testing.T) {
	out := runOK(t, `
		if (0) { println("zero truthy"); } else { println("zero falsy"); }
		if ("") { println("empty truthy"); } else { println("empty falsy"); }
		if (nil) { println("nil truthy"); } else { println("nil falsy"); }
	`)
	require.Equal(t, "zero truthy\nempty truthy\nnil falsy\n", out)
}

func TestClosuresCaptureByReference(t *testing.T) {
	out := runOK(t, `
		func counter() {
			let n = 0;
			func inc() {
				n = n + 1;
				return n;
			}
			return inc;
		}
		let c = counter();
		println(c());
		println(c());
		println(c());
	`)
	require.Equal(t, "1\n2\n3\n", out)
}

func TestClassesAndInheritanceAndSuper(t *testing.T) {
	out := runOK(t, `
		class Animal {
			func init(name) {
				this.name = name;
			}
			func speak() {
				return this.name + " makes a sound";
			}
		}
		class Dog extends Animal {
			func speak() {
				return super.speak() + " (bark)";
			}
		}
		let d = Dog("Rex");
		println(d.speak());
	`)
	require.Equal(t, "Rex makes a sound (bark)\n", out)
}

func TestClassArityMismatchOnInit(t *testing.T) {
	_, err := run(t, `
		class A {
			func init(x) { this.x = x; }
		}
		A();
	`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected 1 argument but got 0 instead.")
}

func TestClassWithNoInitRejectsArguments(t *testing.T) {
	_, err := run(t, `
		class A {}
		A(1);
	`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Class 'A' expected 0 arguments but got 1 instead.")
}

func TestFunctionArityMismatchSingularWording(t *testing.T) {
	_, err := run(t, `
		func f(a) { return a; }
		f();
	`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Function 'f' expected 1 argument but got 0 instead.")
}

func TestFunctionArityMismatchPluralWording(t *testing.T) {
	_, err := run(t, `
		func f(a, b) { return a + b; }
		f(1);
	`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Function 'f' expected 2 arguments but got 1 instead.")
}

func TestListBuildIndexAndStore(t *testing.T) {
	out := runOK(t, `
		let xs = [1, 2, 3];
		println(xs[1]);
		xs[1] = 20;
		println(xs[1]);
		println(xs);
	`)
	require.Equal(t, "2\n20\n[1, 20, 3]\n", out)
}

func TestListIndexOutOfRangeIsError(t *testing.T) {
	_, err := run(t, `let xs = [1]; let y = xs[5];`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "List index is out of range.")
}

func TestListIndexIntoNonListIsError(t *testing.T) {
	_, err := run(t, `let x = 1; let y = x[0];`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid type to index.")
}

func TestAppendNative(t *testing.T) {
	out := runOK(t, `
		let xs = [1, 2];
		append(xs, 3);
		println(xs);
	`)
	require.Equal(t, "[1, 2, 3]\n", out)
}

func TestDelNative(t *testing.T) {
	out := runOK(t, `
		let xs = [1, 2, 3];
		del(xs, 1);
		println(xs);
	`)
	require.Equal(t, "[1, 3]\n", out)
}

func TestDelWrongArgCountIsError(t *testing.T) {
	_, err := run(t, `let xs = [1]; del(xs);`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "del expects 2 arguments")
}

func TestPrintUnprintableTypeProducesNoOutput(t *testing.T) {
	out := runOK(t, `
		func f() {}
		print(f);
		println("after");
	`)
	require.Equal(t, "after\n", out)
}

func TestUndefinedVariableIsError(t *testing.T) {
	_, err := run(t, `println(doesNotExist);`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "is undefined.")
}

func TestAssignToUndefinedGlobalIsError(t *testing.T) {
	_, err := run(t, `doesNotExist = 1;`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "is undefined.")
}

func TestStackOverflowOnUnboundedRecursion(t *testing.T) {
	_, err := run(t, `
		func loop() {
			return loop();
		}
		loop();
	`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Stack overflow.")
}

func TestRuntimeErrorBacktraceIncludesFunctionNames(t *testing.T) {
	var stderr bytes.Buffer
	h := heap.NewHeap()
	p := compiler.New(h)
	fn, err := p.Compile([]byte(`
		func inner() {
			return 1 / 0;
		}
		func outer() {
			return inner();
		}
		outer();
	`))
	require.NoError(t, err)

	m := vm.New(h, &vm.Thread{Stderr: &stderr})
	runErr := m.Run(fn)
	require.Error(t, runErr)
	require.Contains(t, runErr.Error(), "Division by zero.")

	trace := stderr.String()
	require.Contains(t, trace, "in function 'inner'")
	require.Contains(t, trace, "in function 'outer'")
	require.Contains(t, trace, "in <module>")
}

func TestReadStrAndReadNum(t *testing.T) {
	h := heap.NewHeap()
	p := compiler.New(h)
	fn, err := p.Compile([]byte(`
		let name = readStr();
		let age = readNum();
		println(name + " " + age);
	`))
	require.NoError(t, err)

	var out bytes.Buffer
	stdin := strings.NewReader("Rex 3\n")
	m := vm.New(h, &vm.Thread{Stdout: &out, Stdin: stdin})
	require.NoError(t, m.Run(fn))
	require.Equal(t, "Rex 3\n", out.String())
}

func TestGlobalsPersistAcrossRuns(t *testing.T) {
	h := heap.NewHeap()
	var out bytes.Buffer
	m := vm.New(h, &vm.Thread{Stdout: &out})

	p1 := compiler.New(h)
	fn1, err := p1.Compile([]byte(`let counter = 1;`))
	require.NoError(t, err)
	require.NoError(t, m.Run(fn1))

	p2 := compiler.New(h)
	fn2, err := p2.Compile([]byte(`println(counter);`))
	require.NoError(t, err)
	// one VM persists across REPL lines, so the second compile's script
	// still sees the first line's global.
	require.NoError(t, m.Run(fn2))
	require.Equal(t, "1\n", out.String())
}
