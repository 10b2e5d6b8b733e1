package vm

import (
	"fmt"

	"github.com/mna/ember/lang/heap"
)

// registerNatives installs the six natives the language ships into the
// heap's globals table — mirroring the reference VM's defNative
// registration (append, del, print, println, readStr, readNum). The four
// I/O natives are Go closures over vm (and so its Thread), which replace the
// original's global `vm` variable; append and del are plain functions.
func registerNatives(vm *VM) {
	register(vm, "print", nativePrint(vm, false))
	register(vm, "println", nativePrint(vm, true))
	register(vm, "readStr", nativeReadStr(vm))
	register(vm, "readNum", nativeReadNum(vm))
	register(vm, "append", nativeAppend)
	register(vm, "del", nativeDel)
}

func register(vm *VM, name string, fn heap.NativeFn) {
	native := vm.heap.NewNative(name, fn)
	vm.heap.Globals.Set(vm.heap.InternString(name), heap.FromObj(native))
}

// printable renders v the way print/println do: bools, numbers and nil
// format the same as Value.String, strings print raw, lists print via
// their recursive quoting display, and anything else (functions, classes,
// instances, closures, natives, bound methods) prints nothing at all —
// the reference printNative's silent `default: return NIL_VAL` for object
// types it has no case for.
func printable(v heap.Value) (string, bool) {
	switch v.Kind() {
	case heap.KindBool, heap.KindNumber, heap.KindNil:
		return v.String(), true
	case heap.KindObj:
		switch v.AsObj().(type) {
		case *heap.String, *heap.List:
			return v.String(), true
		}
	}
	return "", false
}

func nativePrint(vm *VM, newline bool) heap.NativeFn {
	return func(args []heap.Value) (heap.Value, error) {
		if len(args) == 0 {
			return heap.Nil, nil
		}
		if s, ok := printable(args[0]); ok {
			if newline {
				fmt.Fprintln(vm.th.out(), s)
			} else {
				fmt.Fprint(vm.th.out(), s)
			}
		}
		return heap.Nil, nil
	}
}

func nativeReadStr(vm *VM) heap.NativeFn {
	return func(args []heap.Value) (heap.Value, error) {
		var word string
		if _, err := fmt.Fscan(vm.stdinReader(), &word); err != nil {
			return heap.Nil, nil
		}
		return heap.FromObj(vm.heap.InternString(word)), nil
	}
}

func nativeReadNum(vm *VM) heap.NativeFn {
	return func(args []heap.Value) (heap.Value, error) {
		var f float64
		if _, err := fmt.Fscan(vm.stdinReader(), &f); err != nil {
			return heap.Nil, nil
		}
		return heap.Number(f), nil
	}
}

// nativeAppend implements append(list, item). Unlike the reference's
// appendNative, which silently does nothing on a bad call (`// Add later.`
// with no actual check), this validates its arguments and returns an error
// the VM surfaces as a runtime error.
func nativeAppend(args []heap.Value) (heap.Value, error) {
	if len(args) != 2 {
		return heap.Nil, fmt.Errorf("append expects 2 arguments, got %d.", len(args))
	}
	list, ok := asList(args[0])
	if !ok {
		return heap.Nil, fmt.Errorf("append's first argument must be a list.")
	}
	list.Items = append(list.Items, args[1])
	return heap.Nil, nil
}

// nativeDel implements del(list, index): the reference delNative checks
// `argCount != 0` where it plainly meant `!= 2` — a bug documented in
// DESIGN.md. ember's del performs the check the original evidently
// intended: exactly 2 arguments, the second a valid numeric index.
func nativeDel(args []heap.Value) (heap.Value, error) {
	if len(args) != 2 {
		return heap.Nil, fmt.Errorf("del expects 2 arguments, got %d.", len(args))
	}
	list, ok := asList(args[0])
	if !ok {
		return heap.Nil, fmt.Errorf("del's first argument must be a list.")
	}
	if !args[1].IsNumber() {
		return heap.Nil, fmt.Errorf("del's second argument must be a number.")
	}
	index := int(args[1].AsNumber())
	if index < 0 || index > len(list.Items)-1 {
		return heap.Nil, fmt.Errorf("del index is out of range.")
	}
	list.Items = append(list.Items[:index], list.Items[index+1:]...)
	return heap.Nil, nil
}
