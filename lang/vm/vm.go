// Package vm implements ember's bytecode interpreter: the dispatch loop,
// call convention, upvalue capture/close, and the native-function ABI.
package vm

import (
	"bufio"
	"fmt"
	"math"
	"strings"

	"github.com/mna/ember/lang/heap"
)

// StackMax is the number of Value slots on the operand stack.
const StackMax = 16384

// FramesMax is the number of nested call frames allowed before a "Stack
// overflow." runtime error.
const FramesMax = 64

// CallFrame records one call to a Closure: its instruction pointer and the
// base of its locals within the VM's shared value stack.
type CallFrame struct {
	closure   *heap.Closure
	ip        int
	slotsBase int
}

func (fr *CallFrame) readByte() byte {
	b := fr.closure.Fn.Chunk.Code[fr.ip]
	fr.ip++
	return b
}

func (fr *CallFrame) readShort() int {
	hi := fr.readByte()
	lo := fr.readByte()
	return int(hi)<<8 | int(lo)
}

func (fr *CallFrame) readConst() heap.Value {
	return fr.closure.Fn.Chunk.Constants[fr.readByte()]
}

func (fr *CallFrame) readString() *heap.String {
	return fr.readConst().AsObj().(*heap.String)
}

// VM executes compiled ember Closures against a shared Heap. One VM
// persists across REPL lines so globals survive between them.
type VM struct {
	heap *heap.Heap
	th   *Thread

	stack [StackMax]heap.Value
	sp    int

	frames     [FramesMax]CallFrame
	frameCount int

	// openIdx/openUpvals track open upvalues as a list sorted by descending
	// stack slot index, mirroring the reference VM's openUpvals intrusive
	// list, kept here as parallel slices since Go pointers carry no
	// ordering relation to compare against a "last" slot.
	openIdx    []int
	openUpvals []*heap.Upvalue

	steps    uint64
	maxSteps uint64 // 0 means unlimited

	stdin *bufio.Reader // lazily wraps th.in(), shared by readStr/readNum
}

// New returns a VM ready to run Closures against h, with natives registered
// into h.Globals. th controls native I/O; a nil th uses os.Stdin/Stdout/Stderr.
func New(h *heap.Heap, th *Thread) *VM {
	vm := &VM{heap: h, th: th}
	if th != nil && th.MaxSteps > 0 {
		vm.maxSteps = uint64(th.MaxSteps)
	}
	h.RegisterRoots(vm)
	registerNatives(vm)
	return vm
}

// MarkRoots implements heap.RootMarker: everything reachable only through
// the VM's own stack, call frames and open upvalues must survive a
// collection triggered mid-execution.
func (vm *VM) MarkRoots(h *heap.Heap) {
	for i := 0; i < vm.sp; i++ {
		if v := vm.stack[i]; v.IsObj() {
			h.MarkExternal(v.AsObj())
		}
	}
	for i := 0; i < vm.frameCount; i++ {
		h.MarkExternal(vm.frames[i].closure)
	}
	for _, uv := range vm.openUpvals {
		h.MarkExternal(uv)
	}
}

func (vm *VM) push(v heap.Value) {
	vm.stack[vm.sp] = v
	vm.sp++
}

func (vm *VM) pop() heap.Value {
	vm.sp--
	return vm.stack[vm.sp]
}

func (vm *VM) peek(distance int) heap.Value {
	return vm.stack[vm.sp-1-distance]
}

func (vm *VM) resetStack() {
	vm.sp = 0
	vm.frameCount = 0
	vm.openIdx = nil
	vm.openUpvals = nil
}

// Run compiles nothing itself — it executes an already-compiled top-level
// Function (the compiler's output), mirroring the reference interpret()'s
// wrap-in-a-closure-and-call sequence.
func (vm *VM) Run(fn *heap.Function) error {
	vm.steps = 0
	closure := vm.heap.NewClosure(fn)
	vm.push(heap.FromObj(closure))
	if err := vm.call(closure, 0); err != nil {
		return err
	}
	return vm.run()
}

// runtimeErr formats msg, writes it with a backtrace (innermost frame
// first) to the thread's stderr, resets the VM to a clean state, and
// returns an error carrying just the message for the caller.
func (vm *VM) runtimeErr(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	var sb strings.Builder
	sb.WriteString(msg)
	sb.WriteByte('\n')
	for i := vm.frameCount - 1; i >= 0; i-- {
		fr := &vm.frames[i]
		line := fr.closure.Fn.Chunk.LineAt(fr.ip - 1)
		sb.WriteByte('\n')
		if fr.closure.Fn.Name == nil {
			fmt.Fprintf(&sb, "[Line %d] in <module>\n", line)
		} else {
			fmt.Fprintf(&sb, "[Line %d] in function '%s'\n", line, fr.closure.Fn.Name.Value)
		}
	}
	fmt.Fprint(vm.th.errOut(), sb.String())
	vm.resetStack()
	return fmt.Errorf("%s", msg)
}

// stdinReader returns a buffered reader over vm's input, created once and reused
// across calls so readStr and readNum consume the stream in sequence
// instead of each wrapping a fresh bufio.Reader and losing whatever the
// previous one had already buffered past its token.
func (vm *VM) stdinReader() *bufio.Reader {
	if vm.stdin == nil {
		vm.stdin = bufio.NewReader(vm.th.in())
	}
	return vm.stdin
}

// call pushes a new frame for closure, enforcing its arity and the frame
// stack limit, exactly as the reference VM's call() does — including its
// singular/plural wording split on arity == 1.
func (vm *VM) call(closure *heap.Closure, argCount int) error {
	arity := closure.Fn.Arity
	name := "<script>"
	if closure.Fn.Name != nil {
		name = closure.Fn.Name.Value
	}
	if argCount != arity && arity == 1 {
		return vm.runtimeErr("Function '%s' expected %d argument but got %d instead.", name, arity, argCount)
	} else if argCount != arity {
		return vm.runtimeErr("Function '%s' expected %d arguments but got %d instead.", name, arity, argCount)
	}
	if vm.frameCount == FramesMax {
		return vm.runtimeErr("Stack overflow.")
	}
	fr := &vm.frames[vm.frameCount]
	fr.closure = closure
	fr.ip = 0
	fr.slotsBase = vm.sp - argCount - 1
	vm.frameCount++
	return nil
}

// callVal dispatches a CALL or fused INVOKE on callee, matching the
// reference VM's callValue: bound methods rewrite their receiver into
// slot 0, classes allocate an Instance and dispatch to `init` if present,
// closures call directly, and natives call through and rewrite the stack.
func (vm *VM) callVal(callee heap.Value, argCount int) error {
	if callee.IsObj() {
		switch c := callee.AsObj().(type) {
		case *heap.BoundMethod:
			vm.stack[vm.sp-argCount-1] = c.Receiver
			return vm.call(c.Method, argCount)
		case *heap.Class:
			vm.stack[vm.sp-argCount-1] = heap.FromObj(vm.heap.NewInstance(c))
			if init, ok := c.Methods.Get(vm.heap.InitString.Value); ok {
				return vm.call(init.AsObj().(*heap.Closure), argCount)
			} else if argCount != 0 {
				return vm.runtimeErr("Class '%s' expected 0 arguments but got %d instead.", c.Name.Value, argCount)
			}
			return nil
		case *heap.Closure:
			return vm.call(c, argCount)
		case *heap.Native:
			args := make([]heap.Value, argCount)
			copy(args, vm.stack[vm.sp-argCount:vm.sp])
			result, err := c.Fn(args)
			if err != nil {
				return vm.runtimeErr("%s", err.Error())
			}
			vm.sp -= argCount + 1
			vm.push(result)
			return nil
		}
	}
	return vm.runtimeErr("Only functions and classes are callable.")
}

func (vm *VM) invokeFromClass(class *heap.Class, name string, argCount int) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeErr("Property '%s' is undefined.", name)
	}
	return vm.call(method.AsObj().(*heap.Closure), argCount)
}

func (vm *VM) invoke(name string, argCount int) error {
	receiver := vm.peek(argCount)
	inst, ok := asInstance(receiver)
	if !ok {
		return vm.runtimeErr("Only instances can have methods.")
	}
	if value, ok := inst.Fields.Get(name); ok {
		vm.stack[vm.sp-argCount-1] = value
		return vm.callVal(value, argCount)
	}
	return vm.invokeFromClass(inst.Class, name, argCount)
}

func (vm *VM) bindMethod(class *heap.Class, name string) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeErr("Property '%s' is undefined.", name)
	}
	bound := vm.heap.NewBoundMethod(vm.peek(0), method.AsObj().(*heap.Closure))
	vm.pop()
	vm.push(heap.FromObj(bound))
	return nil
}

func asInstance(v heap.Value) (*heap.Instance, bool) {
	if !v.IsObj() {
		return nil, false
	}
	inst, ok := v.AsObj().(*heap.Instance)
	return inst, ok
}

func asString(v heap.Value) (*heap.String, bool) {
	if !v.IsObj() {
		return nil, false
	}
	s, ok := v.AsObj().(*heap.String)
	return s, ok
}

func asList(v heap.Value) (*heap.List, bool) {
	if !v.IsObj() {
		return nil, false
	}
	l, ok := v.AsObj().(*heap.List)
	return l, ok
}

// captureUpvalue returns the open Upvalue for stack slot idx, creating and
// inserting it (keeping openIdx/openUpvals sorted descending by idx) if
// none exists yet — ember's captureUpval.
func (vm *VM) captureUpvalue(idx int) *heap.Upvalue {
	i := 0
	for i < len(vm.openIdx) && vm.openIdx[i] > idx {
		i++
	}
	if i < len(vm.openIdx) && vm.openIdx[i] == idx {
		return vm.openUpvals[i]
	}
	uv := vm.heap.NewUpvalue(&vm.stack[idx], idx)
	vm.openIdx = append(vm.openIdx, 0)
	vm.openUpvals = append(vm.openUpvals, nil)
	copy(vm.openIdx[i+1:], vm.openIdx[i:])
	copy(vm.openUpvals[i+1:], vm.openUpvals[i:])
	vm.openIdx[i] = idx
	vm.openUpvals[i] = uv
	return uv
}

// closeUpvalues closes every open upvalue at or above stack slot fromIdx,
// copying the stack value into the upvalue itself so it survives the
// frame's locals being discarded.
func (vm *VM) closeUpvalues(fromIdx int) {
	i := 0
	for i < len(vm.openIdx) && vm.openIdx[i] >= fromIdx {
		uv := vm.openUpvals[i]
		uv.Closed = vm.stack[uv.Idx]
		uv.Location = &uv.Closed
		i++
	}
	vm.openIdx = vm.openIdx[i:]
	vm.openUpvals = vm.openUpvals[i:]
}

func (vm *VM) defMethod(name string) {
	method := vm.peek(0)
	class := vm.peek(1).AsObj().(*heap.Class)
	class.Methods.Set(name, method)
	vm.pop()
}

// concatOperand returns the string ember's `+` would coerce v to for
// concatenation: bool/number/nil render the same as String(), a *String
// passes through its raw content; every other object type is not a valid
// concatenation operand (the reference toStr's fallthrough).
func concatOperand(v heap.Value) (string, bool) {
	switch v.Kind() {
	case heap.KindBool, heap.KindNumber, heap.KindNil:
		return v.String(), true
	case heap.KindObj:
		if s, ok := asString(v); ok {
			return s.Value, true
		}
	}
	return "", false
}

func (vm *VM) run() error {
	for {
		if vm.maxSteps > 0 {
			vm.steps++
			if vm.steps > vm.maxSteps {
				return vm.runtimeErr("Execution step limit exceeded.")
			}
		}
		fr := &vm.frames[vm.frameCount-1]
		op := heap.Opcode(fr.readByte())
		switch op {
		case heap.OpConst:
			vm.push(fr.readConst())
		case heap.OpNil:
			vm.push(heap.Nil)
		case heap.OpTrue:
			vm.push(heap.Bool(true))
		case heap.OpFalse:
			vm.push(heap.Bool(false))
		case heap.OpDup:
			vm.push(vm.peek(0))
		case heap.OpPop:
			vm.pop()

		case heap.OpGetLocal:
			slot := int(fr.readByte())
			vm.push(vm.stack[fr.slotsBase+slot])
		case heap.OpSetLocal:
			slot := int(fr.readByte())
			vm.stack[fr.slotsBase+slot] = vm.peek(0)

		case heap.OpGetGlobal:
			name := fr.readString()
			value, ok := vm.heap.Globals.Get(name)
			if !ok {
				return vm.runtimeErr("Variable '%s' is undefined.", name.Value)
			}
			vm.push(value)
		case heap.OpDefGlobal:
			name := fr.readString()
			vm.heap.Globals.Set(name, vm.peek(0))
			vm.pop()
		case heap.OpSetGlobal:
			name := fr.readString()
			if vm.heap.Globals.Set(name, vm.peek(0)) {
				vm.heap.Globals.Del(name)
				return vm.runtimeErr("'%s' is undefined.", name.Value)
			}

		case heap.OpGetUpval:
			slot := int(fr.readByte())
			vm.push(*fr.closure.Upvals[slot].Location)
		case heap.OpSetUpval:
			slot := int(fr.readByte())
			*fr.closure.Upvals[slot].Location = vm.peek(0)

		case heap.OpGetProp:
			inst, ok := asInstance(vm.peek(0))
			if !ok {
				return vm.runtimeErr("Only instances can have properties.")
			}
			name := fr.readString()
			if value, ok := inst.Fields.Get(name.Value); ok {
				vm.pop()
				vm.push(value)
				break
			}
			if err := vm.bindMethod(inst.Class, name.Value); err != nil {
				return err
			}
		case heap.OpSetProp:
			inst, ok := asInstance(vm.peek(1))
			if !ok {
				return vm.runtimeErr("Only instances can have fields.")
			}
			name := fr.readString()
			inst.Fields.Set(name.Value, vm.peek(0))
			value := vm.pop()
			vm.pop()
			vm.push(value)
		case heap.OpGetSuper:
			name := fr.readString()
			super := vm.pop().AsObj().(*heap.Class)
			if err := vm.bindMethod(super, name.Value); err != nil {
				return err
			}

		case heap.OpBuildList:
			n := int(fr.readByte())
			items := make([]heap.Value, n)
			copy(items, vm.stack[vm.sp-n:vm.sp])
			vm.sp -= n
			vm.push(heap.FromObj(vm.heap.NewList(items)))
		case heap.OpIndexSub:
			index := vm.pop()
			lst := vm.pop()
			olist, ok := asList(lst)
			if !ok {
				return vm.runtimeErr("Invalid type to index.")
			}
			if !index.IsNumber() {
				return vm.runtimeErr("List index must be a number.")
			}
			i := int(index.AsNumber())
			if i < 0 || i > len(olist.Items)-1 {
				return vm.runtimeErr("List index is out of range.")
			}
			vm.push(olist.Items[i])
		case heap.OpStoreSub:
			item := vm.pop()
			index := vm.pop()
			lst := vm.pop()
			olist, ok := asList(lst)
			if !ok {
				return vm.runtimeErr("Cannot store value in something other than a list.")
			}
			if !index.IsNumber() {
				return vm.runtimeErr("List index must be a number.")
			}
			i := int(index.AsNumber())
			if i < 0 || i > len(olist.Items)-1 {
				return vm.runtimeErr("Invalid list index.")
			}
			olist.Items[i] = item
			vm.push(item)

		case heap.OpEqu:
			b, a := vm.pop(), vm.pop()
			vm.push(heap.Bool(a.Equal(b)))
		case heap.OpNotEqu:
			b, a := vm.pop(), vm.pop()
			vm.push(heap.Bool(!a.Equal(b)))
		case heap.OpGt, heap.OpLt, heap.OpGtEqu, heap.OpLtEqu:
			b, a := vm.peek(0), vm.peek(1)
			if !a.IsNumber() || !b.IsNumber() {
				return vm.runtimeErr("Operands must be numbers.")
			}
			vm.pop()
			vm.pop()
			an, bn := a.AsNumber(), b.AsNumber()
			var result bool
			switch op {
			case heap.OpGt:
				result = an > bn
			case heap.OpLt:
				result = an < bn
			case heap.OpGtEqu:
				result = an >= bn
			case heap.OpLtEqu:
				result = an <= bn
			}
			vm.push(heap.Bool(result))

		case heap.OpAdd:
			b, a := vm.peek(0), vm.peek(1)
			_, bStr := asString(b)
			_, aStr := asString(a)
			switch {
			case bStr || aStr:
				bs, ok1 := concatOperand(b)
				as, ok2 := concatOperand(a)
				if !ok1 || !ok2 {
					return vm.runtimeErr("Invalid concatenation type.")
				}
				// a and b stay on the stack (and thus rooted) until the
				// interned result exists, mirroring clox's concatenate,
				// which pops its operands only after takeString returns.
				result := vm.heap.InternString(as + bs)
				vm.pop()
				vm.pop()
				vm.push(heap.FromObj(result))
			case a.IsNumber() && b.IsNumber():
				vm.pop()
				vm.pop()
				vm.push(heap.Number(a.AsNumber() + b.AsNumber()))
			default:
				return vm.runtimeErr("Invalid types for operator.")
			}
		case heap.OpSub:
			if err := vm.binaryNumOp(func(a, b float64) float64 { return a - b }); err != nil {
				return err
			}
		case heap.OpMul:
			if err := vm.binaryNumOp(func(a, b float64) float64 { return a * b }); err != nil {
				return err
			}
		case heap.OpPow:
			if err := vm.binaryNumOp(math.Pow); err != nil {
				return err
			}
		case heap.OpDiv:
			b, a := vm.peek(0), vm.peek(1)
			if !a.IsNumber() || !b.IsNumber() {
				return vm.runtimeErr("Operands must be numbers.")
			}
			if b.AsNumber() == 0 {
				return vm.runtimeErr("Division by zero.")
			}
			vm.pop()
			vm.pop()
			vm.push(heap.Number(a.AsNumber() / b.AsNumber()))
		case heap.OpMod:
			b, a := vm.peek(0), vm.peek(1)
			if !a.IsNumber() || !b.IsNumber() {
				return vm.runtimeErr("Operands must be numbers.")
			}
			if int(b.AsNumber()) == 0 {
				return vm.runtimeErr("Division by zero.")
			}
			vm.pop()
			vm.pop()
			vm.push(heap.Number(float64(int(a.AsNumber()) % int(b.AsNumber()))))

		case heap.OpNot:
			vm.push(heap.Bool(!vm.pop().Truthy()))
		case heap.OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeErr("Operand must be a number.")
			}
			vm.push(heap.Number(-vm.pop().AsNumber()))

		case heap.OpJmp:
			offset := fr.readShort()
			fr.ip += offset
		case heap.OpJmpFalse:
			offset := fr.readShort()
			if !vm.peek(0).Truthy() {
				fr.ip += offset
			}
		case heap.OpLoop:
			offset := fr.readShort()
			fr.ip -= offset

		case heap.OpCall:
			argCount := int(fr.readByte())
			if err := vm.callVal(vm.peek(argCount), argCount); err != nil {
				return err
			}
		case heap.OpInvoke:
			name := fr.readString()
			argCount := int(fr.readByte())
			if err := vm.invoke(name.Value, argCount); err != nil {
				return err
			}
		case heap.OpInvokeSuper:
			name := fr.readString()
			argCount := int(fr.readByte())
			super := vm.pop().AsObj().(*heap.Class)
			if err := vm.invokeFromClass(super, name.Value, argCount); err != nil {
				return err
			}

		case heap.OpClosure:
			fn := fr.readConst().AsObj().(*heap.Function)
			closure := vm.heap.NewClosure(fn)
			vm.push(heap.FromObj(closure))
			for i := 0; i < fn.UpvalCount; i++ {
				isLocal := fr.readByte()
				index := int(fr.readByte())
				if isLocal != 0 {
					closure.Upvals[i] = vm.captureUpvalue(fr.slotsBase + index)
				} else {
					closure.Upvals[i] = fr.closure.Upvals[index]
				}
			}
		case heap.OpCloseUpval:
			vm.closeUpvalues(vm.sp - 1)
			vm.pop()
		case heap.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(fr.slotsBase)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.sp = fr.slotsBase
			vm.push(result)

		case heap.OpClass:
			vm.push(heap.FromObj(vm.heap.NewClass(fr.readString())))
		case heap.OpInherit:
			super := vm.peek(1)
			superClass, ok := super.AsObj().(*heap.Class)
			if !super.IsObj() || !ok {
				return vm.runtimeErr("Superclass must be a class.")
			}
			sub := vm.peek(0).AsObj().(*heap.Class)
			sub.Methods.AddAll(superClass.Methods)
			vm.pop()
		case heap.OpMethod:
			vm.defMethod(fr.readString().Value)

		default:
			return vm.runtimeErr("Unknown opcode %s.", op)
		}
	}
}

func (vm *VM) binaryNumOp(op func(a, b float64) float64) error {
	b, a := vm.peek(0), vm.peek(1)
	if !a.IsNumber() || !b.IsNumber() {
		return vm.runtimeErr("Operands must be numbers.")
	}
	vm.pop()
	vm.pop()
	vm.push(heap.Number(op(a.AsNumber(), b.AsNumber())))
	return nil
}
