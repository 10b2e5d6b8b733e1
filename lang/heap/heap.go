package heap

// gcGrowFactor matches the reference collector's nextGC = live*2 policy.
const gcGrowFactor = 2

// RootMarker is implemented by anything that owns Values/Objs the collector
// cannot otherwise discover by walking the VM's own stacks — in practice
// the compiler, which registers the in-flight chain of Functions it is
// still building so a GC triggered mid-compile (by string interning, say)
// does not collect them out from under it.
type RootMarker interface {
	MarkRoots(h *Heap)
}

// Heap owns every live object, the globals table, the string intern table,
// and drives the mark-sweep collector. The VM and the compiler both hold a
// *Heap; there is exactly one per running program, mirroring the reference
// implementation's single global vm.
type Heap struct {
	objects Obj // intrusive linked list of every live allocation

	Globals *probeTable
	strings *probeTable

	// InitString is the interned "init" string, compared against by-name to
	// detect initializer methods without a string compare on every call.
	InitString *String

	gray    []Obj
	roots   []RootMarker
	nextGC  int
	allocd  int
	StressGC bool // when true, Collect runs on every allocation, right after the new object is tracked

	// tempRoots holds objects an allocator has just tracked but not yet
	// handed back to a caller that can root them (push onto the VM stack,
	// store into a field). A collection triggered by the allocator's own
	// MaybeCollect call would otherwise see the new object as unreached and
	// sweep it. Mirrors clox's idiom of pushing a fresh value on the VM
	// stack around a table insert that might itself trigger GC.
	tempRoots []Obj
}

// pushRoot temporarily roots o across a collection. Callers must pop it
// once o is reachable some other way (on the stack, in a field, etc).
func (h *Heap) pushRoot(o Obj) { h.tempRoots = append(h.tempRoots, o) }

// popRoot undoes the most recent pushRoot.
func (h *Heap) popRoot() { h.tempRoots = h.tempRoots[:len(h.tempRoots)-1] }

// NewHeap returns an empty Heap ready to intern strings and allocate
// objects.
func NewHeap() *Heap {
	h := &Heap{
		Globals: newProbeTable(),
		strings: newProbeTable(),
		nextGC:  1 << 20,
	}
	h.InitString = h.InternString("init")
	return h
}

// RegisterRoots adds m to the set of external root markers consulted on
// every collection. The compiler calls this once per compilation unit.
func (h *Heap) RegisterRoots(m RootMarker) { h.roots = append(h.roots, m) }

// UnregisterRoots removes m, called once compilation finishes.
func (h *Heap) UnregisterRoots(m RootMarker) {
	for i, r := range h.roots {
		if r == m {
			h.roots = append(h.roots[:i], h.roots[i+1:]...)
			return
		}
	}
}

func (h *Heap) track(o Obj, typ ObjType) {
	hdr := o.header()
	hdr.typ = typ
	hdr.next = h.objects
	h.objects = o
	h.allocd++
}

// MaybeCollect runs a collection if allocation pressure (or StressGC)
// warrants it. Callers invoke it after each allocation, mirroring
// reallocate's check in the reference implementation.
func (h *Heap) MaybeCollect() {
	if h.StressGC || h.allocd > h.nextGC {
		h.Collect()
	}
}

// Collect runs one full mark-sweep cycle: mark roots, trace the gray
// worklist to black, remove unmarked keys from the string intern table
// (a weak table), then sweep unmarked objects.
func (h *Heap) Collect() {
	for _, r := range h.roots {
		r.MarkRoots(h)
	}
	for _, o := range h.tempRoots {
		h.markObj(o)
	}
	h.markObj(h.InitString)
	h.Globals.Mark(h)
	h.traceRefs()
	h.strings.RemoveWhite()
	h.sweep()
	h.nextGC = h.allocd * gcGrowFactor
}

// MarkExternal marks o as reachable. Exported so RootMarker implementations
// outside this package (the compiler's in-flight Function chain) can
// register roots the collector has no other way to discover.
func (h *Heap) MarkExternal(o Obj) { h.markObj(o) }

func (h *Heap) markValue(v Value) {
	if v.kind == KindObj {
		h.markObj(v.obj)
	}
}

func (h *Heap) markObj(o Obj) {
	if o == nil {
		return
	}
	hdr := o.header()
	if hdr.marked {
		return
	}
	hdr.marked = true
	h.gray = append(h.gray, o)
}

func (h *Heap) traceRefs() {
	for len(h.gray) > 0 {
		o := h.gray[len(h.gray)-1]
		h.gray = h.gray[:len(h.gray)-1]
		h.blacken(o)
	}
}

func (h *Heap) blacken(o Obj) {
	switch v := o.(type) {
	case *List:
		for _, item := range v.Items {
			h.markValue(item)
		}
	case *BoundMethod:
		h.markValue(v.Receiver)
		h.markObj(v.Method)
	case *Class:
		h.markObj(v.Name)
		v.Methods.Each(func(_ string, val Value) { h.markValue(val) })
	case *Closure:
		h.markObj(v.Fn)
		for _, uv := range v.Upvals {
			h.markObj(uv)
		}
	case *Function:
		h.markObj(v.Name)
		for _, c := range v.Chunk.Constants {
			h.markValue(c)
		}
	case *Instance:
		h.markObj(v.Class)
		v.Fields.Each(func(_ string, val Value) { h.markValue(val) })
	case *Upvalue:
		h.markValue(v.Closed)
	case *Native, *String:
		// no references
	}
}

func (h *Heap) sweep() {
	var prev Obj
	obj := h.objects
	for obj != nil {
		hdr := obj.header()
		if hdr.marked {
			hdr.marked = false
			prev = obj
			obj = hdr.next
			continue
		}
		unreached := obj
		obj = hdr.next
		if prev != nil {
			prev.header().next = obj
		} else {
			h.objects = obj
		}
		h.allocd--
		_ = unreached // Go's GC reclaims it; nothing else to free explicitly
	}
}

// hashString implements the reference implementation's FNV-1a variant.
func hashString(s string) uint32 {
	var hash uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		hash ^= uint32(s[i])
		hash *= 16777619
	}
	return hash
}

// InternString returns the canonical *String for s, allocating and
// interning a new one if this is the first time s has been seen.
func (h *Heap) InternString(s string) *String {
	hash := hashString(s)
	if existing := h.strings.FindString(s, hash); existing != nil {
		return existing
	}
	str := &String{Value: s, Hash: hash}
	h.track(str, ObjString)
	h.pushRoot(str)
	h.strings.Set(str, Nil)
	h.MaybeCollect()
	h.popRoot()
	return str
}

func (h *Heap) NewFunction(name *String) *Function {
	f := &Function{Name: name}
	h.track(f, ObjFunction)
	h.MaybeCollect()
	return f
}

func (h *Heap) NewNative(name string, fn NativeFn) *Native {
	n := &Native{Name: name, Fn: fn}
	h.track(n, ObjNative)
	h.MaybeCollect()
	return n
}

func (h *Heap) NewClosure(fn *Function) *Closure {
	c := &Closure{Fn: fn, Upvals: make([]*Upvalue, fn.UpvalCount)}
	h.track(c, ObjClosure)
	h.MaybeCollect()
	return c
}

func (h *Heap) NewUpvalue(slot *Value, idx int) *Upvalue {
	u := &Upvalue{Location: slot, Idx: idx}
	h.track(u, ObjUpvalue)
	h.MaybeCollect()
	return u
}

func (h *Heap) NewClass(name *String) *Class {
	c := &Class{Name: name, Methods: NewMethodTable(8)}
	h.track(c, ObjClass)
	h.MaybeCollect()
	return c
}

func (h *Heap) NewInstance(class *Class) *Instance {
	i := &Instance{Class: class, Fields: NewMethodTable(8)}
	h.track(i, ObjInstance)
	h.MaybeCollect()
	return i
}

func (h *Heap) NewBoundMethod(receiver Value, method *Closure) *BoundMethod {
	b := &BoundMethod{Receiver: receiver, Method: method}
	h.track(b, ObjBoundMethod)
	h.MaybeCollect()
	return b
}

func (h *Heap) NewList(items []Value) *List {
	l := &List{Items: items}
	h.track(l, ObjList)
	h.pushRoot(l)
	h.MaybeCollect()
	h.popRoot()
	return l
}
