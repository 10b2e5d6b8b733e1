package heap

import "github.com/dolthub/swiss"

// MethodTable backs Class.Methods and Instance.Fields. Neither needs the
// "was this key newly inserted" signal that the globals table's SET
// semantics depend on, so an off-the-shelf swiss table (the teacher's own
// hash-map dependency) is a direct fit.
type MethodTable struct {
	m *swiss.Map[string, Value]
}

// NewMethodTable returns an empty table with room for size entries before
// its first resize.
func NewMethodTable(size int) *MethodTable {
	return &MethodTable{m: swiss.NewMap[string, Value](uint32(size))}
}

func (t *MethodTable) Get(name string) (Value, bool) {
	return t.m.Get(name)
}

func (t *MethodTable) Set(name string, v Value) {
	t.m.Put(name, v)
}

func (t *MethodTable) Has(name string) bool {
	_, ok := t.m.Get(name)
	return ok
}

// Each calls fn for every entry, matching tableAddAll's use by INHERIT.
func (t *MethodTable) Each(fn func(name string, v Value)) {
	t.m.Iter(func(k string, v Value) bool {
		fn(k, v)
		return false
	})
}

// AddAll copies every entry of src into t, overwriting existing keys. Used
// by the INHERIT opcode to copy a superclass's methods into a subclass.
func (t *MethodTable) AddAll(src *MethodTable) {
	src.Each(func(name string, v Value) {
		t.Set(name, v)
	})
}

// entry and probeTable implement the exact open-addressed, linear-probed,
// tombstone-bearing hash table from the reference implementation's
// table.c. It backs the globals table and the string intern table, both of
// which rely on contracts swiss.Map does not expose: tableSet's
// newly-inserted-boolean return (load-bearing for detecting "SET of an
// undefined global" — see lang/vm's SET_GLOBAL handling) and
// tableRemoveWhite's tombstone-based weak removal during GC.
type entry struct {
	key   *String // nil means empty-or-tombstone
	value Value   // empty slot: Nil; tombstone: Bool(true)
}

const tableMaxLoad = 0.75

type probeTable struct {
	entries  []entry
	count    int // live entries + tombstones
	capacity int
}

func newProbeTable() *probeTable { return &probeTable{} }

func findEntry(entries []entry, capacity int, key *String) *entry {
	index := key.Hash & uint32(capacity-1)
	var tombstone *entry
	for {
		e := &entries[index]
		if e.key == nil {
			if e.value.IsNil() {
				if tombstone != nil {
					return tombstone
				}
				return e
			}
			if tombstone == nil {
				tombstone = e
			}
		} else if e.key == key {
			return e
		}
		index = (index + 1) & uint32(capacity-1)
	}
}

func (t *probeTable) adjustCapacity(capacity int) {
	entries := make([]entry, capacity)
	for i := range entries {
		entries[i] = entry{key: nil, value: Nil}
	}
	t.count = 0
	for i := 0; i < t.capacity; i++ {
		e := &t.entries[i]
		if e.key == nil {
			continue
		}
		dest := findEntry(entries, capacity, e.key)
		dest.key = e.key
		dest.value = e.value
		t.count++
	}
	t.entries = entries
	t.capacity = capacity
}

// Get looks up key, returning its value and whether it was present.
func (t *probeTable) Get(key *String) (Value, bool) {
	if t.count == 0 {
		return Nil, false
	}
	e := findEntry(t.entries, t.capacity, key)
	if e.key == nil {
		return Nil, false
	}
	return e.value, true
}

// Set installs key=value, growing the table first if needed. It returns
// true iff key was not already present — callers that need the
// newly-inserted signal (SET_GLOBAL) rely on this return value exactly as
// tableSet's callers in the reference VM do.
func (t *probeTable) Set(key *String, value Value) bool {
	if float64(t.count+1) > float64(t.capacity)*tableMaxLoad {
		capacity := growCapacity(t.capacity)
		t.adjustCapacity(capacity)
	}
	e := findEntry(t.entries, t.capacity, key)
	newKey := e.key == nil
	if newKey && e.value.IsNil() {
		t.count++
	}
	e.key = key
	e.value = value
	return newKey
}

// Del removes key, writing a tombstone so later probes still find entries
// that hashed past it.
func (t *probeTable) Del(key *String) bool {
	if t.count == 0 {
		return false
	}
	e := findEntry(t.entries, t.capacity, key)
	if e.key == nil {
		return false
	}
	e.key = nil
	e.value = Bool(true)
	return true
}

// AddAll copies every entry of src into t.
func (t *probeTable) AddAll(src *probeTable) {
	for i := 0; i < src.capacity; i++ {
		e := &src.entries[i]
		if e.key != nil {
			t.Set(e.key, e.value)
		}
	}
}

// FindString looks up an interned string by content, used by the intern
// table to deduplicate string allocation.
func (t *probeTable) FindString(chars string, hash uint32) *String {
	if t.count == 0 {
		return nil
	}
	index := hash & uint32(t.capacity-1)
	for {
		e := &t.entries[index]
		if e.key == nil {
			if e.value.IsNil() {
				return nil
			}
		} else if e.key.Hash == hash && e.key.Value == chars {
			return e.key
		}
		index = (index + 1) & uint32(t.capacity-1)
	}
}

// RemoveWhite deletes every entry whose key object was not marked by the
// last GC trace, mirroring tableRemoveWhite's weak-table pass over the
// string intern table.
func (t *probeTable) RemoveWhite() {
	for i := 0; i < t.capacity; i++ {
		e := &t.entries[i]
		if e.key != nil && !e.key.marked {
			t.Del(e.key)
		}
	}
}

// Mark marks every live key and value, used when the globals table is
// walked as a GC root.
func (t *probeTable) Mark(h *Heap) {
	for i := 0; i < t.capacity; i++ {
		e := &t.entries[i]
		if e.key != nil {
			h.markObj(e.key)
			h.markValue(e.value)
		}
	}
}

func growCapacity(c int) int {
	if c < 8 {
		return 8
	}
	return c * 2
}
