package reload

import "github.com/wippyai/wasm-hotswap/image"

// Slot is one dispatch entry. Bindings hold a slot index, never a target,
// so redirecting the slot redirects every binding to it.
type Slot[T any] struct {
	Name       string
	Target     T
	Decl       *image.Function
	Generation uint64
	Tombstoned bool
}

// Table maps qualified names to dispatch slots. Slots are never reused:
// a removed name keeps its tombstoned slot and a re-added name gets a
// new one.
type Table[T any] struct {
	slots []Slot[T]
	names map[string]int
}

// NewTable returns an empty table.
func NewTable[T any]() *Table[T] {
	return &Table[T]{names: make(map[string]int)}
}

// Install allocates a live slot for name and returns its index. An
// existing live slot with the same name is unlinked, not tombstoned.
func (t *Table[T]) Install(name string, decl *image.Function, gen uint64, target T) int {
	t.slots = append(t.slots, Slot[T]{
		Name:       name,
		Target:     target,
		Decl:       decl,
		Generation: gen,
	})
	idx := len(t.slots) - 1
	t.names[name] = idx
	return idx
}

// Lookup returns the live slot index for name.
func (t *Table[T]) Lookup(name string) (int, bool) {
	idx, ok := t.names[name]
	return idx, ok
}

// Slot returns a copy of slot i.
func (t *Table[T]) Slot(i int) (Slot[T], bool) {
	if i < 0 || i >= len(t.slots) {
		return Slot[T]{}, false
	}
	return t.slots[i], true
}

// Len returns the number of slots ever allocated, tombstones included.
func (t *Table[T]) Len() int {
	return len(t.slots)
}

// Live returns the live names in slot order.
func (t *Table[T]) Live() []string {
	out := make([]string, 0, len(t.names))
	for i, s := range t.slots {
		if s.Tombstoned {
			continue
		}
		if idx, ok := t.names[s.Name]; ok && idx == i {
			out = append(out, s.Name)
		}
	}
	return out
}

func (t *Table[T]) redirect(i int, decl *image.Function, gen uint64, target T) {
	s := &t.slots[i]
	s.Target = target
	s.Decl = decl
	s.Generation = gen
}

func (t *Table[T]) tombstone(i int) {
	s := &t.slots[i]
	s.Tombstoned = true
	var zero T
	s.Target = zero
	delete(t.names, s.Name)
}
