package resources

import (
	"errors"
	"fmt"

	"github.com/spaghettifunk/anima/engine/containers"
)

var (
	ErrTableFull   = errors.New("resource table is full")
	ErrStaleHandle = errors.New("stale resource handle")
)

// DestroyDelay is the number of frames a released entry waits in the
// destroy queue. The GPU may still read a resource from any frame that is
// in flight when its last handle is dropped.
func DestroyDelay(framesInFlight int) int {
	return framesInFlight
}

// Ref is a weak reference to a table entry. It does not keep the entry
// alive and is checked against the slot generation on every lookup.
type Ref struct {
	Index      uint32
	Generation uint32
}

// IsValid reports whether r was ever produced by a table. Generations start
// at one, so the zero Ref is never valid.
func (r Ref) IsValid() bool {
	return r.Generation != 0
}

func (r Ref) String() string {
	return fmt.Sprintf("%d@%d", r.Index, r.Generation)
}

type slot[T any] struct {
	entry      T
	generation uint32
	refs       int32
	live       bool
	queued     bool
}

type pendingDestroy struct {
	index  uint32
	frames int
}

// Table is an arena of GPU objects addressed by stable indices. Entries are
// reference counted through Handle and destroyed a fixed number of frames
// after their last handle is released.
type Table[T any] struct {
	name     string
	slots    []*slot[T]
	free     containers.Stack[uint32]
	destroy  *containers.RingQueue[pendingDestroy]
	capacity uint32
	delay    int
	live     int
}

// NewTable creates a table that holds at most capacity entries. Zero means
// unbounded.
func NewTable[T any](name string, capacity uint32, delay int) *Table[T] {
	return &Table[T]{
		name:     name,
		destroy:  containers.NewGrowableRingQueue[pendingDestroy](16),
		capacity: capacity,
		delay:    delay,
	}
}

func (t *Table[T]) Name() string {
	return t.name
}

// Insert allocates a default initialised entry and returns its index. A
// freed slot is reused before the table grows.
func (t *Table[T]) Insert() (uint32, error) {
	if index, ok := t.free.Pop(); ok {
		s := t.slots[index]
		var zero T
		s.entry = zero
		s.live = true
		s.refs = 0
		t.live++
		return index, nil
	}
	if t.capacity > 0 && uint32(len(t.slots)) >= t.capacity {
		return 0, fmt.Errorf("%w: %s holds %d entries", ErrTableFull, t.name, t.capacity)
	}
	index := uint32(len(t.slots))
	t.slots = append(t.slots, &slot[T]{generation: 1, live: true})
	t.live++
	return index, nil
}

// Resource returns the entry stored at index. It panics only when index is
// beyond the allocated range.
func (t *Table[T]) Resource(index uint32) *T {
	if index >= uint32(len(t.slots)) {
		panic(fmt.Sprintf("%s: index %d out of range [0, %d)", t.name, index, len(t.slots)))
	}
	return &t.slots[index].entry
}

// Handle returns a new owning handle to the live entry at index.
func (t *Table[T]) Handle(index uint32) Handle[T] {
	s := t.slot(index)
	if !s.live {
		panic(fmt.Errorf("%w: %s index %d is not live", ErrStaleHandle, t.name, index))
	}
	t.revive(index, s)
	s.refs++
	return Handle[T]{table: t, index: index, generation: s.generation}
}

// Lookup resolves a weak reference. It is the non panicking counterpart of
// Handle.Get.
func (t *Table[T]) Lookup(ref Ref) (*T, error) {
	if ref.Index >= uint32(len(t.slots)) {
		return nil, fmt.Errorf("%w: %s index %d out of range", ErrStaleHandle, t.name, ref.Index)
	}
	s := t.slots[ref.Index]
	if !s.live || s.generation != ref.Generation {
		return nil, fmt.Errorf("%w: %s %s, slot is at generation %d", ErrStaleHandle, t.name, ref, s.generation)
	}
	return &s.entry, nil
}

// Refs returns the reference count of the entry at index.
func (t *Table[T]) Refs(index uint32) int32 {
	return t.slot(index).refs
}

// Len returns the number of live entries, including the ones waiting in
// the destroy queue.
func (t *Table[T]) Len() int {
	return t.live
}

// Pending returns the number of entries waiting to be destroyed.
func (t *Table[T]) Pending() int {
	return t.destroy.Len()
}

// ClearDestroyQueue ages every queued entry by one frame and destroys the
// ones whose delay ran out. It is called once per frame.
func (t *Table[T]) ClearDestroyQueue(destructor func(index uint32, entry *T)) {
	n := t.destroy.Len()
	for i := 0; i < n; i++ {
		p, err := t.destroy.Dequeue()
		if err != nil {
			return
		}
		p.frames--
		if p.frames > 0 {
			_ = t.destroy.Enqueue(p)
			continue
		}
		t.reclaim(p.index, destructor)
	}
}

// DestroyAll destroys every live entry immediately, whether or not handles
// to it remain. Only used on shutdown after the device went idle.
func (t *Table[T]) DestroyAll(destructor func(index uint32, entry *T)) {
	for !t.destroy.IsEmpty() {
		_, _ = t.destroy.Dequeue()
	}
	for i, s := range t.slots {
		if s.live {
			t.reclaim(uint32(i), destructor)
		}
	}
}

// Discard frees a slot that never handed out a handle, skipping the destroy
// queue. Used to roll back a failed creation.
func (t *Table[T]) Discard(index uint32) {
	s := t.slot(index)
	if !s.live || s.refs != 0 {
		panic(fmt.Sprintf("%s: discard of index %d with %d references", t.name, index, s.refs))
	}
	t.reclaim(index, nil)
}

func (t *Table[T]) reclaim(index uint32, destructor func(index uint32, entry *T)) {
	s := t.slots[index]
	if destructor != nil {
		destructor(index, &s.entry)
	}
	var zero T
	s.entry = zero
	s.live = false
	s.queued = false
	s.refs = 0
	s.generation++
	t.live--
	t.free.Push(index)
}

func (t *Table[T]) slot(index uint32) *slot[T] {
	if index >= uint32(len(t.slots)) {
		panic(fmt.Sprintf("%s: index %d out of range [0, %d)", t.name, index, len(t.slots)))
	}
	return t.slots[index]
}

func (t *Table[T]) release(index, generation uint32) {
	s := t.slot(index)
	if !s.live || s.generation != generation {
		panic(fmt.Errorf("%w: release of %s %d@%d, slot is at generation %d", ErrStaleHandle, t.name, index, generation, s.generation))
	}
	if s.refs <= 0 {
		panic(fmt.Sprintf("%s: release of index %d with no references", t.name, index))
	}
	s.refs--
	if s.refs == 0 && !s.queued {
		s.queued = true
		_ = t.destroy.Enqueue(pendingDestroy{index: index, frames: t.delay})
	}
}

// Handle is an owning, reference counted reference to a table entry. Copying
// the struct does not add a reference: use Clone to share ownership and
// Release to drop it. The zero Handle is empty.
type Handle[T any] struct {
	table      *Table[T]
	index      uint32
	generation uint32
}

func (h Handle[T]) IsValid() bool {
	return h.table != nil
}

func (h Handle[T]) Index() uint32 {
	return h.index
}

func (h Handle[T]) Ref() Ref {
	if h.table == nil {
		return Ref{}
	}
	return Ref{Index: h.index, Generation: h.generation}
}

// Get returns the entry. It panics with ErrStaleHandle when the slot was
// recycled after this handle was created.
func (h Handle[T]) Get() *T {
	if h.table == nil {
		panic(fmt.Errorf("%w: empty handle", ErrStaleHandle))
	}
	e, err := h.table.Lookup(h.Ref())
	if err != nil {
		panic(err)
	}
	return e
}

// Clone adds a reference and returns the new owner.
func (h Handle[T]) Clone() Handle[T] {
	if h.table == nil {
		return h
	}
	s := h.table.slot(h.index)
	if !s.live || s.generation != h.generation {
		panic(fmt.Errorf("%w: clone of %s %d@%d", ErrStaleHandle, h.table.name, h.index, h.generation))
	}
	h.table.revive(h.index, s)
	s.refs++
	return h
}

// Release drops the reference held by h and empties it. Releasing an empty
// handle does nothing.
func (h *Handle[T]) Release() {
	if h.table == nil {
		return
	}
	h.table.release(h.index, h.generation)
	*h = Handle[T]{}
}

// revive takes an entry whose last handle was released back out of the
// destroy queue.
func (t *Table[T]) revive(index uint32, s *slot[T]) {
	if s.queued {
		s.queued = false
		t.unqueue(index)
	}
}

func (t *Table[T]) unqueue(index uint32) {
	n := t.destroy.Len()
	for i := 0; i < n; i++ {
		p, err := t.destroy.Dequeue()
		if err != nil {
			return
		}
		if p.index != index {
			_ = t.destroy.Enqueue(p)
		}
	}
}
