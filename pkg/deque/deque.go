// Package deque provides a double-ended queue addressed both by 0-based
// logical index and by a stable slot identifier assigned at insertion.
//
// The queue is an arena: a growable indexed store plus front/back
// cursors. Interior removals tombstone the slot to the zero value
// instead of compacting, so every other element keeps its slot id and
// logical position. The protocol drains actionable entries regularly,
// which bounds the arena.
package deque

import "errors"

var (
	// ErrEmpty is returned when reading from an empty queue.
	ErrEmpty = errors.New("deque: empty")
	// ErrOutOfBounds is returned for a logical index >= Len.
	ErrOutOfBounds = errors.New("deque: index out of bounds")
	// ErrNotFound is returned for a slot id outside the live range.
	ErrNotFound = errors.New("deque: no such slot")
)

// startCursor leaves room to grow in both directions.
const startCursor = uint64(1) << 63

// Deque is a double-ended queue with stable slot addressing.
type Deque[T any] struct {
	items map[uint64]T
	front uint64 // slot id of the first element when non-empty
	back  uint64 // slot id of the last element; front-1 when empty
}

// New creates an empty deque.
func New[T any]() *Deque[T] {
	return &Deque[T]{
		items: make(map[uint64]T),
		front: startCursor,
		back:  startCursor - 1,
	}
}

// Len returns the number of slots between front and back, tombstones
// included.
func (d *Deque[T]) Len() int {
	return int(d.back - d.front + 1)
}

// IsEmpty reports whether the queue holds no slots.
func (d *Deque[T]) IsEmpty() bool {
	return d.back+1 == d.front
}

// PushFront inserts v before the current front and returns its slot id.
func (d *Deque[T]) PushFront(v T) uint64 {
	d.front--
	d.items[d.front] = v
	return d.front
}

// PushBack inserts v after the current back and returns its slot id.
func (d *Deque[T]) PushBack(v T) uint64 {
	d.back++
	d.items[d.back] = v
	return d.back
}

// Front returns the first element without removing it.
func (d *Deque[T]) Front() (T, error) {
	var zero T
	if d.IsEmpty() {
		return zero, ErrEmpty
	}
	return d.items[d.front], nil
}

// Back returns the last element without removing it.
func (d *Deque[T]) Back() (T, error) {
	var zero T
	if d.IsEmpty() {
		return zero, ErrEmpty
	}
	return d.items[d.back], nil
}

// At returns the element at logical index i from the front. Tombstoned
// slots read as the zero value.
func (d *Deque[T]) At(i int) (T, error) {
	var zero T
	if i < 0 || i >= d.Len() {
		return zero, ErrOutOfBounds
	}
	return d.items[d.front+uint64(i)], nil
}

// SlotAt returns the slot id of logical index i.
func (d *Deque[T]) SlotAt(i int) (uint64, error) {
	if i < 0 || i >= d.Len() {
		return 0, ErrOutOfBounds
	}
	return d.front + uint64(i), nil
}

// AtSlot returns the element stored at the given slot id.
func (d *Deque[T]) AtSlot(slot uint64) (T, error) {
	var zero T
	if d.IsEmpty() || slot < d.front || slot > d.back {
		return zero, ErrNotFound
	}
	return d.items[slot], nil
}

// PopFront removes and returns the first element.
func (d *Deque[T]) PopFront() (T, error) {
	var zero T
	if d.IsEmpty() {
		return zero, ErrEmpty
	}
	v := d.items[d.front]
	delete(d.items, d.front)
	d.front++
	return v, nil
}

// PopBack removes and returns the last element.
func (d *Deque[T]) PopBack() (T, error) {
	var zero T
	if d.IsEmpty() {
		return zero, ErrEmpty
	}
	v := d.items[d.back]
	delete(d.items, d.back)
	d.back--
	return v, nil
}

// Export returns the front cursor and a copy of the slot store,
// tombstones included, for persistence.
func (d *Deque[T]) Export() (front uint64, items map[uint64]T) {
	items = make(map[uint64]T, len(d.items))
	for k, v := range d.items {
		items[k] = v
	}
	return d.front, items
}

// Restore rebuilds a deque from an Export snapshot. Slot ids are
// preserved exactly.
func Restore[T any](front uint64, items map[uint64]T) *Deque[T] {
	d := &Deque[T]{
		items: make(map[uint64]T, len(items)),
		front: front,
		back:  front + uint64(len(items)) - 1,
	}
	for k, v := range items {
		d.items[k] = v
	}
	return d
}

// ClearAt removes the element at the given slot id. Boundary slots pop
// in O(1); interior slots are tombstoned to the zero value, leaving
// Len and every other slot id untouched.
func (d *Deque[T]) ClearAt(slot uint64) error {
	if d.IsEmpty() || slot < d.front || slot > d.back {
		return ErrNotFound
	}
	switch slot {
	case d.front:
		_, err := d.PopFront()
		return err
	case d.back:
		_, err := d.PopBack()
		return err
	default:
		var zero T
		d.items[slot] = zero
		return nil
	}
}
