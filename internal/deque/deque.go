// Package deque implements a simple FIFO double-ended queue used by the
// stack's four service queues (rxes, rxMsgs, txMsgs, txes).
//
// No deque library appears in the retrieved reference corpus, so this is
// built directly on a Go slice used as a ring-adjacent buffer: cheap
// tail-push, cheap head-pop (amortized via periodic compaction), and a
// head-push used to splice a "laters" overflow queue back onto the front
// of txes after an EAGAIN-interrupted service pass.
package deque

// Deque is an unbounded FIFO queue of T.
//
// The zero value is ready to use.
type Deque[T any] struct {
	items []T
	head  int
}

// Len reports the number of queued items.
func (d *Deque[T]) Len() int {
	return len(d.items) - d.head
}

// Empty reports whether the deque has no items.
func (d *Deque[T]) Empty() bool {
	return d.Len() == 0
}

// PushBack appends v to the tail of the queue.
func (d *Deque[T]) PushBack(v T) {
	d.items = append(d.items, v)
}

// PushFront prepends v to the head of the queue.
func (d *Deque[T]) PushFront(v T) {
	if d.head > 0 {
		d.head--
		d.items[d.head] = v

		return
	}

	d.items = append(d.items, v)
	copy(d.items[1:], d.items)
	d.items[0] = v
}

// PushFrontAll prepends vs, in order, to the head of the queue — vs[0]
// becomes the new head. Used to splice a "laters" overflow deque back onto
// the front of txes at the start of the next service iteration.
func (d *Deque[T]) PushFrontAll(vs []T) {
	if len(vs) == 0 {
		return
	}

	d.compact()

	merged := make([]T, 0, len(vs)+d.Len())
	merged = append(merged, vs...)
	merged = append(merged, d.items[d.head:]...)
	d.items = merged
	d.head = 0
}

// PopFront removes and returns the item at the head of the queue.
func (d *Deque[T]) PopFront() (T, bool) {
	var zero T

	if d.Empty() {
		return zero, false
	}

	v := d.items[d.head]
	d.items[d.head] = zero
	d.head++

	d.compact()

	return v, true
}

// compact reclaims space once the consumed prefix dominates the backing
// array, so a long-running deque does not grow unbounded.
func (d *Deque[T]) compact() {
	if d.head == 0 {
		return
	}

	if d.head < len(d.items)/2 || len(d.items) < 64 {
		return
	}

	remaining := len(d.items) - d.head
	copy(d.items, d.items[d.head:])
	d.items = d.items[:remaining]
	d.head = 0
}
