package pkgqueue

// A Lifo is a plain push/pop stack.  It does not suppress duplicates; walkers pair it with their
// own visited set.
type Lifo[T any] struct {
	items []T
}

// Push pushes the items in order, so the last one is popped first.
func (l *Lifo[T]) Push(items ...T) {
	l.items = append(l.items, items...)
}

// Pop removes and returns the most recently pushed item.  It returns false when empty.
func (l *Lifo[T]) Pop() (T, bool) {
	if len(l.items) == 0 {
		return *new(T), false
	}
	v := l.items[len(l.items)-1]
	l.items[len(l.items)-1] = *new(T)
	l.items = l.items[:len(l.items)-1]
	return v, true
}

func (l *Lifo[T]) Len() int { return len(l.items) }
