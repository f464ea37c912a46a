// Package diff compares two keyed snapshots by status.
package diff

// Change is a key present in both snapshots whose status differs.
type Change[V any] struct {
	Previous V
	Current  V
}

// Result partitions the keys of two snapshots. Keys whose status is unchanged appear nowhere.
type Result[K comparable, V any] struct {
	Added   map[K]V
	Changed map[K]Change[V]
	Removed map[K]V
}

// Empty reports whether nothing changed.
func (r Result[K, V]) Empty() bool {
	return len(r.Added) == 0 && len(r.Changed) == 0 && len(r.Removed) == 0
}

// Compute diffs current against previous. Only the value returned by status is compared.
// Either map may be nil.
func Compute[K comparable, V any](previous, current map[K]V, status func(V) string) Result[K, V] {
	res := Result[K, V]{
		Added:   make(map[K]V),
		Changed: make(map[K]Change[V]),
		Removed: make(map[K]V),
	}

	for k, cur := range current {
		prev, ok := previous[k]
		switch {
		case !ok:
			res.Added[k] = cur
		case status(prev) != status(cur):
			res.Changed[k] = Change[V]{Previous: prev, Current: cur}
		}
	}
	for k, prev := range previous {
		if _, ok := current[k]; !ok {
			res.Removed[k] = prev
		}
	}
	return res
}

// Tracker owns the previous snapshot for one caller. It is not safe for concurrent use.
type Tracker[K comparable, V any] struct {
	previous map[K]V
	status   func(V) string
}

func NewTracker[K comparable, V any](status func(V) string) *Tracker[K, V] {
	return &Tracker[K, V]{status: status}
}

// Diff compares current against the held snapshot without replacing it.
func (t *Tracker[K, V]) Diff(current map[K]V) Result[K, V] {
	return Compute(t.previous, current, t.status)
}

// Advance diffs current against the held snapshot and then holds current.
func (t *Tracker[K, V]) Advance(current map[K]V) Result[K, V] {
	res := t.Diff(current)
	t.previous = current
	return res
}

// Replace holds next without diffing.
func (t *Tracker[K, V]) Replace(next map[K]V) {
	t.previous = next
}

// Reset forgets the held snapshot so the next diff reports every key as added.
func (t *Tracker[K, V]) Reset() {
	t.previous = nil
}

// Len is the size of the held snapshot.
func (t *Tracker[K, V]) Len() int {
	return len(t.previous)
}
