package memory

import "sort"

// overlay buffers a transaction's writes over a committed table.
type overlay[T any] struct {
	base    map[string]T
	writes  map[string]T
	deleted map[string]struct{}
	clone   func(T) T
}

func newOverlay[T any](base map[string]T, clone func(T) T) *overlay[T] {
	return &overlay[T]{
		base:    base,
		writes:  make(map[string]T),
		deleted: make(map[string]struct{}),
		clone:   clone,
	}
}

func (o *overlay[T]) get(id string) (T, bool) {
	var zero T
	if _, gone := o.deleted[id]; gone {
		return zero, false
	}
	if v, ok := o.writes[id]; ok {
		return o.clone(v), true
	}
	if v, ok := o.base[id]; ok {
		return o.clone(v), true
	}
	return zero, false
}

func (o *overlay[T]) put(id string, v T) {
	delete(o.deleted, id)
	o.writes[id] = o.clone(v)
}

func (o *overlay[T]) remove(id string) {
	delete(o.writes, id)
	o.deleted[id] = struct{}{}
}

// scan returns the visible rows matching keep in id order.
func (o *overlay[T]) scan(keep func(T) bool) []T {
	ids := make([]string, 0, len(o.base)+len(o.writes))
	seen := make(map[string]struct{}, len(o.base)+len(o.writes))
	for id := range o.writes {
		ids = append(ids, id)
		seen[id] = struct{}{}
	}
	for id := range o.base {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]T, 0)
	for _, id := range ids {
		v, ok := o.get(id)
		if !ok {
			continue
		}
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out
}

func (o *overlay[T]) commit() {
	for id := range o.deleted {
		delete(o.base, id)
	}
	for id, v := range o.writes {
		o.base[id] = v
	}
}
