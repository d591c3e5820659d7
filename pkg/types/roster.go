// pkg/types/roster.go
package types

import "encoding/json"

// Keyed is implemented by roster entries. Key returns the stable identifier
// the entry is indexed by.
type Keyed interface {
	Key() string
}

// Roster is an insertion-ordered set of entries keyed by identifier.
// The zero value is an empty roster ready to use.
type Roster[V Keyed] struct {
	order []string
	items map[string]V
}

// NewRoster builds a roster from entries. Later duplicates replace earlier ones
// in place.
func NewRoster[V Keyed](entries ...V) Roster[V] {
	var r Roster[V]
	for _, e := range entries {
		r.Set(e)
	}
	return r
}

// Get returns the entry for id.
func (r *Roster[V]) Get(id string) (V, bool) {
	v, ok := r.items[id]
	return v, ok
}

// Has reports whether id is present.
func (r *Roster[V]) Has(id string) bool {
	_, ok := r.items[id]
	return ok
}

// Set inserts v, or replaces the existing entry with the same key without
// changing its position.
func (r *Roster[V]) Set(v V) {
	if r.items == nil {
		r.items = make(map[string]V)
	}
	k := v.Key()
	if _, ok := r.items[k]; !ok {
		r.order = append(r.order, k)
	}
	r.items[k] = v
}

// Delete removes id and reports whether it was present.
func (r *Roster[V]) Delete(id string) bool {
	if _, ok := r.items[id]; !ok {
		return false
	}
	delete(r.items, id)
	for i, k := range r.order {
		if k == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of entries.
func (r *Roster[V]) Len() int {
	return len(r.order)
}

// Keys returns identifiers in insertion order.
func (r *Roster[V]) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Values returns entries in insertion order.
func (r *Roster[V]) Values() []V {
	out := make([]V, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.items[k])
	}
	return out
}

// Clone returns an independent copy.
func (r *Roster[V]) Clone() Roster[V] {
	return NewRoster(r.Values()...)
}

// MarshalJSON encodes the roster as an array in insertion order.
func (r Roster[V]) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Values())
}

// UnmarshalJSON decodes an array of entries.
func (r *Roster[V]) UnmarshalJSON(data []byte) error {
	var entries []V
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*r = NewRoster(entries...)
	return nil
}
