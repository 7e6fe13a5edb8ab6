// Package rowstore holds the rows of one table as immutable snapshots with
// a primary key map and secondary indexes.
//
// A Store publishes a new Snapshot with a single pointer swap. Readers that
// hold a Snapshot keep seeing exactly the rows it was built from, so a
// lookup never mixes rows from before and after a ReplaceAll.
package rowstore

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// ColumnLookup resolves a column name to a value accessor. It is used for
// lookups on columns that have no index.
type ColumnLookup[R any] func(name string) (func(*R) any, bool)

type options[R any] struct {
	indexes map[string]func(*R) any
	order   []string
	columns ColumnLookup[R]
}

// Option configures a Store.
type Option[R any] func(*options[R])

// WithIndex builds a secondary index named name from the value extract
// returns for every row. Extracted values must be comparable.
func WithIndex[R any](name string, extract func(*R) any) Option[R] {
	return func(o *options[R]) {
		if _, ok := o.indexes[name]; !ok {
			o.order = append(o.order, name)
		}
		o.indexes[name] = extract
	}
}

// WithColumns enables GetByIndex on columns without an index.
func WithColumns[R any](lookup ColumnLookup[R]) Option[R] {
	return func(o *options[R]) { o.columns = lookup }
}

// Store is the current row set of one table. It is safe for concurrent use;
// ReplaceAll may run while other goroutines read.
type Store[K comparable, R any] struct {
	keyOf   func(*R) K
	indexes map[string]func(*R) any
	order   []string
	columns ColumnLookup[R]
	current atomic.Pointer[Snapshot[K, R]]
}

// New returns an empty Store keyed by keyOf.
func New[K comparable, R any](keyOf func(*R) K, opts ...Option[R]) *Store[K, R] {
	o := options[R]{indexes: make(map[string]func(*R) any)}
	for _, opt := range opts {
		opt(&o)
	}
	s := &Store[K, R]{
		keyOf:   keyOf,
		indexes: o.indexes,
		order:   o.order,
		columns: o.columns,
	}
	s.current.Store(s.empty())
	return s
}

func (s *Store[K, R]) empty() *Snapshot[K, R] {
	snap := &Snapshot[K, R]{
		byKey:   map[K]*R{},
		indexes: make(map[string]map[any][]*R, len(s.indexes)),
		columns: s.columns,
	}
	for name := range s.indexes {
		snap.indexes[name] = map[any][]*R{}
	}
	return snap
}

// Build returns a snapshot of rows without publishing it. Rows keep their
// order; a repeated key fails with ErrDuplicateKey.
func (s *Store[K, R]) Build(rows []*R) (*Snapshot[K, R], error) {
	snap := &Snapshot[K, R]{
		rows:    make([]*R, 0, len(rows)),
		byKey:   make(map[K]*R, len(rows)),
		indexes: make(map[string]map[any][]*R, len(s.indexes)),
		columns: s.columns,
	}
	for _, row := range rows {
		if row == nil {
			return nil, fmt.Errorf("%w: nil row", types.ErrInvalidData)
		}
		key := s.keyOf(row)
		if _, dup := snap.byKey[key]; dup {
			return nil, fmt.Errorf("%w: %v", types.ErrDuplicateKey, key)
		}
		snap.byKey[key] = row
		snap.rows = append(snap.rows, row)
	}
	for _, name := range s.order {
		extract := s.indexes[name]
		idx := make(map[any][]*R)
		for _, row := range snap.rows {
			v := extract(row)
			idx[v] = append(idx[v], row)
		}
		snap.indexes[name] = idx
	}
	return snap, nil
}

// ReplaceAll swaps the whole row set and rebuilds every index. On error the
// current snapshot is left in place.
func (s *Store[K, R]) ReplaceAll(rows []*R) error {
	snap, err := s.Build(rows)
	if err != nil {
		return err
	}
	s.current.Store(snap)
	return nil
}

// Publish makes snap the current snapshot. snap must come from Build on
// this store.
func (s *Store[K, R]) Publish(snap *Snapshot[K, R]) {
	s.current.Store(snap)
}

// Clear drops every row.
func (s *Store[K, R]) Clear() {
	s.current.Store(s.empty())
}

// Snapshot returns the current snapshot. It is never nil.
func (s *Store[K, R]) Snapshot() *Snapshot[K, R] {
	return s.current.Load()
}

// Get looks up a row by primary key in the current snapshot.
func (s *Store[K, R]) Get(key K) (*R, bool) {
	return s.Snapshot().Get(key)
}

// GetByIndex returns the rows of the current snapshot whose column equals value.
func (s *Store[K, R]) GetByIndex(column string, value any) ([]*R, error) {
	return s.Snapshot().GetByIndex(column, value)
}

// Rows returns the rows of the current snapshot in insertion order.
func (s *Store[K, R]) Rows() []*R {
	return s.Snapshot().Rows()
}

// Len returns the number of rows in the current snapshot.
func (s *Store[K, R]) Len() int {
	return s.Snapshot().Len()
}

// Snapshot is one immutable row set. Rows returned from it must not be
// modified.
type Snapshot[K comparable, R any] struct {
	rows    []*R
	byKey   map[K]*R
	indexes map[string]map[any][]*R
	columns ColumnLookup[R]
}

// Get looks up a row by primary key.
func (s *Snapshot[K, R]) Get(key K) (*R, bool) {
	row, ok := s.byKey[key]
	return row, ok
}

// GetByIndex returns every row whose column equals value, in insertion
// order. Columns without an index are scanned.
func (s *Snapshot[K, R]) GetByIndex(column string, value any) ([]*R, error) {
	if idx, ok := s.indexes[column]; ok {
		return slices.Clone(idx[value]), nil
	}
	if s.columns == nil {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownColumn, column)
	}
	get, ok := s.columns(column)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownColumn, column)
	}
	var out []*R
	for _, row := range s.rows {
		if get(row) == value {
			out = append(out, row)
		}
	}
	return out, nil
}

// Rows returns a copy of the row list in insertion order.
func (s *Snapshot[K, R]) Rows() []*R {
	return slices.Clone(s.rows)
}

// Len returns the number of rows.
func (s *Snapshot[K, R]) Len() int {
	return len(s.rows)
}

// Sorted returns the rows ordered by cmp. Rows comparing equal keep their
// insertion order.
func (s *Snapshot[K, R]) Sorted(cmp func(a, b *R) int) []*R {
	out := slices.Clone(s.rows)
	slices.SortStableFunc(out, cmp)
	return out
}

// Filter returns the rows for which keep reports true, in insertion order.
func (s *Snapshot[K, R]) Filter(keep func(*R) bool) []*R {
	var out []*R
	for _, row := range s.rows {
		if keep(row) {
			out = append(out, row)
		}
	}
	return out
}
