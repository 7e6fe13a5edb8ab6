package connector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/mesh-intelligence/aoserv/internal/codec"
	"github.com/mesh-intelligence/aoserv/internal/protocol"
	"github.com/mesh-intelligence/aoserv/internal/rowstore"
	"github.com/mesh-intelligence/aoserv/internal/wire"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// Table caches the rows of one remote table.
//
// The table is Fresh while its published snapshot was fetched after the
// latest invalidation. Every invalidation bumps a generation counter; a
// fetch records the generation it started at and publishes only if no
// newer fetch has published first. A fetch that overlaps an invalidation
// still publishes its rows but leaves the table Stale.
type Table[K comparable, R any] struct {
	conn   *Connector
	schema *codec.Schema[R]
	store  *rowstore.Store[K, R]

	generation atomic.Int64 // bumped by Invalidate
	loaded     atomic.Int64 // generation of the published snapshot, -1 before the first fetch
	publish    sync.Mutex
}

var _ types.Table = (*Table[int32, struct{}])(nil)

// NewTable creates the cached table for schema and registers it with c.
// K must match the kind of the schema key.
func NewTable[K comparable, R any](c *Connector, schema *codec.Schema[R], opts ...rowstore.Option[R]) *Table[K, R] {
	checkKeyType[K](schema)
	opts = append([]rowstore.Option[R]{rowstore.WithColumns(rowstore.ColumnLookup[R](schema.Column))}, opts...)
	t := &Table[K, R]{
		conn:   c,
		schema: schema,
		store:  rowstore.New(func(r *R) K { return schema.Key(r).(K) }, opts...),
	}
	t.loaded.Store(-1)
	c.register(t)
	return t
}

func checkKeyType[K comparable, R any](schema *codec.Schema[R]) {
	var k K
	var want codec.Kind
	switch any(k).(type) {
	case int32:
		want = codec.KindInt
	case int16:
		want = codec.KindShort
	case string:
		want = codec.KindString
	}
	if want != schema.KeyKind() {
		panic(fmt.Sprintf("table %s: key type %T does not match key kind %s", schema.Table(), k, schema.KeyKind()))
	}
}

// ID returns the table id.
func (t *Table[K, R]) ID() types.TableID { return t.schema.Table() }

// Name returns the table name.
func (t *Table[K, R]) Name() string { return t.schema.Table().String() }

// Columns returns the stored column names in wire order.
func (t *Table[K, R]) Columns() []string { return t.schema.Columns() }

// Schema returns the row schema.
func (t *Table[K, R]) Schema() *codec.Schema[R] { return t.schema }

// State reports whether the cached rows can be trusted.
func (t *Table[K, R]) State() types.TableState {
	if t.loaded.Load() == t.generation.Load() {
		return types.Fresh
	}
	return types.Stale
}

// Invalidate marks the table stale; the next read refetches it.
func (t *Table[K, R]) Invalidate() {
	t.generation.Add(1)
	t.conn.metrics.Invalidations.WithLabelValues(t.Name()).Inc()
}

// Snapshot returns the current rows, fetching them first when the table
// is stale. Concurrent readers of a stale table share one fetch; each
// reader stops waiting when its own ctx ends, and the fetch outlives the
// reader that started it.
func (t *Table[K, R]) Snapshot(ctx context.Context) (*rowstore.Snapshot[K, R], error) {
	if t.State() == types.Fresh {
		return t.store.Snapshot(), nil
	}
	gen := t.generation.Load()
	key := fmt.Sprintf("%d@%d", t.ID(), gen)
	ch := t.conn.fetches.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.conn.fetchTimeout)
		defer cancel()
		return t.refresh(fetchCtx, gen)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*rowstore.Snapshot[K, R]), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh fetches every row and publishes them as generation gen. A
// decode failure abandons the batch and publishes nothing.
func (t *Table[K, R]) refresh(ctx context.Context, gen int64) (*rowstore.Snapshot[K, R], error) {
	var rows []*R
	err := t.conn.fetch(ctx, t.ID(), func(r *codec.Reader, v protocol.Version) error {
		row, err := t.schema.Decode(r, v)
		if err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		t.conn.logger.WithField("table", t.Name()).WithError(err).Warn("fetch failed")
		return nil, err
	}
	snap, err := t.store.Build(rows)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", t.Name(), err)
	}

	t.publish.Lock()
	defer t.publish.Unlock()
	if gen < t.loaded.Load() {
		return t.store.Snapshot(), nil
	}
	t.store.Publish(snap)
	t.loaded.Store(gen)
	t.conn.metrics.Refreshes.WithLabelValues(t.Name()).Inc()
	t.conn.metrics.TableRows.WithLabelValues(t.Name()).Set(float64(snap.Len()))
	t.conn.logger.WithFields(logrus.Fields{"table": t.Name(), "rows": snap.Len()}).Debug("table refreshed")
	return snap, nil
}

// Rows returns every row in insertion order.
func (t *Table[K, R]) Rows(ctx context.Context) ([]*R, error) {
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Rows(), nil
}

// Sorted returns every row ordered by cmp.
func (t *Table[K, R]) Sorted(ctx context.Context, cmp func(a, b *R) int) ([]*R, error) {
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Sorted(cmp), nil
}

// Get returns the row with the given key.
// Returns ErrNotFound if no row exists with that key.
func (t *Table[K, R]) Get(ctx context.Context, key K) (*R, error) {
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	row, ok := snap.Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s %v", types.ErrNotFound, t.Name(), key)
	}
	return row, nil
}

// GetByIndex returns the rows whose column equals value.
func (t *Table[K, R]) GetByIndex(ctx context.Context, column string, value any) ([]*R, error) {
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.GetByIndex(column, value)
}

// Filter returns the rows for which keep reports true.
func (t *Table[K, R]) Filter(ctx context.Context, keep func(*R) bool) ([]*R, error) {
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Filter(keep), nil
}

// Add creates row on the master and returns its key. The table is
// invalidated, so the next read includes the new row.
func (t *Table[K, R]) Add(ctx context.Context, row *R) (K, error) {
	var key K
	var keyErr error
	_, err := t.conn.Mutate(ctx, wire.CmdAdd, t.ID(), "",
		func(w *codec.Writer, v protocol.Version) error { return t.schema.Encode(w, row, v) },
		func(r *codec.Reader) {
			raw := t.schema.DecodeKey(r)
			if r.Err() != nil {
				return
			}
			k, ok := raw.(K)
			if !ok {
				keyErr = fmt.Errorf("%w: key %T", types.ErrDecode, raw)
				return
			}
			key = k
		})
	if err != nil {
		return key, err
	}
	return key, keyErr
}

// Update replaces the row with the same key on the master.
func (t *Table[K, R]) Update(ctx context.Context, row *R) error {
	_, err := t.conn.Mutate(ctx, wire.CmdUpdate, t.ID(), fmt.Sprint(t.schema.Key(row)),
		func(w *codec.Writer, v protocol.Version) error { return t.schema.Encode(w, row, v) },
		nil)
	return err
}

// Remove deletes the row with the given key on the master.
// Returns a *CannotRemoveError when dependent rows block the removal.
func (t *Table[K, R]) Remove(ctx context.Context, key K) error {
	_, err := t.conn.Mutate(ctx, wire.CmdRemove, t.ID(), fmt.Sprint(key),
		func(w *codec.Writer, _ protocol.Version) error { return t.schema.EncodeKey(w, key) },
		nil)
	return err
}

// CannotRemoveReasons lists every row that blocks removing key.
func (t *Table[K, R]) CannotRemoveReasons(ctx context.Context, key K) ([]types.CannotRemoveReason, error) {
	return t.conn.CheckRemove(ctx, t.ID(), fmt.Sprint(key), func(w *codec.Writer) error {
		return t.schema.EncodeKey(w, key)
	})
}

func (t *Table[K, R]) parseKey(text string) (K, error) {
	var key K
	raw, err := t.schema.ParseKey(text)
	if err != nil {
		return key, err
	}
	return raw.(K), nil
}

// GetKey is Get with the key in text form.
func (t *Table[K, R]) GetKey(ctx context.Context, text string) (any, error) {
	key, err := t.parseKey(text)
	if err != nil {
		return nil, err
	}
	return t.Get(ctx, key)
}

// Fetch returns the rows matching every filter column. String filter values
// are converted to the column type.
func (t *Table[K, R]) Fetch(ctx context.Context, filter map[string]any) ([]any, error) {
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(filter))
	for name := range filter {
		names = append(names, name)
	}
	sort.Strings(names)

	kinds := make(map[string]codec.Kind)
	for _, col := range t.schema.ColumnInfo() {
		kinds[col.Name] = col.Kind
	}

	rows := snap.Rows()
	for i, name := range names {
		kind, ok := kinds[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", types.ErrUnknownColumn, t.Name(), name)
		}
		want, err := coerce(kind, filter[name])
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
		if i == 0 {
			if rows, err = snap.GetByIndex(name, want); err != nil {
				return nil, err
			}
			continue
		}
		get, _ := t.schema.Column(name)
		kept := rows[:0]
		for _, row := range rows {
			if get(row) == want {
				kept = append(kept, row)
			}
		}
		rows = kept
	}

	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row
	}
	return out, nil
}

// coerce converts a filter value to the Go type of kind. Text is parsed;
// Go numbers and bools are converted when the value fits the column.
func coerce(kind codec.Kind, v any) (any, error) {
	if text, ok := v.(string); ok {
		return parseFilter(kind, text)
	}
	if v == nil {
		if kind == codec.KindNullString {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: null filter on a %s column", types.ErrInvalidData, kind)
	}
	switch kind {
	case codec.KindInt:
		if n, ok := asInt(v); ok && n >= math.MinInt32 && n <= math.MaxInt32 {
			return int32(n), nil
		}
	case codec.KindShort:
		if n, ok := asInt(v); ok && n >= math.MinInt16 && n <= math.MaxInt16 {
			return int16(n), nil
		}
	case codec.KindLong:
		if n, ok := asInt(v); ok {
			return n, nil
		}
	case codec.KindFloat:
		switch f := v.(type) {
		case float32:
			return f, nil
		case float64:
			if float64(float32(f)) == f {
				return float32(f), nil
			}
		default:
			if n, ok := asInt(v); ok && int64(float32(n)) == n {
				return float32(n), nil
			}
		}
	case codec.KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %T value %v does not fit a %s column", types.ErrInvalidData, v, v, kind)
}

// asInt widens any Go integer, or a float without a fraction, to int64.
func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case float32:
		return int64(n), float32(int64(n)) == n
	case float64:
		return int64(n), n >= math.MinInt64 && n < math.MaxInt64 && float64(int64(n)) == n
	}
	return 0, false
}

// parseFilter converts a text filter value to the Go type of kind.
func parseFilter(kind codec.Kind, text string) (any, error) {
	switch kind {
	case codec.KindInt:
		n, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrInvalidData, err)
		}
		return int32(n), nil
	case codec.KindShort:
		n, err := strconv.ParseInt(text, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrInvalidData, err)
		}
		return int16(n), nil
	case codec.KindLong:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrInvalidData, err)
		}
		return n, nil
	case codec.KindFloat:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrInvalidData, err)
		}
		return float32(f), nil
	case codec.KindBool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", types.ErrInvalidData, err)
		}
		return b, nil
	case codec.KindTime:
		return nil, fmt.Errorf("%w: time columns cannot be filtered by text", types.ErrInvalidData)
	}
	return text, nil
}

// RemoveKey is Remove with the key in text form.
func (t *Table[K, R]) RemoveKey(ctx context.Context, text string) error {
	key, err := t.parseKey(text)
	if err != nil {
		return err
	}
	return t.Remove(ctx, key)
}

// CheckRemoveKey is CannotRemoveReasons with the key in text form.
func (t *Table[K, R]) CheckRemoveKey(ctx context.Context, text string) ([]types.CannotRemoveReason, error) {
	key, err := t.parseKey(text)
	if err != nil {
		return nil, err
	}
	return t.CannotRemoveReasons(ctx, key)
}
