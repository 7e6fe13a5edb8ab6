package rowstore

import (
	"cmp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/aoserv/pkg/types"
)

type address struct {
	PKey    int32
	Address string
	Domain  int32
}

func addressKey(a *address) int32 { return a.PKey }

func addressColumns(name string) (func(*address) any, bool) {
	switch name {
	case "pkey":
		return func(a *address) any { return a.PKey }, true
	case "address":
		return func(a *address) any { return a.Address }, true
	case "domain":
		return func(a *address) any { return a.Domain }, true
	}
	return nil, false
}

func newStore() *Store[int32, address] {
	return New(addressKey,
		WithIndex("domain", func(a *address) any { return a.Domain }),
		WithColumns(addressColumns),
	)
}

func TestStore(t *testing.T) {
	tests := []struct {
		name  string
		check func(t *testing.T, s *Store[int32, address])
	}{
		{
			name: "new store is empty",
			check: func(t *testing.T, s *Store[int32, address]) {
				assert.Equal(t, 0, s.Len())
				_, ok := s.Get(1)
				assert.False(t, ok)
				rows, err := s.GetByIndex("domain", int32(1))
				require.NoError(t, err)
				assert.Empty(t, rows)
			},
		},
		{
			name: "index returns rows sharing a value in insertion order",
			check: func(t *testing.T, s *Store[int32, address]) {
				a := &address{PKey: 3, Address: "info", Domain: 7}
				b := &address{PKey: 1, Address: "sales", Domain: 7}
				c := &address{PKey: 2, Address: "root", Domain: 7}
				d := &address{PKey: 9, Address: "other", Domain: 8}
				require.NoError(t, s.ReplaceAll([]*address{a, b, c, d}))

				rows, err := s.GetByIndex("domain", int32(7))
				require.NoError(t, err)
				assert.Equal(t, []*address{a, b, c}, rows)

				require.NoError(t, s.ReplaceAll([]*address{b, d}))
				rows, err = s.GetByIndex("domain", int32(7))
				require.NoError(t, err)
				assert.Equal(t, []*address{b}, rows)
				_, ok := s.Get(3)
				assert.False(t, ok, "replaced rows leave the key map")
			},
		},
		{
			name: "unindexed column falls back to a scan",
			check: func(t *testing.T, s *Store[int32, address]) {
				a := &address{PKey: 1, Address: "info", Domain: 7}
				b := &address{PKey: 2, Address: "info", Domain: 8}
				require.NoError(t, s.ReplaceAll([]*address{a, b}))

				rows, err := s.GetByIndex("address", "info")
				require.NoError(t, err)
				assert.Equal(t, []*address{a, b}, rows)
			},
		},
		{
			name: "unknown column",
			check: func(t *testing.T, s *Store[int32, address]) {
				_, err := s.GetByIndex("nope", 1)
				assert.ErrorIs(t, err, types.ErrUnknownColumn)
			},
		},
		{
			name: "duplicate key publishes nothing",
			check: func(t *testing.T, s *Store[int32, address]) {
				orig := &address{PKey: 1, Domain: 1}
				require.NoError(t, s.ReplaceAll([]*address{orig}))

				err := s.ReplaceAll([]*address{{PKey: 5}, {PKey: 5}})
				assert.ErrorIs(t, err, types.ErrDuplicateKey)
				got, ok := s.Get(1)
				require.True(t, ok)
				assert.Same(t, orig, got)
			},
		},
		{
			name: "nil row rejected",
			check: func(t *testing.T, s *Store[int32, address]) {
				err := s.ReplaceAll([]*address{nil})
				assert.ErrorIs(t, err, types.ErrInvalidData)
			},
		},
		{
			name: "clear drops rows",
			check: func(t *testing.T, s *Store[int32, address]) {
				require.NoError(t, s.ReplaceAll([]*address{{PKey: 1, Domain: 2}}))
				s.Clear()
				assert.Equal(t, 0, s.Len())
				rows, err := s.GetByIndex("domain", int32(2))
				require.NoError(t, err)
				assert.Empty(t, rows)
			},
		},
		{
			name: "sorted is stable and leaves the snapshot order alone",
			check: func(t *testing.T, s *Store[int32, address]) {
				a := &address{PKey: 1, Address: "b", Domain: 2}
				b := &address{PKey: 2, Address: "a", Domain: 1}
				c := &address{PKey: 3, Address: "c", Domain: 2}
				d := &address{PKey: 4, Address: "d", Domain: 1}
				require.NoError(t, s.ReplaceAll([]*address{a, b, c, d}))

				byDomain := func(x, y *address) int { return cmp.Compare(x.Domain, y.Domain) }
				assert.Equal(t, []*address{b, d, a, c}, s.Snapshot().Sorted(byDomain))
				assert.Equal(t, []*address{a, b, c, d}, s.Rows())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, newStore())
		})
	}
}

func TestIndexConsistency(t *testing.T) {
	s := newStore()
	var rows []*address
	for i := int32(1); i <= 50; i++ {
		rows = append(rows, &address{PKey: i, Domain: i % 7})
	}
	require.NoError(t, s.ReplaceAll(rows))

	snap := s.Snapshot()
	total := 0
	for _, r := range snap.Rows() {
		got, ok := snap.Get(r.PKey)
		require.True(t, ok)
		assert.Same(t, r, got)

		byDomain, err := snap.GetByIndex("domain", r.Domain)
		require.NoError(t, err)
		assert.Contains(t, byDomain, r)
	}
	for d := int32(0); d < 7; d++ {
		byDomain, err := snap.GetByIndex("domain", d)
		require.NoError(t, err)
		for _, r := range byDomain {
			got, ok := snap.Get(r.PKey)
			require.True(t, ok, "index entry %d missing from key map", r.PKey)
			assert.Same(t, r, got)
		}
		total += len(byDomain)
	}
	assert.Equal(t, snap.Len(), total)
}

func TestSnapshotIsolation(t *testing.T) {
	s := newStore()
	generation := func(g int32) []*address {
		rows := make([]*address, 20)
		for i := range rows {
			rows[i] = &address{PKey: int32(i), Domain: g}
		}
		return rows
	}
	require.NoError(t, s.ReplaceAll(generation(0)))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := s.Snapshot()
				rows := snap.Rows()
				first := rows[0].Domain
				for _, r := range rows {
					if r.Domain != first {
						t.Errorf("snapshot mixes generations %d and %d", first, r.Domain)
						return
					}
				}
				same, err := snap.GetByIndex("domain", first)
				if err != nil || len(same) != len(rows) {
					t.Errorf("index of generation %d has %d rows, want %d", first, len(same), len(rows))
					return
				}
			}
		}()
	}
	for g := int32(1); g <= 200; g++ {
		require.NoError(t, s.ReplaceAll(generation(g)))
	}
	close(stop)
	wg.Wait()
}
