package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/aoserv/internal/protocol"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// partition is a test row mirroring a backup partition.
type partition struct {
	PKey         int32
	Path         string
	Enabled      bool
	QuotaEnabled bool
	Note         *string
	DisableLog   int32
	Created      time.Time
}

const (
	legacyMinFree     = int64(512 * 1024 * 1024)
	legacyDesiredFree = int64(1024 * 1024 * 1024)
)

func partitionSchema(t *testing.T) *Schema[partition] {
	t.Helper()
	s, err := NewSchema(types.BackupPartitions, "pkey",
		Field[partition]{Name: "pkey", Kind: KindInt, Ptr: func(p *partition) any { return &p.PKey }},
		Field[partition]{Name: "path", Kind: KindString, Ptr: func(p *partition) any { return &p.Path }},
		Field[partition]{Name: "min_free_space", Kind: KindLong, Until: protocol.V1_30, Legacy: legacyMinFree},
		Field[partition]{Name: "desired_free_space", Kind: KindLong, Until: protocol.V1_30, Legacy: legacyDesiredFree},
		Field[partition]{Name: "enabled", Kind: KindBool, Ptr: func(p *partition) any { return &p.Enabled }},
		Field[partition]{Name: "quota_enabled", Kind: KindBool, Since: protocol.V1_31, Ptr: func(p *partition) any { return &p.QuotaEnabled }},
		Field[partition]{Name: "note", Kind: KindNullString, Since: protocol.V1_46, Ptr: func(p *partition) any { return &p.Note }},
		Field[partition]{Name: "disable_log", Kind: KindInt, Since: protocol.V1_0A104, Default: int32(-1), Ptr: func(p *partition) any { return &p.DisableLog }},
		Field[partition]{Name: "created", Kind: KindTime, Since: protocol.V1_83_0, Ptr: func(p *partition) any { return &p.Created }},
	)
	require.NoError(t, err)
	return s
}

func TestSchemaRoundTripEveryVersion(t *testing.T) {
	s := partitionSchema(t)
	note := "primary"
	row := &partition{
		PKey:         5,
		Path:         "/backup/data",
		Enabled:      true,
		QuotaEnabled: true,
		Note:         &note,
		DisableLog:   12,
		Created:      time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	for _, v := range protocol.All() {
		t.Run(v.String(), func(t *testing.T) {
			w := NewWriter()
			require.NoError(t, s.Encode(w, row, v))

			r := NewReader(w.Bytes(), nil)
			got, err := s.Decode(r, v)
			require.NoError(t, err)
			assert.Equal(t, 0, r.Remaining(), "decode must consume exactly what encode wrote")

			assert.Equal(t, row.PKey, got.PKey)
			assert.Equal(t, row.Path, got.Path)
			assert.Equal(t, row.Enabled, got.Enabled)
			if v.AtLeast(protocol.V1_31) {
				assert.Equal(t, row.QuotaEnabled, got.QuotaEnabled)
			} else {
				assert.False(t, got.QuotaEnabled)
			}
			if v.AtLeast(protocol.V1_46) {
				require.NotNil(t, got.Note)
				assert.Equal(t, note, *got.Note)
			} else {
				assert.Nil(t, got.Note)
			}
			if v.AtLeast(protocol.V1_0A104) {
				assert.Equal(t, int32(12), got.DisableLog)
			} else {
				assert.Equal(t, int32(-1), got.DisableLog, "absent field decodes to its sentinel default")
			}
			if v.AtLeast(protocol.V1_83_0) {
				assert.True(t, row.Created.Equal(got.Created))
			} else {
				assert.True(t, got.Created.IsZero())
			}
		})
	}
}

func TestSchemaLegacyPlaceholders(t *testing.T) {
	s := partitionSchema(t)
	row := &partition{PKey: 5, Path: "/backup/data", Enabled: true}

	w := NewWriter()
	require.NoError(t, s.Encode(w, row, protocol.Oldest))

	// Walk the oldest layout by hand: the retired free-space fields must carry
	// the literal historical constants.
	r := NewReader(w.Bytes(), nil)
	assert.Equal(t, int32(5), r.ReadCompressedInt())
	assert.Equal(t, "/backup/data", r.ReadUTF())
	assert.Equal(t, legacyMinFree, r.ReadLong())
	assert.Equal(t, legacyDesiredFree, r.ReadLong())
	assert.True(t, r.ReadBool())
	require.NoError(t, r.Err())
	assert.Equal(t, 0, r.Remaining())

	assert.Equal(t, []string{"pkey", "path", "min_free_space", "desired_free_space", "enabled"}, s.WireFields(protocol.Oldest))
	assert.NotContains(t, s.WireFields(protocol.Current), "min_free_space")
}

func TestSchemaFieldStableAcrossNewerVersions(t *testing.T) {
	s := partitionSchema(t)
	row := &partition{PKey: 9, Path: "/b", Enabled: true, QuotaEnabled: true}

	var previous *partition
	for _, v := range protocol.All() {
		if !v.AtLeast(protocol.V1_31) {
			continue
		}
		w := NewWriter()
		require.NoError(t, s.Encode(w, row, v))
		got, err := s.Decode(NewReader(w.Bytes(), nil), v)
		require.NoError(t, err)
		assert.True(t, got.QuotaEnabled, "quota_enabled present at %s", v)
		if previous != nil {
			assert.Equal(t, previous.QuotaEnabled, got.QuotaEnabled)
			assert.Equal(t, previous.Path, got.Path)
		}
		previous = got
	}
}

func TestSchemaDecodeTruncatedPublishesNothing(t *testing.T) {
	s := partitionSchema(t)
	w := NewWriter()
	require.NoError(t, s.Encode(w, &partition{PKey: 1, Path: "/x"}, protocol.Current))

	for cut := 0; cut < w.Len(); cut++ {
		got, err := s.Decode(NewReader(w.Bytes()[:cut], nil), protocol.Current)
		require.Error(t, err, "cut at %d", cut)
		assert.ErrorIs(t, err, types.ErrDecode)
		assert.Nil(t, got)
	}
}

func TestNewSchemaReportsEveryProblem(t *testing.T) {
	_, err := NewSchema(types.BackupPartitions, "missing",
		Field[partition]{Name: "pkey", Kind: KindString, Ptr: func(p *partition) any { return &p.PKey }},
		Field[partition]{Name: "path", Kind: KindString, Ptr: func(p *partition) any { return &p.Path }},
		Field[partition]{Name: "path", Kind: KindString, Ptr: func(p *partition) any { return &p.Path }},
		Field[partition]{Name: "old", Kind: KindLong, Since: protocol.V1_31, Until: protocol.V1_30, Legacy: int64(1)},
		Field[partition]{Name: "retired", Kind: KindLong, Until: protocol.V1_30, Legacy: "wrong"},
	)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `"pkey" accessor`)
	assert.Contains(t, msg, `"path" declared twice`)
	assert.Contains(t, msg, `"old" introduced`)
	assert.Contains(t, msg, `"retired" legacy value`)
	assert.Contains(t, msg, `key field "missing"`)

	assert.Panics(t, func() {
		MustSchema[partition](types.BackupPartitions, "pkey")
	})
}

func TestSchemaKeysAndColumns(t *testing.T) {
	s := partitionSchema(t)
	row := &partition{PKey: 42, Path: "/srv"}

	assert.Equal(t, "pkey", s.KeyColumn())
	assert.Equal(t, int32(42), s.Key(row))
	assert.Equal(t, []string{"pkey", "path", "enabled", "quota_enabled", "note", "disable_log", "created"}, s.Columns())

	path, ok := s.Column("path")
	require.True(t, ok)
	assert.Equal(t, "/srv", path(row))
	_, ok = s.Column("min_free_space")
	assert.False(t, ok, "retired fields are not columns")

	key, err := s.ParseKey("42")
	require.NoError(t, err)
	assert.Equal(t, int32(42), key)
	_, err = s.ParseKey("x")
	assert.ErrorIs(t, err, types.ErrInvalidKey)

	w := NewWriter()
	require.NoError(t, s.EncodeKey(w, int32(42)))
	r := NewReader(w.Bytes(), nil)
	assert.Equal(t, int32(42), s.DecodeKey(r))
	require.NoError(t, r.Err())

	_, err = s.KeyAny("not a row")
	assert.ErrorIs(t, err, types.ErrInvalidData)
}

func TestSchemaSQLAdapters(t *testing.T) {
	s := partitionSchema(t)
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	row := &partition{PKey: 3, Path: "/p", Enabled: true, Created: created}

	values, err := s.Values(row)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), "/p", int64(1), int64(0), nil, int64(0), created.UnixMilli()}, values)

	dst := &partition{}
	targets, err := s.ScanTargets(dst)
	require.NoError(t, err)
	require.Len(t, targets, 7)
	scanner, ok := targets[6].(timeColumn)
	require.True(t, ok)
	require.NoError(t, scanner.Scan(created.UnixMilli()))
	assert.True(t, created.Equal(dst.Created))
	require.NoError(t, scanner.Scan(nil))
	assert.True(t, dst.Created.IsZero())

	assert.Equal(t, "INTEGER", SQLType(KindBool))
	assert.Equal(t, "TEXT", SQLType(KindNullString))
	assert.Equal(t, "REAL", SQLType(KindFloat))
}
