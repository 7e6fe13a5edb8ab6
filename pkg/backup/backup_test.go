package backup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/aoserv/internal/codec"
	"github.com/mesh-intelligence/aoserv/internal/connector"
	"github.com/mesh-intelligence/aoserv/internal/mastertest"
	"github.com/mesh-intelligence/aoserv/internal/protocol"
	"github.com/mesh-intelligence/aoserv/pkg/linux"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

func TestPartitionAcrossVersions(t *testing.T) {
	row := &Partition{PKey: 5, Path: "/backup/data", Enabled: true, QuotaEnabled: false}

	newest := codec.NewWriter()
	require.NoError(t, PartitionSchema.Encode(newest, row, protocol.Current))
	got, err := PartitionSchema.Decode(codec.NewReader(newest.Bytes(), nil), protocol.Current)
	require.NoError(t, err)
	assert.Equal(t, row, got)

	oldest := codec.NewWriter()
	require.NoError(t, PartitionSchema.Encode(oldest, row, protocol.Oldest))
	got, err = PartitionSchema.Decode(codec.NewReader(oldest.Bytes(), nil), protocol.Oldest)
	require.NoError(t, err)
	assert.Equal(t, row, got)

	// The oldest layout carries the fixed historical free-space constants.
	r := codec.NewReader(oldest.Bytes(), nil)
	assert.Equal(t, int32(5), r.ReadCompressedInt())
	assert.Equal(t, int32(0), r.ReadCompressedInt())
	assert.Equal(t, "/backup/data", r.ReadUTF())
	assert.Equal(t, int64(536870912), r.ReadLong())
	assert.Equal(t, int64(1073741824), r.ReadLong())
	assert.True(t, r.ReadBool())
	assert.Equal(t, int16(1), r.ReadShort())
	require.NoError(t, r.Err())
	assert.Equal(t, 0, r.Remaining())
}

func TestFileReplicationSettingDefaults(t *testing.T) {
	row := &FileReplicationSetting{PKey: 1, Replication: 2, Path: "/etc", BackupEnabled: false, Required: true}
	w := codec.NewWriter()
	require.NoError(t, FileReplicationSettingSchema.Encode(w, row, protocol.V1_30))
	got, err := FileReplicationSettingSchema.Decode(codec.NewReader(w.Bytes(), nil), protocol.V1_30)
	require.NoError(t, err)
	assert.True(t, got.BackupEnabled, "absent backup_enabled defaults to enabled")
	assert.False(t, got.Required)
}

func TestRetentionDisplay(t *testing.T) {
	tests := map[int16]string{1: "1 day", 3: "3 days", 7: "1 week", 21: "3 weeks", 31: "1 month", 183: "6 months", 365: "1 year"}
	for days, want := range tests {
		assert.Equal(t, want, RetentionDisplay(days))
	}
}

func setup(t *testing.T) (*linux.Schema, *Schema) {
	t.Helper()
	m := mastertest.Start(t, append(linux.Definitions(), Definitions()...)...)
	c := m.Connect(t)
	lx := linux.NewSchema(c)
	return lx, NewSchema(c, lx)
}

func TestSchema(t *testing.T) {
	tests := []struct {
		name  string
		check func(t *testing.T, lx *linux.Schema, s *Schema)
	}{
		{
			name: "built-in retentions",
			check: func(t *testing.T, _ *linux.Schema, s *Schema) {
				rows, err := s.SortedRetentions(context.Background())
				require.NoError(t, err)
				require.Len(t, rows, 14)
				assert.Equal(t, int16(1), rows[0].Days)
				assert.Equal(t, int16(365), rows[13].Days)

				r, err := s.Retention(context.Background(), 92)
				require.NoError(t, err)
				assert.Equal(t, "3 months", r.Display)
			},
		},
		{
			name: "partitions sort by hostname then path",
			check: func(t *testing.T, lx *linux.Schema, s *Schema) {
				ctx := context.Background()
				zeta, err := lx.AddServer(ctx, "zeta.example.com", "fc", "")
				require.NoError(t, err)
				alpha, err := lx.AddServer(ctx, "alpha.example.com", "fc", "")
				require.NoError(t, err)

				_, err = s.AddPartition(ctx, zeta, "/var/backup", true)
				require.NoError(t, err)
				_, err = s.AddPartition(ctx, alpha, "/var/backup2", true)
				require.NoError(t, err)
				_, err = s.AddPartition(ctx, alpha, "/var/backup1/", true)
				require.NoError(t, err)

				sorted, err := s.SortedPartitions(ctx)
				require.NoError(t, err)
				var got []string
				for _, p := range sorted {
					srv, err := s.PartitionServer(ctx, p)
					require.NoError(t, err)
					got = append(got, srv.Hostname+":"+p.Path)
				}
				assert.Equal(t, []string{
					"alpha.example.com:/var/backup1",
					"alpha.example.com:/var/backup2",
					"zeta.example.com:/var/backup",
				}, got)

				p, err := s.PartitionByPath(ctx, alpha, "/var/backup2")
				require.NoError(t, err)
				assert.Equal(t, alpha, p.AOServer)
				_, err = s.PartitionByPath(ctx, zeta, "/missing")
				assert.ErrorIs(t, err, types.ErrNotFound)
			},
		},
		{
			name: "partition on unknown server is rejected",
			check: func(t *testing.T, _ *linux.Schema, s *Schema) {
				_, err := s.AddPartition(context.Background(), 42, "/var/backup", true)
				assert.ErrorIs(t, err, types.ErrNotFound)
				_, err = s.AddPartition(context.Background(), 42, "relative", true)
				assert.ErrorIs(t, err, types.ErrInvalidData)
			},
		},
		{
			name: "quota toggle and removal blocked by partitions",
			check: func(t *testing.T, lx *linux.Schema, s *Schema) {
				ctx := context.Background()
				srv, err := lx.AddServer(ctx, "backup.example.com", "fc", "")
				require.NoError(t, err)
				pkey, err := s.AddPartition(ctx, srv, "/backup", true)
				require.NoError(t, err)

				require.NoError(t, s.SetPartitionQuotaEnabled(ctx, pkey, true))
				p, err := s.Partition(ctx, pkey)
				require.NoError(t, err)
				assert.True(t, p.QuotaEnabled)

				err = lx.Servers.Remove(ctx, srv)
				require.ErrorIs(t, err, types.ErrRemovalBlocked)
				var blocked *types.CannotRemoveError
				require.ErrorAs(t, err, &blocked)
				require.Len(t, blocked.Reasons, 1)
				assert.Equal(t, types.BackupPartitions, blocked.Reasons[0].Table)
			},
		},
		{
			name: "file replication settings lifecycle",
			check: func(t *testing.T, _ *linux.Schema, s *Schema) {
				ctx := context.Background()
				b, err := s.AddFileReplicationSetting(ctx, 3, "/var/lib", true, false)
				require.NoError(t, err)
				a, err := s.AddFileReplicationSetting(ctx, 3, "/etc", false, true)
				require.NoError(t, err)
				_, err = s.AddFileReplicationSetting(ctx, 4, "/home", true, false)
				require.NoError(t, err)

				rows, err := s.FileReplicationSettingsOf(ctx, 3)
				require.NoError(t, err)
				require.Len(t, rows, 2)
				assert.Equal(t, a, rows[0].PKey)
				assert.Equal(t, b, rows[1].PKey)

				require.NoError(t, s.SetFileReplicationSetting(ctx, a, "/etc/ssl", true, true))
				got, err := s.FileReplicationSettings.Get(ctx, a)
				require.NoError(t, err)
				assert.Equal(t, "/etc/ssl", got.Path)
				assert.True(t, got.BackupEnabled)

				require.NoError(t, s.RemoveFileReplicationSetting(ctx, a))
				_, err = s.FileReplicationSettings.Get(ctx, a)
				assert.ErrorIs(t, err, types.ErrNotFound)

				assert.ErrorIs(t, s.SetFileReplicationSetting(ctx, b, "etc", true, true), types.ErrInvalidData)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lx, s := setup(t)
			tt.check(t, lx, s)
		})
	}
}

func TestOldClientDoesNotSeeQuota(t *testing.T) {
	ctx := context.Background()
	m := mastertest.Start(t, append(linux.Definitions(), Definitions()...)...)
	c := m.Connect(t)
	lx := linux.NewSchema(c)
	s := NewSchema(c, lx)
	srv, err := lx.AddServer(ctx, "b.example.com", "fc", "")
	require.NoError(t, err)
	pkey, err := s.AddPartition(ctx, srv, "/backup", true)
	require.NoError(t, err)
	require.NoError(t, s.SetPartitionQuotaEnabled(ctx, pkey, true))

	oldConn := m.Connect(t, connector.WithVersion(protocol.V1_30))
	old := NewSchema(oldConn, linux.NewSchema(oldConn))
	p, err := old.Partition(ctx, pkey)
	require.NoError(t, err)
	assert.False(t, p.QuotaEnabled, "quota_enabled is not on the wire before 1.31")
	assert.Equal(t, "/backup", p.Path)
}
