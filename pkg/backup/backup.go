// Package backup holds backup partitions, retention choices and file
// replication settings.
package backup

import (
	"cmp"
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/mesh-intelligence/aoserv/internal/catalog"
	"github.com/mesh-intelligence/aoserv/internal/codec"
	"github.com/mesh-intelligence/aoserv/internal/connector"
	"github.com/mesh-intelligence/aoserv/internal/protocol"
	"github.com/mesh-intelligence/aoserv/internal/rowstore"
	"github.com/mesh-intelligence/aoserv/pkg/linux"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// Partition is a directory on a server that stores backups.
type Partition struct {
	PKey         int32  `json:"pkey"`
	AOServer     int32  `json:"ao_server"`
	Path         string `json:"path"`
	Enabled      bool   `json:"enabled"`
	QuotaEnabled bool   `json:"quota_enabled"`
}

// Retention is one selectable number of days to keep backups.
type Retention struct {
	Days    int16  `json:"days"`
	Display string `json:"display"`
}

// FileReplicationSetting overrides whether one path is replicated.
// Replication is the id of the replication job on the master.
type FileReplicationSetting struct {
	PKey          int32  `json:"pkey"`
	Replication   int32  `json:"replication"`
	Path          string `json:"path"`
	BackupEnabled bool   `json:"backup_enabled"`
	Required      bool   `json:"required"`
}

// Values old protocol versions carry for fields no longer tracked.
const (
	legacyMinFreeSpace     = int64(536870912)
	legacyDesiredFreeSpace = int64(1073741824)
	legacyFillOrder        = int16(1)
	legacyBackupLevel      = int16(1)
	legacyBackupRetention  = int16(7)
)

// PartitionSchema is the wire layout of backup.partitions.
var PartitionSchema = codec.MustSchema(types.BackupPartitions, "pkey",
	codec.Field[Partition]{Name: "pkey", Kind: codec.KindInt, Ptr: func(p *Partition) any { return &p.PKey }},
	codec.Field[Partition]{Name: "ao_server", Kind: codec.KindInt, Ptr: func(p *Partition) any { return &p.AOServer }},
	codec.Field[Partition]{Name: "path", Kind: codec.KindString, Ptr: func(p *Partition) any { return &p.Path }},
	codec.Field[Partition]{Name: "min_free_space", Kind: codec.KindLong, Until: protocol.V1_30, Legacy: legacyMinFreeSpace},
	codec.Field[Partition]{Name: "desired_free_space", Kind: codec.KindLong, Until: protocol.V1_30, Legacy: legacyDesiredFreeSpace},
	codec.Field[Partition]{Name: "enabled", Kind: codec.KindBool, Ptr: func(p *Partition) any { return &p.Enabled }},
	codec.Field[Partition]{Name: "fill_order", Kind: codec.KindShort, Until: protocol.V1_30, Legacy: legacyFillOrder},
	codec.Field[Partition]{Name: "quota_enabled", Kind: codec.KindBool, Since: protocol.V1_31, Ptr: func(p *Partition) any { return &p.QuotaEnabled }},
)

// RetentionSchema is the wire layout of backup.retentions.
var RetentionSchema = codec.MustSchema(types.BackupRetentions, "days",
	codec.Field[Retention]{Name: "days", Kind: codec.KindShort, Ptr: func(r *Retention) any { return &r.Days }},
	codec.Field[Retention]{Name: "display", Kind: codec.KindString, Ptr: func(r *Retention) any { return &r.Display }},
)

// FileReplicationSettingSchema is the wire layout of
// backup.file_replication_settings.
var FileReplicationSettingSchema = codec.MustSchema(types.BackupFileReplicationSettings, "pkey",
	codec.Field[FileReplicationSetting]{Name: "pkey", Kind: codec.KindInt, Ptr: func(f *FileReplicationSetting) any { return &f.PKey }},
	codec.Field[FileReplicationSetting]{Name: "replication", Kind: codec.KindInt, Ptr: func(f *FileReplicationSetting) any { return &f.Replication }},
	codec.Field[FileReplicationSetting]{Name: "path", Kind: codec.KindString, Ptr: func(f *FileReplicationSetting) any { return &f.Path }},
	codec.Field[FileReplicationSetting]{Name: "backup_level", Kind: codec.KindShort, Until: protocol.V1_30, Legacy: legacyBackupLevel},
	codec.Field[FileReplicationSetting]{Name: "backup_retention", Kind: codec.KindShort, Until: protocol.V1_30, Legacy: legacyBackupRetention},
	codec.Field[FileReplicationSetting]{Name: "backup_enabled", Kind: codec.KindBool, Since: protocol.V1_31, Default: true, Ptr: func(f *FileReplicationSetting) any { return &f.BackupEnabled }},
	codec.Field[FileReplicationSetting]{Name: "required", Kind: codec.KindBool, Since: protocol.V1_62, Ptr: func(f *FileReplicationSetting) any { return &f.Required }},
)

// retentionDays are the built-in retention choices.
var retentionDays = []int16{1, 2, 3, 4, 5, 7, 14, 21, 28, 31, 61, 92, 183, 365}

// RetentionDisplay names a retention period the way the control panel
// shows it.
func RetentionDisplay(days int16) string {
	switch days {
	case 1:
		return "1 day"
	case 7:
		return "1 week"
	case 14, 21, 28:
		return fmt.Sprintf("%d weeks", days/7)
	case 31:
		return "1 month"
	case 61:
		return "2 months"
	case 92:
		return "3 months"
	case 183:
		return "6 months"
	case 365:
		return "1 year"
	}
	return fmt.Sprintf("%d days", days)
}

// Definitions returns the catalog entries of this package.
func Definitions() []catalog.Definition {
	seed := make([]any, len(retentionDays))
	for i, d := range retentionDays {
		seed[i] = &Retention{Days: d, Display: RetentionDisplay(d)}
	}
	return []catalog.Definition{
		{
			ID:      types.BackupPartitions,
			Codec:   PartitionSchema,
			AutoKey: true,
			References: []catalog.Reference{
				{Column: "ao_server", Target: types.LinuxServers, Description: "backup partition on server"},
			},
		},
		{ID: types.BackupRetentions, Codec: RetentionSchema, Seed: seed},
		{ID: types.BackupFileReplicationSettings, Codec: FileReplicationSettingSchema, AutoKey: true},
	}
}

// Schema gives typed access to the backup tables.
type Schema struct {
	Partitions              *connector.Table[int32, Partition]
	Retentions              *connector.Table[int16, Retention]
	FileReplicationSettings *connector.Table[int32, FileReplicationSetting]

	linux *linux.Schema
}

// NewSchema registers the backup tables with c. Server references resolve
// through lx.
func NewSchema(c *connector.Connector, lx *linux.Schema) *Schema {
	return &Schema{
		Partitions: connector.NewTable[int32](c, PartitionSchema,
			rowstore.WithIndex("ao_server", func(p *Partition) any { return p.AOServer }),
		),
		Retentions: connector.NewTable[int16](c, RetentionSchema),
		FileReplicationSettings: connector.NewTable[int32](c, FileReplicationSettingSchema,
			rowstore.WithIndex("replication", func(f *FileReplicationSetting) any { return f.Replication }),
		),
		linux: lx,
	}
}

// Partition returns the partition with the given key.
func (s *Schema) Partition(ctx context.Context, pkey int32) (*Partition, error) {
	return s.Partitions.Get(ctx, pkey)
}

// PartitionServer resolves the server of p.
func (s *Schema) PartitionServer(ctx context.Context, p *Partition) (*linux.Server, error) {
	srv, err := s.linux.Server(ctx, p.AOServer)
	if err != nil {
		return nil, fmt.Errorf("backup partition %d: %w", p.PKey, err)
	}
	return srv, nil
}

// PartitionsOn returns the partitions of one server.
func (s *Schema) PartitionsOn(ctx context.Context, server int32) ([]*Partition, error) {
	return s.Partitions.GetByIndex(ctx, "ao_server", server)
}

// PartitionByPath finds the partition of server mounted at path.
func (s *Schema) PartitionByPath(ctx context.Context, server int32, dir string) (*Partition, error) {
	parts, err := s.PartitionsOn(ctx, server)
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		if p.Path == dir {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: backup partition %q on server %d", types.ErrNotFound, dir, server)
}

// SortedPartitions returns every partition ordered by server hostname, then
// path. Partitions whose server is unknown sort by server id.
func (s *Schema) SortedPartitions(ctx context.Context) ([]*Partition, error) {
	servers, err := s.linux.Servers.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	hostname := func(id int32) string {
		if srv, ok := servers.Get(id); ok {
			return srv.Hostname
		}
		return ""
	}
	return s.Partitions.Sorted(ctx, func(a, b *Partition) int {
		return cmp.Or(
			cmp.Compare(hostname(a.AOServer), hostname(b.AOServer)),
			cmp.Compare(a.AOServer, b.AOServer),
			cmp.Compare(a.Path, b.Path),
		)
	})
}

// AddPartition creates a partition on server.
func (s *Schema) AddPartition(ctx context.Context, server int32, dir string, enabled bool) (int32, error) {
	if !path.IsAbs(dir) {
		return 0, fmt.Errorf("%w: partition path %q is not absolute", types.ErrInvalidData, dir)
	}
	return s.Partitions.Add(ctx, &Partition{AOServer: server, Path: path.Clean(dir), Enabled: enabled})
}

// SetPartitionQuotaEnabled switches quota enforcement for one partition.
func (s *Schema) SetPartitionQuotaEnabled(ctx context.Context, pkey int32, enabled bool) error {
	p, err := s.Partition(ctx, pkey)
	if err != nil {
		return err
	}
	updated := *p
	updated.QuotaEnabled = enabled
	return s.Partitions.Update(ctx, &updated)
}

// Retention returns the retention choice for days.
func (s *Schema) Retention(ctx context.Context, days int16) (*Retention, error) {
	return s.Retentions.Get(ctx, days)
}

// SortedRetentions returns the retention choices from shortest to longest.
func (s *Schema) SortedRetentions(ctx context.Context) ([]*Retention, error) {
	return s.Retentions.Sorted(ctx, func(a, b *Retention) int { return cmp.Compare(a.Days, b.Days) })
}

func checkReplicationPath(p string) error {
	if !path.IsAbs(p) || strings.ContainsRune(p, 0) {
		return fmt.Errorf("%w: replication path %q is not absolute", types.ErrInvalidData, p)
	}
	return nil
}

// AddFileReplicationSetting creates a setting for path in replication.
func (s *Schema) AddFileReplicationSetting(ctx context.Context, replication int32, p string, backupEnabled, required bool) (int32, error) {
	if err := checkReplicationPath(p); err != nil {
		return 0, err
	}
	return s.FileReplicationSettings.Add(ctx, &FileReplicationSetting{
		Replication:   replication,
		Path:          p,
		BackupEnabled: backupEnabled,
		Required:      required,
	})
}

// SetFileReplicationSetting changes an existing setting.
func (s *Schema) SetFileReplicationSetting(ctx context.Context, pkey int32, p string, backupEnabled, required bool) error {
	if err := checkReplicationPath(p); err != nil {
		return err
	}
	current, err := s.FileReplicationSettings.Get(ctx, pkey)
	if err != nil {
		return err
	}
	updated := *current
	updated.Path = p
	updated.BackupEnabled = backupEnabled
	updated.Required = required
	return s.FileReplicationSettings.Update(ctx, &updated)
}

// RemoveFileReplicationSetting deletes a setting.
func (s *Schema) RemoveFileReplicationSetting(ctx context.Context, pkey int32) error {
	return s.FileReplicationSettings.Remove(ctx, pkey)
}

// FileReplicationSettingsOf returns the settings of one replication, ordered
// by path.
func (s *Schema) FileReplicationSettingsOf(ctx context.Context, replication int32) ([]*FileReplicationSetting, error) {
	rows, err := s.FileReplicationSettings.GetByIndex(ctx, "replication", replication)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(rows, func(a, b *FileReplicationSetting) int { return cmp.Compare(a.Path, b.Path) })
	return rows, nil
}
