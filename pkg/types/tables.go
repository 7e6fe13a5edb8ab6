package types

import "fmt"

// TableID identifies one remote table on the wire. Values are fixed by the
// master and must never be renumbered.
type TableID int32

// Standard table ids.
const (
	LinuxServers                  TableID = 1
	BackupPartitions              TableID = 10
	BackupRetentions              TableID = 11
	BackupFileReplicationSettings TableID = 12
	EmailDomains                  TableID = 20
	EmailAddresses                TableID = 21
	EmailLists                    TableID = 22
	EmailPipes                    TableID = 23
	EmailForwardings              TableID = 24
	EmailListAddresses            TableID = 25
	EmailPipeAddresses            TableID = 26
	WebSites                      TableID = 30
	WebJBossSites                 TableID = 31
)

// tableNames maps each standard table id to its schema-qualified name.
var tableNames = map[TableID]string{
	LinuxServers:                  "linux.servers",
	BackupPartitions:              "backup.partitions",
	BackupRetentions:              "backup.retentions",
	BackupFileReplicationSettings: "backup.file_replication_settings",
	EmailDomains:                  "email.domains",
	EmailAddresses:                "email.addresses",
	EmailLists:                    "email.lists",
	EmailPipes:                    "email.pipes",
	EmailForwardings:              "email.forwardings",
	EmailListAddresses:            "email.list_addresses",
	EmailPipeAddresses:            "email.pipe_addresses",
	WebSites:                      "web.sites",
	WebJBossSites:                 "web.jboss_sites",
}

// StandardTables lists all standard table ids in dependency order: a table
// appears after every table its rows reference.
var StandardTables = []TableID{
	LinuxServers,
	BackupPartitions,
	BackupRetentions,
	BackupFileReplicationSettings,
	EmailDomains,
	EmailAddresses,
	EmailLists,
	EmailPipes,
	EmailForwardings,
	EmailListAddresses,
	EmailPipeAddresses,
	WebSites,
	WebJBossSites,
}

// String returns the schema-qualified table name, or "table#<id>" for ids
// outside the standard set.
func (id TableID) String() string {
	if name, ok := tableNames[id]; ok {
		return name
	}
	return fmt.Sprintf("table#%d", int32(id))
}

// ParseTableName returns the id for a schema-qualified table name.
// Returns ErrTableNotFound if the name is not a standard table.
func ParseTableName(name string) (TableID, error) {
	for id, n := range tableNames {
		if n == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrTableNotFound, name)
}
