// Package types defines the Connector and Table interfaces, table ids,
// configuration, and the standard errors of the aoserv table client.
//
// Rows are immutable snapshots of one remote table row. They are created only
// by decoding a master response and are replaced wholesale when their table
// is re-fetched.
package types
