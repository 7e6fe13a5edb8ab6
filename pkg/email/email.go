// Package email holds mail domains, addresses and what delivers to them:
// forwardings, lists and pipes.
package email

import (
	"github.com/mesh-intelligence/aoserv/internal/catalog"
	"github.com/mesh-intelligence/aoserv/internal/codec"
	"github.com/mesh-intelligence/aoserv/internal/protocol"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// Domain is a mail domain hosted on one server.
type Domain struct {
	PKey     int32  `json:"pkey"`
	Domain   string `json:"domain"`
	AOServer int32  `json:"ao_server"`
	Package  string `json:"package"`
}

// Address is the local part of an address within a domain.
type Address struct {
	PKey    int32  `json:"pkey"`
	Address string `json:"address"`
	Domain  int32  `json:"domain"`
}

// List is a mailing list stored at Path and owned by a Linux account and
// group.
type List struct {
	PKey               int32  `json:"pkey"`
	Path               string `json:"path"`
	LinuxServerAccount int32  `json:"linux_server_account"`
	LinuxServerGroup   int32  `json:"linux_server_group"`
}

// Pipe delivers mail to a command.
type Pipe struct {
	PKey       int32  `json:"pkey"`
	AOServer   int32  `json:"ao_server"`
	Command    string `json:"command"`
	Package    string `json:"package"`
	DisableLog int32  `json:"disable_log"`
}

// Forwarding sends mail for an address to another destination.
type Forwarding struct {
	PKey         int32  `json:"pkey"`
	EmailAddress int32  `json:"email_address"`
	Destination  string `json:"destination"`
}

// ListAddress delivers an address to a list.
type ListAddress struct {
	PKey         int32 `json:"pkey"`
	EmailAddress int32 `json:"email_address"`
	EmailList    int32 `json:"email_list"`
}

// PipeAddress delivers an address to a pipe.
type PipeAddress struct {
	PKey         int32 `json:"pkey"`
	EmailAddress int32 `json:"email_address"`
	EmailPipe    int32 `json:"email_pipe"`
}

// NotDisabled is the disable_log value of an enabled row.
const NotDisabled = int32(-1)

const (
	legacyPackageID       = int32(-1)
	legacyBackupLevel     = int16(1)
	legacyBackupRetention = int16(7)
)

// DomainSchema is the wire layout of email.domains.
var DomainSchema = codec.MustSchema(types.EmailDomains, "pkey",
	codec.Field[Domain]{Name: "pkey", Kind: codec.KindInt, Ptr: func(d *Domain) any { return &d.PKey }},
	codec.Field[Domain]{Name: "domain", Kind: codec.KindString, Ptr: func(d *Domain) any { return &d.Domain }},
	codec.Field[Domain]{Name: "ao_server", Kind: codec.KindInt, Ptr: func(d *Domain) any { return &d.AOServer }},
	codec.Field[Domain]{Name: "package_id", Kind: codec.KindInt, Until: protocol.V1_0A122, Legacy: legacyPackageID},
	codec.Field[Domain]{Name: "package", Kind: codec.KindString, Since: protocol.V1_0A123, Intern: true, Ptr: func(d *Domain) any { return &d.Package }},
)

// AddressSchema is the wire layout of email.addresses.
var AddressSchema = codec.MustSchema(types.EmailAddresses, "pkey",
	codec.Field[Address]{Name: "pkey", Kind: codec.KindInt, Ptr: func(a *Address) any { return &a.PKey }},
	codec.Field[Address]{Name: "address", Kind: codec.KindString, Ptr: func(a *Address) any { return &a.Address }},
	codec.Field[Address]{Name: "domain", Kind: codec.KindInt, Ptr: func(a *Address) any { return &a.Domain }},
)

// ListSchema is the wire layout of email.lists.
var ListSchema = codec.MustSchema(types.EmailLists, "pkey",
	codec.Field[List]{Name: "pkey", Kind: codec.KindInt, Ptr: func(l *List) any { return &l.PKey }},
	codec.Field[List]{Name: "path", Kind: codec.KindString, Ptr: func(l *List) any { return &l.Path }},
	codec.Field[List]{Name: "linux_server_account", Kind: codec.KindInt, Ptr: func(l *List) any { return &l.LinuxServerAccount }},
	codec.Field[List]{Name: "linux_server_group", Kind: codec.KindInt, Ptr: func(l *List) any { return &l.LinuxServerGroup }},
	codec.Field[List]{Name: "backup_level", Kind: codec.KindShort, Until: protocol.V1_30, Legacy: legacyBackupLevel},
	codec.Field[List]{Name: "backup_retention", Kind: codec.KindShort, Until: protocol.V1_30, Legacy: legacyBackupRetention},
)

// PipeSchema is the wire layout of email.pipes.
var PipeSchema = codec.MustSchema(types.EmailPipes, "pkey",
	codec.Field[Pipe]{Name: "pkey", Kind: codec.KindInt, Ptr: func(p *Pipe) any { return &p.PKey }},
	codec.Field[Pipe]{Name: "ao_server", Kind: codec.KindInt, Ptr: func(p *Pipe) any { return &p.AOServer }},
	codec.Field[Pipe]{Name: "command", Kind: codec.KindString, Ptr: func(p *Pipe) any { return &p.Command }},
	codec.Field[Pipe]{Name: "package", Kind: codec.KindString, Intern: true, Ptr: func(p *Pipe) any { return &p.Package }},
	codec.Field[Pipe]{Name: "disable_log", Kind: codec.KindInt, Since: protocol.V1_0A104, Default: NotDisabled, Ptr: func(p *Pipe) any { return &p.DisableLog }},
)

// ForwardingSchema is the wire layout of email.forwardings.
var ForwardingSchema = codec.MustSchema(types.EmailForwardings, "pkey",
	codec.Field[Forwarding]{Name: "pkey", Kind: codec.KindInt, Ptr: func(f *Forwarding) any { return &f.PKey }},
	codec.Field[Forwarding]{Name: "email_address", Kind: codec.KindInt, Ptr: func(f *Forwarding) any { return &f.EmailAddress }},
	codec.Field[Forwarding]{Name: "destination", Kind: codec.KindString, Ptr: func(f *Forwarding) any { return &f.Destination }},
)

// ListAddressSchema is the wire layout of email.list_addresses.
var ListAddressSchema = codec.MustSchema(types.EmailListAddresses, "pkey",
	codec.Field[ListAddress]{Name: "pkey", Kind: codec.KindInt, Ptr: func(l *ListAddress) any { return &l.PKey }},
	codec.Field[ListAddress]{Name: "email_address", Kind: codec.KindInt, Ptr: func(l *ListAddress) any { return &l.EmailAddress }},
	codec.Field[ListAddress]{Name: "email_list", Kind: codec.KindInt, Ptr: func(l *ListAddress) any { return &l.EmailList }},
)

// PipeAddressSchema is the wire layout of email.pipe_addresses.
var PipeAddressSchema = codec.MustSchema(types.EmailPipeAddresses, "pkey",
	codec.Field[PipeAddress]{Name: "pkey", Kind: codec.KindInt, Ptr: func(p *PipeAddress) any { return &p.PKey }},
	codec.Field[PipeAddress]{Name: "email_address", Kind: codec.KindInt, Ptr: func(p *PipeAddress) any { return &p.EmailAddress }},
	codec.Field[PipeAddress]{Name: "email_pipe", Kind: codec.KindInt, Ptr: func(p *PipeAddress) any { return &p.EmailPipe }},
)

// Definitions returns the catalog entries of this package.
func Definitions() []catalog.Definition {
	return []catalog.Definition{
		{
			ID: types.EmailDomains, Codec: DomainSchema, AutoKey: true,
			References: []catalog.Reference{
				{Column: "ao_server", Target: types.LinuxServers, Description: "email domain hosted on server"},
			},
		},
		{
			ID: types.EmailAddresses, Codec: AddressSchema, AutoKey: true,
			References: []catalog.Reference{
				{Column: "domain", Target: types.EmailDomains, Description: "email address in domain"},
			},
		},
		{ID: types.EmailLists, Codec: ListSchema, AutoKey: true},
		{
			ID: types.EmailPipes, Codec: PipeSchema, AutoKey: true,
			References: []catalog.Reference{
				{Column: "ao_server", Target: types.LinuxServers, Description: "email pipe runs on server"},
			},
		},
		{
			ID: types.EmailForwardings, Codec: ForwardingSchema, AutoKey: true,
			References: []catalog.Reference{
				{Column: "email_address", Target: types.EmailAddresses, Description: "forwarding from address"},
			},
		},
		{
			ID: types.EmailListAddresses, Codec: ListAddressSchema, AutoKey: true,
			References: []catalog.Reference{
				{Column: "email_address", Target: types.EmailAddresses, Description: "address delivers to list"},
				{Column: "email_list", Target: types.EmailLists, Description: "list receives from address"},
			},
			Invalidates: []types.TableID{types.EmailLists},
		},
		{
			ID: types.EmailPipeAddresses, Codec: PipeAddressSchema, AutoKey: true,
			References: []catalog.Reference{
				{Column: "email_address", Target: types.EmailAddresses, Description: "address delivers to pipe"},
				{Column: "email_pipe", Target: types.EmailPipes, Description: "pipe receives from address"},
			},
			Invalidates: []types.TableID{types.EmailPipes},
		},
	}
}
