package email

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/mesh-intelligence/aoserv/internal/connector"
	"github.com/mesh-intelligence/aoserv/internal/rowstore"
	"github.com/mesh-intelligence/aoserv/pkg/linux"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// Schema gives typed access to the email tables.
type Schema struct {
	Domains       *connector.Table[int32, Domain]
	Addresses     *connector.Table[int32, Address]
	Lists         *connector.Table[int32, List]
	Pipes         *connector.Table[int32, Pipe]
	Forwardings   *connector.Table[int32, Forwarding]
	ListAddresses *connector.Table[int32, ListAddress]
	PipeAddresses *connector.Table[int32, PipeAddress]

	linux *linux.Schema
}

// NewSchema registers the email tables with c.
func NewSchema(c *connector.Connector, lx *linux.Schema) *Schema {
	return &Schema{
		Domains: connector.NewTable[int32](c, DomainSchema,
			rowstore.WithIndex("ao_server", func(d *Domain) any { return d.AOServer }),
			rowstore.WithIndex("domain", func(d *Domain) any { return d.Domain }),
		),
		Addresses: connector.NewTable[int32](c, AddressSchema,
			rowstore.WithIndex("domain", func(a *Address) any { return a.Domain }),
		),
		Lists: connector.NewTable[int32](c, ListSchema,
			rowstore.WithIndex("path", func(l *List) any { return l.Path }),
		),
		Pipes: connector.NewTable[int32](c, PipeSchema,
			rowstore.WithIndex("ao_server", func(p *Pipe) any { return p.AOServer }),
		),
		Forwardings: connector.NewTable[int32](c, ForwardingSchema,
			rowstore.WithIndex("email_address", func(f *Forwarding) any { return f.EmailAddress }),
		),
		ListAddresses: connector.NewTable[int32](c, ListAddressSchema,
			rowstore.WithIndex("email_address", func(l *ListAddress) any { return l.EmailAddress }),
			rowstore.WithIndex("email_list", func(l *ListAddress) any { return l.EmailList }),
		),
		PipeAddresses: connector.NewTable[int32](c, PipeAddressSchema,
			rowstore.WithIndex("email_address", func(p *PipeAddress) any { return p.EmailAddress }),
			rowstore.WithIndex("email_pipe", func(p *PipeAddress) any { return p.EmailPipe }),
		),
		linux: lx,
	}
}

func validDomain(name string) bool {
	if name == "" || len(name) > 253 || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	for _, label := range strings.Split(name, ".") {
		if label == "" || len(label) > 63 || label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
				return false
			}
		}
	}
	return true
}

func validLocalPart(local string) bool {
	if local == "" || len(local) > 64 {
		return false
	}
	return !strings.ContainsAny(local, "@ \t\r\n<>,;\"")
}

// Domain returns the domain with the given key.
func (s *Schema) Domain(ctx context.Context, pkey int32) (*Domain, error) {
	return s.Domains.Get(ctx, pkey)
}

// DomainServer resolves the server hosting d.
func (s *Schema) DomainServer(ctx context.Context, d *Domain) (*linux.Server, error) {
	srv, err := s.linux.Server(ctx, d.AOServer)
	if err != nil {
		return nil, fmt.Errorf("email domain %q: %w", d.Domain, err)
	}
	return srv, nil
}

// DomainByName finds a domain hosted on server.
func (s *Schema) DomainByName(ctx context.Context, server int32, name string) (*Domain, error) {
	rows, err := s.Domains.GetByIndex(ctx, "domain", strings.ToLower(name))
	if err != nil {
		return nil, err
	}
	for _, d := range rows {
		if d.AOServer == server {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: email domain %q on server %d", types.ErrNotFound, name, server)
}

// DomainsOn returns the domains hosted on one server.
func (s *Schema) DomainsOn(ctx context.Context, server int32) ([]*Domain, error) {
	return s.Domains.GetByIndex(ctx, "ao_server", server)
}

// SortedDomains returns every domain ordered by name, then server.
func (s *Schema) SortedDomains(ctx context.Context) ([]*Domain, error) {
	return s.Domains.Sorted(ctx, func(a, b *Domain) int {
		return cmp.Or(cmp.Compare(a.Domain, b.Domain), cmp.Compare(a.AOServer, b.AOServer))
	})
}

// AddDomain creates a domain on server owned by pkg.
func (s *Schema) AddDomain(ctx context.Context, name string, server int32, pkg string) (int32, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !validDomain(name) {
		return 0, fmt.Errorf("%w: invalid email domain %q", types.ErrInvalidData, name)
	}
	if pkg == "" {
		return 0, fmt.Errorf("%w: email domain %q has no package", types.ErrInvalidData, name)
	}
	if _, err := s.DomainByName(ctx, server, name); err == nil {
		return 0, fmt.Errorf("%w: email domain %q on server %d", types.ErrDuplicateKey, name, server)
	}
	return s.Domains.Add(ctx, &Domain{Domain: name, AOServer: server, Package: pkg})
}

// RemoveDomain deletes a domain. It fails while addresses remain.
func (s *Schema) RemoveDomain(ctx context.Context, pkey int32) error {
	return s.Domains.Remove(ctx, pkey)
}

// Address returns the address with the given key.
func (s *Schema) Address(ctx context.Context, pkey int32) (*Address, error) {
	return s.Addresses.Get(ctx, pkey)
}

// AddressDomain resolves the domain of a.
func (s *Schema) AddressDomain(ctx context.Context, a *Address) (*Domain, error) {
	d, err := s.Domain(ctx, a.Domain)
	if err != nil {
		return nil, fmt.Errorf("email address %d: %w", a.PKey, err)
	}
	return d, nil
}

// FullAddress renders a as local@domain.
func (s *Schema) FullAddress(ctx context.Context, a *Address) (string, error) {
	d, err := s.AddressDomain(ctx, a)
	if err != nil {
		return "", err
	}
	return a.Address + "@" + d.Domain, nil
}

// AddressesIn returns the addresses of one domain ordered by local part.
func (s *Schema) AddressesIn(ctx context.Context, domain int32) ([]*Address, error) {
	rows, err := s.Addresses.GetByIndex(ctx, "domain", domain)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(rows, func(a, b *Address) int { return cmp.Compare(a.Address, b.Address) })
	return rows, nil
}

// AddressByName finds the address with local part in domain.
func (s *Schema) AddressByName(ctx context.Context, domain int32, local string) (*Address, error) {
	rows, err := s.Addresses.GetByIndex(ctx, "domain", domain)
	if err != nil {
		return nil, err
	}
	local = strings.ToLower(local)
	for _, a := range rows {
		if a.Address == local {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: email address %q in domain %d", types.ErrNotFound, local, domain)
}

// AddAddress creates local@domain.
func (s *Schema) AddAddress(ctx context.Context, local string, domain int32) (int32, error) {
	local = strings.ToLower(strings.TrimSpace(local))
	if !validLocalPart(local) {
		return 0, fmt.Errorf("%w: invalid email address %q", types.ErrInvalidData, local)
	}
	if _, err := s.AddressByName(ctx, domain, local); err == nil {
		return 0, fmt.Errorf("%w: email address %q in domain %d", types.ErrDuplicateKey, local, domain)
	}
	return s.Addresses.Add(ctx, &Address{Address: local, Domain: domain})
}

// RemoveAddress deletes an address. It fails while anything delivers
// from it.
func (s *Schema) RemoveAddress(ctx context.Context, pkey int32) error {
	return s.Addresses.Remove(ctx, pkey)
}

// ForwardingsOf returns the forwardings of one address ordered by
// destination.
func (s *Schema) ForwardingsOf(ctx context.Context, address int32) ([]*Forwarding, error) {
	rows, err := s.Forwardings.GetByIndex(ctx, "email_address", address)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(rows, func(a, b *Forwarding) int { return cmp.Compare(a.Destination, b.Destination) })
	return rows, nil
}

// AddForwarding forwards mail for address to destination.
func (s *Schema) AddForwarding(ctx context.Context, address int32, destination string) (int32, error) {
	destination = strings.TrimSpace(destination)
	at := strings.LastIndexByte(destination, '@')
	if at <= 0 || !validLocalPart(destination[:at]) || !validDomain(strings.ToLower(destination[at+1:])) {
		return 0, fmt.Errorf("%w: invalid forwarding destination %q", types.ErrInvalidData, destination)
	}
	return s.Forwardings.Add(ctx, &Forwarding{EmailAddress: address, Destination: destination})
}

// RemoveForwarding deletes a forwarding.
func (s *Schema) RemoveForwarding(ctx context.Context, pkey int32) error {
	return s.Forwardings.Remove(ctx, pkey)
}

// List returns the list with the given key.
func (s *Schema) List(ctx context.Context, pkey int32) (*List, error) {
	return s.Lists.Get(ctx, pkey)
}

// ListByPath finds the list stored at path.
func (s *Schema) ListByPath(ctx context.Context, path string) (*List, error) {
	rows, err := s.Lists.GetByIndex(ctx, "path", path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: email list %q", types.ErrNotFound, path)
	}
	return rows[0], nil
}

// AddList creates a list stored at path.
func (s *Schema) AddList(ctx context.Context, path string, account, group int32) (int32, error) {
	if !strings.HasPrefix(path, "/") {
		return 0, fmt.Errorf("%w: email list path %q is not absolute", types.ErrInvalidData, path)
	}
	if _, err := s.ListByPath(ctx, path); err == nil {
		return 0, fmt.Errorf("%w: email list %q", types.ErrDuplicateKey, path)
	}
	return s.Lists.Add(ctx, &List{Path: path, LinuxServerAccount: account, LinuxServerGroup: group})
}

// AddListAddress delivers address to list.
func (s *Schema) AddListAddress(ctx context.Context, address, list int32) (int32, error) {
	return s.ListAddresses.Add(ctx, &ListAddress{EmailAddress: address, EmailList: list})
}

// ListAddressesOf returns what delivers to one list.
func (s *Schema) ListAddressesOf(ctx context.Context, list int32) ([]*ListAddress, error) {
	return s.ListAddresses.GetByIndex(ctx, "email_list", list)
}

// Pipe returns the pipe with the given key.
func (s *Schema) Pipe(ctx context.Context, pkey int32) (*Pipe, error) {
	return s.Pipes.Get(ctx, pkey)
}

// PipeServer resolves the server p runs on.
func (s *Schema) PipeServer(ctx context.Context, p *Pipe) (*linux.Server, error) {
	srv, err := s.linux.Server(ctx, p.AOServer)
	if err != nil {
		return nil, fmt.Errorf("email pipe %d: %w", p.PKey, err)
	}
	return srv, nil
}

// AddPipe creates a pipe running command on server.
func (s *Schema) AddPipe(ctx context.Context, server int32, command, pkg string) (int32, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return 0, fmt.Errorf("%w: email pipe has no command", types.ErrInvalidData)
	}
	return s.Pipes.Add(ctx, &Pipe{AOServer: server, Command: command, Package: pkg, DisableLog: NotDisabled})
}

// AddPipeAddress delivers address to pipe.
func (s *Schema) AddPipeAddress(ctx context.Context, address, pipe int32) (int32, error) {
	return s.PipeAddresses.Add(ctx, &PipeAddress{EmailAddress: address, EmailPipe: pipe})
}

// PipeAddressesOf returns what delivers to one pipe.
func (s *Schema) PipeAddressesOf(ctx context.Context, pipe int32) ([]*PipeAddress, error) {
	return s.PipeAddresses.GetByIndex(ctx, "email_pipe", pipe)
}
