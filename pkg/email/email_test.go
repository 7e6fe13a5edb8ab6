package email

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/aoserv/internal/codec"
	"github.com/mesh-intelligence/aoserv/internal/mastertest"
	"github.com/mesh-intelligence/aoserv/internal/protocol"
	"github.com/mesh-intelligence/aoserv/pkg/linux"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

func TestDomainPackageAcrossVersions(t *testing.T) {
	row := &Domain{PKey: 4, Domain: "example.com", AOServer: 2, Package: "AOINDUSTRIES"}

	old := codec.NewWriter()
	require.NoError(t, DomainSchema.Encode(old, row, protocol.V1_0A122))
	r := codec.NewReader(old.Bytes(), nil)
	assert.Equal(t, int32(4), r.ReadCompressedInt())
	assert.Equal(t, "example.com", r.ReadUTF())
	assert.Equal(t, int32(2), r.ReadCompressedInt())
	assert.Equal(t, int32(-1), r.ReadCompressedInt())
	require.NoError(t, r.Err())
	assert.Equal(t, 0, r.Remaining())

	got, err := DomainSchema.Decode(codec.NewReader(old.Bytes(), nil), protocol.V1_0A122)
	require.NoError(t, err)
	assert.Empty(t, got.Package)

	current := codec.NewWriter()
	require.NoError(t, DomainSchema.Encode(current, row, protocol.V1_0A123))
	got, err = DomainSchema.Decode(codec.NewReader(current.Bytes(), nil), protocol.V1_0A123)
	require.NoError(t, err)
	assert.Equal(t, row, got)
}

func TestPipeDisableLogDefault(t *testing.T) {
	row := &Pipe{PKey: 1, AOServer: 2, Command: "/usr/bin/procmail", Package: "AO", DisableLog: 9}
	w := codec.NewWriter()
	require.NoError(t, PipeSchema.Encode(w, row, protocol.Oldest))
	got, err := PipeSchema.Decode(codec.NewReader(w.Bytes(), nil), protocol.Oldest)
	require.NoError(t, err)
	assert.Equal(t, NotDisabled, got.DisableLog)
}

func TestValidation(t *testing.T) {
	domains := map[string]bool{
		"example.com":     true,
		"a-b.example.org": true,
		"":                false,
		".example.com":    false,
		"example..com":    false,
		"-bad.com":        false,
		"under_score.com": false,
	}
	for name, want := range domains {
		assert.Equal(t, want, validDomain(name), name)
	}
	assert.True(t, validLocalPart("info"))
	assert.False(t, validLocalPart("in fo"))
	assert.False(t, validLocalPart("a@b"))
}

type fixture struct {
	ctx    context.Context
	lx     *linux.Schema
	s      *Schema
	server int32
}

func setup(t *testing.T) *fixture {
	t.Helper()
	m := mastertest.Start(t, append(linux.Definitions(), Definitions()...)...)
	c := m.Connect(t)
	lx := linux.NewSchema(c)
	ctx := context.Background()
	server, err := lx.AddServer(ctx, "mail.example.com", "fc", "")
	require.NoError(t, err)
	return &fixture{ctx: ctx, lx: lx, s: NewSchema(c, lx), server: server}
}

func TestSchema(t *testing.T) {
	tests := []struct {
		name  string
		check func(t *testing.T, f *fixture)
	}{
		{
			name: "domains and addresses",
			check: func(t *testing.T, f *fixture) {
				d, err := f.s.AddDomain(f.ctx, " Example.COM ", f.server, "AO")
				require.NoError(t, err)
				_, err = f.s.AddDomain(f.ctx, "example.com", f.server, "AO")
				assert.ErrorIs(t, err, types.ErrDuplicateKey)
				_, err = f.s.AddDomain(f.ctx, "bad_domain", f.server, "AO")
				assert.ErrorIs(t, err, types.ErrInvalidData)

				info, err := f.s.AddAddress(f.ctx, "Info", d)
				require.NoError(t, err)
				_, err = f.s.AddAddress(f.ctx, "abuse", d)
				require.NoError(t, err)
				_, err = f.s.AddAddress(f.ctx, "info", d)
				assert.ErrorIs(t, err, types.ErrDuplicateKey)

				a, err := f.s.Address(f.ctx, info)
				require.NoError(t, err)
				full, err := f.s.FullAddress(f.ctx, a)
				require.NoError(t, err)
				assert.Equal(t, "info@example.com", full)

				rows, err := f.s.AddressesIn(f.ctx, d)
				require.NoError(t, err)
				require.Len(t, rows, 2)
				assert.Equal(t, "abuse", rows[0].Address)
				assert.Equal(t, "info", rows[1].Address)

				dom, err := f.s.DomainByName(f.ctx, f.server, "EXAMPLE.com")
				require.NoError(t, err)
				srv, err := f.s.DomainServer(f.ctx, dom)
				require.NoError(t, err)
				assert.Equal(t, "mail.example.com", srv.Hostname)
			},
		},
		{
			name: "domain removal blocked by addresses",
			check: func(t *testing.T, f *fixture) {
				d, err := f.s.AddDomain(f.ctx, "example.net", f.server, "AO")
				require.NoError(t, err)
				a, err := f.s.AddAddress(f.ctx, "postmaster", d)
				require.NoError(t, err)

				err = f.s.RemoveDomain(f.ctx, d)
				var blocked *types.CannotRemoveError
				require.ErrorAs(t, err, &blocked)
				require.Len(t, blocked.Reasons, 1)
				assert.Equal(t, types.EmailAddresses, blocked.Reasons[0].Table)
				assert.Equal(t, "email address in domain", blocked.Reasons[0].Description)

				require.NoError(t, f.s.RemoveAddress(f.ctx, a))
				require.NoError(t, f.s.RemoveDomain(f.ctx, d))
				_, err = f.s.Domain(f.ctx, d)
				assert.ErrorIs(t, err, types.ErrNotFound)
			},
		},
		{
			name: "forwardings",
			check: func(t *testing.T, f *fixture) {
				d, err := f.s.AddDomain(f.ctx, "example.org", f.server, "AO")
				require.NoError(t, err)
				a, err := f.s.AddAddress(f.ctx, "sales", d)
				require.NoError(t, err)

				second, err := f.s.AddForwarding(f.ctx, a, "zed@example.com")
				require.NoError(t, err)
				_, err = f.s.AddForwarding(f.ctx, a, "amy@example.com")
				require.NoError(t, err)
				_, err = f.s.AddForwarding(f.ctx, a, "nobody")
				assert.ErrorIs(t, err, types.ErrInvalidData)
				_, err = f.s.AddForwarding(f.ctx, 999, "amy@example.com")
				assert.ErrorIs(t, err, types.ErrNotFound)

				rows, err := f.s.ForwardingsOf(f.ctx, a)
				require.NoError(t, err)
				require.Len(t, rows, 2)
				assert.Equal(t, "amy@example.com", rows[0].Destination)

				reasons, err := f.s.Addresses.CannotRemoveReasons(f.ctx, a)
				require.NoError(t, err)
				assert.Len(t, reasons, 2)

				require.NoError(t, f.s.RemoveForwarding(f.ctx, second))
				rows, err = f.s.ForwardingsOf(f.ctx, a)
				require.NoError(t, err)
				assert.Len(t, rows, 1)
			},
		},
		{
			name: "lists and pipes",
			check: func(t *testing.T, f *fixture) {
				d, err := f.s.AddDomain(f.ctx, "lists.example.com", f.server, "AO")
				require.NoError(t, err)
				a, err := f.s.AddAddress(f.ctx, "announce", d)
				require.NoError(t, err)

				list, err := f.s.AddList(f.ctx, "/etc/mail/lists/announce", 100, 200)
				require.NoError(t, err)
				_, err = f.s.AddList(f.ctx, "/etc/mail/lists/announce", 100, 200)
				assert.ErrorIs(t, err, types.ErrDuplicateKey)
				_, err = f.s.AddList(f.ctx, "relative", 100, 200)
				assert.ErrorIs(t, err, types.ErrInvalidData)

				_, err = f.s.AddListAddress(f.ctx, a, list)
				require.NoError(t, err)
				members, err := f.s.ListAddressesOf(f.ctx, list)
				require.NoError(t, err)
				require.Len(t, members, 1)
				assert.Equal(t, a, members[0].EmailAddress)

				found, err := f.s.ListByPath(f.ctx, "/etc/mail/lists/announce")
				require.NoError(t, err)
				assert.Equal(t, list, found.PKey)
				assert.Equal(t, types.Fresh, f.s.Lists.State())

				pipe, err := f.s.AddPipe(f.ctx, f.server, " /usr/bin/autoreply ", "AO")
				require.NoError(t, err)
				_, err = f.s.AddPipe(f.ctx, f.server, "  ", "AO")
				assert.ErrorIs(t, err, types.ErrInvalidData)
				_, err = f.s.AddPipeAddress(f.ctx, a, pipe)
				require.NoError(t, err)

				p, err := f.s.Pipe(f.ctx, pipe)
				require.NoError(t, err)
				assert.Equal(t, "/usr/bin/autoreply", p.Command)
				assert.Equal(t, NotDisabled, p.DisableLog)
				srv, err := f.s.PipeServer(f.ctx, p)
				require.NoError(t, err)
				assert.Equal(t, f.server, srv.Server)

				via, err := f.s.PipeAddressesOf(f.ctx, pipe)
				require.NoError(t, err)
				assert.Len(t, via, 1)

				reasons, err := f.s.Addresses.CannotRemoveReasons(f.ctx, a)
				require.NoError(t, err)
				assert.Len(t, reasons, 2)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, setup(t))
		})
	}
}

func TestListAddressInvalidatesLists(t *testing.T) {
	f := setup(t)
	d, err := f.s.AddDomain(f.ctx, "example.com", f.server, "AO")
	require.NoError(t, err)
	a, err := f.s.AddAddress(f.ctx, "team", d)
	require.NoError(t, err)
	list, err := f.s.AddList(f.ctx, "/lists/team", 1, 1)
	require.NoError(t, err)

	_, err = f.s.List(f.ctx, list)
	require.NoError(t, err)
	require.Equal(t, types.Fresh, f.s.Lists.State())

	_, err = f.s.AddListAddress(f.ctx, a, list)
	require.NoError(t, err)
	assert.Equal(t, types.Stale, f.s.Lists.State())
}
