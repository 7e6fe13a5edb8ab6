// Package linux holds the servers every other table hangs off.
package linux

import (
	"cmp"
	"context"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/aoserv/internal/catalog"
	"github.com/mesh-intelligence/aoserv/internal/codec"
	"github.com/mesh-intelligence/aoserv/internal/connector"
	"github.com/mesh-intelligence/aoserv/internal/protocol"
	"github.com/mesh-intelligence/aoserv/internal/rowstore"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// Server is one managed Linux server.
type Server struct {
	Server            int32  `json:"server"`
	Hostname          string `json:"hostname"`
	Farm              string `json:"farm"`
	Description       string `json:"description"`
	MonitoringEnabled bool   `json:"monitoring_enabled"`
}

// legacyBackupHour is the fixed nightly backup hour old clients expect.
const legacyBackupHour = int32(2)

// ServerSchema is the wire layout of linux.servers.
var ServerSchema = codec.MustSchema(types.LinuxServers, "server",
	codec.Field[Server]{Name: "server", Kind: codec.KindInt, Ptr: func(s *Server) any { return &s.Server }},
	codec.Field[Server]{Name: "hostname", Kind: codec.KindString, Ptr: func(s *Server) any { return &s.Hostname }},
	codec.Field[Server]{Name: "farm", Kind: codec.KindString, Intern: true, Ptr: func(s *Server) any { return &s.Farm }},
	codec.Field[Server]{Name: "description", Kind: codec.KindString, Since: protocol.V1_0A117, Ptr: func(s *Server) any { return &s.Description }},
	codec.Field[Server]{Name: "backup_hour", Kind: codec.KindInt, Until: protocol.V1_30, Legacy: legacyBackupHour},
	codec.Field[Server]{Name: "monitoring_enabled", Kind: codec.KindBool, Since: protocol.V1_0A126, Default: true, Ptr: func(s *Server) any { return &s.MonitoringEnabled }},
)

// Definitions returns the catalog entries of this package.
func Definitions() []catalog.Definition {
	return []catalog.Definition{
		{ID: types.LinuxServers, Codec: ServerSchema, AutoKey: true},
	}
}

// CompareServers orders servers by hostname.
func CompareServers(a, b *Server) int {
	return cmp.Or(
		cmp.Compare(a.Hostname, b.Hostname),
		cmp.Compare(a.Server, b.Server),
	)
}

// Schema gives typed access to the linux tables.
type Schema struct {
	Servers *connector.Table[int32, Server]
}

// NewSchema registers the linux tables with c.
func NewSchema(c *connector.Connector) *Schema {
	return &Schema{
		Servers: connector.NewTable[int32](c, ServerSchema,
			rowstore.WithIndex("hostname", func(s *Server) any { return s.Hostname }),
		),
	}
}

// Server returns the server with the given id. The error names the id when
// it does not exist, so callers dereferencing a foreign key see which
// reference is dangling.
func (s *Schema) Server(ctx context.Context, id int32) (*Server, error) {
	srv, err := s.Servers.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("linux server %d: %w", id, err)
	}
	return srv, nil
}

// ServerByHostname finds a server by its hostname.
func (s *Schema) ServerByHostname(ctx context.Context, hostname string) (*Server, error) {
	rows, err := s.Servers.GetByIndex(ctx, "hostname", hostname)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: linux server %q", types.ErrNotFound, hostname)
	}
	return rows[0], nil
}

// SortedServers returns every server in hostname order.
func (s *Schema) SortedServers(ctx context.Context) ([]*Server, error) {
	return s.Servers.Sorted(ctx, CompareServers)
}

// AddServer creates a server and returns its id.
func (s *Schema) AddServer(ctx context.Context, hostname, farm, description string) (int32, error) {
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" || strings.ContainsAny(hostname, " /@") {
		return 0, fmt.Errorf("%w: hostname %q", types.ErrInvalidData, hostname)
	}
	return s.Servers.Add(ctx, &Server{
		Hostname:          hostname,
		Farm:              farm,
		Description:       description,
		MonitoringEnabled: true,
	})
}
