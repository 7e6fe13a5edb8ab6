// Package aoserv is the entry point for programs talking to a master. A
// Client attaches to a master over the configured transport and exposes
// every table through typed sub-schemas and the generic types.Table view.
package aoserv

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/aoserv/internal/catalog"
	"github.com/mesh-intelligence/aoserv/internal/codec"
	"github.com/mesh-intelligence/aoserv/internal/connector"
	"github.com/mesh-intelligence/aoserv/internal/master"
	"github.com/mesh-intelligence/aoserv/internal/protocol"
	"github.com/mesh-intelligence/aoserv/internal/wire"
	"github.com/mesh-intelligence/aoserv/pkg/backup"
	"github.com/mesh-intelligence/aoserv/pkg/email"
	"github.com/mesh-intelligence/aoserv/pkg/linux"
	"github.com/mesh-intelligence/aoserv/pkg/types"
	"github.com/mesh-intelligence/aoserv/pkg/web"
)

// preloadLimit bounds the fetches Preload runs at once.
const preloadLimit = 4

// Definitions returns the catalog entries of every standard table.
func Definitions() []catalog.Definition {
	var defs []catalog.Definition
	defs = append(defs, linux.Definitions()...)
	defs = append(defs, backup.Definitions()...)
	defs = append(defs, email.Definitions()...)
	defs = append(defs, web.Definitions()...)
	return defs
}

// Catalog builds the catalog of every standard table.
func Catalog() (*catalog.Catalog, error) {
	return catalog.New(Definitions()...)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger shared by the connector and a local master.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRegisterer registers client metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.registerer = reg }
}

// Client implements types.Connector.
type Client struct {
	logger     logrus.FieldLogger
	registerer prometheus.Registerer
	metrics    *connector.Metrics
	interner   *codec.Interner

	mu      sync.RWMutex
	conn    *connector.Connector
	backend *master.Backend
	tables  map[string]types.Table

	linux  *linux.Schema
	backup *backup.Schema
	email  *email.Schema
	web    *web.Schema
}

var _ types.Connector = (*Client)(nil)

// New returns a detached Client.
func New(opts ...Option) *Client {
	c := &Client{interner: codec.NewInterner()}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		c.logger = l
	}
	if c.registerer == nil {
		c.registerer = prometheus.NewRegistry()
	}
	c.metrics = connector.NewMetrics(c.registerer)
	return c
}

// Attach connects to the master described by config.
func (c *Client) Attach(ctx context.Context, config types.Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	version := protocol.Current
	if config.ProtocolVersion != "" {
		v, err := protocol.Parse(config.ProtocolVersion)
		if err != nil {
			return err
		}
		version = v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return types.ErrAlreadyAttached
	}

	var transport wire.Transport
	var backend *master.Backend
	switch config.Transport {
	case types.TransportLocal:
		cat, err := Catalog()
		if err != nil {
			return err
		}
		backend = master.NewBackend(cat, master.WithLogger(c.logger))
		if err := backend.Attach(config); err != nil {
			return fmt.Errorf("attaching local master: %w", err)
		}
		transport = wire.NewLocalTransport(backend)
	case types.TransportTCP:
		t, err := wire.Dial(ctx, config.Address)
		if err != nil {
			return err
		}
		transport = t
	}

	conn := connector.New(transport,
		connector.WithLogger(c.logger),
		connector.WithMetrics(c.metrics),
		connector.WithVersion(version),
		connector.WithInterner(c.interner),
	)
	if err := conn.Handshake(ctx); err != nil {
		_ = conn.Close()
		if backend != nil {
			_ = backend.Detach()
		}
		return err
	}

	c.conn = conn
	c.backend = backend
	c.linux = linux.NewSchema(conn)
	c.backup = backup.NewSchema(conn, c.linux)
	c.email = email.NewSchema(conn, c.linux)
	c.web = web.NewSchema(conn, c.linux)
	c.tables = make(map[string]types.Table)
	for _, t := range []types.Table{
		c.linux.Servers,
		c.backup.Partitions, c.backup.Retentions, c.backup.FileReplicationSettings,
		c.email.Domains, c.email.Addresses, c.email.Lists, c.email.Pipes,
		c.email.Forwardings, c.email.ListAddresses, c.email.PipeAddresses,
		c.web.Sites, c.web.JBossSites,
	} {
		c.tables[t.Name()] = t
	}
	return nil
}

// Detach closes the transport and, for the local transport, the master.
// Tables handed out before Detach fail with ErrDetached afterwards.
func (c *Client) Detach() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	if c.backend != nil {
		if derr := c.backend.Detach(); err == nil {
			err = derr
		}
	}
	c.conn = nil
	c.backend = nil
	return err
}

// Version returns the negotiated protocol version, zero when detached.
func (c *Client) Version() protocol.Version {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return 0
	}
	return c.conn.Version()
}

// Metrics returns the client metrics. They survive Detach.
func (c *Client) Metrics() *connector.Metrics { return c.metrics }

// GetTable returns the table with the schema-qualified name.
func (c *Client) GetTable(name string) (types.Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil, types.ErrDetached
	}
	t, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrTableNotFound, name)
	}
	return t, nil
}

// Tables returns every table in dependency order.
func (c *Client) Tables() ([]types.Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil, types.ErrDetached
	}
	out := make([]types.Table, 0, len(types.StandardTables))
	for _, id := range types.StandardTables {
		out = append(out, c.tables[id.String()])
	}
	return out, nil
}

// Preload fetches the named tables, or every table when names is empty.
// Fetches run concurrently and the first failure cancels the rest.
func (c *Client) Preload(ctx context.Context, names ...string) error {
	var tables []types.Table
	if len(names) == 0 {
		all, err := c.Tables()
		if err != nil {
			return err
		}
		tables = all
	}
	for _, name := range names {
		t, err := c.GetTable(name)
		if err != nil {
			return err
		}
		tables = append(tables, t)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(preloadLimit)
	for _, t := range tables {
		g.Go(func() error {
			if _, err := t.Fetch(ctx, nil); err != nil {
				return fmt.Errorf("preloading %s: %w", t.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Linux returns the linux sub-schema, nil when detached.
func (c *Client) Linux() *linux.Schema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil
	}
	return c.linux
}

// Backup returns the backup sub-schema, nil when detached.
func (c *Client) Backup() *backup.Schema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil
	}
	return c.backup
}

// Email returns the email sub-schema, nil when detached.
func (c *Client) Email() *email.Schema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil
	}
	return c.email
}

// Web returns the web sub-schema, nil when detached.
func (c *Client) Web() *web.Schema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return nil
	}
	return c.web
}
