// Package connector is the client side of the master protocol. A Connector
// owns one transport and the negotiated protocol version; each Table keeps
// the cached rows of one remote table and refetches them after the master
// reports the table invalidated.
package connector

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/mesh-intelligence/aoserv/internal/codec"
	"github.com/mesh-intelligence/aoserv/internal/protocol"
	"github.com/mesh-intelligence/aoserv/internal/wire"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Connector) { c.logger = l }
}

// WithRegisterer registers metrics with reg instead of a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Connector) { c.registerer = reg }
}

// WithMetrics records into m instead of registering new metrics. Use it
// when several connectors share one registry over time.
func WithMetrics(m *Metrics) Option {
	return func(c *Connector) { c.metrics = m }
}

// WithVersion sets the protocol version offered in the handshake.
func WithVersion(v protocol.Version) Option {
	return func(c *Connector) { c.offered = v }
}

// DefaultFetchTimeout bounds a table fetch shared by concurrent readers.
const DefaultFetchTimeout = 30 * time.Second

// WithFetchTimeout replaces DefaultFetchTimeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Connector) { c.fetchTimeout = d }
}

// WithInterner shares an interner between connectors.
func WithInterner(in *codec.Interner) Option {
	return func(c *Connector) { c.interner = in }
}

// invalidator is the part of a Table the connector fans invalidations to.
type invalidator interface {
	ID() types.TableID
	Invalidate()
}

// Connector sends requests to one master and routes invalidations to the
// registered tables.
type Connector struct {
	transport  wire.Transport
	logger     logrus.FieldLogger
	registerer prometheus.Registerer
	metrics    *Metrics
	interner   *codec.Interner
	sessionID  uuid.UUID
	offered    protocol.Version

	// fetchTimeout bounds a shared table fetch, which does not follow the
	// cancellation of any one reader.
	fetchTimeout time.Duration

	mu      sync.RWMutex
	version protocol.Version
	tables  map[types.TableID]invalidator

	fetches singleflight.Group
}

// New returns a Connector over transport. Call Handshake before any table
// access.
func New(transport wire.Transport, opts ...Option) *Connector {
	c := &Connector{
		transport:    transport,
		offered:      protocol.Current,
		fetchTimeout: DefaultFetchTimeout,
		tables:       make(map[types.TableID]invalidator),
	}
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
	if c.interner == nil {
		c.interner = codec.NewInterner()
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	c.sessionID = id
	if c.metrics == nil {
		c.metrics = NewMetrics(c.registerer)
	}
	c.logger = c.logger.WithField("session", id.String())
	return c
}

// SessionID identifies this connector in logs.
func (c *Connector) SessionID() uuid.UUID { return c.sessionID }

// Metrics returns the connector metrics.
func (c *Connector) Metrics() *Metrics { return c.metrics }

// Version returns the negotiated protocol version, zero before Handshake.
func (c *Connector) Version() protocol.Version {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// Handshake offers the configured version and records the version the
// master agrees to.
func (c *Connector) Handshake(ctx context.Context) error {
	req := wire.NewRequest(wire.CmdHello, 0)
	req.WriteUTF(c.offered.String())
	r, status, err := c.roundTrip(ctx, wire.CmdHello, req)
	if err != nil {
		return err
	}
	if status != wire.StatusDone {
		return wire.ReadFailure(r, status, 0, "")
	}
	name := r.ReadUTF()
	if err := r.Err(); err != nil {
		return err
	}
	v, err := protocol.Parse(name)
	if err != nil {
		return fmt.Errorf("%w: master answered %q", types.ErrUnsupportedVersion, name)
	}
	c.mu.Lock()
	c.version = v
	c.mu.Unlock()
	c.logger.WithField("version", v.String()).Info("handshake complete")
	return nil
}

// register makes t receive invalidations for its table id.
func (c *Connector) register(t invalidator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[t.ID()] = t
}

// Invalidate marks every listed table stale. Ids without a registered table
// are ignored.
func (c *Connector) Invalidate(ids ...types.TableID) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range ids {
		t, ok := c.tables[id]
		if !ok {
			c.logger.WithField("table", id.String()).Debug("invalidation for unregistered table")
			continue
		}
		t.Invalidate()
	}
}

// Close releases the transport. Every registered table turns stale and
// later reads fail with ErrDetached.
func (c *Connector) Close() error {
	c.mu.Lock()
	c.version = 0
	tables := make([]invalidator, 0, len(c.tables))
	for _, t := range c.tables {
		tables = append(tables, t)
	}
	c.mu.Unlock()
	for _, t := range tables {
		t.Invalidate()
	}
	return c.transport.Close()
}

// roundTrip sends req and returns a reader positioned after the response
// status.
func (c *Connector) roundTrip(ctx context.Context, cmd wire.Command, req *codec.Writer) (*codec.Reader, wire.Status, error) {
	start := time.Now()
	resp, err := c.transport.RoundTrip(ctx, req.Bytes())
	c.metrics.RequestDuration.WithLabelValues(cmd.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.Requests.WithLabelValues(cmd.String(), "transport_error").Inc()
		return nil, 0, fmt.Errorf("%s: %w", cmd, err)
	}
	r := codec.NewReader(resp, c.interner)
	status := wire.ReadStatus(r)
	if err := r.Err(); err != nil {
		c.metrics.Requests.WithLabelValues(cmd.String(), "decode_error").Inc()
		return nil, 0, fmt.Errorf("%s: %w", cmd, err)
	}
	c.metrics.Requests.WithLabelValues(cmd.String(), status.String()).Inc()
	return r, status, nil
}

// Mutate sends cmd for table with a body from write. On success read
// consumes the command result, then the invalidation list is applied
// before Mutate returns it. key names the affected row in removal errors.
func (c *Connector) Mutate(
	ctx context.Context,
	cmd wire.Command,
	table types.TableID,
	key string,
	write func(w *codec.Writer, v protocol.Version) error,
	read func(r *codec.Reader),
) ([]types.TableID, error) {
	v := c.Version()
	if v == 0 {
		return nil, types.ErrDetached
	}
	req := wire.NewRequest(cmd, table)
	if write != nil {
		if err := write(req, v); err != nil {
			return nil, err
		}
	}
	log := c.logger.WithFields(logrus.Fields{"command": cmd.String(), "table": table.String(), "key": key})
	r, status, err := c.roundTrip(ctx, cmd, req)
	if err != nil {
		return nil, err
	}
	if status != wire.StatusDone {
		err := wire.ReadFailure(r, status, table, key)
		log.WithError(err).Debug("mutation rejected")
		return nil, err
	}
	if read != nil {
		read(r)
	}
	ids, err := wire.ReadInvalidations(r)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", cmd, table, err)
	}
	c.Invalidate(ids...)
	log.WithField("invalidated", len(ids)).Debug("mutation applied")
	return ids, nil
}

// CheckRemove asks the master why the row written by writeKey could not be
// removed. An empty list means the removal would succeed.
func (c *Connector) CheckRemove(ctx context.Context, table types.TableID, key string, writeKey func(w *codec.Writer) error) ([]types.CannotRemoveReason, error) {
	if c.Version() == 0 {
		return nil, types.ErrDetached
	}
	req := wire.NewRequest(wire.CmdCheckRemove, table)
	if err := writeKey(req); err != nil {
		return nil, err
	}
	r, status, err := c.roundTrip(ctx, wire.CmdCheckRemove, req)
	if err != nil {
		return nil, err
	}
	if status != wire.StatusDone {
		return nil, wire.ReadFailure(r, status, table, key)
	}
	return wire.ReadReasons(r)
}

// fetch streams every row of table, calling decode once per row.
func (c *Connector) fetch(ctx context.Context, table types.TableID, decode func(r *codec.Reader, v protocol.Version) error) error {
	v := c.Version()
	if v == 0 {
		return types.ErrDetached
	}
	r, status, err := c.roundTrip(ctx, wire.CmdGetTable, wire.NewRequest(wire.CmdGetTable, table))
	if err != nil {
		return err
	}
	for status == wire.StatusNext {
		if err := decode(r, v); err != nil {
			return fmt.Errorf("fetch %s: %w", table, err)
		}
		status = wire.ReadStatus(r)
		if err := r.Err(); err != nil {
			return fmt.Errorf("fetch %s: %w", table, err)
		}
	}
	if status != wire.StatusDone {
		return wire.ReadFailure(r, status, table, "")
	}
	return nil
}
