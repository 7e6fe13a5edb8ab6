// Package mastertest starts an in-process master for tests.
package mastertest

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/aoserv/internal/catalog"
	"github.com/mesh-intelligence/aoserv/internal/connector"
	"github.com/mesh-intelligence/aoserv/internal/master"
	"github.com/mesh-intelligence/aoserv/internal/wire"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// Master is an attached backend in a temporary directory.
type Master struct {
	Backend *master.Backend
	DataDir string
	Hook    *test.Hook
}

// Start attaches a master serving defs. It is detached when the test ends.
func Start(t testing.TB, defs ...catalog.Definition) *Master {
	t.Helper()
	cat, err := catalog.New(defs...)
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	b := master.NewBackend(cat, master.WithLogger(logger))
	dir := t.TempDir()
	require.NoError(t, b.Attach(types.Config{Transport: types.TransportLocal, DataDir: dir}))
	t.Cleanup(func() { _ = b.Detach() })
	return &Master{Backend: b, DataDir: dir, Hook: hook}
}

// Connect returns a connector that completed its handshake with m.
func (m *Master) Connect(t testing.TB, opts ...connector.Option) *connector.Connector {
	t.Helper()
	c := connector.New(wire.NewLocalTransport(m.Backend), opts...)
	require.NoError(t, c.Handshake(context.Background()))
	t.Cleanup(func() { _ = c.Close() })
	return c
}
