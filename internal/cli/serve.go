package cli

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/aoserv/internal/master"
	"github.com/mesh-intelligence/aoserv/internal/wire"
	"github.com/mesh-intelligence/aoserv/pkg/aoserv"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

const defaultListen = "127.0.0.1:4583"

func (a *app) newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the local data directory to TCP clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", defaultListen, "address to accept connections on")
	return cmd
}

func (a *app) serve(ctx context.Context, listen string) error {
	dir, err := a.dataDir()
	if err != nil {
		return sysError("%w", err)
	}
	dataDir := dir.Path
	cat, err := aoserv.Catalog()
	if err != nil {
		return sysError("%w", err)
	}
	if !a.flags.verbose {
		a.logger.SetLevel(logrus.InfoLevel)
	}
	backend := master.NewBackend(cat, master.WithLogger(a.logger))
	if err := backend.Attach(types.Config{Transport: types.TransportLocal, DataDir: dataDir}); err != nil {
		return sysError("attach master: %w", err)
	}
	defer backend.Detach()

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return sysError("listen: %w", err)
	}
	a.logger.WithField("data_dir", dataDir).Info("master attached")
	if err := wire.NewServer(backend, a.logger).Serve(ctx, ln); err != nil {
		return sysError("serve: %w", err)
	}
	return nil
}
