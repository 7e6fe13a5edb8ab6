package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/aoserv/internal/master"
	"github.com/mesh-intelligence/aoserv/pkg/aoserv"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

func (a *app) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the configuration and a local master data directory",
		Long: "Write config.yaml unless it exists, then create the local master data directory\n" +
			"with its built-in rows.",
		Args: cobra.NoArgs,
		RunE: a.runInit,
	}
}

func (a *app) runInit(cmd *cobra.Command, _ []string) error {
	dir, err := a.dataDir()
	if err != nil {
		return sysError("%w", err)
	}
	dataDir := dir.Path

	cfg := fileConfig{
		Transport:       first(a.flags.transport, a.config.Transport, types.TransportLocal),
		Address:         first(a.flags.address, a.config.Address),
		DataDir:         dataDir,
		ProtocolVersion: first(a.flags.protocol, a.config.ProtocolVersion),
	}
	path := a.configDir.ConfigFile()
	written, err := writeConfigIfMissing(path, cfg)
	if err != nil {
		return sysError("write config: %w", err)
	}
	if written {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	}

	cat, err := aoserv.Catalog()
	if err != nil {
		return sysError("%w", err)
	}
	backend := master.NewBackend(cat, master.WithLogger(a.logger))
	if err := backend.Attach(types.Config{Transport: types.TransportLocal, DataDir: dataDir}); err != nil {
		return sysError("initialize data dir: %w", err)
	}
	if err := backend.Detach(); err != nil {
		return sysError("finalize data dir: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", dataDir)
	return nil
}
