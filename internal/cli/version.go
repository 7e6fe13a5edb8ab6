package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/aoserv/internal/protocol"
	"github.com/mesh-intelligence/aoserv/pkg/aoserv"
)

const modulePath = "github.com/mesh-intelligence/aoserv"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the aoserv version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "aoserv v%s\nmodule: %s\nprotocol: %s (oldest %s)\n",
				aoserv.Version, modulePath, protocol.Current, protocol.Oldest)
			return nil
		},
	}
}
