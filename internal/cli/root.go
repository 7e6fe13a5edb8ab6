// Package cli implements the aoserv command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/aoserv/internal/paths"
	"github.com/mesh-intelligence/aoserv/internal/protocol"
	"github.com/mesh-intelligence/aoserv/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// exitError carries the exit code for a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(format string, args ...any) error {
	return &exitError{code: exitUserError, err: fmt.Errorf(format, args...)}
}

func sysError(format string, args ...any) error {
	return &exitError{code: exitSysError, err: fmt.Errorf(format, args...)}
}

// classify picks the exit code for err. Problems with the request itself
// are user errors; everything else is a system error.
func classify(err error) error {
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}
	switch {
	case errors.Is(err, types.ErrNotFound),
		errors.Is(err, types.ErrTableNotFound),
		errors.Is(err, types.ErrRemovalBlocked),
		errors.Is(err, types.ErrInvalidData),
		errors.Is(err, types.ErrInvalidKey),
		errors.Is(err, types.ErrUnknownColumn),
		errors.Is(err, types.ErrTransportUnknown),
		errors.Is(err, types.ErrAddressEmpty),
		errors.Is(err, protocol.ErrUnknownVersion):
		return &exitError{code: exitUserError, err: err}
	}
	return &exitError{code: exitSysError, err: err}
}

// ExitCode returns the process exit code for an error returned by the root
// command. Errors without a code come from flag or argument parsing.
func ExitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUserError
}

// rootFlags holds global flag values.
type rootFlags struct {
	configDir string
	dataDir   string
	transport string
	address   string
	protocol  string
	jsonMode  bool
	verbose   bool
}

// app is the state shared by the subcommands of one root command.
type app struct {
	flags     rootFlags
	env       paths.Env
	configDir paths.Dir
	config    fileConfig
	logger    *logrus.Logger
}

// NewRootCmd creates the top-level "aoserv" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{env: paths.OS(), logger: logrus.New()}
	root := &cobra.Command{
		Use:   "aoserv",
		Short: "Inspect and change the tables of an aoserv master",
		Long: "aoserv reads and changes the tables of a hosting-management master,\n" +
			"either over TCP or through a master running in this process on a local data directory.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.logger.SetOutput(cmd.ErrOrStderr())
			a.logger.SetLevel(logrus.WarnLevel)
			if a.flags.verbose {
				a.logger.SetLevel(logrus.DebugLevel)
			}
			configDir, err := a.env.ConfigDir(a.flags.configDir)
			if err != nil {
				return sysError("resolve config dir: %w", err)
			}
			a.logger.WithFields(logrus.Fields{"path": configDir.Path, "from": configDir.Source}).Debug("config dir")
			cfg, err := loadConfig(configDir.ConfigFile())
			if err != nil {
				return sysError("%w", err)
			}
			a.configDir = configDir
			a.config = cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: $AOSERV_CONFIG_DIR or the user config dir)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "local master data directory (default: $(CWD)/"+paths.DefaultDataDirName+")")
	pf.StringVar(&a.flags.transport, "transport", "", "transport to the master: local or tcp")
	pf.StringVar(&a.flags.address, "address", "", "master host:port for the tcp transport")
	pf.StringVar(&a.flags.protocol, "protocol", "", "protocol version to request (default: newest)")
	pf.BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "log protocol activity to stderr")

	root.AddCommand(newVersionCmd())
	root.AddCommand(a.newInitCmd())
	root.AddCommand(a.newServeCmd())
	root.AddCommand(a.newListCmd())
	root.AddCommand(a.newGetCmd())
	root.AddCommand(a.newRemoveCmd())
	return root
}

// Execute runs the root command and exits with the matching code.
func Execute() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(stderr, "aoserv:", err)
	}
	return ExitCode(err)
}
