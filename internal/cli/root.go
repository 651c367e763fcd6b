package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

// DefaultAddr is the daemon address used when --addr is not given.
const DefaultAddr = "http://localhost:8080"

// NewRootCmd builds the abkantctl command tree.
func NewRootCmd() *cobra.Command {
	var addr string
	root := &cobra.Command{
		Use:   "abkantctl",
		Short: "Control a running abkant daemon",
		Long: `abkantctl drives the abkant daemon over its HTTP API: start a
sequence of target angles, stop it, force the output and tune settings.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Version = Version
	root.SetVersionTemplate("abkantctl version {{.Version}}\n")
	root.PersistentFlags().StringVar(&addr, "addr", DefaultAddr, "daemon base URL")

	client := func() *Client { return NewClient(addr) }
	root.AddCommand(
		newStatusCmd(client),
		newStartCmd(client),
		newStopCmd(client),
		newOutputCmd(client),
		newDebugCmd(client),
		newSettingsCmd(client),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
