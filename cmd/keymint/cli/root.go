package cli

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	dataDir    string
	logLevel   string
	appVersion string // set in Execute, reported by serve, mcp and openapi
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keymint",
		Short: "Issue and manage API keys",
		Long: `keymint issues opaque API keys, optionally bound to an owner from your user
directory, and verifies them on behalf of your services.

Key names are unique forever, an owner holds at most one active key, and
plaintext secrets are shown exactly once at creation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./keymint.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite key store (default: ~/.keymint)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newOwnerCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newConfigCmd())

	return cmd
}
