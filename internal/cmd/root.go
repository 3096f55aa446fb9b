package cmd

import (
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/polinanime/keyspace/internal/utils"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd builds the keyspace command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "keyspace",
		Short: "Kademlia key space tools",
		Long: `Tools for a Kademlia key space: derive and compare 128-bit keys,
measure XOR distances and run routing table lookups over a simulated network.
	To explore an interactive node, run:
	$ keyspace start 127.0.0.1:4000`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(
		newKeyCmd(),
		newCmpCmd(),
		newDistCmd(),
		newSimulateCmd(opts),
		newStartCmd(opts),
	)
	return rootCmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// load reads the settings and builds the logger writing to the command's
// error stream.
func (o *rootOptions) load(cmd *cobra.Command) (*utils.Settings, hclog.Logger, error) {
	settings, err := utils.LoadSettings(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		settings.Log.Level = o.logLevel
	}
	return settings, utils.NewLogger(*settings, cmd.ErrOrStderr()), nil
}
