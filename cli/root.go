package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd returns the gamedb command tree.
func NewRootCmd() *cobra.Command {
	var (
		cfgPath string
		debug   bool
	)
	rootCmd := &cobra.Command{
		Use:   "gamedb",
		Short: "Inspect, edit and exercise a game data repository",
		Long: `gamedb manages a repository of typed game data tables stored as a
single JSON or LZ4 binary asset.

It can seed, dump and edit tables, export and import them as flat JSON,
run a configurable simulation against them, switch the asset format around
an external build, and serve everything over HTTP.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config/config.yaml", "config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "development logging")

	// Each command opens its own App and closes it when done.
	open := func(cmd *cobra.Command) (*App, error) {
		return NewApp(cfgPath, debug, cmd.OutOrStdout())
	}

	rootCmd.AddCommand(
		initCmd(open),
		dumpCmd(open),
		setCmd(open),
		exportCmd(open),
		importCmd(open),
		paramsCmd(open),
		simulateCmd(open),
		formatCmd(open),
		buildCmd(open),
		serveCmd(open),
	)
	return rootCmd
}

type opener func(cmd *cobra.Command) (*App, error)
