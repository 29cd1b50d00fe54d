package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tilerank/apps/chain/internal/config"
)

const flagConfig = "config"

// NewRootCmd creates the tilerankd root command. Every setting can also come from
// the config file or a TILERANK_ environment variable.
func NewRootCmd() *cobra.Command {
	v := config.NewViper()
	d := config.Default()

	rootCmd := &cobra.Command{
		Use:           "tilerankd",
		Short:         "TileRank leaderboard node (ABCI application)",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SetOut(cmd.OutOrStdout())
			cmd.SetErr(cmd.ErrOrStderr())
			return v.BindPFlags(cmd.Flags())
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("home", d.Home, "node home directory (state is stored under <home>/data)")
	pf.String(flagConfig, "", "config file (default <home>/config.toml when present)")
	pf.String("db-backend", d.DBBackend, "database backend (goleveldb|memdb)")
	pf.String("log.level", d.Log.Level, "log level (debug|info|warn|error)")
	pf.Bool("log.json", d.Log.JSON, "log as JSON")

	rootCmd.AddCommand(
		startCmd(v),
		replayCmd(v),
		configCmd(v),
	)
	return rootCmd
}

func loadConfig(cmd *cobra.Command, v *viper.Viper) (config.Config, error) {
	file, err := cmd.Flags().GetString(flagConfig)
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(v, file)
}
