package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/workerhost/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "workerhost",
	Short: "Worker lifecycle host",
	Long: `Workerhost starts script workers inside shared host processes,
placing each worker on a process by scope affinity and tracking it through
its start sequence until it runs, stops or is detached.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/workerhost/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
}

// bindFlags connects command-line flags to config keys. A flag only wins
// over the config file and environment when it is set explicitly.
func bindFlags() {
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	for key, flag := range runFlagKeys {
		_ = viper.BindPFlag(key, runCmd.Flags().Lookup(flag))
	}
}

func initConfig() {
	bindFlags()

	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	// e.g., WORKERHOST_WORKER_COUNT for worker.count
	config.ConfigureEnv()

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
