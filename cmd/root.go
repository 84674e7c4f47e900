// Package cmd provides the command-line interface for bloxciting.
//
// Configuration is resolved with the following precedence:
//  1. Command-line flags (--port, --root, ...) - highest priority
//  2. Individual environment variables (BLOXCITING_SERVER_PORT, ...)
//  3. Configuration file: --config, then BLOXCITING_CONFIG_FILE, then
//     .bloxciting.yml in the current directory - lowest priority
//
// Environment variables follow the BLOXCITING_<SECTION>_<OPTION> pattern,
// for example BLOXCITING_CONTENT_ROOT or BLOXCITING_LOG_LEVEL.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/bloxciting/internal/config"
	"github.com/conneroisu/bloxciting/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bloxciting",
	Short: "Serve a live-compiled markdown content tree",
	Long: `bloxciting watches a directory of markdown documents, compiles each one to
HTML as it changes and serves the results over HTTP with conditional caching.

Quick Start:
  bloxciting serve --root ./blogs     Watch ./blogs and serve on :18888
  bloxciting build                    Compile every document once
  bloxciting config show              Print the effective configuration`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .bloxciting.yml, can also use BLOXCITING_CONFIG_FILE env var)")
	flags.StringP("root", "r", "", "content root to watch")
	flags.StringP("output", "o", "", "directory receiving compiled artifacts")
	flags.StringP("log-level", "l", "", "log level (debug, info, warn, error)")
	flags.String("log-format", "", "log format (text, json)")

	bindFlags(flags, map[string]string{
		"root":       "content.root",
		"output":     "content.output_dir",
		"log-level":  "log.level",
		"log-format": "log.format",
	})
}

// bindFlags binds each named flag to its configuration key so that a flag
// set on the command line overrides the file and the environment.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if flag := flags.Lookup(name); flag != nil {
			_ = viper.BindPFlag(key, flag)
		}
	}
}

// initConfig selects the configuration file and enables environment
// overrides. A missing file is not an error; defaults apply.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".bloxciting")
	}

	config.ConfigureEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger from the log section.
func newLogger(cfg *config.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	}), nil
}
