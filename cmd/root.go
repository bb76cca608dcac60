// Package cmd provides the command-line interface for hotswap with layered
// configuration management.
//
// Configuration System:
//
//	The CLI reads configuration from several sources with clear precedence:
//	1. Command-line flags (--config, --port, etc.) - highest priority
//	2. HOTSWAP_CONFIG_FILE environment variable - custom config file path
//	3. Individual environment variables (HOTSWAP_SERVER_PORT, etc.)
//	4. Configuration files (.hotswap.yml) - lowest priority
//
// Environment Variables:
//
//	HOTSWAP_CONFIG_FILE: Path to custom configuration file
//	HOTSWAP_SERVER_PORT: Override server port
//	HOTSWAP_SERVER_HOST: Override server host
//	HOTSWAP_BUILD_DEV: Build in development mode
//	And the rest following the HOTSWAP_<SECTION>_<OPTION> pattern
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/hotswap/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "hotswap",
	Short: "Incremental rebuild and hot module replacement dev server",
	Long: `Hotswap serves JavaScript bundles to running apps and pushes
incremental patches to them over a websocket whenever a source file changes.

Key Features:
  • Build fingerprints that key caches and bundler instances
  • Persistent transform cache shared across restarts
  • One bundler instance per bundle and configuration, shared by clients
  • Hot update protocol with patch, reload and error delivery

Quick Start:
  hotswap serve                   Start the development server
  hotswap fingerprint -P ios      Show the build identity for a platform
  hotswap cache stats             Inspect the persistent transform cache
  hotswap connect                 Attach a headless client and log updates

Documentation: https://github.com/conneroisu/hotswap`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.SetGlobalNormalizationFunc(normalizeFlagName)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .hotswap.yml, can also use HOTSWAP_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// normalizeFlagName lets --log_level and --log-level name the same flag.
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// initConfig initializes the configuration system.
//
// Configuration Loading Priority (highest to lowest):
//  1. --config flag: Explicitly specified config file path
//  2. HOTSWAP_CONFIG_FILE environment variable: Custom config file path
//  3. Default: .hotswap.yml in current directory
//
// Every configuration value can also be overridden with a HOTSWAP_ prefixed
// environment variable (e.g., HOTSWAP_SERVER_PORT=8081).
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("HOTSWAP_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".hotswap")
	}

	viper.SetEnvPrefix("HOTSWAP")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing or unreadable file leaves defaults in place.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the process logger from the log section.
func newLogger(level, format string) *logging.HotswapLogger {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(level)
	cfg.Format = format
	return logging.NewLogger(cfg)
}
