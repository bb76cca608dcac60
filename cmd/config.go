package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/hotswap/internal/config"
	"github.com/conneroisu/hotswap/internal/identity"
	"github.com/conneroisu/hotswap/internal/version"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect hotswap configuration",
	Long: `Inspect hotswap configuration files and resolved settings.

Examples:
  hotswap config show                  # Show resolved configuration
  hotswap config show --format json    # Show it as JSON
  hotswap config validate              # Validate .hotswap.yml
  hotswap config validate --file dev.yml`,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a hotswap configuration file: ports, project paths, plugin
names, watched extensions and cache limits are checked, and the build
fingerprint the file produces is printed.`,
	RunE: runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the configuration after loading the file, applying environment
variable overrides and command-line flags, and filling in defaults.`,
	RunE: runConfigShow,
}

var (
	configFile   string
	configFormat string
)

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configValidateCmd.Flags().
		StringVarP(&configFile, "file", "f", "", "Configuration file to validate (default: .hotswap.yml)")
	configShowCmd.Flags().StringVar(&configFormat, "format", "yaml", "Output format (yaml, json)")
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	targetFile := configFile
	if targetFile == "" {
		targetFile = ".hotswap.yml"
	}
	return validateConfigFile(cmd.OutOrStdout(), targetFile)
}

func validateConfigFile(out io.Writer, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("configuration file %s does not exist", path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	cfg, err := config.LoadFrom(v)
	if err != nil {
		return err
	}

	fp := identity.Options{
		Version:   version.CacheVersion(),
		Target:    identity.Target{Dev: cfg.Build.Dev},
		Transform: cfg.Build.Transform,
		Plugins:   cfg.Build.Plugins,
	}.Fingerprint()

	fmt.Fprintf(out, "Configuration %s is valid\n", path)
	fmt.Fprintf(out, "Base fingerprint: %s\n", fp)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return showConfig(cmd.OutOrStdout(), configFormat, cfg)
}

func showConfig(out io.Writer, format string, cfg *config.Config) error {
	switch format {
	case "yaml", "yml":
		fmt.Fprintln(out, "# Resolved from all sources (file, env vars, defaults)")
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		defer encoder.Close()
		return encoder.Encode(cfg)
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", format)
	}
}
