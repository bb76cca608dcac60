package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/hotswap/internal/identity"
	"github.com/conneroisu/hotswap/internal/version"
)

var (
	fingerprintPlatforms []string
	fingerprintBundle    string
	fingerprintFormat    string
	fingerprintProd      bool
)

var fingerprintCmd = &cobra.Command{
	Use:     "fingerprint",
	Aliases: []string{"fp"},
	Short:   "Show the build fingerprint for each platform",
	Long: `Compute the build fingerprint that keys the transform cache and the
bundler pool. The fingerprint covers the tool version, the target platform and
mode, the transform configuration and the ordered plugin list.

Examples:
  hotswap fingerprint                       # Default platforms
  hotswap fingerprint -P ios -P android     # Selected platforms
  hotswap fingerprint --prod -o json        # Production fingerprints as JSON`,
	RunE: runFingerprint,
}

func init() {
	rootCmd.AddCommand(fingerprintCmd)

	fingerprintCmd.Flags().StringSliceVarP(&fingerprintPlatforms, "platform", "P", []string{"ios", "android"}, "Target platforms")
	fingerprintCmd.Flags().StringVarP(&fingerprintBundle, "bundle", "b", "index", "Bundle name used for the pool key")
	fingerprintCmd.Flags().StringVarP(&fingerprintFormat, "output", "o", "table", "Output format (table|json|yaml)")
	fingerprintCmd.Flags().BoolVar(&fingerprintProd, "prod", false, "Fingerprint production builds")
}

// FingerprintRow is one platform's build identity.
type FingerprintRow struct {
	Platform    string `json:"platform" yaml:"platform"`
	Dev         bool   `json:"dev" yaml:"dev"`
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
	PoolKey     string `json:"pool_key" yaml:"pool_key"`
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	if err := validateArgument("bundle", fingerprintBundle); err != nil {
		return err
	}
	for _, platform := range fingerprintPlatforms {
		if err := validateArgument("platform", platform); err != nil {
			return err
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rows := make([]FingerprintRow, 0, len(fingerprintPlatforms))
	for _, platform := range fingerprintPlatforms {
		opts := identity.Options{
			Version:   version.CacheVersion(),
			Target:    identity.Target{Platform: platform, Dev: !fingerprintProd},
			Transform: cfg.Build.Transform,
			Plugins:   cfg.Build.Plugins,
		}
		rows = append(rows, FingerprintRow{
			Platform:    platform,
			Dev:         opts.Target.Dev,
			Fingerprint: opts.Fingerprint(),
			PoolKey:     opts.PoolKey(fingerprintBundle),
		})
	}

	return writeFingerprints(cmd.OutOrStdout(), fingerprintFormat, rows)
}

func writeFingerprints(out io.Writer, format string, rows []FingerprintRow) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		defer encoder.Close()
		return encoder.Encode(rows)
	case "table":
		return writeFingerprintTable(out, rows)
	default:
		return fmt.Errorf("unsupported format: %s (supported: table, json, yaml)", format)
	}
}

func writeFingerprintTable(out io.Writer, rows []FingerprintRow) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	title := cases.Title(language.English)

	fmt.Fprintln(w, "PLATFORM\tMODE\tFINGERPRINT\tPOOL KEY")
	fmt.Fprintln(w, strings.Repeat("-", 8)+"\t"+strings.Repeat("-", 4)+"\t"+strings.Repeat("-", 11)+"\t"+strings.Repeat("-", 8))
	for _, row := range rows {
		mode := "prod"
		if row.Dev {
			mode = "dev"
		}
		platform := row.Platform
		if platform == "" {
			platform = "-"
		} else {
			platform = title.String(platform)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", platform, mode, row.Fingerprint, row.PoolKey)
	}
	return w.Flush()
}
