package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/hotswap/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for hotswap including:

- Semantic version number
- Git commit hash
- Build timestamp
- Go version used for compilation
- Target platform (OS/architecture)

The cache version is the value that feeds build fingerprints.

Examples:
  hotswap version              # Show version
  hotswap version --detailed   # Show detailed version info
  hotswap version --format json # Output as JSON`,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
	versionCmd.Flags().Bool("detailed", false, "Show detailed version information")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	detailed, _ := cmd.Flags().GetBool("detailed")
	return writeVersion(cmd.OutOrStdout(), versionFormat, versionShort, detailed)
}

func writeVersion(out io.Writer, format string, short, detailed bool) error {
	switch format {
	case "json":
		payload := struct {
			*version.BuildInfo
			CacheVersion string `json:"cache_version"`
		}{version.GetBuildInfo(), version.CacheVersion()}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(payload)
	case "text":
		switch {
		case short:
			fmt.Fprintln(out, version.GetVersion())
		case detailed:
			fmt.Fprintln(out, version.GetDetailedVersion())
			fmt.Fprintf(out, "Cache: %s\n", version.CacheVersion())
		default:
			info := version.GetBuildInfo()
			fmt.Fprintf(out, "hotswap %s", info.Version)
			if info.GitCommit != "unknown" && len(info.GitCommit) >= 7 {
				fmt.Fprintf(out, " (%s)", info.GitCommit[:7])
			}
			fmt.Fprintln(out)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", format)
	}
}
