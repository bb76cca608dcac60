package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/conneroisu/hotswap/internal/cache"
	"github.com/conneroisu/hotswap/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the persistent transform cache",
	Long: `The transform cache lives under <root>/<shared_dir>/cache and is shared by
every build fingerprint of the project.

Examples:
  hotswap cache stats   # Show entry count and size on disk
  hotswap cache clean   # Remove every persisted entry`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show transform cache usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return writeCacheStats(cmd.OutOrStdout(), cfg)
	},
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove every persisted transform cache entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return cleanCache(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheCleanCmd)
}

func writeCacheStats(out io.Writer, cfg *config.Config) error {
	entries, size, err := cache.DiskUsage(cfg.SharedRoot())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Cache directory: %s\n", filepath.Join(cfg.SharedRoot(), cache.DirName))
	fmt.Fprintf(out, "Entries:         %s\n", humanize.Comma(int64(entries)))
	fmt.Fprintf(out, "Size:            %s\n", humanize.Bytes(uint64(size)))
	return nil
}

func cleanCache(out io.Writer, cfg *config.Config) error {
	entries, size, err := cache.DiskUsage(cfg.SharedRoot())
	if err != nil {
		return err
	}
	if err := cache.Reset(cfg.SharedRoot()); err != nil {
		return err
	}
	fmt.Fprintf(out, "Removed %s entries (%s)\n", humanize.Comma(int64(entries)), humanize.Bytes(uint64(size)))
	return nil
}
