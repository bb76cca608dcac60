package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/hotswap/internal/bundler"
	"github.com/conneroisu/hotswap/internal/config"
	"github.com/conneroisu/hotswap/internal/engine/passthrough"
	"github.com/conneroisu/hotswap/internal/errors"
	"github.com/conneroisu/hotswap/internal/reporting"
	"github.com/conneroisu/hotswap/internal/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the development server with hot module replacement",
	Long: `Start the development server. Bundles are served at /<entry>.bundle and
running apps connect to the hot update endpoint to receive patches as source
files change.

Examples:
  hotswap serve                    # Serve the current directory
  hotswap serve --port 9000        # Serve on a different port
  hotswap serve --root ./app       # Serve another project root`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8081, "Port to serve on")
	serveCmd.Flags().String("host", "localhost", "Host to bind to")
	serveCmd.Flags().String("root", ".", "Project root")
	serveCmd.Flags().String("events", "", "Write lifecycle events to this file (- for stderr)")
	serveCmd.Flags().Bool("dev", true, "Build bundles in development mode")

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("project.root", serveCmd.Flags().Lookup("root"))
	viper.BindPFlag("reporting.events_file", serveCmd.Flags().Lookup("events"))
	viper.BindPFlag("build.dev", serveCmd.Flags().Lookup("dev"))
}

// loadConfig loads configuration and decorates failures with suggestions.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		path := viper.ConfigFileUsed()
		if path == "" {
			path = ".hotswap.yml"
		}
		return nil, errors.NewEnhancedError(
			"Failed to load configuration",
			err,
			errors.ConfigurationError(err.Error(), path),
		)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level, cfg.Log.Format)
	reporter, closeReporter, err := reporting.Open(cfg.Reporting.EventsFile)
	if err != nil {
		return err
	}
	defer closeReporter()

	eng, err := passthrough.New(passthrough.Config{
		Root:             cfg.Project.Root,
		SharedRoot:       cfg.SharedRoot(),
		Extensions:       cfg.Build.Extensions,
		Watch:            true,
		Debounce:         cfg.Build.Debounce,
		CacheConcurrency: cfg.Cache.Concurrency,
		CacheMemoryBytes: cfg.Cache.MemoryBytes,
	}, logger.WithComponent("engine"), reporter)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	pool := bundler.NewPool(eng, logger.WithComponent("bundler"), reporter)
	srv := server.New(cfg, pool, logger, reporter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
		case <-ctx.Done():
			return
		}
		fmt.Fprintln(os.Stderr, "Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer shutdownCancel()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error(ctx, shutdownErr, "Error during server shutdown")
		}
	}()

	fmt.Printf("Starting hotswap server at http://%s\n", cfg.Addr())

	serveErr := srv.Start(ctx)

	closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer closeCancel()
	if err := pool.Close(closeCtx); err != nil {
		logger.Warn(ctx, err, "Bundler pool did not close cleanly")
	}

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	return nil
}
