package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/hotswap/internal/errors"
	"github.com/conneroisu/hotswap/internal/hmr"
	"github.com/conneroisu/hotswap/internal/hmrclient"
	"github.com/conneroisu/hotswap/internal/logging"
)

var (
	connectServer   string
	connectBundle   string
	connectPlatform string
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Attach a headless client to a running server and log updates",
	Long: `Connect to a running hotswap server the way an app would: load the
bundle, register its modules and follow the hot update stream. Every patch,
reload and build error is logged.

Examples:
  hotswap connect                                   # localhost:8081, index bundle
  hotswap connect --server http://10.0.0.2:8081 -P android`,
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().StringVar(&connectServer, "server", "http://localhost:8081", "Server base URL")
	connectCmd.Flags().StringVarP(&connectBundle, "bundle", "b", "index", "Bundle entry")
	connectCmd.Flags().StringVarP(&connectPlatform, "platform", "P", "ios", "Target platform")
}

func runConnect(cmd *cobra.Command, args []string) error {
	if err := validateArguments("bundle", connectBundle, "platform", connectPlatform); err != nil {
		return err
	}
	logger := newLogger(logLevelFlag(cmd), "text").WithComponent("client")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bundleURL, hotURL, err := clientURLs(connectServer, connectBundle, connectPlatform)
	if err != nil {
		return err
	}

	loop := hmrclient.NewLoop()
	go func() { _ = loop.Run(ctx) }()

	rt, err := hmrclient.New(hmrclient.Options{
		BundleEntry: connectBundle,
		Platform:    connectPlatform,
		Scheduler:   loop,
		Evaluator:   hmrclient.PatchEvaluator{Loader: hmrclient.SourceLoader},
		Reloader: hmrclient.ReloaderFunc(func() {
			logger.Info(ctx, "Full reload requested")
		}),
		Hooks: hmrclient.Hooks{
			OnUpdateStart: func() { logger.Info(ctx, "Update started") },
			OnUpdateDone:  func() { logger.Info(ctx, "Update applied") },
			OnError: func(e hmr.Error) {
				logger.Error(ctx, nil, "Build failed", "message", e.Message, "errors", len(e.Errors))
			},
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	code, err := fetchBundle(ctx, bundleURL)
	if err != nil {
		return errors.NewEnhancedError("Failed to load bundle", err, errors.ConnectError(err, connectServer))
	}
	loaded := make(chan error, 1)
	loop.Post(func() { loaded <- defineBundle(rt, code) })
	if err := <-loaded; err != nil {
		return err
	}

	conn, err := hmrclient.Dial(ctx, hotURL, rt)
	if err != nil {
		return errors.NewEnhancedError("Failed to connect", err, errors.ConnectError(err, connectServer))
	}
	defer conn.Close()
	logger.Info(ctx, "Connected", "url", hotURL, "bundle", connectBundle, "platform", connectPlatform)

	select {
	case <-ctx.Done():
		return nil
	case <-conn.Done():
		return conn.Err()
	}
}

func logLevelFlag(cmd *cobra.Command) string {
	if level, err := cmd.Flags().GetString("log-level"); err == nil && level != "" {
		return level
	}
	return logging.LevelInfo.String()
}

// clientURLs derives the bundle and hot endpoint URLs from a server base URL.
func clientURLs(base, bundle, platform string) (string, string, error) {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "", "", errors.NewValidationError(errors.ErrCodeValidationFailed, "invalid server URL: "+base)
	}

	var wsScheme string
	switch u.Scheme {
	case "http":
		wsScheme = "ws"
	case "https":
		wsScheme = "wss"
	default:
		return "", "", errors.NewValidationError(errors.ErrCodeValidationFailed, "server URL must be http or https: "+base)
	}

	prefix := strings.TrimSuffix(u.Path, "/")
	bundleURL := url.URL{
		Scheme:   u.Scheme,
		Host:     u.Host,
		Path:     prefix + "/" + bundle + ".bundle",
		RawQuery: url.Values{"platform": {platform}}.Encode(),
	}
	hotURL := url.URL{Scheme: wsScheme, Host: u.Host, Path: prefix + hmr.Path}
	return bundleURL.String(), hotURL.String(), nil
}

func fetchBundle(ctx context.Context, bundleURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, bundleURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeNetwork, errors.ErrCodeBundleUnavailable, "cannot fetch "+bundleURL)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &errors.HotswapError{
			Type:    errors.ErrorTypeNetwork,
			Code:    errors.ErrCodeBundleUnavailable,
			Message: fmt.Sprintf("bundle request failed with %s: %s", resp.Status, strings.TrimSpace(string(body))),
		}
	}
	return string(body), nil
}

// defineBundle registers every module of an initial bundle. It must run on
// the runtime's scheduler.
func defineBundle(rt *hmrclient.Runtime, code string) error {
	doc, err := hmr.DecodePatch(code)
	if err != nil {
		return err
	}
	for _, m := range doc.Modules {
		factory, err := hmrclient.SourceLoader.Load(m.ID, m.Source)
		if err != nil {
			return err
		}
		if _, err := rt.DefineModule(m.ID, factory); err != nil {
			return err
		}
	}
	return nil
}
