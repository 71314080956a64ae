package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	// Automatically set GOMEMLIMIT based on cgroup memory limits (container
	// or systemd MemoryMax=). If no cgroup limit is detected, GOMEMLIMIT is
	// left at the Go default.
	"github.com/KimMachineGun/automemlimit/memlimit"

	"github.com/pcreech/wampsub/internal/metrics"
	"github.com/spf13/cobra"
)

var version = "dev"

func init() {
	_, _ = memlimit.SetGoMemLimitWithOpts(memlimit.WithLogger(nil))
}

func main() {
	rootCmd := &cobra.Command{
		Use:          "wampsub",
		Short:        "WAMP subscriber client",
		Long:         "Subscribe to WAMP pub/sub topics over WebSocket and print events.",
		SilenceUsage: true,
	}

	// Global flags.
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "address for Prometheus metrics server (e.g. :9090); disabled if empty")

	rootCmd.AddCommand(subscribeCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

// resolveMetrics creates a Metrics instance and starts the HTTP server if
// --metrics-addr or WAMPSUB_METRICS_ADDR is set. Returns nil if metrics are
// disabled. The provided context controls the server's lifetime — when
// cancelled the server shuts down gracefully.
func resolveMetrics(ctx context.Context, cmd *cobra.Command, logger *slog.Logger) (*metrics.Metrics, error) {
	addr, _ := cmd.Flags().GetString("metrics-addr")
	if addr == "" {
		addr = os.Getenv("WAMPSUB_METRICS_ADDR")
	}
	if addr == "" {
		return nil, nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen on %s: %w", addr, err)
	}
	m := metrics.New()
	go func() {
		if err := m.Serve(ctx, ln, logger); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return m, nil
}

// resolveURL returns the router URL from the --url flag or WAMPSUB_URL.
func resolveURL(cmd *cobra.Command) (string, error) {
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		return url, nil
	}
	if url := os.Getenv("WAMPSUB_URL"); url != "" {
		return url, nil
	}
	return "", fmt.Errorf("router URL is required: use --url or set WAMPSUB_URL")
}

// resolveRealm returns the realm from the --realm flag or WAMPSUB_REALM.
func resolveRealm(cmd *cobra.Command) (string, error) {
	if realm, _ := cmd.Flags().GetString("realm"); realm != "" {
		return realm, nil
	}
	if realm := os.Getenv("WAMPSUB_REALM"); realm != "" {
		return realm, nil
	}
	return "", fmt.Errorf("realm is required: use --realm or set WAMPSUB_REALM")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
