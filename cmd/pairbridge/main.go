package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"pairbridge/internal/app"
	"pairbridge/internal/config"
)

var (
	configPath string
	httpPort   int
	redisAddr  string
	sqlitePath string
)

func main() {
	root := &cobra.Command{
		Use:   "pairbridge",
		Short: "pairbridge is the random-pairing real-time chat platform server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.Flags())
		},
	}
	flags := root.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to a YAML config file (overrides environment, overridden only by the explicit flags below)")
	flags.IntVar(&httpPort, "http-port", 0, "override the HTTP/WebSocket listen port (highest precedence)")
	flags.StringVar(&redisAddr, "redis-addr", "", "override the Shared Store's Redis address (highest precedence)")
	flags.StringVar(&sqlitePath, "sqlite-path", "", "override the collaborator SQLite database path (highest precedence)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFlagOverrides layers explicitly-passed CLI flags on top of a config
// already resolved from file/environment/defaults. A flag left at its zero
// value (never passed) must not clobber a weaker-precedence source, hence
// the Changed checks rather than unconditional assignment.
func applyFlagOverrides(cfg *config.Config, flags *pflag.FlagSet) {
	if flags == nil {
		return
	}
	if flags.Changed("http-port") {
		cfg.HTTP.Port = httpPort
	}
	if flags.Changed("redis-addr") {
		cfg.Redis.Addr = redisAddr
	}
	if flags.Changed("sqlite-path") {
		cfg.SQLite.Path = sqlitePath
	}
}

// run loads configuration, starts the application, and blocks until a
// shutdown signal arrives or the application fails on its own.
func run(parent context.Context, flags *pflag.FlagSet) error {
	if configPath == "" {
		configPath = os.Getenv("PAIRBRIDGE_CONFIG_FILE")
	}
	cfg, err := config.LoadConfigWithPrecedence(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	applyFlagOverrides(cfg, flags)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration after flag overrides: %w", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	appErrCh := make(chan error, 1)
	go func() {
		if err := application.Start(ctx); err != nil {
			appErrCh <- err
		}
	}()

	select {
	case err := <-appErrCh:
		return fmt.Errorf("application error: %w", err)
	case sig := <-signalCh:
		fmt.Printf("received signal %v, shutting down gracefully\n", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := application.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	}
}
