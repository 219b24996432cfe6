package main

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"pairbridge/internal/config"
)

func TestRunFailsFastOnUnreachableDependencies(t *testing.T) {
	configPath = ""
	t.Setenv("PAIRBRIDGE_REDIS_ADDR", "127.0.0.1:1")
	t.Setenv("PAIRBRIDGE_SQLITE_PATH", t.TempDir()+"/test.db")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx, nil)
	if err == nil {
		t.Fatal("expected run to fail when the shared store is unreachable")
	}
}

func TestApplyFlagOverridesOnlyAppliesChangedFlags(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.IntVar(&httpPort, "http-port", 0, "")
	flags.StringVar(&redisAddr, "redis-addr", "", "")
	flags.StringVar(&sqlitePath, "sqlite-path", "", "")

	cfg := config.DefaultConfig()
	originalPort := cfg.HTTP.Port

	if err := flags.Set("redis-addr", "10.0.0.5:6379"); err != nil {
		t.Fatalf("set redis-addr: %v", err)
	}

	applyFlagOverrides(cfg, flags)

	if cfg.Redis.Addr != "10.0.0.5:6379" {
		t.Errorf("expected redis-addr override to apply, got %q", cfg.Redis.Addr)
	}
	if cfg.HTTP.Port != originalPort {
		t.Errorf("unset http-port flag must not clobber the existing port, got %d want %d", cfg.HTTP.Port, originalPort)
	}
}

func TestApplyFlagOverridesNilFlagSetIsNoop(t *testing.T) {
	cfg := config.DefaultConfig()
	before := *cfg
	applyFlagOverrides(cfg, nil)
	if *cfg != before {
		t.Errorf("nil flag set must leave config untouched")
	}
}

func TestLoadConfigWithPrecedenceReturnsValidDefaults(t *testing.T) {
	cfg, err := config.LoadConfigWithPrecedence("")
	if err != nil {
		t.Fatalf("LoadConfigWithPrecedence should not error with no overrides: %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.HTTP.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}
