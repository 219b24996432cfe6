package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"pairbridge/internal/config"
)

func TestNewApplicationRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HTTP.Port = 0

	_, err := NewApplication(cfg)
	require.Error(t, err)
}

func TestNewApplicationRejectsUnreachableRedis(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.SQLite.Path = t.TempDir() + "/test.db"

	_, err := NewApplication(cfg)
	require.Error(t, err)
}
