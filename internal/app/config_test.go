package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PG_DSN", "postgres://atk@localhost/atk")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 5*time.Minute, cfg.CacheTTL)
	require.Equal(t, int64(5), cfg.DefaultMinStock)
	require.Equal(t, int64(100), cfg.DefaultMaxStock)
	require.Equal(t, 3, cfg.CodeRetries)
	require.False(t, cfg.AllowNegativeStock)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_ENV", "production")
	t.Setenv("ATK_ALLOW_NEGATIVE_STOCK", "true")
	t.Setenv("ATK_DEFAULT_MIN_STOCK", "2")
	t.Setenv("ATK_DEFAULT_MAX_STOCK", "40")
	t.Setenv("JOBS_RECONCILE_CRON", "*/30 * * * *")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.True(t, cfg.AllowNegativeStock)
	require.Equal(t, int64(2), cfg.DefaultMinStock)
	require.Equal(t, int64(40), cfg.DefaultMaxStock)
	require.Equal(t, "*/30 * * * *", cfg.JobsReconcileCron)
}

func TestLoadConfigRejectsInvertedStockDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ATK_DEFAULT_MIN_STOCK", "50")
	t.Setenv("ATK_DEFAULT_MAX_STOCK", "10")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestValidateRejectsZeroRetries(t *testing.T) {
	cfg := Config{PGDSN: "postgres://x", DefaultMaxStock: 1, CodeRetries: 0}
	require.Error(t, cfg.Validate())
}
