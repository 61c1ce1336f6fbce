package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/parcela-engine/config"
)

// isolate points ENV_FILE at a missing file and clears every variable Load reads.
func isolate(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, key := range []string{"PORT", "APP_ENV", "DB_DRIVER", "DB_PATH", "DATABASE_URL",
		"LOG_LEVEL", "CONSISTENCY_INTERVAL", "SESSION_TTL", "ALLOWED_ORIGINS", "SEED_SCENARIO"} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, config.DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "parcelas.db", cfg.DBPath)
	assert.Equal(t, time.Hour, cfg.ConsistencyInterval)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.False(t, cfg.Production())
}

func TestLoad_EnvThenFlags(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "9000")
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("CONSISTENCY_INTERVAL", "5m")

	cfg, err := config.Load([]string{"-port", "9100", "-seed", "portfolio"})
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, config.DriverMemory, cfg.DBDriver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 5*time.Minute, cfg.ConsistencyInterval)
	assert.Equal(t, "portfolio", cfg.SeedScenario)
}

func TestLoad_EnvFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL=debug\nSEED_SCENARIO=synthesized\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	// godotenv does not override variables that are already set
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("SEED_SCENARIO")
	t.Cleanup(func() {
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("SEED_SCENARIO")
	})

	cfg, err := config.Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "synthesized", cfg.SeedScenario)
}

func TestValidate(t *testing.T) {
	base := config.Config{Port: 8080, DBDriver: config.DriverSQLite, DBPath: "x.db", LogLevel: "info"}
	require.NoError(t, base.Validate())

	bad := base
	bad.DBDriver = "oracle"
	assert.Error(t, bad.Validate())

	bad = base
	bad.DBDriver = config.DriverPostgres
	assert.Error(t, bad.Validate())

	bad = base
	bad.LogLevel = "loud"
	assert.Error(t, bad.Validate())

	bad = base
	bad.Port = 0
	assert.Error(t, bad.Validate())
}

func TestNewLogger(t *testing.T) {
	cfg := config.Config{LogLevel: "warn", Env: "production"}

	log, err := cfg.NewLogger()
	require.NoError(t, err)

	assert.False(t, log.Core().Enabled(-1))
	assert.True(t, log.Core().Enabled(1))
}
