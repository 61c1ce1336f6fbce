package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func isolateEnv(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	for _, key := range []string{"PORT", "APP_ENV", "DB_DRIVER", "DB_PATH", "DATABASE_URL",
		"LOG_LEVEL", "CONSISTENCY_INTERVAL", "SESSION_TTL", "ALLOWED_ORIGINS", "SEED_SCENARIO"} {
		t.Setenv(key, "")
	}
}

func TestServe_BadConfigExitsWithUsageCode(t *testing.T) {
	isolateEnv(t)

	assert.Equal(t, 2, serve([]string{"-driver", "oracle"}))
}

func TestServe_StartupFailureReturnsInsteadOfExiting(t *testing.T) {
	// GIVEN: A postgres driver with an unparsable connection string
	// WHEN: Serving
	// THEN: serve returns 1 to main, so deferred cleanup in run and the logger sync happen

	isolateEnv(t)

	code := serve([]string{"-driver", "postgres", "-database-url", "postgres://%zz", "-log-level", "error"})

	assert.Equal(t, 1, code)
}

func TestServe_UnknownSeedReturnsError(t *testing.T) {
	isolateEnv(t)
	db := filepath.Join(t.TempDir(), "seed.db")

	assert.Equal(t, 1, serve([]string{"-db", db, "-seed", "no-such-scenario", "-log-level", "error"}))
}
