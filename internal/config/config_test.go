package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"LEDGER_PATH", "DISPATCH_TIMEOUT_MS", "SESSION_BACKEND", "DB_DSN", "WORKER_CONCURRENCY", "ANALYTICS_TRANSPORT"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "data/analytics.csv", cfg.LedgerPath)
	assert.Equal(t, 120*time.Second, cfg.DispatchTimeout)
	assert.Equal(t, "sqlite", cfg.SessionBackend)
	assert.Equal(t, "sqlite:data/sessions.db", cfg.DBDSN)
	assert.Equal(t, 2, cfg.WorkerConcurrency)
	assert.Equal(t, "local", cfg.AnalyticsTransport)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LEDGER_PATH", "/tmp/ledger.csv")
	t.Setenv("DISPATCH_TIMEOUT_MS", "1500")
	t.Setenv("SESSION_BACKEND", "Redis")
	t.Setenv("WORKER_CONCURRENCY", "500")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	assert.Equal(t, "/tmp/ledger.csv", cfg.LedgerPath)
	assert.Equal(t, 1500*time.Millisecond, cfg.DispatchTimeout)
	assert.Equal(t, "redis", cfg.SessionBackend)
	assert.Equal(t, 50, cfg.WorkerConcurrency)
	assert.Equal(t, 0, cfg.RedisDB)
}

func TestLoadDotEnv_DoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MEDCHAT_TEST_A=from-file\nMEDCHAT_TEST_B=from-file\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("MEDCHAT_TEST_A", "from-env")
	t.Setenv("MEDCHAT_TEST_B", "")
	require.NoError(t, os.Unsetenv("MEDCHAT_TEST_B"))

	LoadDotEnv()

	assert.Equal(t, "from-env", os.Getenv("MEDCHAT_TEST_A"))
	assert.Equal(t, "from-file", os.Getenv("MEDCHAT_TEST_B"))
}
