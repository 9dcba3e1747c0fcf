package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ",", cfg.Output.Delimiter)
	assert.True(t, cfg.Output.Strings, "strings mode is on by default")
	assert.True(t, cfg.Output.Header)
	assert.Equal(t, "csv", cfg.Sink.Kind)
	assert.Equal(t, "none", cfg.Metrics.Backend)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv(EnvConfig, filepath.Join(t.TempDir(), "nope.toml"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[output]
delimiter = ";"
strings = false

[convert]
keep_going = true
timeout = "30s"

[sink]
kind = "sqlite"
dsn = "/tmp/out.db"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv(EnvConfig, path)
	t.Setenv(EnvDSN, "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ";", cfg.Output.Delimiter)
	assert.False(t, cfg.Output.Strings)
	assert.True(t, cfg.Output.Header, "unset keys keep their defaults")
	assert.True(t, cfg.Convert.KeepGoing)
	assert.Equal(t, "sqlite", cfg.Sink.Kind)
	assert.Equal(t, "/tmp/out.db", cfg.Sink.DSN)
	assert.Equal(t, "json2csv", cfg.Sink.Table)

	d, err := cfg.Convert.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[output\n"), 0o644))
	_, err := LoadFile(bad)
	assert.ErrorContains(t, err, bad)

	timeout := filepath.Join(dir, "timeout.toml")
	require.NoError(t, os.WriteFile(timeout, []byte("[convert]\ntimeout = \"soon\"\n"), 0o644))
	_, err = LoadFile(timeout)
	assert.ErrorContains(t, err, "convert.timeout")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvSink:           "postgres",
		EnvDSN:            "postgres://localhost/db",
		EnvMetricsBackend: "datadog",
		EnvTable:          "  ",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "postgres", cfg.Sink.Kind)
	assert.Equal(t, "postgres://localhost/db", cfg.Sink.DSN)
	assert.Equal(t, "datadog", cfg.Metrics.Backend)
	assert.Equal(t, "json2csv", cfg.Sink.Table, "blank values do not override")
}

func TestTimeoutDuration(t *testing.T) {
	for in, want := range map[string]time.Duration{"": 0, "0": 0, "1m": time.Minute} {
		d, err := ConvertConfig{Timeout: in}.TimeoutDuration()
		require.NoError(t, err, in)
		assert.Equal(t, want, d, in)
	}
	_, err := ConvertConfig{Timeout: "-1s"}.TimeoutDuration()
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("JSON2CSV_TEST_A=from-file\nJSON2CSV_TEST_B=from-file\n"), 0o644))

	t.Setenv("JSON2CSV_TEST_A", "")
	os.Unsetenv("JSON2CSV_TEST_A")
	t.Setenv("JSON2CSV_TEST_B", "already-set")

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("JSON2CSV_TEST_A"))
	assert.Equal(t, "already-set", os.Getenv("JSON2CSV_TEST_B"))
}
