package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	posoffline "github.com/posdesk/offline-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetConfigValue(t *testing.T) {
	tests := []struct {
		key, value string
		wantErr    bool
		check      func(t *testing.T, cfg *Config)
	}{
		{"default.api_key", "pos_live_abc", false, func(t *testing.T, cfg *Config) { assert.Equal(t, "pos_live_abc", cfg.Default.APIKey) }},
		{"default.base_url", "https://pos.example.com/api", false, func(t *testing.T, cfg *Config) {
			assert.Equal(t, "https://pos.example.com/api", cfg.Default.BaseURL)
		}},
		{"default.base_url", "not a url", true, nil},
		{"queue.max_attempts", "7", false, func(t *testing.T, cfg *Config) { assert.Equal(t, 7, cfg.Queue.MaxAttempts) }},
		{"queue.max_attempts", "seven", true, nil},
		{"queue.max_attempts", "1000", true, nil},
		{"queue.base_delay", "3s", false, func(t *testing.T, cfg *Config) { assert.Equal(t, "3s", cfg.Queue.BaseDelay) }},
		{"queue.max_delay", "forever", true, nil},
		{"monitor.heartbeat", "10s", false, func(t *testing.T, cfg *Config) { assert.Equal(t, "10s", cfg.Monitor.Heartbeat) }},
		{"serve.addr", "127.0.0.1:9000", false, func(t *testing.T, cfg *Config) { assert.Equal(t, "127.0.0.1:9000", cfg.Serve.Addr) }},
		{"serve.addr", "no-port", true, nil},
		{"storage.path", "/var/lib/pos/offline.db", false, func(t *testing.T, cfg *Config) {
			assert.Equal(t, "/var/lib/pos/offline.db", cfg.Storage.Path)
		}},
		{"default.nope", "x", true, nil},
		{"cache.ttl", "1m", true, nil},
		{"api_key", "x", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := &Config{}
			err := setConfigValue(cfg, tt.key, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("POSOFFLINE_HOME", dir)

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg, "missing file yields zero config")

	cfg.Default.APIKey = "pos_live_abcdefghijkl"
	cfg.Queue.MaxAttempts = 3
	cfg.Queue.FlushInterval = "45s"
	require.NoError(t, saveConfig(cfg))

	info, err := os.Stat(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[queue]\nbase_delay = \"soon\"\n"), 0o600))
	_, err = loadConfig()
	assert.ErrorContains(t, err, "invalid config")
}

func TestRetryPolicyFromConfig(t *testing.T) {
	p := retryPolicy(&Config{})
	assert.Equal(t, 5, p.MaxAttempts)

	p = retryPolicy(&Config{Queue: ConfigQueue{MaxAttempts: 2, BaseDelay: "1s"}})
	assert.Equal(t, 2, p.MaxAttempts)
	assert.Equal(t, time.Second, p.BaseDelay)
	assert.Equal(t, 5*time.Minute, p.MaxDelay)
}

func TestGetClientBaseURL(t *testing.T) {
	assert.Equal(t, posoffline.DefaultBaseURL, getClient(&Config{}).BaseURL())

	cfg := &Config{}
	cfg.Default.BaseURL = "https://pos.example.com/api/"
	assert.Equal(t, "https://pos.example.com/api", getClient(cfg).BaseURL())
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", maskKey(""))
	assert.Equal(t, "****", maskKey("short"))
	assert.Equal(t, "pos_live...ijkl", maskKey("pos_live_abcdefghijkl"))
}
