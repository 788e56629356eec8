package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
listen: 0.0.0.0:9090
server:
  url: https://dav.example.com/
  user: alice
  password: secret
  cert_path: /etc/ssl/ca.pem
  timeout: 10s
entities:
  - cal_id: Work
    sensors:
      - device_id: work_meetings
        name: Work meetings
        track: true
        search: Sync
      - device_id: work_all
        name: Work
        track: false
        offset: "##"
log:
  level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:9090", cfg.Listen)
	assert.Equal(t, defaultRefresh, cfg.Refresh)
	assert.Equal(t, "alice", cfg.Server.Username)
	assert.Equal(t, "/etc/ssl/ca.pem", cfg.Server.CACertPath)
	require.Len(t, cfg.Entities, 1)
	assert.Equal(t, "Work", cfg.Entities[0].CalendarID)
	require.Len(t, cfg.Entities[0].Sensors, 2)
	assert.True(t, cfg.Entities[0].Sensors[0].Track)
	assert.Equal(t, "Sync", cfg.Entities[0].Sensors[0].Search)
	assert.False(t, cfg.Entities[0].Sensors[1].Track)
	assert.Equal(t, "##", cfg.Entities[0].Sensors[1].Offset)

	d, err := cfg.RequestTimeout()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)
}

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultListen, cfg.Listen)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Server.URL, again.Server.URL)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unterminated"))
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing url", func(c *Config) { c.Server.URL = "" }, "server.url is required"},
		{"non-http url", func(c *Config) { c.Server.URL = "ftp://dav.example.com" }, "not an http(s) URL"},
		{"missing user", func(c *Config) { c.Server.Username = "" }, "server.user is required"},
		{"missing password", func(c *Config) { c.Server.Password = "" }, "server.password is required"},
		{"bad timeout", func(c *Config) { c.Server.Timeout = "soon" }, "server.timeout"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus_Mons" }, "timezone"},
		{"missing cal_id", func(c *Config) { c.Entities[0].CalendarID = "" }, "entities[0].cal_id is required"},
		{"missing device_id", func(c *Config) { c.Entities[0].Sensors[0].DeviceID = "" }, "device_id is required"},
		{"missing name", func(c *Config) { c.Entities[0].Sensors[0].Name = "" }, "name is required"},
		{"duplicate device_id", func(c *Config) { c.Entities[0].Sensors[1].DeviceID = "work_meetings" }, `duplicate device_id "work_meetings"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sample))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, cfg.Save(path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
