package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gomumble.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAndDecode(t *testing.T) {
	path := writeConfig(t, `
server: mumble.example.org:64738
websocketurl: wss://mumble.example.org/ws
username: alice
password: hunter2
tokens:
  - secret-channel
  - ops
skiptlsverify: true
uservoicetimeoutms: 300
datapingintervalms: 10000
maxinflightdatapings: 3
preferredbitrate: 40000
storepath: /var/lib/gomumble
`)

	v, err := LoadConfig(path)
	require.NoError(t, err)

	settings, err := Decode(v)
	require.NoError(t, err)

	assert.Equal(t, "mumble.example.org:64738", settings.Server)
	assert.Equal(t, "wss://mumble.example.org/ws", settings.WebSocketURL)
	assert.Equal(t, "alice", settings.Username)
	assert.Equal(t, "hunter2", settings.Password)
	assert.Equal(t, []string{"secret-channel", "ops"}, settings.Tokens)
	assert.True(t, settings.SkipTLSVerify)
	assert.Equal(t, 300, settings.UserVoiceTimeoutMs)
	assert.Equal(t, 10000, settings.DataPingIntervalMs)
	assert.Equal(t, 3, settings.MaxInFlightDataPings)
	assert.Equal(t, 40000, settings.PreferredBitrate)
	assert.Equal(t, "/var/lib/gomumble", settings.StorePath)
}

func TestDecodeDefaultsToZeroValues(t *testing.T) {
	path := writeConfig(t, "username: bob\n")

	v, err := LoadConfig(path)
	require.NoError(t, err)

	settings, err := Decode(v)
	require.NoError(t, err)

	assert.Equal(t, "bob", settings.Username)
	assert.Empty(t, settings.Server)
	assert.Empty(t, settings.Tokens)
	assert.Zero(t, settings.UserVoiceTimeoutMs)
	assert.False(t, settings.SkipTLSVerify)
}

func TestDecodeWeakTyping(t *testing.T) {
	// viper hands back strings for env-sourced values; WeakDecode
	// converts them.
	path := writeConfig(t, `
username: carol
uservoicetimeoutms: "250"
skiptlsverify: "true"
`)

	v, err := LoadConfig(path)
	require.NoError(t, err)

	settings, err := Decode(v)
	require.NoError(t, err)

	assert.Equal(t, 250, settings.UserVoiceTimeoutMs)
	assert.True(t, settings.SkipTLSVerify)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
