package ducker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestConfig(t *testing.T, contents string) (*ConfigManager, *countingNotifier) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if contents != "" {
		require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	}

	notifier := &countingNotifier{}
	cc, err := NewConfig(zaptest.NewLogger(t).Sugar(), notifier, path)
	require.NoError(t, err)

	return cc, notifier
}

func TestConfig_DefaultsWithoutFile(t *testing.T) {
	cc, _ := newTestConfig(t, "")

	require.NoError(t, cc.Load())

	conf := cc.Current()
	assert.Equal(t, backendPactl, conf.Backend)
	assert.Equal(t, "pactl", conf.PactlPath)
	assert.Equal(t, 200*time.Millisecond, conf.PollInterval)
	assert.Equal(t, 2*time.Second, conf.CommandTimeout)
	assert.False(t, conf.EventDriven)
	assert.True(t, conf.DisableTray)
	assert.True(t, conf.Notifications)

	assert.Equal(t, DefaultPolicy(), conf.Policy())
}

func TestConfig_FileOverrides(t *testing.T) {
	cc, _ := newTestConfig(t, `
backend: Native
event_driven: true
poll_interval: 500ms
command_timeout: 0s
ducked_volume: 20
full_volume: 90
primary:
  binary: spotify
  name: Spotify
notifications: false
`)

	require.NoError(t, cc.Load())

	conf := cc.Current()
	assert.Equal(t, backendNative, conf.Backend)
	assert.True(t, conf.EventDriven)
	assert.Equal(t, 500*time.Millisecond, conf.PollInterval)
	assert.Equal(t, time.Duration(0), conf.CommandTimeout)
	assert.False(t, conf.Notifications)

	assert.Equal(t, Policy{
		PrimaryBinary: "spotify",
		PrimaryName:   "Spotify",
		DuckedVolume:  20,
		FullVolume:    90,
	}, conf.Policy())
}

func TestConfig_InvalidValuesRejected(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{name: "unknown backend", contents: "backend: alsa\n"},
		{name: "volume above 100", contents: "full_volume: 150\n"},
		{name: "negative volume", contents: "ducked_volume: -5\n"},
		{name: "zero poll interval", contents: "poll_interval: 0s\n"},
		{name: "negative timeout", contents: "command_timeout: -1s\n"},
		{name: "empty primary binary", contents: "primary:\n  binary: \"\"\n"},
		{name: "not a duration", contents: "poll_interval: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cc, _ := newTestConfig(t, tt.contents)

			assert.Error(t, cc.Load())
		})
	}
}

func TestConfig_InvalidYAMLNotifies(t *testing.T) {
	cc, notifier := newTestConfig(t, "backend: [pactl\n")

	require.Error(t, cc.Load())
	assert.Equal(t, []string{"Invalid configuration!"}, notifier.titles)
}

func TestConfig_FailedReloadKeepsPreviousConfig(t *testing.T) {
	cc, _ := newTestConfig(t, "ducked_volume: 20\n")
	require.NoError(t, cc.Load())

	require.NoError(t, os.WriteFile(cc.userConfigPath, []byte("ducked_volume: 200\n"), 0644))
	require.Error(t, cc.Load())

	assert.Equal(t, 20, cc.Current().DuckedVolume)
}

func TestConfig_ReloadNotificationDoesNotBlock(t *testing.T) {
	cc, _ := newTestConfig(t, "")
	consumer := cc.SubscribeToChanges()

	cc.onConfigReloaded()
	cc.onConfigReloaded()

	assert.Len(t, consumer, 1, "pending reloads collapse into one")
}
