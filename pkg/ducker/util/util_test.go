package util

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")

	assert.False(t, FileExists(file))
	require.NoError(t, os.WriteFile(file, []byte("backend: pactl\n"), 0644))
	assert.True(t, FileExists(file))

	assert.False(t, FileExists(dir), "directories are not files")
}

func TestEnsureDirExists(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs", "nested")

	require.NoError(t, EnsureDirExists(dir))
	require.NoError(t, EnsureDirExists(dir), "second call is a no-op")

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestExecutableMatches(t *testing.T) {
	assert.True(t, executableMatches("pactl", "pactl"))
	assert.False(t, executableMatches("pactl", "pipewire"))

	// comm is truncated to 15 chars
	assert.True(t, executableMatches("youtube-music-d", "youtube-music-desktop-app"))
	assert.False(t, executableMatches("youtube-music", "youtube-music-desktop-app"))
}

func TestCreateMutex(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	require.NoError(t, CreateMutex("ducker-test"))

	content, err := os.ReadFile(filepath.Join(os.Getenv("XDG_RUNTIME_DIR"), "ducker-test.lock"))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(content))

	// our own pid in the lock file doesn't count as another instance
	require.NoError(t, CreateMutex("ducker-test"))

	require.NoError(t, ReleaseMutex("ducker-test"))
	require.NoError(t, ReleaseMutex("ducker-test"), "releasing twice is fine")
}
