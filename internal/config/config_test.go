package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 4000, cfg.Network.UDPVideoInPort)
	assert.Equal(t, 5100, cfg.Network.TCPControlPort)
	assert.Equal(t, 960, cfg.Map.Width)
	assert.Equal(t, 1800.0, cfg.Map.RealWidth)
	assert.Equal(t, 60, cfg.Tuning.FrameBufferSize)
	assert.Equal(t, 200*time.Millisecond, cfg.Tuning.DetectionWindow)
	assert.Equal(t, 2*time.Second, cfg.Tuning.HazardClear)
	assert.Equal(t, "A", cfg.Cameras.A)
	assert.Equal(t, []string{"A", "B"}, cfg.Cameras.IDs())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Network, cfg.Network)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
network:
  tcp_control_port: 6100
tuning:
  hazard_clear: 5s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6100, cfg.Network.TCPControlPort)
	assert.Equal(t, 5*time.Second, cfg.Tuning.HazardClear)
	// Untouched values keep their defaults.
	assert.Equal(t, 4000, cfg.Network.UDPVideoInPort)
	assert.Equal(t, 200*time.Millisecond, cfg.Tuning.DetectionWindow)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "secret", cfg.Database.Password)
	assert.Contains(t, cfg.DSN(), "db.internal")
}

func TestLoadRejectsInvalidTuning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tuning:\n  hazard_clear: -1s\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tuning:\n  hazard_clear: 2s\n"), 0o644))

	updated := make(chan Tuning, 1)
	w := NewWatcher(path, Default().Tuning, func(tu Tuning) {
		select {
		case updated <- tu:
		default:
		}
	})
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("tuning:\n  hazard_clear: 4s\n"), 0o644))

	select {
	case tu := <-updated:
		assert.Equal(t, 4*time.Second, tu.HazardClear)
		assert.Equal(t, 4*time.Second, w.Tuning().HazardClear)
	case <-time.After(3 * time.Second):
		t.Fatal("reload never fired")
	}
}

func TestWatcherRejectsBadDurations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tuning:\n  hazard_clear: 2s\n"), 0o644))

	w := NewWatcher(path, Default().Tuning, nil)
	require.NoError(t, w.Start())
	defer w.Stop()

	before := w.Tuning()
	require.NoError(t, os.WriteFile(path, []byte("tuning:\n  hazard_clear: 0s\n"), 0o644))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, before.HazardClear, w.Tuning().HazardClear)
}
