package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := `{
		"logLevel": "debug",
		"server": { "host": "10.0.0.7", "port": 9000 },
		"device": { "sensitivity": 80 }
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "radarzone.json"), []byte(cfg), 0644))

	require.NoError(t, Load(dir))

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, "10.0.0.7", viper.GetString("server.host"))
	assert.Equal(t, 9000, viper.GetInt("server.port"))
	assert.Equal(t, 80, viper.GetInt("device.sensitivity"))
}

func TestLoad_YAML(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := "server:\n  host: radar.lan\n  secure: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "radarzone.yaml"), []byte(cfg), 0644))
	require.NoError(t, Load(dir))

	s, err := Current()
	require.NoError(t, err)
	assert.Equal(t, "wss://radar.lan:8765/ws", s.Server.URL())
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "radarzone.json"), []byte(`{}`), 0644))
	require.NoError(t, Load(dir))

	s, err := Current()
	require.NoError(t, err)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, "localhost", s.Server.Host)
	assert.Equal(t, 8765, s.Server.Port)
	assert.Equal(t, "ws://localhost:8765/ws", s.Server.URL())
	assert.True(t, s.Device.FallDetectionEnabled)
	assert.Equal(t, 50, s.Device.Sensitivity)
	assert.Equal(t, 100, s.Device.FrameTime)
	assert.Equal(t, 100, s.Session.TargetHistory)
	assert.Equal(t, 50, s.Session.ZoneEventHistory)
	assert.Equal(t, 30*time.Second, s.Connection.Heartbeat)
	assert.Equal(t, 3*time.Minute, s.Connection.StalenessThreshold)
	assert.Equal(t, 5, s.Connection.MaxFailures)
	assert.Equal(t, false, s.OTel.Enabled)
	assert.Equal(t, "radarzone", s.OTel.ServiceName)
	assert.Equal(t, 5*time.Second, s.OTel.BatchTimeout)
	assert.Equal(t, "", s.Metrics.Listen)
	assert.Equal(t, false, s.Influx.Enabled)
	assert.Equal(t, 5*time.Second, s.Influx.FlushInterval)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(t.TempDir())
	require.ErrorIs(t, err, ErrConfigNotFound)

	// Defaults remain usable.
	s, err := Current()
	require.NoError(t, err)
	assert.Equal(t, "localhost", s.Server.Host)
}

func TestLoad_BrokenFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "radarzone.json"), []byte(`{nope`), 0644))

	err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestCurrent_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"sensitivity": `{"device": {"sensitivity": 150}}`,
		"port":        `{"server": {"port": 70000}}`,
		"level":       `{"logLevel": "loud"}`,
		"influx":      `{"influx": {"enabled": true, "bucket": ""}}`,
		"path":        `{"server": {"path": "ws"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Cleanup(viper.Reset)
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "radarzone.json"), []byte(body), 0644))
			require.NoError(t, Load(dir))

			_, err := Current()
			assert.Error(t, err)
		})
	}
}

func TestConnectionTiming(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := `{"connection": {"heartbeat": "10s", "maxFailures": 8}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "radarzone.json"), []byte(cfg), 0644))
	require.NoError(t, Load(dir))

	s, err := Current()
	require.NoError(t, err)
	tm := s.Connection.Timing()
	assert.Equal(t, 10*time.Second, tm.Heartbeat)
	assert.Equal(t, 8, tm.MaxFailures)
	assert.Equal(t, 30*time.Second, tm.MaxBackoff)
}

func TestSensitivityMapping(t *testing.T) {
	assert.Equal(t, 0.0, SensitivityToServer(0))
	assert.Equal(t, 0.5, SensitivityToServer(50))
	assert.Equal(t, 1.0, SensitivityToServer(100))
	assert.Equal(t, 1.0, SensitivityToServer(250))
	assert.Equal(t, 0.0, SensitivityToServer(-3))

	assert.Equal(t, 75, SensitivityToUI(0.75))
	assert.Equal(t, 100, SensitivityToUI(2))
	for ui := 0; ui <= 100; ui++ {
		assert.Equal(t, ui, SensitivityToUI(SensitivityToServer(ui)))
	}
}

func TestDeviceConfig(t *testing.T) {
	s := Settings{
		Server: ServerSettings{Host: "radar", Port: 8765},
		Device: DeviceSettings{FallDetectionEnabled: true, Sensitivity: 30, FrameTime: 50},
	}
	dc := s.DeviceConfig()
	assert.True(t, dc.FallDetection.Enabled)
	assert.InDelta(t, 0.3, dc.FallDetection.Sensitivity, 1e-9)
	assert.Equal(t, 50, dc.Radar.FrameTime)
	assert.Equal(t, "radar", dc.Server.Host)
	assert.Equal(t, 8765, dc.Server.Port)
}
