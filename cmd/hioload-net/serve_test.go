package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/momentics/hioload-net/logging"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	configureViper(v)
	require.NoError(t, v.BindPFlags(serveCmd.Flags()))
	return v
}

func TestLoadServeConfigDefaults(t *testing.T) {
	cfg, err := loadServeConfig(newTestViper(t))
	require.NoError(t, err)

	assert.Equal(t, modeEcho, cfg.Mode)
	assert.Equal(t, logging.LevelInfo, cfg.LogLevel)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, "hioload", cfg.Server.Name)
	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Zero(t, cfg.Server.NumLoops)
	assert.Nil(t, cfg.Server.LoopCPUs)
	assert.True(t, cfg.Server.KeepAlive)
	assert.False(t, cfg.Server.TCPNoDelay)
	assert.Equal(t, 10*time.Second, cfg.Server.PollTimeout)
}

func TestLoadServeConfigFromFlags(t *testing.T) {
	v := newTestViper(t)
	v.Set("addr", "127.0.0.1:7000")
	v.Set("loops", 4)
	v.Set("cpus", "0, 2,3")
	v.Set("mode", "HELLO")
	v.Set("log-level", "debug")
	v.Set("reuse-port", true)
	v.Set("metrics-addr", ":9100")

	cfg, err := loadServeConfig(v)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.ListenAddr)
	assert.Equal(t, 4, cfg.Server.NumLoops)
	assert.Equal(t, []int{0, 2, 3}, cfg.Server.LoopCPUs)
	assert.Equal(t, modeHello, cfg.Mode)
	assert.Equal(t, logging.LevelDebug, cfg.LogLevel)
	assert.True(t, cfg.Server.ReusePort)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
}

func TestLoadServeConfigFromEnvironment(t *testing.T) {
	t.Setenv("HIOLOAD_TCP_NODELAY", "true")
	t.Setenv("HIOLOAD_LOOPS", "2")
	t.Setenv("HIOLOAD_MODE", "discard")

	cfg, err := loadServeConfig(newTestViper(t))
	require.NoError(t, err)
	assert.True(t, cfg.Server.TCPNoDelay)
	assert.Equal(t, 2, cfg.Server.NumLoops)
	assert.Equal(t, modeDiscard, cfg.Mode)
}

func TestLoadServeConfigRejectsBadValues(t *testing.T) {
	for _, tc := range []struct {
		key string
		val any
	}{
		{"mode", "chat"},
		{"log-level", "loud"},
		{"loops", -1},
		{"cpus", "0,x"},
		{"cpus", "-2"},
	} {
		v := newTestViper(t)
		v.Set(tc.key, tc.val)
		_, err := loadServeConfig(v)
		assert.Error(t, err, "%s=%v", tc.key, tc.val)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	t.Cleanup(func() { versionCmd.SetOut(nil) })
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "hioload-net v"+Version)
}
