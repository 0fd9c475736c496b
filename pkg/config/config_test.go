package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("MQTT_HOST")
	os.Unsetenv("MQTT_PORT")
	os.Unsetenv("MQTT_MAX_CONNECTIONS")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultMaxConnections, cfg.MaxConnections)
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("MQTT_HOST", "127.0.0.1")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("MQTT_MAX_CONNECTIONS", "50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8883, cfg.Port)
	assert.Equal(t, 50, cfg.MaxConnections)
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("MQTT_PORT", "not-a-number")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsInvalidMaxConnections(t *testing.T) {
	t.Setenv("MQTT_MAX_CONNECTIONS", "not-a-number")
	_, err := Load()
	assert.Error(t, err)
}
