// Package config loads EmberMQ's runtime configuration from the process
// environment. The surface is intentionally small (three scalars), so it is
// read directly with os.Getenv rather than through a third-party config
// loader (see DESIGN.md for the reasoning).
package config

import (
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Config holds the broker's runtime settings.
type Config struct {
	Host           string
	Port           int
	MaxConnections int
}

// The broker listens on loopback port 8888 by default; DefaultMaxConnections
// mirrors network.DefaultListenerConfig.
const (
	DefaultHost           = "127.0.0.1"
	DefaultPort           = 8888
	DefaultMaxConnections = 10000
)

// Load reads MQTT_HOST, MQTT_PORT and MQTT_MAX_CONNECTIONS from the
// environment, falling back to the package defaults when unset.
func Load() (*Config, error) {
	cfg := &Config{
		Host:           DefaultHost,
		Port:           DefaultPort,
		MaxConnections: DefaultMaxConnections,
	}

	if v := os.Getenv("MQTT_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, "parse MQTT_PORT")
		}
		cfg.Port = port
	}
	if v := os.Getenv("MQTT_MAX_CONNECTIONS"); v != "" {
		max, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrap(err, "parse MQTT_MAX_CONNECTIONS")
		}
		cfg.MaxConnections = max
	}
	return cfg, nil
}
