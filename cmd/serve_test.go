package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/calibration-cli/internal/config"
)

func TestShutdownTimeout(t *testing.T) {
	cfg = &config.Config{}
	assert.Equal(t, 15*time.Second, shutdownTimeout())

	cfg.Server.ShutdownTimeoutSecs = 3
	assert.Equal(t, 3*time.Second, shutdownTimeout())
}

func TestServe_RejectsInvalidConfig(t *testing.T) {
	cfg = &config.Config{
		Store:    config.StoreConfig{Driver: "sqlite", DatabaseURL: "calibration.db"},
		Advisory: config.AdvisoryConfig{Provider: config.ProviderNone, TimeoutMs: 5000},
		Server:   config.ServerConfig{Port: 0},
	}

	err := serveCmd.RunE(serveCmd, nil)
	assert.ErrorContains(t, err, "server.port must be > 0")
}
