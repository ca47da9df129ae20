package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRejectsDefaultSecret(t *testing.T) {
	// без явного секрета конфиг не должен подниматься
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shared_secret")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_SHARED_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Address)
	assert.Equal(t, "8080", cfg.Server.HTTPPort)
	assert.Equal(t, 51820, cfg.WireGuard.PortMin)
	assert.Equal(t, 52000, cfg.WireGuard.PortMax)
	assert.Equal(t, "10.8.0.0/24", cfg.WireGuard.SubnetV4Base)
	assert.Equal(t, 25, cfg.WireGuard.Keepalive)
	assert.Contains(t, cfg.WireGuard.ReservedNames, "auto")
	assert.False(t, cfg.WireGuard.Apply)
	assert.Equal(t, "/etc/wireguard", cfg.WireGuard.ConfDir)
	assert.Equal(t, 500, cfg.Batch.MaxRows)
	assert.Positive(t, cfg.Batch.RowDelay)
}

func TestValidateRanges(t *testing.T) {
	t.Setenv("API_SHARED_SECRET", "test-secret")

	t.Setenv("WIREGUARD_PORT_MIN", "80")
	_, err := Load()
	assert.Error(t, err, "порт ниже 1024")

	t.Setenv("WIREGUARD_PORT_MIN", "53000")
	t.Setenv("WIREGUARD_PORT_MAX", "52000")
	_, err = Load()
	assert.Error(t, err, "min выше max")
}
