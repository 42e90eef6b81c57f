package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, uint32(131072), cfg.MaxFrameSize)
	assert.Equal(t, uint16(100), cfg.ChannelMax)
	assert.Equal(t, "tcp", cfg.Transport.Kind)
	assert.Equal(t, "rabbitmq-amqp1.0-client", cfg.Properties.Product)
	require.NoError(t, cfg.validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "amqp-client.yaml")
	yml := `
container_id: file-client
channel_max: 7
transport:
  kind: quic
  insecure_skip_verify: true
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-client", cfg.ContainerID)
	assert.Equal(t, uint16(7), cfg.ChannelMax)
	assert.Equal(t, "quic", cfg.Transport.Kind)
	assert.True(t, cfg.Transport.InsecureSkipVerify)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched fields keep their defaults
	assert.Equal(t, uint32(131072), cfg.MaxFrameSize)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AMQP_LOG_LEVEL", "warn")
	t.Setenv("AMQP_CHANNEL_MAX", "42")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, uint16(42), cfg.ChannelMax)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	assert.Error(t, cfg.validate())

	cfg = Default()
	cfg.Transport.Kind = "carrier-pigeon"
	assert.Error(t, cfg.validate())

	cfg = Default()
	cfg.ChannelMax = 0
	assert.Error(t, cfg.validate())
}
