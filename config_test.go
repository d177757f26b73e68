package h1mux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.validate())
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Version = ProtocolVersion(99)
	assert.Error(t, cfg.validate())

	cfg = DefaultConfig()
	cfg.InboundBufferCapacity = 0
	assert.Error(t, cfg.validate())

	cfg = DefaultConfig()
	cfg.WebSocketVersion = -1
	assert.Error(t, cfg.validate())

	cfg = DefaultConfig()
	cfg.DefaultKeepAliveTimeout = -time.Second
	assert.Error(t, cfg.validate())
}

func TestFillDefaultsPopulatesNilCollaborators(t *testing.T) {
	cfg := &Config{}
	cfg.fillDefaults()

	assert.NotNil(t, cfg.PoolListener)
	assert.NotNil(t, cfg.Metrics)
	assert.NotNil(t, cfg.Tracer)
	assert.NotNil(t, cfg.Logger)
	assert.Equal(t, 5, cfg.InboundBufferCapacity)
	assert.Equal(t, 13, cfg.WebSocketVersion)
}
