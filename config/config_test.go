package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
enforcer:
  listenAddress: ":9001"
  soapErrorsEnabled: true
auth:
  issuers:
    - issuer: https://idp.example.org
      jwksURL: https://idp.example.org/jwks
      refreshInterval: 30m
  cacheSize: 500
  cacheTTL: 5m
publisher:
  enabled: true
  receiverURLs:
    - tcp://tm1.local:9611
    - ssl://tm2.local:9711
  username: admin
  password: admin
  queueSize: 2000
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8081", c.Enforcer.ListenAddress)
	assert.Equal(t, 10000, c.Auth.CacheSize)
	assert.Equal(t, Duration(15*time.Minute), c.Auth.CacheTTL)
	assert.False(t, c.Publisher.Enabled)
}

func TestLoadFile(t *testing.T) {
	c, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9001", c.Enforcer.ListenAddress)
	assert.True(t, c.Enforcer.SOAPErrorsEnabled)
	require.Len(t, c.Auth.Issuers, 1)
	assert.Equal(t, "https://idp.example.org", c.Auth.Issuers[0].Issuer)
	assert.Equal(t, Duration(30*time.Minute), c.Auth.Issuers[0].RefreshInterval)
	assert.Equal(t, 500, c.Auth.CacheSize)
	assert.Equal(t, []string{"tcp://tm1.local:9611", "ssl://tm2.local:9711"}, c.Publisher.ReceiverURLs)
	assert.Equal(t, 2000, c.Publisher.QueueSize)

	// values absent from the file keep their defaults
	assert.Equal(t, ":9095", c.Enforcer.MetricsAddress)
	assert.Equal(t, 10, c.Publisher.MaxConcurrency)
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, testConfig)
	t.Setenv(EnvConfigPath, path)

	c, err := Load("/does/not/exist.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":9001", c.Enforcer.ListenAddress)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeConfig(t, "enforcer:\n  nosuchkey: true\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	assert.Error(t, err)
}
