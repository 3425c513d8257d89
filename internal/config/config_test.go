package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idclaim/idclaim/testutil"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.InstanceName)
	assert.Equal(t, "instance-ids", cfg.Namespace)
	assert.Equal(t, BackendFS, cfg.Store.Backend)
	assert.Equal(t, "/var/lib/idclaim", cfg.Store.Path)
	assert.Equal(t, ":8470", cfg.Server.Listen)
	assert.Equal(t, "/var/lib/idclaim", cfg.Server.DataDir)
}

func TestLoad_FromFile(t *testing.T) {
	path := testutil.TempFile(t, t.TempDir(), "idclaim.yaml", `
instance_name: api-3
namespace: prod-ids
store:
  backend: http
  endpoint: http://store.internal:8470
  auth_token: secret
server:
  listen: ":9000"
  data_dir: /srv/idclaim
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "api-3", cfg.InstanceName)
	assert.Equal(t, "prod-ids", cfg.Namespace)
	assert.Equal(t, BackendHTTP, cfg.Store.Backend)
	assert.Equal(t, "http://store.internal:8470", cfg.Store.Endpoint)
	assert.Equal(t, "secret", cfg.Store.AuthToken)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, "/srv/idclaim", cfg.Server.DataDir)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := testutil.TempFile(t, t.TempDir(), "idclaim.yaml", `
namespace: staging-ids
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging-ids", cfg.Namespace)
	assert.Equal(t, BackendFS, cfg.Store.Backend)
	assert.Equal(t, "/var/lib/idclaim", cfg.Store.Path)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/idclaim.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := testutil.TempFile(t, t.TempDir(), "idclaim.yaml", "store: [not a map")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config file")
}

func TestLoad_HTTPBackendRequiresEndpoint(t *testing.T) {
	path := testutil.TempFile(t, t.TempDir(), "idclaim.yaml", `
store:
  backend: http
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.endpoint")
}

func TestLoad_UnknownBackend(t *testing.T) {
	path := testutil.TempFile(t, t.TempDir(), "idclaim.yaml", `
store:
  backend: s3
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store backend")
}

func TestLoad_Loki(t *testing.T) {
	path := testutil.TempFile(t, t.TempDir(), "idclaim.yaml", `
loki:
  enabled: true
  url: http://loki.internal:3100
  batch_size: 50
  flush_interval: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Loki.Enabled)
	assert.Equal(t, "http://loki.internal:3100", cfg.Loki.URL)
	assert.Equal(t, 50, cfg.Loki.BatchSize)
	assert.Equal(t, "2s", cfg.Loki.FlushInterval)
}

func TestLoad_LokiRequiresURL(t *testing.T) {
	path := testutil.TempFile(t, t.TempDir(), "idclaim.yaml", `
loki:
  enabled: true
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loki.url")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, "idclaim"), expandHome("~/idclaim"))
	assert.Equal(t, "/var/lib/idclaim", expandHome("/var/lib/idclaim"))
	assert.Equal(t, "relative/path", expandHome("relative/path"))
}

func TestDefaultInstanceName(t *testing.T) {
	a := defaultInstanceName()
	b := defaultInstanceName()

	assert.NotEmpty(t, a)
	// The random suffix keeps two instances on one host distinguishable.
	assert.NotEqual(t, a, b)
}
