package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/poe/config"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "poe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
chain:
  id: testnet
store:
  backend: memory
log:
  format: json
registry:
  max_claim_length: 64
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "testnet", cfg.Chain.ID)
	assert.Equal(t, config.BackendMemory, cfg.Store.Backend)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.EqualValues(t, 64, cfg.Registry.MaxClaimLength)

	// Untouched keys keep their defaults.
	assert.Equal(t, "127.0.0.1:26658", cfg.GRPC.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "store:\n  backend: memory\n")
	t.Setenv("POE_STORE_BACKEND", "leveldb")
	t.Setenv("POE_STORE_PATH", "~/poe-data")
	t.Setenv("POE_GRPC_ADDR", "0.0.0.0:9000")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.BackendLevelDB, cfg.Store.Backend)
	assert.Equal(t, "0.0.0.0:9000", cfg.GRPC.Addr)
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "poe-data"), cfg.Store.Path)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"backend": "store:\n  backend: redis\n",
		"format":  "log:\n  format: xml\n",
		"bound":   "registry:\n  max_claim_length: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
