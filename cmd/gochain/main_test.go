package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basechain/node/pkg/storage"
)

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	configFile = ""

	require.NoError(t, loadConfig())

	assert.Equal(t, ":8080", viper.GetString("api_addr"))
	assert.Equal(t, 4001, viper.GetInt("p2p.port"))
	assert.False(t, viper.GetBool("mining.enabled"))
	assert.Equal(t, string(storage.BackendBadger), viper.GetString("storage.backend"))
}

func TestLoadConfigFromFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	path := filepath.Join(dir, "basechain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"api_addr: \":9090\"\np2p:\n  port: 4002\nmining:\n  enabled: true\nstorage:\n  backend: leveldb\n"), 0o600))

	configFile = path
	t.Cleanup(func() { configFile = "" })

	require.NoError(t, loadConfig())

	assert.Equal(t, ":9090", viper.GetString("api_addr"))
	assert.Equal(t, 4002, viper.GetInt("p2p.port"))
	assert.True(t, viper.GetBool("mining.enabled"))
	assert.Equal(t, "leveldb", viper.GetString("storage.backend"))
}
