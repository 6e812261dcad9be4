package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := DefaultConfig()
	cfg.Fork.RPCURL = "mainnet"
	block := uint64(19_000_000)
	cfg.Fork.BlockNumber = &block
	cfg.Fork.ChainID = 1
	cfg.RPCEndpoints["mainnet"] = "https://eth.example/${TWEAK_TEST_KEY}"
	cfg.Database.Path = "/tmp/accounts"
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults_fill_missing_sections", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(path, []byte("[fork]\nrpc_url = \"http://node:8545\"\n"), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		require.Equal(t, "http://node:8545", cfg.Fork.RPCURL)
		require.Equal(t, "cancun", cfg.Fork.EVMVersion)
		require.Equal(t, ":8546", cfg.Proxy.Port)
		require.Nil(t, cfg.Fork.BlockNumber)
	})

	t.Run("genesis_block", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(path, []byte("[fork]\nblock_number = 0\n"), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		require.NotNil(t, cfg.Fork.BlockNumber)
		require.Zero(t, *cfg.Fork.BlockNumber)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "none.toml"))
		require.Error(t, err)
	})

	t.Run("malformed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(path, []byte("[fork\n"), 0o644))
		_, err := LoadConfig(path)
		require.Error(t, err)
	})
}

func TestRPCURLOrLocalhost(t *testing.T) {
	t.Run("localhost_default", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Fork.RPCURL = ""
		url, err := cfg.RPCURLOrLocalhost()
		require.NoError(t, err)
		require.Equal(t, DefaultRPCURL, url)
	})

	t.Run("plain_url", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Fork.RPCURL = "https://rpc.example"
		url, err := cfg.RPCURLOrLocalhost()
		require.NoError(t, err)
		require.Equal(t, "https://rpc.example", url)
	})

	t.Run("alias_with_env", func(t *testing.T) {
		t.Setenv("TWEAK_TEST_KEY", "secret")
		cfg := DefaultConfig()
		cfg.Fork.RPCURL = "mainnet"
		cfg.RPCEndpoints["mainnet"] = "https://eth.example/${TWEAK_TEST_KEY}"

		url, err := cfg.RPCURLOrLocalhost()
		require.NoError(t, err)
		require.Equal(t, "https://eth.example/secret", url)
	})

	t.Run("unset_env", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Fork.RPCURL = "https://eth.example/${TWEAK_TEST_UNSET_VARIABLE}"
		_, err := cfg.RPCURLOrLocalhost()
		require.ErrorContains(t, err, "TWEAK_TEST_UNSET_VARIABLE")
	})

	t.Run("unknown_alias", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Fork.RPCURL = "sepolia"
		_, err := cfg.RPCURLOrLocalhost()
		require.ErrorContains(t, err, "sepolia")
	})
}
