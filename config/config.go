package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml"
)

// DefaultRPCURL is used when no fork url is configured.
const DefaultRPCURL = "http://localhost:8545"

// Config holds the application configuration
type Config struct {
	Fork         ForkConfig        `toml:"fork"`
	RPCEndpoints map[string]string `toml:"rpc_endpoints"`
	Database     DatabaseConfig    `toml:"database"`
	Proxy        ProxyConfig       `toml:"proxy"`
}

// ForkConfig selects the chain and block to fork from
type ForkConfig struct {
	RPCURL      string  `toml:"rpc_url"`                // url or alias in [rpc_endpoints]
	BlockNumber *uint64 `toml:"block_number,omitempty"` // unset = latest
	ChainID     uint64  `toml:"chain_id"`               // 0 = ask the node
	EVMVersion  string  `toml:"evm_version"`
}

// DatabaseConfig holds the path of the local account table
type DatabaseConfig struct {
	Path string `toml:"path"` // empty = in memory
}

type ProxyConfig struct {
	Port string `toml:"port"`
}

// DefaultConfig returns the configuration written by init
func DefaultConfig() Config {
	return Config{
		Fork: ForkConfig{
			RPCURL:     DefaultRPCURL,
			EVMVersion: "cancun",
		},
		RPCEndpoints: map[string]string{},
		Proxy: ProxyConfig{
			Port: ":8546",
		},
	}
}

// DefaultPath returns ~/.tweak-executor/config.toml
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".tweak-executor", "config.toml"), nil
}

// LoadConfig reads from config.toml and returns Config struct
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	file, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	err = toml.Unmarshal(file, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the config to path, creating its directory
func (c Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var envVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolate replaces every ${VAR} in s with the value of the environment
// variable. An unset variable is an error.
func interpolate(s string) (string, error) {
	var missing []string
	out := envVar.ReplaceAllStringFunc(s, func(m string) string {
		name := envVar.FindStringSubmatch(m)[1]
		val, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
		}
		return val
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("failed to resolve rpc url %q: environment variable %s not set", s, strings.Join(missing, ", "))
	}
	return out, nil
}

// RPCURL resolves the configured fork url: an alias is looked up in
// [rpc_endpoints] and ${VAR} references are expanded. It returns "" when
// nothing is configured.
func (c Config) RPCURL() (string, error) {
	raw := strings.TrimSpace(c.Fork.RPCURL)
	if raw == "" {
		return "", nil
	}
	if endpoint, ok := c.RPCEndpoints[raw]; ok {
		raw = endpoint
	} else if !strings.Contains(raw, "://") && !strings.Contains(raw, "${") {
		return "", fmt.Errorf("unknown rpc endpoint alias %q", raw)
	}
	return interpolate(raw)
}

// RPCURLOrLocalhost is RPCURL falling back to DefaultRPCURL
func (c Config) RPCURLOrLocalhost() (string, error) {
	url, err := c.RPCURL()
	if err != nil {
		return "", err
	}
	if url == "" {
		return DefaultRPCURL, nil
	}
	return url, nil
}
