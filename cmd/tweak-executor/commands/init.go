package commands

import (
	"fmt"

	"github.com/airchains-network/tweak-executor/config"
	"github.com/airchains-network/tweak-executor/executor"
	"github.com/spf13/cobra"
)

// InitCmd represents the init command
var InitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write the configuration file used by the other commands.
By default it is created at ~/.tweak-executor/config.toml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return initCommand(cmd)
	},
}

func init() {
	InitCmd.Flags().String("rpc-url", config.DefaultRPCURL, "Fork rpc url or alias")
	InitCmd.Flags().Uint64("block", 0, "Fork block number (default latest)")
	InitCmd.Flags().Uint64("chain-id", 0, "Chain id (0 = ask the node)")
	InitCmd.Flags().String("evm-version", "cancun", "EVM version the executor runs")
	InitCmd.Flags().String("db-path", "", "Account table directory (empty = in memory)")
	InitCmd.Flags().String("proxy.port", ":8546", "Proxy server port")
}

func initCommand(cmd *cobra.Command) error {
	rpcURL, _ := cmd.Flags().GetString("rpc-url")
	chainID, _ := cmd.Flags().GetUint64("chain-id")
	evmVersion, _ := cmd.Flags().GetString("evm-version")
	dbPath, _ := cmd.Flags().GetString("db-path")
	proxyPort, _ := cmd.Flags().GetString("proxy.port")

	log := newLogger(cmd)

	if _, err := executor.SpecFromEVMVersion(evmVersion); err != nil {
		return fmt.Errorf("invalid --evm-version: %w", err)
	}

	cfg := config.DefaultConfig()
	cfg.Fork.RPCURL = rpcURL
	if cmd.Flags().Changed("block") {
		block, _ := cmd.Flags().GetUint64("block")
		cfg.Fork.BlockNumber = &block
	}
	cfg.Fork.ChainID = chainID
	cfg.Fork.EVMVersion = evmVersion
	cfg.Database.Path = dbPath
	cfg.Proxy.Port = proxyPort

	path, err := configPath(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	log.Infof("Created config file at: %s", path)

	// Show configuration summary
	fmt.Println("\n=== Configuration Summary ===")
	fmt.Printf("RPC URL: %s\n", cfg.Fork.RPCURL)
	if cfg.Fork.BlockNumber != nil {
		fmt.Printf("Fork Block: %d\n", *cfg.Fork.BlockNumber)
	} else {
		fmt.Println("Fork Block: latest")
	}
	fmt.Printf("EVM Version: %s\n", cfg.Fork.EVMVersion)
	fmt.Printf("Proxy Port: %s\n", cfg.Proxy.Port)
	fmt.Printf("Config File: %s\n", path)
	return nil
}
