package main

import (
	"os"

	"github.com/airchains-network/tweak-executor/cmd/tweak-executor/commands"
	"github.com/spf13/cobra"
)

func main() {
	// Create root command
	rootCmd := &cobra.Command{
		Use:   "tweak-executor",
		Short: "Execute edited contract code against forked chain state",
		Long: `Execute locally edited bytecode of deployed contracts against the real state of a forked chain.
Before the code is swapped in, the storage layout of the edited contract can be checked against the original one.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.tweak-executor/config.toml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	// Add commands
	rootCmd.AddCommand(commands.InitCmd)
	rootCmd.AddCommand(commands.CheckCmd)
	rootCmd.AddCommand(commands.CallCmd)
	rootCmd.AddCommand(commands.ServeCmd)

	// Execute root command
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
