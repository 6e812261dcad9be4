package commands

import (
	"context"
	"fmt"

	"github.com/airchains-network/tweak-executor/proxy"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/spf13/cobra"
)

// ServeCmd serves the tweaked fork over JSON-RPC
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tweaked fork over JSON-RPC",
	Long: `Fork the configured chain, install the given code tweaks and answer JSON-RPC requests against it.
Methods the fork does not serve itself are forwarded to the forked node.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCommand(cmd)
	},
}

func init() {
	addForkFlags(ServeCmd)
	ServeCmd.Flags().String("port", "", "Listen address (default from config)")
}

func serveCommand(cmd *cobra.Command) error {
	log := newLogger(cmd)
	ctx := context.Background()

	tweaks, err := parseTweaks(cmd)
	if err != nil {
		return err
	}
	if err := gateTweaks(cmd, log); err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	debug, _ := cmd.Flags().GetBool("debug")
	atomic, _ := cmd.Flags().GetBool("atomic-tweaks")

	exec, err := buildExecutor(ctx, cfg, tweaks, debug, atomic, log)
	if err != nil {
		return err
	}
	defer exec.Close()

	url, err := cfg.RPCURLOrLocalhost()
	if err != nil {
		return err
	}
	upstream, err := rpc.DialContext(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer upstream.Close()

	port, _ := cmd.Flags().GetString("port")
	if port == "" {
		port = cfg.Proxy.Port
	}
	for _, tw := range tweaks {
		log.Infof("Serving tweaked code at %s (%d bytes)", tw.Address.Hex(), len(tw.Code))
	}
	return proxy.Start(port, exec, upstream, log)
}
