package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/airchains-network/tweak-executor/backend"
	"github.com/airchains-network/tweak-executor/executor"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"
)

// CallCmd executes one message against the tweaked fork
var CallCmd = &cobra.Command{
	Use:   "call",
	Short: "Execute a call against the tweaked fork",
	Long: `Fork the configured chain, install the given code tweaks and execute a single message.
When --metadata and --artifact are given the tweak is refused if the storage layout changed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return callCommand(cmd)
	},
}

func init() {
	addForkFlags(CallCmd)
	CallCmd.Flags().String("from", "", "Sender address (impersonated)")
	CallCmd.Flags().String("to", "", "Target address, empty deploys --data")
	CallCmd.Flags().String("data", "", "Calldata as hex")
	CallCmd.Flags().String("value", "0", "Value in wei")
	CallCmd.Flags().Uint64("gas", 0, "Gas limit (0 = block gas limit)")
	CallCmd.Flags().Bool("trace", false, "Print the call trace as JSON")
	CallCmd.Flags().Bool("transact", false, "Commit the resulting state to the local account table")
}

func callCommand(cmd *cobra.Command) error {
	log := newLogger(cmd)
	ctx := context.Background()

	msg, err := messageFromFlags(cmd)
	if err != nil {
		return err
	}
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

	transact, _ := cmd.Flags().GetBool("transact")
	run := exec.Call
	if transact {
		run = exec.Transact
	}
	res, err := run(ctx, msg)
	if err != nil {
		return fmt.Errorf("call failed: %w", err)
	}

	status := "success"
	if res.Failed() {
		status = res.Err.Error()
	}
	fmt.Printf("Status: %s\n", status)
	fmt.Printf("Gas Used: %d\n", res.GasUsed)
	fmt.Printf("Return Data: %s\n", hexutil.Encode(res.ReturnData))
	for i, l := range res.Logs {
		fmt.Printf("Log %d: %s topics=%v data=%s\n", i, l.Address.Hex(), l.Topics, hexutil.Encode(l.Data))
	}

	if transact {
		if err := printDigest(exec); err != nil {
			return err
		}
	}

	if trace, _ := cmd.Flags().GetBool("trace"); trace {
		out, err := json.MarshalIndent(struct {
			Trace *executor.CallFrame `json:"trace"`
			Steps []executor.Step     `json:"steps,omitempty"`
		}{res.Trace, res.Steps}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode trace: %w", err)
		}
		fmt.Println(string(out))
	}
	return nil
}

// printDigest prints the hash of the local account table after a transact
func printDigest(exec *executor.TracingExecutor) error {
	db, ok := exec.Backend().(*backend.ForkBackend)
	if !ok {
		return nil
	}
	digest, err := db.Digest()
	if err != nil {
		return fmt.Errorf("failed to hash account table: %w", err)
	}
	fmt.Printf("State Digest: %s\n", digest.Hex())
	return nil
}

func messageFromFlags(cmd *cobra.Command) (executor.Message, error) {
	var msg executor.Message

	from, _ := cmd.Flags().GetString("from")
	if from != "" {
		if !common.IsHexAddress(from) {
			return msg, fmt.Errorf("invalid --from address: %s", from)
		}
		msg.From = common.HexToAddress(from)
	}
	to, _ := cmd.Flags().GetString("to")
	if to != "" {
		if !common.IsHexAddress(to) {
			return msg, fmt.Errorf("invalid --to address: %s", to)
		}
		addr := common.HexToAddress(to)
		msg.To = &addr
	}
	data, _ := cmd.Flags().GetString("data")
	if data != "" {
		b, err := hexutil.Decode(data)
		if err != nil {
			return msg, fmt.Errorf("invalid --data: %w", err)
		}
		msg.Data = b
	}
	value, _ := cmd.Flags().GetString("value")
	v, ok := new(big.Int).SetString(value, 0)
	if !ok || v.Sign() < 0 {
		return msg, fmt.Errorf("invalid --value: %s", value)
	}
	msg.Value = v
	msg.GasLimit, _ = cmd.Flags().GetUint64("gas")
	return msg, nil
}
