package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/airchains-network/tweak-executor/config"
	"github.com/airchains-network/tweak-executor/layout"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const storageLayout = `{"storage": [
  {"astId": 3, "contract": "contract.sol:C", "label": "data", "offset": 0, "slot": "0", "type": "t_uint256"},
  {"astId": 5, "contract": "contract.sol:C", "label": "owner", "offset": 0, "slot": "1", "type": "t_address"}
]}`

const shiftedLayout = `{"storage": [
  {"astId": 3, "contract": "contract.sol:C", "label": "data", "offset": 0, "slot": "1", "type": "t_uint256"}
]}`

func newCallCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "call"}
	cmd.Flags().Bool("verbose", false, "")
	cmd.Flags().String("config", "", "")
	addForkFlags(cmd)
	cmd.Flags().String("from", "", "")
	cmd.Flags().String("to", "", "")
	cmd.Flags().String("data", "", "")
	cmd.Flags().String("value", "0", "")
	cmd.Flags().Uint64("gas", 0, "")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMessageFromFlags(t *testing.T) {
	to := "0x00000000000000000000000000000000000000aa"
	cmd := newCallCmd(t, "--to", to, "--data", "0x01ff", "--value", "0x10", "--gas", "50000")

	msg, err := messageFromFlags(cmd)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(to), *msg.To)
	require.Equal(t, []byte{0x01, 0xff}, msg.Data)
	require.Equal(t, int64(16), msg.Value.Int64())
	require.Equal(t, uint64(50000), msg.GasLimit)

	_, err = messageFromFlags(newCallCmd(t, "--to", "0x12"))
	require.Error(t, err)
	_, err = messageFromFlags(newCallCmd(t, "--value", "-1"))
	require.Error(t, err)
}

func TestParseTweaks(t *testing.T) {
	cmd := newCallCmd(t,
		"--tweak", "0x00000000000000000000000000000000000000aa=0x6000",
		"--tweak", "0x00000000000000000000000000000000000000bb=",
	)
	tweaks, err := parseTweaks(cmd)
	require.NoError(t, err)
	require.Len(t, tweaks, 2)
	require.Equal(t, []byte{0x60, 0x00}, tweaks[0].Code)
	require.Empty(t, tweaks[1].Code)
}

func TestGateTweaks(t *testing.T) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	metadata := writeFile(t, "clone.json", `{"storage_layout": `+storageLayout+`}`)
	same := writeFile(t, "same.json", `{"storageLayout": `+storageLayout+`}`)
	shifted := writeFile(t, "shifted.json", `{"storageLayout": `+shiftedLayout+`}`)

	require.NoError(t, gateTweaks(newCallCmd(t), log))
	require.NoError(t, gateTweaks(newCallCmd(t, "--metadata", metadata, "--artifact", same), log))
	require.Error(t, gateTweaks(newCallCmd(t, "--metadata", metadata), log))

	err := gateTweaks(newCallCmd(t, "--metadata", metadata, "--artifact", shifted), log)
	var mismatch *layout.LayoutMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "data", mismatch.Label)

	require.NoError(t, gateTweaks(newCallCmd(t, "--metadata", metadata, "--artifact", shifted, "--force"), log))

	// a missing layout is not an incompatibility, --force does not skip it
	bare := writeFile(t, "bare.json", `{"abi": []}`)
	err = gateTweaks(newCallCmd(t, "--metadata", metadata, "--artifact", bare, "--force"), log)
	require.ErrorIs(t, err, layout.ErrNoLayout)
}

func TestCheckLayoutReportsEveryDifference(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	metadata := writeFile(t, "clone.json", `{"storage_layout": `+storageLayout+`}`)
	shifted := writeFile(t, "shifted.json", `{"storageLayout": `+shiftedLayout+`}`)

	err := checkLayout(metadata, shifted, log)
	var mismatch *layout.LayoutMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "data", mismatch.Label)

	warnings := hook.AllEntries()
	require.Len(t, warnings, 2)
	require.Contains(t, warnings[0].Message, "data")
	require.Contains(t, warnings[1].Message, "owner is missing")
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, config.DefaultConfig().Save(path))

	cfg, err := loadConfig(newCallCmd(t, "--config", path, "--fork-url", "http://node:8545", "--fork-block", "12"))
	require.NoError(t, err)
	require.Equal(t, "http://node:8545", cfg.Fork.RPCURL)
	require.Equal(t, uint64(12), *cfg.Fork.BlockNumber)

	cfg, err = loadConfig(newCallCmd(t, "--config", path, "--fork-block", "0"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Fork.BlockNumber)
	require.Zero(t, *cfg.Fork.BlockNumber)

	cfg, err = loadConfig(newCallCmd(t, "--config", path))
	require.NoError(t, err)
	require.Nil(t, cfg.Fork.BlockNumber)
}
