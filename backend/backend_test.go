package backend

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/airchains-network/tweak-executor/eth"
	"github.com/airchains-network/tweak-executor/eth/ethtest"
	"github.com/airchains-network/tweak-executor/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	contractAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	slotZero     = common.Hash{}
)

func newForkedBackend(t *testing.T, reader *ethtest.Reader) *ForkBackend {
	t.Helper()
	b, err := Spawn(&eth.Fork{URL: "http://node", BlockNumber: reader.Header.Number.Uint64(), Client: reader})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func TestForkBackend(t *testing.T) {
	code := []byte{0x60, 0x01, 0x00}

	t.Run("local_backend_returns_nil_for_unknown_account", func(t *testing.T) {
		b, err := Spawn(nil)
		require.NoError(t, err)
		defer b.Close()

		info, err := b.AccountInfo(contractAddr)
		require.NoError(t, err)
		require.Nil(t, info)

		val, err := b.Storage(contractAddr, slotZero)
		require.NoError(t, err)
		require.Equal(t, common.Hash{}, val)
	})

	t.Run("reads_through_to_fork_once", func(t *testing.T) {
		reader := ethtest.NewReader(10)
		reader.Accounts[contractAddr] = &ethtest.Account{
			Balance: big.NewInt(99),
			Nonce:   1,
			Code:    code,
			Storage: map[common.Hash]common.Hash{slotZero: common.HexToHash("0x2a")},
		}
		b := newForkedBackend(t, reader)

		info, err := b.AccountInfo(contractAddr)
		require.NoError(t, err)
		require.Equal(t, uint64(99), info.Balance.Uint64())
		require.Equal(t, uint64(1), info.Nonce)
		require.Equal(t, code, info.CodeBytes())
		require.Equal(t, crypto.Keccak256Hash(code), info.CodeHash)

		calls := reader.Calls
		_, err = b.AccountInfo(contractAddr)
		require.NoError(t, err)
		require.Equal(t, calls, reader.Calls)

		val, err := b.Storage(contractAddr, slotZero)
		require.NoError(t, err)
		require.Equal(t, common.HexToHash("0x2a"), val)
	})

	t.Run("local_writes_shadow_the_fork", func(t *testing.T) {
		reader := ethtest.NewReader(10)
		reader.Accounts[contractAddr] = &ethtest.Account{Balance: big.NewInt(1)}
		b := newForkedBackend(t, reader)

		info := types.DefaultAccountInfo()
		info.Balance = uint256.NewInt(5)
		require.NoError(t, b.InsertAccountInfo(contractAddr, info))
		require.NoError(t, b.SetStorage(contractAddr, slotZero, common.HexToHash("0x07")))

		got, err := b.AccountInfo(contractAddr)
		require.NoError(t, err)
		require.Equal(t, uint64(5), got.Balance.Uint64())

		val, err := b.Storage(contractAddr, slotZero)
		require.NoError(t, err)
		require.Equal(t, common.HexToHash("0x07"), val)
		require.Zero(t, reader.Calls)
	})

	t.Run("remote_failure_is_a_backend_error", func(t *testing.T) {
		cause := errors.New("connection refused")
		reader := ethtest.NewReader(10)
		reader.Err = cause
		b := newForkedBackend(t, reader)

		_, err := b.AccountInfo(contractAddr)
		var backendErr *Error
		require.ErrorAs(t, err, &backendErr)
		require.Equal(t, contractAddr, backendErr.Address)
		require.ErrorIs(t, err, cause)

		_, err = b.Storage(contractAddr, slotZero)
		require.ErrorIs(t, err, cause)
	})

	t.Run("with_context_shares_the_local_table", func(t *testing.T) {
		reader := ethtest.NewReader(10)
		b := newForkedBackend(t, reader)
		scoped := b.WithContext(context.TODO())
		require.Equal(t, b.Fork(), scoped.Fork())

		require.NoError(t, scoped.InsertAccountInfo(contractAddr, types.DefaultAccountInfo()))
		info, err := b.AccountInfo(contractAddr)
		require.NoError(t, err)
		require.NotNil(t, info)
		require.Zero(t, reader.Calls)
	})
}

func TestDigestFollowsFetchedState(t *testing.T) {
	reader := ethtest.NewReader(10)
	reader.Accounts[contractAddr] = &ethtest.Account{
		Balance: big.NewInt(9),
		Storage: map[common.Hash]common.Hash{slotZero: common.HexToHash("0x2a")},
	}
	b := newForkedBackend(t, reader)

	empty, err := b.Digest()
	require.NoError(t, err)

	_, err = b.AccountInfo(contractAddr)
	require.NoError(t, err)
	_, err = b.Storage(contractAddr, slotZero)
	require.NoError(t, err)

	fetched, err := b.Digest()
	require.NoError(t, err)
	require.NotEqual(t, empty, fetched)

	again, err := b.Digest()
	require.NoError(t, err)
	require.Equal(t, fetched, again)
}
