package state

import (
	"testing"

	"github.com/airchains-network/tweak-executor/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *AccountStore {
	t.Helper()
	store, err := OpenAccountStore("")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestAccountStore(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")

	t.Run("unknown_account", func(t *testing.T) {
		store := newTestStore(t)
		info, err := store.GetAccount(addr)
		require.NoError(t, err)
		require.Nil(t, info)
	})

	t.Run("account_roundtrip_keeps_checked_code", func(t *testing.T) {
		store := newTestStore(t)
		code := []byte{0x60, 0x00, 0x5b, 0x00}
		info := &types.AccountInfo{
			Balance:  uint256.NewInt(5000),
			Nonce:    3,
			CodeHash: crypto.Keccak256Hash(code),
			Code:     types.NewRawBytecode(code).ToChecked(),
		}
		require.NoError(t, store.SaveAccount(addr, info))

		got, err := store.GetAccount(addr)
		require.NoError(t, err)
		require.Equal(t, uint64(5000), got.Balance.Uint64())
		require.Equal(t, uint64(3), got.Nonce)
		require.Equal(t, info.CodeHash, got.CodeHash)
		require.Equal(t, code, got.CodeBytes())
		require.True(t, got.Code.IsChecked())
	})

	t.Run("account_without_code", func(t *testing.T) {
		store := newTestStore(t)
		require.NoError(t, store.SaveAccount(addr, types.DefaultAccountInfo()))

		got, err := store.GetAccount(addr)
		require.NoError(t, err)
		require.Nil(t, got.Code)
		require.Equal(t, types.EmptyCodeHash, got.CodeHash)
		require.True(t, got.Balance.IsZero())
	})

	t.Run("storage", func(t *testing.T) {
		store := newTestStore(t)
		slot := common.HexToHash("0x01")

		_, ok, err := store.GetStorage(addr, slot)
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, store.SetStorage(addr, slot, common.Hash{}))
		val, ok, err := store.GetStorage(addr, slot)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, common.Hash{}, val)

		require.NoError(t, store.SetStorage(addr, slot, common.HexToHash("0xff")))
		slots, err := store.GetAllStorage(addr)
		require.NoError(t, err)
		require.Equal(t, map[common.Hash]common.Hash{slot: common.HexToHash("0xff")}, slots)
	})

	t.Run("all_accounts", func(t *testing.T) {
		store := newTestStore(t)
		other := common.HexToAddress("0x2222222222222222222222222222222222222222")
		require.NoError(t, store.SaveAccount(addr, types.DefaultAccountInfo()))
		require.NoError(t, store.SaveAccount(other, types.DefaultAccountInfo()))
		require.NoError(t, store.SetStorage(addr, common.Hash{}, common.HexToHash("0x01")))

		accounts, err := store.GetAllAccounts()
		require.NoError(t, err)
		require.Len(t, accounts, 2)
		require.Contains(t, accounts, addr)
		require.Contains(t, accounts, other)
	})
}
