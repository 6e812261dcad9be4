package state

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/airchains-network/tweak-executor/db"
	"github.com/airchains-network/tweak-executor/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

const (
	accountPrefix = "account:"
	storagePrefix = "storage:"
)

// rlpAccount is the on-disk encoding of an account
type rlpAccount struct {
	Balance  *big.Int
	Nonce    uint64
	CodeHash common.Hash
	HasCode  bool
	Checked  bool
	Code     []byte
}

// AccountStore is the local account table of a backend. Accounts and
// storage slots are kept under separate key prefixes of one database.
type AccountStore struct {
	db db.DB
}

func NewAccountStore(database db.DB) *AccountStore {
	return &AccountStore{db: database}
}

// OpenAccountStore opens the store at dbPath; an empty path keeps it in memory.
func OpenAccountStore(dbPath string) (*AccountStore, error) {
	database, err := db.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &AccountStore{db: database}, nil
}

func accountKey(addr common.Address) []byte {
	return []byte(accountPrefix + strings.ToLower(addr.Hex()))
}

func storageKey(addr common.Address, slot common.Hash) []byte {
	return []byte(storagePrefix + strings.ToLower(addr.Hex()) + ":" + slot.Hex())
}

// GetAccount returns the stored account, nil if the address is unknown.
func (s *AccountStore) GetAccount(addr common.Address) (*types.AccountInfo, error) {
	data, err := s.db.Get(accountKey(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	var acc rlpAccount
	if err := rlp.DecodeBytes(data, &acc); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}
	return decodeAccount(&acc), nil
}

// SaveAccount stores the account under addr, replacing any previous value.
func (s *AccountStore) SaveAccount(addr common.Address, info *types.AccountInfo) error {
	data, err := rlp.EncodeToBytes(encodeAccount(info))
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}
	return s.db.Put(accountKey(addr), data)
}

// GetStorage returns a stored slot value. ok is false if the slot was
// never written to the store.
func (s *AccountStore) GetStorage(addr common.Address, slot common.Hash) (value common.Hash, ok bool, err error) {
	data, err := s.db.Get(storageKey(addr, slot))
	if err != nil {
		return common.Hash{}, false, fmt.Errorf("failed to get storage: %w", err)
	}
	if data == nil {
		return common.Hash{}, false, nil
	}
	return common.BytesToHash(data), true, nil
}

// SetStorage sets a value in the contract's storage.
func (s *AccountStore) SetStorage(addr common.Address, slot, value common.Hash) error {
	return s.db.Put(storageKey(addr, slot), value.Bytes())
}

// GetAllAccounts returns every account in the store keyed by address.
func (s *AccountStore) GetAllAccounts() (map[common.Address]*types.AccountInfo, error) {
	accounts := make(map[common.Address]*types.AccountInfo)
	err := s.db.Iterate([]byte(accountPrefix), func(key, value []byte) error {
		addr := common.HexToAddress(string(key[len(accountPrefix):]))
		var acc rlpAccount
		if err := rlp.DecodeBytes(value, &acc); err != nil {
			return fmt.Errorf("failed to decode account %s: %w", addr.Hex(), err)
		}
		accounts[addr] = decodeAccount(&acc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// GetAllStorage returns every stored slot of addr.
func (s *AccountStore) GetAllStorage(addr common.Address) (map[common.Hash]common.Hash, error) {
	prefix := []byte(storagePrefix + strings.ToLower(addr.Hex()) + ":")
	slots := make(map[common.Hash]common.Hash)
	err := s.db.Iterate(prefix, func(key, value []byte) error {
		slots[common.HexToHash(string(key[len(prefix):]))] = common.BytesToHash(value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return slots, nil
}

func (s *AccountStore) Close() {
	s.db.Close()
}

func encodeAccount(info *types.AccountInfo) *rlpAccount {
	acc := &rlpAccount{
		Balance:  new(big.Int),
		Nonce:    info.Nonce,
		CodeHash: info.CodeHash,
	}
	if info.Balance != nil {
		acc.Balance = info.Balance.ToBig()
	}
	if info.Code != nil {
		acc.HasCode = true
		acc.Checked = info.Code.IsChecked()
		acc.Code = info.Code.Bytes()
	}
	return acc
}

func decodeAccount(acc *rlpAccount) *types.AccountInfo {
	balance, _ := uint256.FromBig(acc.Balance)
	if balance == nil {
		balance = new(uint256.Int)
	}
	info := &types.AccountInfo{
		Balance:  balance,
		Nonce:    acc.Nonce,
		CodeHash: acc.CodeHash,
	}
	if acc.HasCode {
		info.Code = types.NewRawBytecode(acc.Code)
		if acc.Checked {
			info.Code = info.Code.ToChecked()
		}
	}
	return info
}
