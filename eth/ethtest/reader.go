// Package ethtest provides an in-memory ChainReader for tests.
package ethtest

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

var ErrUnknownBlock = errors.New("unknown block")

// Account is the remote state of one address
type Account struct {
	Balance *big.Int
	Nonce   uint64
	Code    []byte
	Storage map[common.Hash]common.Hash
}

// Reader is a fake node serving a single block of state. Err, when set,
// is returned by every state query.
type Reader struct {
	mu       sync.Mutex
	Header   *ethtypes.Header
	ID       *big.Int
	Accounts map[common.Address]*Account
	Err      error

	Calls int
}

func NewReader(number uint64) *Reader {
	return &Reader{
		Header: &ethtypes.Header{
			Number:     new(big.Int).SetUint64(number),
			Time:       1_700_000_000,
			GasLimit:   30_000_000,
			BaseFee:    big.NewInt(7),
			Difficulty: big.NewInt(0),
			Coinbase:   common.HexToAddress("0x00000000000000000000000000000000000c0ffe"),
			MixDigest:  common.HexToHash("0x1234"),
		},
		ID:       big.NewInt(1),
		Accounts: make(map[common.Address]*Account),
	}
}

func (r *Reader) query(blockNumber *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls++
	if r.Err != nil {
		return r.Err
	}
	if blockNumber != nil && blockNumber.Cmp(r.Header.Number) != 0 {
		return ErrUnknownBlock
	}
	return nil
}

func (r *Reader) account(addr common.Address) *Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	if acc, ok := r.Accounts[addr]; ok {
		return acc
	}
	return &Account{}
}

func (r *Reader) HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error) {
	if err := r.query(number); err != nil {
		return nil, err
	}
	return ethtypes.CopyHeader(r.Header), nil
}

func (r *Reader) ChainID(ctx context.Context) (*big.Int, error) {
	if err := r.query(nil); err != nil {
		return nil, err
	}
	return new(big.Int).Set(r.ID), nil
}

func (r *Reader) BalanceAt(ctx context.Context, addr common.Address, blockNumber *big.Int) (*big.Int, error) {
	if err := r.query(blockNumber); err != nil {
		return nil, err
	}
	if bal := r.account(addr).Balance; bal != nil {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (r *Reader) NonceAt(ctx context.Context, addr common.Address, blockNumber *big.Int) (uint64, error) {
	if err := r.query(blockNumber); err != nil {
		return 0, err
	}
	return r.account(addr).Nonce, nil
}

func (r *Reader) CodeAt(ctx context.Context, addr common.Address, blockNumber *big.Int) ([]byte, error) {
	if err := r.query(blockNumber); err != nil {
		return nil, err
	}
	return common.CopyBytes(r.account(addr).Code), nil
}

func (r *Reader) StorageAt(ctx context.Context, addr common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	if err := r.query(blockNumber); err != nil {
		return nil, err
	}
	val := r.account(addr).Storage[key]
	return val.Bytes(), nil
}
