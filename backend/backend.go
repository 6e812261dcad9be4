package backend

import (
	"context"
	"fmt"
	"math/big"

	"github.com/airchains-network/tweak-executor/eth"
	"github.com/airchains-network/tweak-executor/state"
	"github.com/airchains-network/tweak-executor/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// Backend is a read/write store of per-address account state.
type Backend interface {
	// AccountInfo returns the account at addr, nil if the backend knows nothing about it.
	AccountInfo(addr common.Address) (*types.AccountInfo, error)
	InsertAccountInfo(addr common.Address, info *types.AccountInfo) error
	Storage(addr common.Address, slot common.Hash) (common.Hash, error)
	SetStorage(addr common.Address, slot, value common.Hash) error
}

// Error is an I/O or RPC failure while reading or writing account state.
type Error struct {
	Op      string
	Address common.Address
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend %s %s: %v", e.Op, e.Address.Hex(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ForkBackend keeps accounts in a local table and reads through to the
// forked chain for every address or slot the table does not hold yet.
// Without a fork it is a plain local store.
type ForkBackend struct {
	ctx   context.Context
	store *state.AccountStore
	fork  *eth.Fork
	block *big.Int
	log   logrus.FieldLogger
}

// Spawn creates a backend over fork backed by an in-memory account table.
// A nil fork gives a purely local backend.
func Spawn(fork *eth.Fork) (*ForkBackend, error) {
	store, err := state.OpenAccountStore("")
	if err != nil {
		return nil, err
	}
	return NewForkBackend(context.Background(), store, fork, nil), nil
}

func NewForkBackend(ctx context.Context, store *state.AccountStore, fork *eth.Fork, log logrus.FieldLogger) *ForkBackend {
	if log == nil {
		log = logrus.StandardLogger()
	}
	b := &ForkBackend{
		ctx:   ctx,
		store: store,
		fork:  fork,
		log:   log,
	}
	if fork != nil {
		b.block = new(big.Int).SetUint64(fork.BlockNumber)
	}
	return b
}

// WithContext returns a shallow copy whose remote reads use ctx.
func (b *ForkBackend) WithContext(ctx context.Context) *ForkBackend {
	cpy := *b
	cpy.ctx = ctx
	return &cpy
}

// WithLogger returns a shallow copy that logs to log.
func (b *ForkBackend) WithLogger(log logrus.FieldLogger) *ForkBackend {
	cpy := *b
	cpy.log = log
	return &cpy
}

// Fork returns the fork the backend reads through to, nil when local.
func (b *ForkBackend) Fork() *eth.Fork {
	return b.fork
}

func (b *ForkBackend) isForked() bool {
	return b.fork != nil && b.fork.Client != nil
}

func (b *ForkBackend) AccountInfo(addr common.Address) (*types.AccountInfo, error) {
	info, err := b.store.GetAccount(addr)
	if err != nil {
		return nil, &Error{Op: "read account", Address: addr, Err: err}
	}
	if info != nil || !b.isForked() {
		return info, nil
	}

	info, err = b.fetchAccount(addr)
	if err != nil {
		return nil, &Error{Op: "fetch account", Address: addr, Err: err}
	}
	if err := b.store.SaveAccount(addr, info); err != nil {
		return nil, &Error{Op: "write account", Address: addr, Err: err}
	}
	b.log.Debugf("Imported account %s at block %d", addr.Hex(), b.fork.BlockNumber)
	return info, nil
}

func (b *ForkBackend) fetchAccount(addr common.Address) (*types.AccountInfo, error) {
	client := b.fork.Client
	balance, err := client.BalanceAt(b.ctx, addr, b.block)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	nonce, err := client.NonceAt(b.ctx, addr, b.block)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	code, err := client.CodeAt(b.ctx, addr, b.block)
	if err != nil {
		return nil, fmt.Errorf("failed to get code: %w", err)
	}

	info := types.DefaultAccountInfo()
	info.Nonce = nonce
	if balance != nil {
		bal, overflow := uint256.FromBig(balance)
		if overflow {
			return nil, fmt.Errorf("balance %s overflows 256 bits", balance)
		}
		info.Balance = bal
	}
	if len(code) > 0 {
		info.Code = types.NewRawBytecode(code)
		info.CodeHash = crypto.Keccak256Hash(code)
	}
	return info, nil
}

func (b *ForkBackend) InsertAccountInfo(addr common.Address, info *types.AccountInfo) error {
	if err := b.store.SaveAccount(addr, info); err != nil {
		return &Error{Op: "write account", Address: addr, Err: err}
	}
	return nil
}

func (b *ForkBackend) Storage(addr common.Address, slot common.Hash) (common.Hash, error) {
	val, ok, err := b.store.GetStorage(addr, slot)
	if err != nil {
		return common.Hash{}, &Error{Op: "read storage", Address: addr, Err: err}
	}
	if ok || !b.isForked() {
		return val, nil
	}

	data, err := b.fork.Client.StorageAt(b.ctx, addr, slot, b.block)
	if err != nil {
		return common.Hash{}, &Error{Op: "fetch storage", Address: addr, Err: err}
	}
	val = common.BytesToHash(data)
	if err := b.store.SetStorage(addr, slot, val); err != nil {
		return common.Hash{}, &Error{Op: "write storage", Address: addr, Err: err}
	}
	return val, nil
}

func (b *ForkBackend) SetStorage(addr common.Address, slot, value common.Hash) error {
	if err := b.store.SetStorage(addr, slot, value); err != nil {
		return &Error{Op: "write storage", Address: addr, Err: err}
	}
	return nil
}

// Digest hashes the local account table, see state.AccountStore.Digest.
func (b *ForkBackend) Digest() (common.Hash, error) {
	return b.store.Digest()
}

// Close closes the local table and the fork connection.
func (b *ForkBackend) Close() {
	b.store.Close()
	if b.fork != nil {
		b.fork.Close()
	}
}
