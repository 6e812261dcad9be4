package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// EmptyCodeHash is the code hash of an account without code.
var EmptyCodeHash = ethtypes.EmptyCodeHash

// AccountInfo is the per-address account state kept by a backend
type AccountInfo struct {
	Balance  *uint256.Int
	Nonce    uint64
	CodeHash common.Hash
	Code     *Bytecode // nil when no code is loaded
}

// DefaultAccountInfo returns an empty account: no balance, no nonce, no code
func DefaultAccountInfo() *AccountInfo {
	return &AccountInfo{
		Balance:  new(uint256.Int),
		CodeHash: EmptyCodeHash,
	}
}

// Copy returns a deep copy of the account info.
func (a *AccountInfo) Copy() *AccountInfo {
	cpy := &AccountInfo{
		Nonce:    a.Nonce,
		CodeHash: a.CodeHash,
		Code:     a.Code,
	}
	if a.Balance != nil {
		cpy.Balance = new(uint256.Int).Set(a.Balance)
	} else {
		cpy.Balance = new(uint256.Int)
	}
	return cpy
}

// CodeBytes returns the raw code of the account, nil if it has none.
func (a *AccountInfo) CodeBytes() []byte {
	if a.Code == nil {
		return nil
	}
	return a.Code.Bytes()
}

// CodeTweak replaces the deployed code of Address with Code
type CodeTweak struct {
	Address common.Address
	Code    []byte
}

// BlockEnv holds the block context a transaction executes in
type BlockEnv struct {
	Number      uint64
	Timestamp   uint64
	GasLimit    uint64
	Coinbase    common.Address
	BaseFee     *big.Int
	Difficulty  *big.Int
	PrevRandao  common.Hash
	BlobBaseFee *big.Int
}

// TxEnv holds transaction level defaults
type TxEnv struct {
	Origin   common.Address
	GasPrice *big.Int
	GasLimit uint64
}

// Env is the execution environment resolved from the forked chain
type Env struct {
	ChainID uint64
	Block   BlockEnv
	Tx      TxEnv
}

// DefaultEnv returns an environment for local execution without a fork.
func DefaultEnv() Env {
	return Env{
		ChainID: 31337,
		Block: BlockEnv{
			Number:      1,
			Timestamp:   1,
			GasLimit:    30_000_000,
			BaseFee:     big.NewInt(0),
			Difficulty:  big.NewInt(0),
			BlobBaseFee: big.NewInt(1),
		},
		Tx: TxEnv{
			GasPrice: big.NewInt(0),
			GasLimit: 30_000_000,
		},
	}
}
