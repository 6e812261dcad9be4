// Package executor runs messages on the EVM against state read from a
// backend, optionally forked from a live chain.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/airchains-network/tweak-executor/backend"
	"github.com/airchains-network/tweak-executor/eth"
	"github.com/airchains-network/tweak-executor/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// maxDiscoveryRounds bounds how often a message is re-run while it keeps
// touching state that was not loaded yet.
const maxDiscoveryRounds = 32

var ErrNotConverged = errors.New("state discovery did not converge")

// Message is a call to execute. A zero From uses the env origin and a zero
// GasLimit the env gas limit. A nil To creates a contract.
type Message struct {
	From     common.Address
	To       *common.Address
	Value    *big.Int
	Data     []byte
	GasLimit uint64
}

// Result is the outcome of an executed message.
type Result struct {
	ReturnData      []byte
	GasUsed         uint64
	Err             error // revert or halt, nil on success
	Logs            []*ethtypes.Log
	ContractAddress *common.Address
	Trace           *CallFrame
	Steps           []Step
}

func (r *Result) Failed() bool {
	return r.Err != nil
}

// Executor executes messages in a fixed env over a backend.
type Executor struct {
	env     types.Env
	backend backend.Backend
	spec    SpecID
	trace   bool
	debug   bool
	log     logrus.FieldLogger
}

func (e *Executor) Env() types.Env {
	return e.env
}

func (e *Executor) SetEnv(env types.Env) {
	e.env = env
}

func (e *Executor) Backend() backend.Backend {
	return e.backend
}

func (e *Executor) SpecID() SpecID {
	return e.spec
}

func (e *Executor) ChainConfig() *params.ChainConfig {
	return ChainConfig(e.spec, e.env.ChainID)
}

// Close releases the backend if it holds resources.
func (e *Executor) Close() {
	if c, ok := e.backend.(interface{ Close() }); ok {
		c.Close()
	}
}

// Call executes msg and discards every state change.
func (e *Executor) Call(ctx context.Context, msg Message) (*Result, error) {
	return e.execute(ctx, msg, false)
}

// Transact executes msg and writes the resulting state changes to the backend.
func (e *Executor) Transact(ctx context.Context, msg Message) (*Result, error) {
	return e.execute(ctx, msg, true)
}

// preState is the backend state a run is seeded with. A nil account is one
// the backend does not know.
type preState struct {
	accounts map[common.Address]*types.AccountInfo
	slots    map[common.Address]map[common.Hash]common.Hash
}

func newPreState() *preState {
	return &preState{
		accounts: make(map[common.Address]*types.AccountInfo),
		slots:    make(map[common.Address]map[common.Hash]common.Hash),
	}
}

// load reads every account and slot of access not loaded yet and reports
// whether anything new was read.
func (p *preState) load(db backend.Backend, access *accessSet) (bool, error) {
	grew := false
	for addr := range access.accounts {
		if _, ok := p.accounts[addr]; ok {
			continue
		}
		info, err := db.AccountInfo(addr)
		if err != nil {
			return false, err
		}
		p.accounts[addr] = info
		grew = true
	}
	for addr, slots := range access.slots {
		known, ok := p.slots[addr]
		if !ok {
			known = make(map[common.Hash]common.Hash)
			p.slots[addr] = known
		}
		for slot := range slots {
			if _, ok := known[slot]; ok {
				continue
			}
			val, err := db.Storage(addr, slot)
			if err != nil {
				return false, err
			}
			known[slot] = val
			grew = true
		}
	}
	return grew, nil
}

// stateDB materializes the pre-state into a fresh in-memory state. Seeded
// values are finalised so they count as committed for gas accounting.
func (p *preState) stateDB() (*state.StateDB, error) {
	sdb := state.NewDatabase(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil), nil)
	statedb, err := state.New(ethtypes.EmptyRootHash, sdb)
	if err != nil {
		return nil, fmt.Errorf("failed to create state: %w", err)
	}
	for addr, info := range p.accounts {
		if info == nil {
			continue
		}
		balance := info.Balance
		if balance == nil {
			balance = new(uint256.Int)
		}
		statedb.SetBalance(addr, balance, tracing.BalanceChangeUnspecified)
		statedb.SetNonce(addr, info.Nonce, tracing.NonceChangeUnspecified)
		if code := info.CodeBytes(); len(code) > 0 {
			statedb.SetCode(addr, code)
		}
	}
	for addr, slots := range p.slots {
		for slot, val := range slots {
			if val != (common.Hash{}) {
				statedb.SetState(addr, slot, val)
			}
		}
	}
	statedb.Finalise(false)
	return statedb, nil
}

func (e *Executor) contextual(ctx context.Context) backend.Backend {
	if fb, ok := e.backend.(*backend.ForkBackend); ok {
		return fb.WithContext(ctx)
	}
	return e.backend
}

func (e *Executor) execute(ctx context.Context, msg Message, commit bool) (*Result, error) {
	db := e.contextual(ctx)
	if msg.From == (common.Address{}) {
		msg.From = e.env.Tx.Origin
	}
	if msg.GasLimit == 0 {
		msg.GasLimit = e.env.Tx.GasLimit
	}

	pre := newPreState()
	seed := newAccessSet()
	seed.addAccount(msg.From)
	seed.addAccount(e.env.Block.Coinbase)
	if msg.To != nil {
		seed.addAccount(*msg.To)
	}
	if _, err := pre.load(db, seed); err != nil {
		return nil, err
	}

	for round := 1; round <= maxDiscoveryRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		statedb, err := pre.stateDB()
		if err != nil {
			return nil, err
		}
		rec := newRecorder(e.trace, e.debug)
		res, err := e.run(ctx, statedb, msg, rec)
		if err != nil {
			return nil, err
		}
		grew, err := pre.load(db, rec.access)
		if err != nil {
			return nil, err
		}
		if grew {
			e.log.Debugf("Execution touched unloaded state, rerunning (round %d)", round)
			continue
		}
		if commit {
			if err := e.commit(db, statedb, pre); err != nil {
				return nil, err
			}
		}
		return res, nil
	}
	return nil, ErrNotConverged
}

func (e *Executor) run(ctx context.Context, statedb *state.StateDB, msg Message, rec *recorder) (*Result, error) {
	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	m := &core.Message{
		From:      msg.From,
		To:        msg.To,
		Nonce:     statedb.GetNonce(msg.From),
		Value:     value,
		GasLimit:  msg.GasLimit,
		GasPrice:  new(big.Int),
		GasFeeCap: new(big.Int),
		GasTipCap: new(big.Int),
		Data:      msg.Data,
	}

	evm := vm.NewEVM(e.blockContext(ctx), statedb, e.ChainConfig(), vm.Config{
		Tracer:    rec.hooks(),
		NoBaseFee: true,
	})
	evm.SetTxContext(core.NewEVMTxContext(m))

	pool := new(core.GasPool).AddGas(max(m.GasLimit, e.env.Block.GasLimit))
	res, err := core.ApplyMessage(evm, m, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to apply message: %w", err)
	}

	out := &Result{
		ReturnData: res.ReturnData,
		GasUsed:    res.UsedGas,
		Err:        res.Err,
		Logs:       statedb.Logs(),
		Trace:      rec.root,
		Steps:      rec.steps,
	}
	if m.To == nil && res.Err == nil {
		addr := crypto.CreateAddress(m.From, m.Nonce)
		out.ContractAddress = &addr
	}
	return out, nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func (e *Executor) blockContext(ctx context.Context) vm.BlockContext {
	blk := e.env.Block
	bctx := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     e.hashFunc(ctx),
		Coinbase:    blk.Coinbase,
		GasLimit:    blk.GasLimit,
		BlockNumber: new(big.Int).SetUint64(blk.Number),
		Time:        blk.Timestamp,
		Difficulty:  bigOrZero(blk.Difficulty),
		BaseFee:     bigOrZero(blk.BaseFee),
		BlobBaseFee: bigOrZero(blk.BlobBaseFee),
	}
	if e.spec.IsMerge() {
		random := blk.PrevRandao
		bctx.Random = &random
		bctx.Difficulty = new(big.Int)
	}
	return bctx
}

// hashFunc resolves BLOCKHASH through the fork. Without a fork, or when the
// node does not answer, the hash is zero.
func (e *Executor) hashFunc(ctx context.Context) vm.GetHashFunc {
	var reader eth.ChainReader
	if fb, ok := e.backend.(*backend.ForkBackend); ok && fb.Fork() != nil {
		reader = fb.Fork().Client
	}
	cache := make(map[uint64]common.Hash)
	return func(n uint64) common.Hash {
		if reader == nil {
			return common.Hash{}
		}
		if h, ok := cache[n]; ok {
			return h
		}
		header, err := reader.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
		if err != nil || header == nil {
			e.log.Debugf("Failed to resolve hash of block %d: %v", n, err)
			return common.Hash{}
		}
		h := header.Hash()
		cache[n] = h
		return h
	}
}

// postAccount reads addr back from statedb. It returns nil for an account
// that neither existed before nor exists now.
func postAccount(statedb *state.StateDB, addr common.Address, before *types.AccountInfo) *types.AccountInfo {
	if !statedb.Exist(addr) {
		if before == nil {
			return nil
		}
		return types.DefaultAccountInfo()
	}
	info := &types.AccountInfo{
		Balance:  new(uint256.Int).Set(statedb.GetBalance(addr)),
		Nonce:    statedb.GetNonce(addr),
		CodeHash: types.EmptyCodeHash,
	}
	if code := statedb.GetCode(addr); len(code) > 0 {
		info.CodeHash = crypto.Keccak256Hash(code)
		if before != nil && before.CodeHash == info.CodeHash && before.Code != nil {
			info.Code = before.Code
		} else {
			info.Code = types.NewRawBytecode(code)
		}
	}
	return info
}

func sameAccount(a, b *types.AccountInfo) bool {
	if a.Nonce != b.Nonce || a.CodeHash != b.CodeHash {
		return false
	}
	ab, bb := a.Balance, b.Balance
	if ab == nil {
		ab = new(uint256.Int)
	}
	if bb == nil {
		bb = new(uint256.Int)
	}
	return ab.Eq(bb)
}

// commit writes every account and slot that differs from the pre-state.
func (e *Executor) commit(db backend.Backend, statedb *state.StateDB, pre *preState) error {
	statedb.Finalise(e.ChainConfig().IsEIP158(new(big.Int).SetUint64(e.env.Block.Number)))

	accounts, slots := 0, 0
	for addr, before := range pre.accounts {
		after := postAccount(statedb, addr, before)
		if after == nil || (before != nil && sameAccount(before, after)) {
			continue
		}
		if err := db.InsertAccountInfo(addr, after); err != nil {
			return err
		}
		accounts++
	}
	for addr, known := range pre.slots {
		for slot, before := range known {
			after := statedb.GetState(addr, slot)
			if after == before {
				continue
			}
			if err := db.SetStorage(addr, slot, after); err != nil {
				return err
			}
			slots++
		}
	}
	e.log.WithFields(logrus.Fields{
		"accounts": accounts,
		"slots":    slots,
	}).Debug("Committed state changes")
	return nil
}
