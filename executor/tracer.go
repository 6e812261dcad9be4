package executor

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
)

// CallFrame is one message call of a call trace.
type CallFrame struct {
	Type    string         `json:"type"`
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	Value   *hexutil.Big   `json:"value,omitempty"`
	Gas     hexutil.Uint64 `json:"gas"`
	GasUsed hexutil.Uint64 `json:"gasUsed"`
	Input   hexutil.Bytes  `json:"input"`
	Output  hexutil.Bytes  `json:"output,omitempty"`
	Error   string         `json:"error,omitempty"`
	Calls   []*CallFrame   `json:"calls,omitempty"`
}

// Step is one executed opcode of a debug trace.
type Step struct {
	PC      uint64   `json:"pc"`
	Op      string   `json:"op"`
	Gas     uint64   `json:"gas"`
	GasCost uint64   `json:"gasCost"`
	Depth   int      `json:"depth"`
	Stack   []string `json:"stack"`
	Error   string   `json:"error,omitempty"`
}

// accessSet is the state a run touched.
type accessSet struct {
	accounts map[common.Address]struct{}
	slots    map[common.Address]map[common.Hash]struct{}
}

func newAccessSet() *accessSet {
	return &accessSet{
		accounts: make(map[common.Address]struct{}),
		slots:    make(map[common.Address]map[common.Hash]struct{}),
	}
}

func (a *accessSet) addAccount(addr common.Address) {
	a.accounts[addr] = struct{}{}
}

func (a *accessSet) addSlot(addr common.Address, slot common.Hash) {
	a.addAccount(addr)
	slots, ok := a.slots[addr]
	if !ok {
		slots = make(map[common.Hash]struct{})
		a.slots[addr] = slots
	}
	slots[slot] = struct{}{}
}

// recorder collects accessed state and, when enabled, the call and step
// traces of a single run.
type recorder struct {
	access *accessSet
	trace  bool
	debug  bool

	root   *CallFrame
	frames []*CallFrame
	steps  []Step
}

func newRecorder(trace, debug bool) *recorder {
	return &recorder{access: newAccessSet(), trace: trace, debug: debug}
}

func (r *recorder) hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnEnter:  r.onEnter,
		OnExit:   r.onExit,
		OnOpcode: r.onOpcode,
	}
}

func (r *recorder) onEnter(depth int, typ byte, from, to common.Address, input []byte, gas uint64, value *big.Int) {
	r.access.addAccount(from)
	r.access.addAccount(to)
	if !r.trace {
		return
	}
	frame := &CallFrame{
		Type:  vm.OpCode(typ).String(),
		From:  from,
		To:    to,
		Gas:   hexutil.Uint64(gas),
		Input: common.CopyBytes(input),
	}
	if value != nil {
		frame.Value = (*hexutil.Big)(new(big.Int).Set(value))
	}
	if len(r.frames) == 0 {
		r.root = frame
	} else {
		parent := r.frames[len(r.frames)-1]
		parent.Calls = append(parent.Calls, frame)
	}
	r.frames = append(r.frames, frame)
}

func (r *recorder) onExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	if !r.trace || len(r.frames) == 0 {
		return
	}
	frame := r.frames[len(r.frames)-1]
	r.frames = r.frames[:len(r.frames)-1]
	frame.GasUsed = hexutil.Uint64(gasUsed)
	frame.Output = common.CopyBytes(output)
	if err != nil {
		frame.Error = err.Error()
	} else if reverted {
		frame.Error = vm.ErrExecutionReverted.Error()
	}
}

func (r *recorder) onOpcode(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
	stack := scope.StackData()
	r.recordAccess(vm.OpCode(op), scope.Address(), stack)
	if !r.debug {
		return
	}
	step := Step{
		PC:      pc,
		Op:      vm.OpCode(op).String(),
		Gas:     gas,
		GasCost: cost,
		Depth:   depth,
		Stack:   make([]string, len(stack)),
	}
	for i := range stack {
		step.Stack[i] = stack[i].Hex()
	}
	if err != nil {
		step.Error = err.Error()
	}
	r.steps = append(r.steps, step)
}

// peek returns the n-th stack item from the top.
func peek(stack []uint256.Int, n int) (*uint256.Int, bool) {
	if len(stack) <= n {
		return nil, false
	}
	return &stack[len(stack)-1-n], true
}

func (r *recorder) recordAccess(op vm.OpCode, self common.Address, stack []uint256.Int) {
	switch op {
	case vm.SLOAD, vm.SSTORE:
		if key, ok := peek(stack, 0); ok {
			r.access.addSlot(self, common.Hash(key.Bytes32()))
		}
	case vm.BALANCE, vm.EXTCODESIZE, vm.EXTCODECOPY, vm.EXTCODEHASH, vm.SELFDESTRUCT:
		if addr, ok := peek(stack, 0); ok {
			r.access.addAccount(common.Address(addr.Bytes20()))
		}
	case vm.CALL, vm.CALLCODE, vm.DELEGATECALL, vm.STATICCALL:
		// the callee is read for gas accounting before the call is entered
		if addr, ok := peek(stack, 1); ok {
			r.access.addAccount(common.Address(addr.Bytes20()))
		}
	}
}
