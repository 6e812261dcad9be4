package types

const (
	opJumpdest = 0x5b
	opPush1    = 0x60
	opPush32   = 0x7f
)

// BytecodeState tells whether a bytecode has been analysed
type BytecodeState uint8

const (
	BytecodeRaw BytecodeState = iota
	BytecodeChecked
)

// Bytecode is account code together with its analysis state. A checked
// bytecode carries its JUMPDEST table so it is not analysed again.
type Bytecode struct {
	code      []byte
	state     BytecodeState
	jumpdests []uint64
}

// NewRawBytecode wraps code without analysing it.
func NewRawBytecode(code []byte) *Bytecode {
	cpy := make([]byte, len(code))
	copy(cpy, code)
	return &Bytecode{code: cpy, state: BytecodeRaw}
}

// ToChecked analyses the code and returns the checked bytecode. Checking
// an already checked bytecode returns it unchanged.
func (b *Bytecode) ToChecked() *Bytecode {
	if b.state == BytecodeChecked {
		return b
	}
	return &Bytecode{
		code:      b.code,
		state:     BytecodeChecked,
		jumpdests: analyseJumpdests(b.code),
	}
}

// Bytes returns the original code.
func (b *Bytecode) Bytes() []byte {
	return b.code
}

func (b *Bytecode) State() BytecodeState {
	return b.state
}

// IsChecked reports whether the code has been analysed.
func (b *Bytecode) IsChecked() bool {
	return b.state == BytecodeChecked
}

// IsJumpdest reports whether pc is a valid jump destination. Raw
// bytecode is analysed on every call.
func (b *Bytecode) IsJumpdest(pc uint64) bool {
	if pc >= uint64(len(b.code)) {
		return false
	}
	table := b.jumpdests
	if b.state != BytecodeChecked {
		table = analyseJumpdests(b.code)
	}
	return table[pc/64]&(1<<(pc%64)) != 0
}

// analyseJumpdests marks every JUMPDEST that is not push data.
func analyseJumpdests(code []byte) []uint64 {
	table := make([]uint64, (len(code)+63)/64)
	for pc := 0; pc < len(code); pc++ {
		op := code[pc]
		switch {
		case op == opJumpdest:
			table[pc/64] |= 1 << (uint(pc) % 64)
		case op >= opPush1 && op <= opPush32:
			pc += int(op-opPush1) + 1
		}
	}
	return table
}
