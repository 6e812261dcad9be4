package executor

import (
	"context"
	"fmt"

	"github.com/airchains-network/tweak-executor/backend"
	"github.com/airchains-network/tweak-executor/config"
	"github.com/airchains-network/tweak-executor/eth"
	"github.com/airchains-network/tweak-executor/tweak"
	"github.com/airchains-network/tweak-executor/types"
	"github.com/sirupsen/logrus"
)

// TracingExecutor is an executor with call tracing enabled and no other
// inspectors. Everything but SpecID is served by the embedded Executor.
type TracingExecutor struct {
	*Executor
}

// Option tunes the executors built by New and NewWithTweaks.
type Option func(*options)

type options struct {
	log    logrus.FieldLogger
	atomic bool
}

// WithLogger makes the executor, its backend and the tweak applier log to log.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) { o.log = log }
}

// WithAtomicTweaks installs tweaks only after every tweaked account was read.
func WithAtomicTweaks() Option {
	return func(o *options) { o.atomic = true }
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New spawns a backend over fork and builds a tracing executor on it. An
// empty evm version selects the default spec.
func New(env types.Env, fork *eth.Fork, evmVersion string, debug bool, opts ...Option) (*TracingExecutor, error) {
	o := collect(opts)
	db, err := backend.Spawn(fork)
	if err != nil {
		return nil, fmt.Errorf("failed to spawn backend: %w", err)
	}
	if o.log != nil {
		db = db.WithLogger(o.log)
	}
	te, err := NewWithBackend(env, db, evmVersion, debug, o.log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return te, nil
}

// NewWithBackend is New over a caller provided backend, such as one backed
// by an on-disk account table.
func NewWithBackend(env types.Env, db backend.Backend, evmVersion string, debug bool, log logrus.FieldLogger) (*TracingExecutor, error) {
	spec, err := SpecFromEVMVersion(evmVersion)
	if err != nil {
		return nil, err
	}
	return &TracingExecutor{
		Executor: NewBuilder().Trace(true).Debug(debug).Spec(spec).Logger(log).Build(env, db),
	}, nil
}

// NewWithTweaks is New followed by installing tweaks into the backend.
func NewWithTweaks(env types.Env, fork *eth.Fork, evmVersion string, tweaks []types.CodeTweak, debug bool, opts ...Option) (*TracingExecutor, error) {
	te, err := New(env, fork, evmVersion, debug, opts...)
	if err != nil {
		return nil, err
	}
	if err := te.ApplyTweaks(tweaks, opts...); err != nil {
		te.Close()
		return nil, err
	}
	return te, nil
}

// ApplyTweaks installs tweaks into the backend of the executor.
func (t *TracingExecutor) ApplyTweaks(tweaks []types.CodeTweak, opts ...Option) error {
	apply := tweak.ApplyTweaks
	if collect(opts).atomic {
		apply = tweak.ApplyTweaksAtomic
	}
	if err := apply(t.Backend(), tweaks, t.log); err != nil {
		return fmt.Errorf("failed to apply code tweaks: %w", err)
	}
	return nil
}

func (t *TracingExecutor) SpecID() SpecID {
	return t.Executor.SpecID()
}

// ForkMaterial resolves the env, the fork pinned to its block and the chain
// id of the node configured in cfg. The fork url and block of cfg override
// the ones in opts.
func ForkMaterial(ctx context.Context, cfg config.Config, opts eth.EvmOpts) (types.Env, *eth.Fork, *uint64, error) {
	url, err := cfg.RPCURLOrLocalhost()
	if err != nil {
		return types.Env{}, nil, nil, err
	}
	opts.ForkURL = url
	opts.ForkBlockNumber = nil
	if cfg.Fork.BlockNumber != nil {
		block := *cfg.Fork.BlockNumber
		opts.ForkBlockNumber = &block
	}
	if opts.ChainID == nil && cfg.Fork.ChainID != 0 {
		id := cfg.Fork.ChainID
		opts.ChainID = &id
	}

	env, err := opts.EvmEnv(ctx)
	if err != nil {
		opts.Close()
		return types.Env{}, nil, nil, fmt.Errorf("failed to resolve fork env: %w", err)
	}
	fork := opts.GetFork(env)
	chainID := env.ChainID
	return env, fork, &chainID, nil
}
