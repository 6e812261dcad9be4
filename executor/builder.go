package executor

import (
	"github.com/airchains-network/tweak-executor/backend"
	"github.com/airchains-network/tweak-executor/types"
	"github.com/sirupsen/logrus"
)

// Builder configures an Executor. The zero value builds an executor without
// tracing that runs the default spec.
type Builder struct {
	trace   bool
	debug   bool
	spec    SpecID
	specSet bool
	log     logrus.FieldLogger
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Trace enables the call tracer.
func (b *Builder) Trace(enable bool) *Builder {
	b.trace = enable
	return b
}

// Debug enables the opcode step tracer.
func (b *Builder) Debug(enable bool) *Builder {
	b.debug = enable
	return b
}

func (b *Builder) Spec(spec SpecID) *Builder {
	b.spec = spec
	b.specSet = true
	return b
}

func (b *Builder) Logger(log logrus.FieldLogger) *Builder {
	b.log = log
	return b
}

// Build returns an executor over db running in env.
func (b *Builder) Build(env types.Env, db backend.Backend) *Executor {
	spec := DefaultSpec
	if b.specSet {
		spec = b.spec
	}
	log := b.log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{
		env:     env,
		backend: db,
		spec:    spec,
		trace:   b.trace,
		debug:   b.debug,
		log:     log,
	}
}
