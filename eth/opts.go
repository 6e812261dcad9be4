package eth

import (
	"context"
	"errors"
	"fmt"

	"github.com/airchains-network/tweak-executor/types"
)

var ErrNoForkURL = errors.New("no fork url configured")

// Fork describes the remote chain state a backend reads through to
type Fork struct {
	URL         string
	BlockNumber uint64
	Client      ChainReader

	conn *Client // dialed by EvmOpts, closed with the fork
}

// Close releases the connection the fork was dialed with, if it owns one.
func (f *Fork) Close() {
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}

// EvmOpts holds the options used to build an execution environment
// against a remote chain.
type EvmOpts struct {
	ForkURL         string
	ForkBlockNumber *uint64 // nil = latest
	ChainID         *uint64 // explicit override, skips the remote query

	// Client is used instead of dialing ForkURL when set.
	Client ChainReader

	conn *Client
}

func (o *EvmOpts) reader(ctx context.Context) (ChainReader, error) {
	if o.Client != nil {
		return o.Client, nil
	}
	if o.ForkURL == "" {
		return nil, ErrNoForkURL
	}
	client, err := NewClient(ctx, o.ForkURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", o.ForkURL, err)
	}
	o.conn = client
	o.Client = client.Eth
	return o.Client, nil
}

// Close releases a connection dialed by the opts that no fork took over.
func (o *EvmOpts) Close() {
	if o.conn != nil {
		o.conn.Close()
		o.conn = nil
	}
}

// EvmEnv resolves the environment of the fork block from the remote node.
func (o *EvmOpts) EvmEnv(ctx context.Context) (types.Env, error) {
	reader, err := o.reader(ctx)
	if err != nil {
		return types.Env{}, err
	}
	chainID, err := o.RemoteChainID(ctx)
	if err != nil {
		return types.Env{}, err
	}
	return ResolveEnv(ctx, reader, o.ForkBlockNumber, chainID)
}

// GetFork returns the fork descriptor pinned to the block of env, nil if
// no fork url is configured. A connection dialed by the opts moves to the fork.
func (o *EvmOpts) GetFork(env types.Env) *Fork {
	if o.ForkURL == "" && o.Client == nil {
		return nil
	}
	fork := &Fork{
		URL:         o.ForkURL,
		BlockNumber: env.Block.Number,
		Client:      o.Client,
		conn:        o.conn,
	}
	o.conn = nil
	return fork
}

// RemoteChainID returns the configured chain id, or the one reported by the node.
func (o *EvmOpts) RemoteChainID(ctx context.Context) (uint64, error) {
	if o.ChainID != nil {
		return *o.ChainID, nil
	}
	reader, err := o.reader(ctx)
	if err != nil {
		return 0, err
	}
	return ResolveChainID(ctx, reader)
}
