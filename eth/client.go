package eth

import (
	"context"
	"fmt"
	"math/big"

	"github.com/airchains-network/tweak-executor/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus/misc/eip4844"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rpc"
)

// ChainReader is the subset of the node API needed to fork a chain.
// *ethclient.Client implements it.
type ChainReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*ethtypes.Header, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// Client wraps both rpc.Client and ethclient.Client for Ethereum interactions
type Client struct {
	Rpc *rpc.Client
	Eth *ethclient.Client
}

// NewClient dials url and wraps the connection in both clients
func NewClient(ctx context.Context, url string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}

	return &Client{
		Rpc: rpcClient,
		Eth: ethclient.NewClient(rpcClient),
	}, nil
}

func (c *Client) Close() {
	c.Rpc.Close()
}

// ResolveEnv builds the execution environment from the header of the given
// block of chain chainID. A nil block number selects the latest block.
func ResolveEnv(ctx context.Context, reader ChainReader, blockNumber *uint64, chainID uint64) (types.Env, error) {
	var number *big.Int
	if blockNumber != nil {
		number = new(big.Int).SetUint64(*blockNumber)
	}
	header, err := reader.HeaderByNumber(ctx, number)
	if err != nil {
		return types.Env{}, fmt.Errorf("failed to get block header: %w", err)
	}
	if header == nil {
		return types.Env{}, fmt.Errorf("block %v not found", number)
	}

	env := types.DefaultEnv()
	env.ChainID = chainID
	env.Block = types.BlockEnv{
		Number:      header.Number.Uint64(),
		Timestamp:   header.Time,
		GasLimit:    header.GasLimit,
		Coinbase:    header.Coinbase,
		BaseFee:     new(big.Int),
		Difficulty:  new(big.Int),
		PrevRandao:  header.MixDigest,
		BlobBaseFee: CalcBlobBaseFee(chainID, header),
	}
	if header.BaseFee != nil {
		env.Block.BaseFee.Set(header.BaseFee)
	}
	if header.Difficulty != nil {
		env.Block.Difficulty.Set(header.Difficulty)
	}
	env.Tx.GasLimit = header.GasLimit
	return env, nil
}

// ResolveChainID asks the node for its chain id.
func ResolveChainID(ctx context.Context, reader ChainReader) (uint64, error) {
	id, err := reader.ChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get chain id: %w", err)
	}
	return id.Uint64(), nil
}

// knownChains holds the published fork schedules blob fees are priced with.
var knownChains = map[uint64]*params.ChainConfig{
	params.MainnetChainConfig.ChainID.Uint64(): params.MainnetChainConfig,
	params.SepoliaChainConfig.ChainID.Uint64(): params.SepoliaChainConfig,
	params.HoleskyChainConfig.ChainID.Uint64(): params.HoleskyChainConfig,
}

// blobConfig returns the chain config whose blob schedule applies to header.
// Unknown chains are priced as Prague when the header carries a requests
// hash and as Cancun otherwise.
func blobConfig(chainID uint64, header *ethtypes.Header) *params.ChainConfig {
	if c, ok := knownChains[chainID]; ok && c.IsCancun(header.Number, header.Time) {
		return c
	}
	ts := uint64(0)
	c := &params.ChainConfig{
		ChainID:     new(big.Int).SetUint64(chainID),
		LondonBlock: big.NewInt(0),
		CancunTime:  &ts,
		BlobScheduleConfig: &params.BlobScheduleConfig{
			Cancun: params.DefaultCancunBlobConfig,
			Prague: params.DefaultPragueBlobConfig,
		},
	}
	if header.RequestsHash != nil {
		c.PragueTime = &ts
	}
	return c
}

// CalcBlobBaseFee derives the blob base fee of a header on the given chain.
// Headers without excess blob gas get the minimum fee.
func CalcBlobBaseFee(chainID uint64, header *ethtypes.Header) *big.Int {
	if header.ExcessBlobGas == nil {
		return big.NewInt(params.BlobTxMinBlobGasprice)
	}
	return eip4844.CalcBlobFee(blobConfig(chainID, header), header)
}
