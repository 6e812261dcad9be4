package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"

	"github.com/airchains-network/tweak-executor/executor"
	"github.com/airchains-network/tweak-executor/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// JSON-RPC error codes
const (
	codeInvalidRequest = -32600
	codeNotFound       = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeReverted       = 3
)

type rpcRequest struct {
	Jsonrpc string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type rpcError struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Data    hexutil.Bytes `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return e.Message
}

type rpcResponse struct {
	Jsonrpc string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// CallArgs are the transaction fields accepted by eth_call and friends.
type CallArgs struct {
	From  *common.Address `json:"from"`
	To    *common.Address `json:"to"`
	Gas   *hexutil.Uint64 `json:"gas"`
	Value *hexutil.Big    `json:"value"`
	Data  *hexutil.Bytes  `json:"data"`
	Input *hexutil.Bytes  `json:"input"`
}

func (a CallArgs) message() executor.Message {
	var msg executor.Message
	if a.From != nil {
		msg.From = *a.From
	}
	msg.To = a.To
	if a.Gas != nil {
		msg.GasLimit = uint64(*a.Gas)
	}
	if a.Value != nil {
		msg.Value = a.Value.ToInt()
	}
	if a.Input != nil {
		msg.Data = *a.Input
	} else if a.Data != nil {
		msg.Data = *a.Data
	}
	return msg
}

type traceConfig struct {
	Tracer string `json:"tracer"`
}

// Server answers JSON-RPC requests from a tweaked fork. Requests the
// executor cannot serve are forwarded to upstream when it is set.
type Server struct {
	mu       sync.Mutex
	exec     *executor.TracingExecutor
	upstream *rpc.Client
	log      *logrus.Logger
}

func NewServer(exec *executor.TracingExecutor, upstream *rpc.Client, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{exec: exec, upstream: upstream, log: log}
}

// Router returns the gin engine serving the JSON-RPC endpoint on POST /.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("[GIN] %s - %s %s %d\n",
				param.TimeStamp.Format("2006-01-02 15:04:05"),
				param.Method,
				param.Path,
				param.StatusCode,
			)
		},
	}))
	router.Use(gin.Recovery())
	router.POST("/", s.handleRPC)
	return router
}

// Start launches the GIN proxy server
func Start(port string, exec *executor.TracingExecutor, upstream *rpc.Client, log *logrus.Logger) error {
	gin.SetMode(gin.ReleaseMode) // No debug noise
	s := NewServer(exec, upstream, log)
	s.log.Infof("Starting RPC server on %s", port)
	return s.Router().Run(port)
}

func (s *Server) handleRPC(c *gin.Context) {
	var req rpcRequest
	if err := c.BindJSON(&req); err != nil {
		s.log.Errorf("Failed to parse JSON-RPC request: %v", err)
		c.JSON(http.StatusBadRequest, rpcResponse{
			Jsonrpc: "2.0",
			Error:   &rpcError{Code: codeInvalidRequest, Message: "Invalid JSON-RPC request"},
		})
		return
	}

	resp := rpcResponse{Jsonrpc: "2.0", ID: req.ID}
	result, err := s.dispatch(c.Request.Context(), req)
	if err != nil {
		var rerr *rpcError
		if !errors.As(err, &rerr) {
			rerr = &rpcError{Code: codeInternal, Message: err.Error()}
		}
		s.log.Debugf("RPC %s failed: %v", req.Method, err)
		resp.Error = rerr
	} else {
		resp.Result = result
	}
	c.JSON(http.StatusOK, resp)
}

func invalidParams(format string, args ...interface{}) error {
	return &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

func param(params []json.RawMessage, i int, v interface{}) error {
	if len(params) <= i {
		return invalidParams("missing value for required argument %d", i)
	}
	if err := json.Unmarshal(params[i], v); err != nil {
		return invalidParams("invalid argument %d: %v", i, err)
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, req rpcRequest) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env := s.exec.Env()
	db := s.exec.Backend()

	switch req.Method {
	case "eth_chainId":
		return hexutil.Uint64(env.ChainID), nil

	case "eth_blockNumber":
		return hexutil.Uint64(env.Block.Number), nil

	case "eth_getBalance", "eth_getCode", "eth_getTransactionCount":
		var addr common.Address
		if err := param(req.Params, 0, &addr); err != nil {
			return nil, err
		}
		info, err := db.AccountInfo(addr)
		if err != nil {
			return nil, err
		}
		if info == nil {
			info = types.DefaultAccountInfo()
		}
		switch req.Method {
		case "eth_getBalance":
			return (*hexutil.Big)(info.Balance.ToBig()), nil
		case "eth_getCode":
			return hexutil.Bytes(info.CodeBytes()), nil
		default:
			return hexutil.Uint64(info.Nonce), nil
		}

	case "eth_getStorageAt":
		var (
			addr common.Address
			slot string
		)
		if err := param(req.Params, 0, &addr); err != nil {
			return nil, err
		}
		if err := param(req.Params, 1, &slot); err != nil {
			return nil, err
		}
		key, err := parseSlot(slot)
		if err != nil {
			return nil, err
		}
		val, err := db.Storage(addr, key)
		if err != nil {
			return nil, err
		}
		return val, nil

	case "eth_call":
		var args CallArgs
		if err := param(req.Params, 0, &args); err != nil {
			return nil, err
		}
		res, err := s.exec.Call(ctx, args.message())
		if err != nil {
			return nil, err
		}
		if err := revertError(res); err != nil {
			return nil, err
		}
		return hexutil.Bytes(res.ReturnData), nil

	case "eth_sendTransaction":
		var args CallArgs
		if err := param(req.Params, 0, &args); err != nil {
			return nil, err
		}
		msg := args.message()
		if msg.From == (common.Address{}) {
			msg.From = env.Tx.Origin
		}
		sender, err := db.AccountInfo(msg.From)
		if err != nil {
			return nil, err
		}
		var nonce uint64
		if sender != nil {
			nonce = sender.Nonce
		}
		res, err := s.exec.Transact(ctx, msg)
		if err != nil {
			return nil, err
		}
		hash, err := txHash(msg, nonce)
		if err != nil {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{
			"hash":     hash.Hex(),
			"from":     msg.From.Hex(),
			"gas_used": res.GasUsed,
			"failed":   res.Failed(),
		}).Info("Executed transaction")
		return hash, nil

	case "debug_traceCall":
		var args CallArgs
		if err := param(req.Params, 0, &args); err != nil {
			return nil, err
		}
		var cfg traceConfig
		if len(req.Params) > 2 {
			if err := param(req.Params, 2, &cfg); err != nil {
				return nil, err
			}
		}
		res, err := s.exec.Call(ctx, args.message())
		if err != nil {
			return nil, err
		}
		if cfg.Tracer == "callTracer" {
			return res.Trace, nil
		}
		steps := res.Steps
		if steps == nil {
			steps = []executor.Step{}
		}
		return struct {
			Gas         uint64          `json:"gas"`
			Failed      bool            `json:"failed"`
			ReturnValue hexutil.Bytes   `json:"returnValue"`
			StructLogs  []executor.Step `json:"structLogs"`
		}{res.GasUsed, res.Failed(), res.ReturnData, steps}, nil

	default:
		if s.upstream == nil {
			return nil, &rpcError{Code: codeNotFound, Message: "Method not supported: " + req.Method}
		}
		params := make([]interface{}, len(req.Params))
		for i, p := range req.Params {
			params[i] = p
		}
		var result json.RawMessage
		if err := s.upstream.CallContext(ctx, &result, req.Method, params...); err != nil {
			s.log.Errorf("Upstream RPC error: %v", err)
			return nil, fmt.Errorf("upstream error: %w", err)
		}
		return result, nil
	}
}

// parseSlot accepts both quantities ("0x0") and full 32 byte words.
func parseSlot(s string) (common.Hash, error) {
	hex := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(hex) == 0 || len(hex) > 64 {
		return common.Hash{}, invalidParams("invalid storage slot %q", s)
	}
	b, ok := new(big.Int).SetString(hex, 16)
	if !ok {
		return common.Hash{}, invalidParams("invalid storage slot %q", s)
	}
	return common.BigToHash(b), nil
}

func revertError(res *executor.Result) error {
	if res.Err == nil {
		return nil
	}
	if errors.Is(res.Err, vm.ErrExecutionReverted) {
		return &rpcError{Code: codeReverted, Message: "execution reverted", Data: res.ReturnData}
	}
	return &rpcError{Code: codeInternal, Message: res.Err.Error()}
}

// txHash derives a stable identifier for an unsigned, impersonated transaction.
func txHash(msg executor.Message, nonce uint64) (common.Hash, error) {
	var to []byte
	if msg.To != nil {
		to = msg.To.Bytes()
	}
	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	enc, err := rlp.EncodeToBytes([]interface{}{msg.From, nonce, to, value, msg.GasLimit, msg.Data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode transaction: %w", err)
	}
	return crypto.Keccak256Hash(enc), nil
}
