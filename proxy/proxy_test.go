package proxy

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/airchains-network/tweak-executor/executor"
	"github.com/airchains-network/tweak-executor/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var (
	sender   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	contract = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func newTestServer(t *testing.T, code []byte) (*Server, *executor.TracingExecutor) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	exec, err := executor.New(types.DefaultEnv(), nil, "", true)
	require.NoError(t, err)
	t.Cleanup(exec.Close)

	info := types.DefaultAccountInfo()
	info.Code = types.NewRawBytecode(code)
	info.CodeHash = crypto.Keccak256Hash(code)
	require.NoError(t, exec.Backend().InsertAccountInfo(contract, info))

	funded := types.DefaultAccountInfo()
	funded.Balance = uint256.NewInt(1_000)
	funded.Nonce = 3
	require.NoError(t, exec.Backend().InsertAccountInfo(sender, funded))

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return NewServer(exec, nil, log), exec
}

func call(t *testing.T, s *Server, method string, params ...interface{}) response {
	t.Helper()
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func decode[T any](t *testing.T, resp response) T {
	t.Helper()
	require.Nil(t, resp.Error)
	var v T
	require.NoError(t, json.Unmarshal(resp.Result, &v))
	return v
}

func TestAccountQueries(t *testing.T) {
	code := common.FromHex("0x602a60005500")
	s, exec := newTestServer(t, code)
	require.NoError(t, exec.Backend().SetStorage(contract, common.Hash{}, common.BigToHash(big.NewInt(9))))

	require.Equal(t, hexutil.Uint64(31337), decode[hexutil.Uint64](t, call(t, s, "eth_chainId")))
	require.Equal(t, hexutil.Uint64(1), decode[hexutil.Uint64](t, call(t, s, "eth_blockNumber")))

	bal := decode[*hexutil.Big](t, call(t, s, "eth_getBalance", sender, "latest"))
	require.Equal(t, int64(1_000), bal.ToInt().Int64())

	nonce := decode[hexutil.Uint64](t, call(t, s, "eth_getTransactionCount", sender, "latest"))
	require.Equal(t, hexutil.Uint64(3), nonce)

	got := decode[hexutil.Bytes](t, call(t, s, "eth_getCode", contract, "latest"))
	require.Equal(t, code, []byte(got))

	slot := decode[common.Hash](t, call(t, s, "eth_getStorageAt", contract, "0x0", "latest"))
	require.Equal(t, common.BigToHash(big.NewInt(9)), slot)

	empty := decode[hexutil.Bytes](t, call(t, s, "eth_getCode", common.HexToAddress("0xdead"), "latest"))
	require.Empty(t, empty)
}

func TestCallAndSend(t *testing.T) {
	// returns slot 0
	s, exec := newTestServer(t, common.FromHex("0x60005460005260206000f3"))
	require.NoError(t, exec.Backend().SetStorage(contract, common.Hash{}, common.BigToHash(big.NewInt(42))))

	args := map[string]interface{}{"from": sender, "to": contract}
	out := decode[hexutil.Bytes](t, call(t, s, "eth_call", args, "latest"))
	require.Equal(t, common.BigToHash(big.NewInt(42)).Bytes(), []byte(out))

	hash := decode[common.Hash](t, call(t, s, "eth_sendTransaction", args))
	require.NotEqual(t, common.Hash{}, hash)

	nonce := decode[hexutil.Uint64](t, call(t, s, "eth_getTransactionCount", sender, "latest"))
	require.Equal(t, hexutil.Uint64(4), nonce)
}

func TestTraceCall(t *testing.T) {
	s, _ := newTestServer(t, common.FromHex("0x60005460005260206000f3"))
	args := map[string]interface{}{"from": sender, "to": contract}

	frame := decode[executor.CallFrame](t, call(t, s, "debug_traceCall", args, "latest", map[string]string{"tracer": "callTracer"}))
	require.Equal(t, "CALL", frame.Type)
	require.Equal(t, contract, frame.To)

	logs := decode[struct {
		Failed     bool            `json:"failed"`
		StructLogs []executor.Step `json:"structLogs"`
	}](t, call(t, s, "debug_traceCall", args, "latest"))
	require.False(t, logs.Failed)
	require.NotEmpty(t, logs.StructLogs)
	require.Equal(t, "PUSH1", logs.StructLogs[0].Op)
}

func TestErrors(t *testing.T) {
	// REVERT(0, 0)
	s, _ := newTestServer(t, common.FromHex("0x60006000fd"))

	resp := call(t, s, "eth_call", map[string]interface{}{"from": sender, "to": contract}, "latest")
	require.NotNil(t, resp.Error)
	require.Equal(t, codeReverted, resp.Error.Code)

	resp = call(t, s, "eth_getBalance")
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	resp = call(t, s, "eth_getStorageAt", contract, "0xzz")
	require.NotNil(t, resp.Error)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	resp = call(t, s, "eth_mining")
	require.NotNil(t, resp.Error)
	require.Equal(t, codeNotFound, resp.Error.Code)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{"))))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestParseSlot(t *testing.T) {
	h, err := parseSlot("0x0")
	require.NoError(t, err)
	require.Equal(t, common.Hash{}, h)

	h, err = parseSlot(common.BigToHash(big.NewInt(5)).Hex())
	require.NoError(t, err)
	require.Equal(t, common.BigToHash(big.NewInt(5)), h)

	_, err = parseSlot("0x")
	require.Error(t, err)
}
