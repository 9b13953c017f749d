package backend

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/klingon-exchange/swapcore/pkg/logging"
)

// JSONRPCBackend implements Backend against a bitcoind or elementsd node.
// Both daemons share the RPC methods used here.
type JSONRPCBackend struct {
	rpcURL     string
	rpcUser    string
	rpcPass    string
	httpClient *http.Client
	log        *logging.Logger
}

// NewJSONRPCBackend creates a new JSON-RPC backend.
func NewJSONRPCBackend(rpcURL, user, pass string, opts ...Option) *JSONRPCBackend {
	o := newClientOptions(opts)
	return &JSONRPCBackend{
		rpcURL:     rpcURL,
		rpcUser:    user,
		rpcPass:    pass,
		httpClient: &http.Client{Timeout: o.timeout},
		log:        o.log,
	}
}

// Type returns TypeJSONRPC.
func (j *JSONRPCBackend) Type() Type {
	return TypeJSONRPC
}

// GetRawTransaction calls getrawtransaction. Transactions that are neither
// in the mempool nor in a block need txindex on the node.
func (j *JSONRPCBackend) GetRawTransaction(ctx context.Context, txID string) ([]byte, error) {
	var rawHex string
	if err := j.call(ctx, "getrawtransaction", []interface{}{txID, false}, &rawHex); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction hex: %w", err)
	}
	return raw, nil
}

// GetOutspend uses gettxout. A node can tell that an output is unspent but
// not which transaction spent it, so spent outputs return ErrNotFound.
func (j *JSONRPCBackend) GetOutspend(ctx context.Context, txID string, vout uint32) (*Outspend, error) {
	var out *struct {
		Confirmations int64 `json:"confirmations"`
	}
	if err := j.call(ctx, "gettxout", []interface{}{txID, vout, true}, &out); err != nil {
		return nil, err
	}
	if out != nil {
		return &Outspend{Spent: false}, nil
	}
	return nil, fmt.Errorf("%w: spender of %s:%d requires an indexer", ErrNotFound, txID, vout)
}

// BroadcastTransaction calls sendrawtransaction.
func (j *JSONRPCBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	var txID string
	if err := j.call(ctx, "sendrawtransaction", []interface{}{rawTxHex}, &txID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	return txID, nil
}

// GetBlockHeight calls getblockcount.
func (j *JSONRPCBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	var height int64
	if err := j.call(ctx, "getblockcount", []interface{}{}, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// GetFeeRate calls estimatesmartfee for a one block target.
func (j *JSONRPCBackend) GetFeeRate(ctx context.Context) (float64, error) {
	var result struct {
		FeeRate float64  `json:"feerate"`
		Errors  []string `json:"errors"`
	}
	if err := j.call(ctx, "estimatesmartfee", []interface{}{1}, &result); err != nil {
		return 0, err
	}
	if result.FeeRate <= 0 {
		return 0, fmt.Errorf("no fee estimate: %v", result.Errors)
	}

	// BTC/kvB to sat/vB
	return result.FeeRate * 1e8 / 1000, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (j *JSONRPCBackend) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	id := uuid.NewString()
	data, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.rpcURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if j.rpcUser != "" {
		req.SetBasicAuth(j.rpcUser, j.rpcPass)
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		j.log.Debug("RPC request failed", "method", method, "error", err)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	// bitcoind answers RPC errors with status 500 and a JSON body.
	var response rpcResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return fmt.Errorf("failed to parse response (status %d): %w", resp.StatusCode, err)
	}
	if response.Error != nil {
		j.log.Debug("RPC error", "method", method, "code", response.Error.Code, "message", response.Error.Message)
		if response.Error.Code == -5 {
			return fmt.Errorf("%w: %s", ErrTxNotFound, response.Error.Message)
		}
		return fmt.Errorf("%w %d: %s", ErrRPC, response.Error.Code, response.Error.Message)
	}
	if response.ID != id {
		return fmt.Errorf("%w: response id %q does not match request", ErrRPC, response.ID)
	}

	if result == nil {
		return nil
	}
	return json.Unmarshal(response.Result, result)
}

var _ Backend = (*JSONRPCBackend)(nil)
