package backend

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klingon-exchange/swapcore/pkg/logging"
)

// MempoolBackend implements Backend using the mempool.space REST API.
// liquid.network runs the same API for Liquid.
type MempoolBackend struct {
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger
}

// NewMempoolBackend creates a new mempool.space backend.
func NewMempoolBackend(baseURL string, opts ...Option) *MempoolBackend {
	o := newClientOptions(opts)
	return &MempoolBackend{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: o.timeout},
		log:        o.log,
	}
}

// Type returns TypeMempool.
func (m *MempoolBackend) Type() Type {
	return TypeMempool
}

// GetRawTransaction fetches /tx/{txid}/hex and decodes it.
func (m *MempoolBackend) GetRawTransaction(ctx context.Context, txID string) ([]byte, error) {
	body, err := m.getText(ctx, "/tx/"+txID+"/hex")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTxNotFound, txID)
		}
		return nil, err
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction hex: %w", err)
	}
	return raw, nil
}

// GetOutspend returns the spending status of txID:vout.
func (m *MempoolBackend) GetOutspend(ctx context.Context, txID string, vout uint32) (*Outspend, error) {
	var result struct {
		Spent  bool   `json:"spent"`
		TxID   string `json:"txid"`
		Vin    uint32 `json:"vin"`
		Status struct {
			Confirmed   bool  `json:"confirmed"`
			BlockHeight int64 `json:"block_height"`
		} `json:"status"`
	}
	path := "/tx/" + txID + "/outspend/" + strconv.FormatUint(uint64(vout), 10)
	if err := m.get(ctx, path, &result); err != nil {
		return nil, err
	}
	return &Outspend{
		Spent:       result.Spent,
		TxID:        result.TxID,
		Vin:         result.Vin,
		Confirmed:   result.Status.Confirmed,
		BlockHeight: result.Status.BlockHeight,
	}, nil
}

// BroadcastTransaction posts a raw transaction to /tx.
func (m *MempoolBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/tx", strings.NewReader(rawTxHex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.log.Debug("Broadcast request failed", "error", err)
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		m.log.Debug("Broadcast rejected", "status", resp.StatusCode, "body", string(body))
		return "", fmt.Errorf("%w: %s", ErrBroadcastFailed, strings.TrimSpace(string(body)))
	}

	return strings.TrimSpace(string(body)), nil
}

// GetBlockHeight returns the current block height.
func (m *MempoolBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	body, err := m.getText(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(body, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block height %q: %w", body, err)
	}
	return height, nil
}

// GetFeeRate returns the fastestFee recommendation.
func (m *MempoolBackend) GetFeeRate(ctx context.Context) (float64, error) {
	var result map[string]float64
	if err := m.get(ctx, "/v1/fees/recommended", &result); err != nil {
		return 0, err
	}
	rate, ok := result["fastestFee"]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("no fee recommendation in response")
	}
	return rate, nil
}

// do performs a GET request and maps error statuses.
func (m *MempoolBackend) do(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	// Avoid stale CDN responses.
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.log.Debug("Request failed", "path", path, "error", err)
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	case http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, ErrRateLimited
	default:
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		m.log.Debug("Unexpected status", "path", path, "status", resp.StatusCode)
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// get performs a GET request and decodes the JSON response.
func (m *MempoolBackend) get(ctx context.Context, path string, result interface{}) error {
	resp, err := m.do(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(result)
}

// getText performs a GET request and returns the trimmed body.
func (m *MempoolBackend) getText(ctx context.Context, path string) (string, error) {
	resp, err := m.do(ctx, path)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

var _ Backend = (*MempoolBackend)(nil)
