// Package backend provides the chain data sources swapcore reads swap
// outputs from and broadcasts claim and refund transactions through.
// Backends never see private keys.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/klingon-exchange/swapcore/internal/chain"
	"github.com/klingon-exchange/swapcore/pkg/logging"
)

// Common errors
var (
	ErrTxNotFound         = errors.New("transaction not found")
	ErrNotFound           = errors.New("not found")
	ErrBroadcastFailed    = errors.New("broadcast failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnsupportedBackend = errors.New("unsupported backend type")
	ErrNoBackend          = errors.New("no backend configured")
	ErrRPC                = errors.New("rpc error")
)

// Type represents the backend type.
type Type string

const (
	TypeMempool Type = "mempool" // mempool.space and liquid.network REST
	TypeEsplora Type = "esplora" // blockstream.info REST
	TypeJSONRPC Type = "jsonrpc" // bitcoind or elementsd RPC
)

// Outspend is the spending status of a transaction output.
type Outspend struct {
	Spent       bool   `json:"spent"`
	TxID        string `json:"txid,omitempty"`
	Vin         uint32 `json:"vin,omitempty"`
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height,omitempty"`
}

// Backend defines the interface for chain data providers.
type Backend interface {
	Type() Type

	// GetRawTransaction returns the serialized transaction.
	GetRawTransaction(ctx context.Context, txID string) ([]byte, error)

	// GetOutspend reports whether txID:vout has been spent and by which
	// transaction input.
	GetOutspend(ctx context.Context, txID string, vout uint32) (*Outspend, error)

	// BroadcastTransaction submits a hex encoded transaction and returns
	// its txid.
	BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error)

	GetBlockHeight(ctx context.Context) (int64, error)

	// GetFeeRate returns the sat/vbyte rate for confirmation in the next
	// block.
	GetFeeRate(ctx context.Context) (float64, error)
}

// Option configures an HTTP based backend.
type Option func(*clientOptions)

type clientOptions struct {
	timeout time.Duration
	log     *logging.Logger
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger for request failures.
func WithLogger(l *logging.Logger) Option {
	return func(o *clientOptions) { o.log = l }
}

func newClientOptions(opts []Option) clientOptions {
	o := clientOptions{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = logging.OrNop(o.log)
	return o
}

// Config contains backend configuration.
type Config struct {
	Type     Type   `yaml:"type"`
	URL      string `yaml:"url"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`

	// WebsocketURL enables BlockWatcher for mempool backends.
	WebsocketURL string `yaml:"websocket,omitempty"`

	Timeout int `yaml:"timeout,omitempty"` // seconds, default 30
}

func (c *Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// DefaultConfigs returns the public backends for every supported chain on
// network. Regtest has no public backends.
func DefaultConfigs(network chain.Network) map[chain.Symbol]*Config {
	switch network {
	case chain.Mainnet:
		return map[chain.Symbol]*Config{
			chain.BTC: {
				Type:         TypeMempool,
				URL:          "https://mempool.space/api",
				WebsocketURL: "wss://mempool.space/api/v1/ws",
			},
			chain.LBTC: {
				Type:         TypeMempool,
				URL:          "https://liquid.network/api",
				WebsocketURL: "wss://liquid.network/api/v1/ws",
			},
		}
	case chain.Testnet:
		return map[chain.Symbol]*Config{
			chain.BTC: {
				Type:         TypeMempool,
				URL:          "https://mempool.space/testnet/api",
				WebsocketURL: "wss://mempool.space/testnet/api/v1/ws",
			},
			chain.LBTC: {
				Type:         TypeMempool,
				URL:          "https://liquid.network/liquidtestnet/api",
				WebsocketURL: "wss://liquid.network/liquidtestnet/api/v1/ws",
			},
		}
	case chain.Signet:
		return map[chain.Symbol]*Config{
			chain.BTC: {
				Type:         TypeMempool,
				URL:          "https://mempool.space/signet/api",
				WebsocketURL: "wss://mempool.space/signet/api/v1/ws",
			},
		}
	default:
		return map[chain.Symbol]*Config{}
	}
}

// New creates a backend from its configuration.
func New(cfg *Config, log *logging.Logger) (Backend, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, ErrNoBackend
	}
	switch cfg.Type {
	case TypeMempool, "":
		return NewMempoolBackend(cfg.URL, WithTimeout(cfg.timeout()), WithLogger(log)), nil
	case TypeEsplora:
		return NewEsploraBackend(cfg.URL, WithTimeout(cfg.timeout()), WithLogger(log)), nil
	case TypeJSONRPC:
		return NewJSONRPCBackend(cfg.URL, cfg.User, cfg.Password, WithTimeout(cfg.timeout()), WithLogger(log)), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Type)
	}
}

// Registry holds backend instances by chain symbol.
type Registry struct {
	backends map[chain.Symbol]Backend
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[chain.Symbol]Backend),
	}
}

// NewRegistryFromConfigs creates a backend for every configured chain.
func NewRegistryFromConfigs(configs map[chain.Symbol]*Config, log *logging.Logger) (*Registry, error) {
	log = logging.OrNop(log)
	r := NewRegistry()
	for symbol, cfg := range configs {
		b, err := New(cfg, log.With("chain", symbol))
		if err != nil {
			return nil, fmt.Errorf("backend for %s: %w", symbol, err)
		}
		r.Register(symbol, b)
	}
	return r, nil
}

// Register adds a backend to the registry.
func (r *Registry) Register(symbol chain.Symbol, backend Backend) {
	r.backends[symbol] = backend
}

// Get returns a backend by symbol.
func (r *Registry) Get(symbol chain.Symbol) (Backend, error) {
	b, ok := r.backends[symbol]
	if !ok {
		return nil, fmt.Errorf("%w for %s", ErrNoBackend, symbol)
	}
	return b, nil
}

// List returns all registered symbols in sorted order.
func (r *Registry) List() []chain.Symbol {
	symbols := make([]chain.Symbol, 0, len(r.backends))
	for s := range r.backends {
		symbols = append(symbols, s)
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i] < symbols[j] })
	return symbols
}
