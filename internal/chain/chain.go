// Package chain defines the chains swapcore can build scripts and
// transactions for, and maps them to the network parameters of btcd and
// go-elements.
package chain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownSymbol is returned for chain symbols that are not supported.
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrNetworkUnsupported is returned when a chain has no parameters for
	// the requested network.
	ErrNetworkUnsupported = errors.New("network not supported")

	// ErrUnknownNetwork is returned when a network name cannot be parsed.
	ErrUnknownNetwork = errors.New("unknown network")
)

// Symbol identifies a UTXO chain.
type Symbol string

const (
	BTC  Symbol = "BTC"
	LBTC Symbol = "L-BTC"
)

// ParseSymbol converts a chain tag to a Symbol. Both "L-BTC" and "LBTC"
// identify Liquid.
func ParseSymbol(s string) (Symbol, error) {
	switch s {
	case "BTC":
		return BTC, nil
	case "L-BTC", "LBTC":
		return LBTC, nil
	default:
		return "", fmt.Errorf("%w %s", ErrUnknownSymbol, s)
	}
}

// IsLiquid reports whether the symbol is an Elements chain.
func (s Symbol) IsLiquid() bool {
	return s == LBTC
}

func (s Symbol) String() string {
	return string(s)
}

// Network is the network a chain runs on.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
	Signet  Network = "signet"
)

// ParseNetwork parses a network name as used in configuration files.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(s) {
	case "mainnet", "main", "bitcoin", "liquid":
		return Mainnet, nil
	case "testnet", "testnet3", "test":
		return Testnet, nil
	case "regtest", "reg":
		return Regtest, nil
	case "signet":
		return Signet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, s)
	}
}

// Chain is a symbol on a specific network.
type Chain struct {
	Symbol  Symbol
	Network Network
}

func (c Chain) String() string {
	return fmt.Sprintf("%s/%s", c.Symbol, c.Network)
}

// Params contains the chain properties the engine needs beyond what the
// btcd and go-elements parameter sets carry.
type Params struct {
	Symbol   Symbol
	Name     string
	Decimals uint8

	// DefaultFeeRate is the sat/vbyte rate used when no estimate is
	// available.
	DefaultFeeRate float64

	Networks []Network
}

// SupportsNetwork reports whether the chain is available on n.
func (p *Params) SupportsNetwork(n Network) bool {
	for _, net := range p.Networks {
		if net == n {
			return true
		}
	}
	return false
}

var registry = make(map[Symbol]*Params)

// Register adds chain params to the registry.
func Register(params *Params) {
	registry[params.Symbol] = params
}

// Get returns the params registered for a symbol.
func Get(symbol Symbol) (*Params, bool) {
	p, ok := registry[symbol]
	return p, ok
}

// Lookup parses a chain tag and returns its params and validates that the
// chain exists on the given network.
func Lookup(tag string, network Network) (*Params, error) {
	symbol, err := ParseSymbol(tag)
	if err != nil {
		return nil, err
	}
	params, ok := Get(symbol)
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownSymbol, tag)
	}
	if !params.SupportsNetwork(network) {
		return nil, fmt.Errorf("%w: %s on %s", ErrNetworkUnsupported, symbol, network)
	}
	return params, nil
}

// List returns all registered chain symbols in sorted order.
func List() []Symbol {
	symbols := make([]Symbol, 0, len(registry))
	for symbol := range registry {
		symbols = append(symbols, symbol)
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i] < symbols[j] })
	return symbols
}
