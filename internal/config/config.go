// Package config loads the YAML configuration of swapctl.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/klingon-exchange/swapcore/internal/backend"
	"github.com/klingon-exchange/swapcore/internal/chain"
	"github.com/klingon-exchange/swapcore/internal/evm"
	"github.com/klingon-exchange/swapcore/pkg/logging"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// ConfigFileName is the default config file name.
const ConfigFileName = "swapctl.yaml"

// DefaultDataDir is where swapctl looks for ConfigFileName.
const DefaultDataDir = "~/.swapcore"

// Config holds the swapctl configuration.
type Config struct {
	Network chain.Network `yaml:"network"`

	Logging LoggingConfig `yaml:"logging"`

	// Fees overrides the default sat/vbyte rate per chain.
	Fees map[chain.Symbol]float64 `yaml:"fees,omitempty"`

	// Backends overrides the public APIs of the network per chain.
	Backends map[chain.Symbol]*backend.Config `yaml:"backends,omitempty"`

	EVM EVMConfig `yaml:"evm"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// EVMConfig points at the swap contracts of one EVM chain.
type EVMConfig struct {
	RPCURL    string `yaml:"rpc_url,omitempty"`
	ChainID   uint64 `yaml:"chain_id,omitempty"`
	EtherSwap string `yaml:"ether_swap,omitempty"`
	ERC20Swap string `yaml:"erc20_swap,omitempty"`

	// ContractVersion pins the EIP-712 domain version. Zero means it is
	// read from the contract.
	ContractVersion uint8 `yaml:"contract_version,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Network: chain.Mainnet,
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads path over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(expandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append([]byte("# swapctl configuration\n\n"), data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks every section of the configuration.
func (c *Config) Validate() error {
	network, err := chain.ParseNetwork(string(c.Network))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.Network = network

	if _, ok := logging.LookupLevel(c.Logging.Level); !ok {
		return fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.Logging.Level)
	}

	for symbol, rate := range c.Fees {
		if _, ok := chain.Get(symbol); !ok {
			return fmt.Errorf("%w: fees: %w %s", ErrInvalidConfig, chain.ErrUnknownSymbol, symbol)
		}
		if rate <= 0 {
			return fmt.Errorf("%w: fees: rate for %s must be positive", ErrInvalidConfig, symbol)
		}
	}

	for symbol, b := range c.Backends {
		if _, ok := chain.Get(symbol); !ok {
			return fmt.Errorf("%w: backends: %w %s", ErrInvalidConfig, chain.ErrUnknownSymbol, symbol)
		}
		if b == nil || b.URL == "" {
			return fmt.Errorf("%w: backends: %s has no url", ErrInvalidConfig, symbol)
		}
		switch b.Type {
		case "", backend.TypeMempool, backend.TypeEsplora, backend.TypeJSONRPC:
		default:
			return fmt.Errorf("%w: backends: %w: %s", ErrInvalidConfig, backend.ErrUnsupportedBackend, b.Type)
		}
	}

	return c.EVM.validate()
}

func (e *EVMConfig) validate() error {
	for name, addr := range map[string]string{"ether_swap": e.EtherSwap, "erc20_swap": e.ERC20Swap} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: evm: %s is not an address: %q", ErrInvalidConfig, name, addr)
		}
	}
	if e.ContractVersion != 0 {
		if err := evm.CheckVersion(e.ContractVersion); err != nil {
			return fmt.Errorf("%w: evm: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// LoggerConfig converts the logging section for logging.New.
func (c *Config) LoggerConfig() *logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Logging.Level
	cfg.JSON = c.Logging.JSON
	return cfg
}

// BackendConfigs returns the public backends of the network with the
// configured backends applied on top.
func (c *Config) BackendConfigs() map[chain.Symbol]*backend.Config {
	configs := backend.DefaultConfigs(c.Network)
	for symbol, b := range c.Backends {
		configs[symbol] = b
	}
	return configs
}

// FeeRate returns the configured sat/vbyte rate for symbol, or the chain
// default.
func (c *Config) FeeRate(symbol chain.Symbol) float64 {
	if rate, ok := c.Fees[symbol]; ok {
		return rate
	}
	if params, ok := chain.Get(symbol); ok {
		return params.DefaultFeeRate
	}
	return 0
}

// Contract returns the configured address of a swap contract.
func (e *EVMConfig) Contract(kind evm.ContractKind) (common.Address, error) {
	addr := e.EtherSwap
	if kind == evm.ERC20Swap {
		addr = e.ERC20Swap
	}
	if addr == "" {
		return common.Address{}, fmt.Errorf("%w: evm: no %s address", ErrInvalidConfig, kind)
	}
	return common.HexToAddress(addr), nil
}

// Domain builds the EIP-712 domain of a swap contract without a node
// connection. It needs the chain ID and a pinned contract version.
func (e *EVMConfig) Domain(kind evm.ContractKind) (*evm.Domain, error) {
	contract, err := e.Contract(kind)
	if err != nil {
		return nil, err
	}
	if e.ChainID == 0 {
		return nil, fmt.Errorf("%w: evm: chain_id is required", ErrInvalidConfig)
	}
	if e.ContractVersion == 0 {
		return nil, fmt.Errorf("%w: evm: contract_version is required offline", ErrInvalidConfig)
	}
	return evm.NewDomain(kind, e.ContractVersion, new(big.Int).SetUint64(e.ChainID), contract)
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
