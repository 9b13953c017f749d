package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// versionABI is the part of the swap contract ABI needed to read its
// version.
const versionABI = `[{"inputs":[],"name":"version","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`

var parsedVersionABI = mustParseABI(versionABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ContractBackend is the subset of ethclient.Client used to read the
// domain of a deployed contract.
type ContractBackend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// ContractVersion calls version() on the contract.
func ContractVersion(ctx context.Context, backend ContractBackend, contract common.Address) (uint8, error) {
	data, err := parsedVersionABI.Pack("version")
	if err != nil {
		return 0, err
	}
	out, err := backend.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to call version(): %w", err)
	}
	values, err := parsedVersionABI.Unpack("version", out)
	if err != nil {
		return 0, fmt.Errorf("failed to decode version(): %w", err)
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("version() returned %d values", len(values))
	}
	version, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("version() returned %T", values[0])
	}
	return version, nil
}

// FetchDomain reads the chain ID and contract version and builds the
// domain of a deployed swap contract.
func FetchDomain(ctx context.Context, backend ContractBackend, kind ContractKind, contract common.Address) (*Domain, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	version, err := ContractVersion(ctx, backend, contract)
	if err != nil {
		return nil, err
	}
	return NewDomain(kind, version, chainID, contract)
}
