// Package evm computes and signs the EIP-712 authorizations used by the
// EtherSwap and ERC20Swap contracts.
package evm

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Supported contract versions.
const (
	MinContractVersion = 3
	MaxContractVersion = 5
)

var (
	ErrUnsupportedContractVersion = errors.New("unsupported contract version")
	ErrMissingTokenAddress        = errors.New("token address is required for ERC20 commits")
	ErrSigner                     = errors.New("signer failed")
	ErrInvalidSignature           = errors.New("invalid signature")
)

// ContractKind selects the swap contract.
type ContractKind uint8

const (
	EtherSwap ContractKind = iota
	ERC20Swap
)

// Name is the EIP-712 domain name of the contract.
func (k ContractKind) Name() string {
	if k == ERC20Swap {
		return "ERC20Swap"
	}
	return "EtherSwap"
}

func (k ContractKind) String() string {
	return k.Name()
}

// Domain is the EIP-712 domain of a swap contract. It has no salt.
type Domain struct {
	Kind              ContractKind
	Version           uint8
	ChainID           *big.Int
	VerifyingContract common.Address
}

// NewDomain validates the contract version and builds a domain.
func NewDomain(kind ContractKind, version uint8, chainID *big.Int, contract common.Address) (*Domain, error) {
	if err := CheckVersion(version); err != nil {
		return nil, err
	}
	if chainID == nil {
		return nil, errors.New("chain id is required")
	}
	return &Domain{
		Kind:              kind,
		Version:           version,
		ChainID:           new(big.Int).Set(chainID),
		VerifyingContract: contract,
	}, nil
}

// CheckVersion fails for contract versions outside the supported range.
func CheckVersion(version uint8) error {
	if version < MinContractVersion || version > MaxContractVersion {
		return fmt.Errorf("%w %d", ErrUnsupportedContractVersion, version)
	}
	return nil
}

func (d *Domain) typedDataDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              d.Kind.Name(),
		Version:           strconv.Itoa(int(d.Version)),
		ChainId:           (*math.HexOrDecimal256)(d.ChainID),
		VerifyingContract: d.VerifyingContract.Hex(),
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// CommitValues are the fields of a Commit authorization. TokenAddress is
// required for ERC20Swap.
type CommitValues struct {
	PreimageHash [32]byte
	Amount       *big.Int
	TokenAddress *common.Address
	ClaimAddress common.Address
	Timelock     *big.Int
}

// RefundValues are the fields of a Refund authorization.
type RefundValues struct {
	PreimageHash [32]byte
	Amount       *big.Int
	TokenAddress *common.Address
	ClaimAddress common.Address
	Timeout      *big.Int
}

// CommitTypedData returns the typed data of a Commit signed by refundAddress.
func CommitTypedData(d *Domain, v CommitValues, refundAddress common.Address) (*apitypes.TypedData, error) {
	fields := []apitypes.Type{
		{Name: "preimageHash", Type: "bytes32"},
		{Name: "amount", Type: "uint256"},
	}
	message := apitypes.TypedDataMessage{
		"preimageHash":  hexutil.Encode(v.PreimageHash[:]),
		"amount":        bigOrZero(v.Amount),
		"claimAddress":  v.ClaimAddress.Hex(),
		"refundAddress": refundAddress.Hex(),
		"timelock":      bigOrZero(v.Timelock),
	}
	if d.Kind == ERC20Swap {
		if v.TokenAddress == nil {
			return nil, ErrMissingTokenAddress
		}
		fields = append(fields, apitypes.Type{Name: "tokenAddress", Type: "address"})
		message["tokenAddress"] = v.TokenAddress.Hex()
	}
	fields = append(fields,
		apitypes.Type{Name: "claimAddress", Type: "address"},
		apitypes.Type{Name: "refundAddress", Type: "address"},
		apitypes.Type{Name: "timelock", Type: "uint256"},
	)
	return typedData(d, "Commit", fields, message), nil
}

// RefundTypedData returns the typed data of a cooperative Refund.
func RefundTypedData(d *Domain, v RefundValues) (*apitypes.TypedData, error) {
	fields := []apitypes.Type{
		{Name: "preimageHash", Type: "bytes32"},
		{Name: "amount", Type: "uint256"},
	}
	message := apitypes.TypedDataMessage{
		"preimageHash": hexutil.Encode(v.PreimageHash[:]),
		"amount":       bigOrZero(v.Amount),
		"claimAddress": v.ClaimAddress.Hex(),
		"timeout":      bigOrZero(v.Timeout),
	}
	if d.Kind == ERC20Swap {
		if v.TokenAddress == nil {
			return nil, ErrMissingTokenAddress
		}
		fields = append(fields, apitypes.Type{Name: "tokenAddress", Type: "address"})
		message["tokenAddress"] = v.TokenAddress.Hex()
	}
	fields = append(fields,
		apitypes.Type{Name: "claimAddress", Type: "address"},
		apitypes.Type{Name: "timeout", Type: "uint256"},
	)
	return typedData(d, "Refund", fields, message), nil
}

func typedData(d *Domain, primary string, fields []apitypes.Type, message apitypes.TypedDataMessage) *apitypes.TypedData {
	return &apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain:      d.typedDataDomain(),
		Message:     message,
	}
}

// CommitHash returns keccak256(0x19 0x01 || domainSeparator || hashStruct(Commit)).
func CommitHash(d *Domain, v CommitValues, refundAddress common.Address) (common.Hash, error) {
	td, err := CommitTypedData(d, v, refundAddress)
	if err != nil {
		return common.Hash{}, err
	}
	return digest(td)
}

// RefundHash returns the EIP-712 digest of a Refund.
func RefundHash(d *Domain, v RefundValues) (common.Hash, error) {
	td, err := RefundTypedData(d, v)
	if err != nil {
		return common.Hash{}, err
	}
	return digest(td)
}

func digest(td *apitypes.TypedData) (common.Hash, error) {
	hash, _, err := apitypes.TypedDataAndHash(*td)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return common.BytesToHash(hash), nil
}

func bigOrZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n
}
