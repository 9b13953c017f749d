package swap

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/klingon-exchange/swapcore/internal/taptree"
)

// InputKind says why a swap output is spent.
type InputKind uint8

const (
	KindClaim InputKind = iota
	KindRefund
	KindCooperative
)

func (k InputKind) String() string {
	switch k {
	case KindClaim:
		return "claim"
	case KindRefund:
		return "refund"
	case KindCooperative:
		return "cooperative"
	default:
		return fmt.Sprintf("InputKind(%d)", k)
	}
}

// InputType is the spend intent of an input. Preimage is set for claims,
// TimeoutHeight for refunds.
type InputType struct {
	Kind          InputKind
	Preimage      lntypes.Preimage
	TimeoutHeight uint32
}

// Claim spends with the preimage.
func Claim(preimage lntypes.Preimage) InputType {
	return InputType{Kind: KindClaim, Preimage: preimage}
}

// Refund spends after the timelock; the transaction locktime is raised to
// at least timeoutHeight.
func Refund(timeoutHeight uint32) InputType {
	return InputType{Kind: KindRefund, TimeoutHeight: timeoutHeight}
}

// Cooperative spends through the aggregated key.
func Cooperative() InputType {
	return InputType{Kind: KindCooperative}
}

// OutputKind is the script type of the output being spent.
type OutputKind uint8

const (
	OutputTaproot OutputKind = iota
	OutputSegwitV0
	OutputCompatibility
	OutputLegacy
)

func (k OutputKind) String() string {
	switch k {
	case OutputTaproot:
		return "taproot"
	case OutputSegwitV0:
		return "segwit v0"
	case OutputCompatibility:
		return "compatibility"
	case OutputLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("OutputKind(%d)", k)
	}
}

// OutputType describes the output being spent. Script is the witness or
// redeem script for every kind except Taproot.
type OutputType struct {
	Kind   OutputKind
	Script []byte
}

func Taproot() OutputType { return OutputType{Kind: OutputTaproot} }

func SegwitV0(script []byte) OutputType { return OutputType{Kind: OutputSegwitV0, Script: script} }

// Compatibility is a P2SH wrapped witness v0 output.
func Compatibility(script []byte) OutputType {
	return OutputType{Kind: OutputCompatibility, Script: script}
}

func Legacy(script []byte) OutputType { return OutputType{Kind: OutputLegacy, Script: script} }

// Uncooperative carries what a Taproot script-path spend needs. Covenant
// selects the Elements covenant claim leaf, which takes no signature.
type Uncooperative struct {
	Tree        *taptree.Tree
	InternalKey *btcec.PublicKey
	Covenant    bool
}

// KeyPathSigner produces the aggregated Schnorr signature of a cooperative
// key-path spend for the given sighash.
type KeyPathSigner interface {
	SignKeyPath(sigHash [32]byte) ([]byte, error)
}
