package taptree

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/klingon-exchange/swapcore/internal/script"
)

var (
	// ErrClaimLeafNoKey is returned when the claim leaf has no 32-byte push.
	ErrClaimLeafNoKey = script.NewStructureError("claim leaf does not contain a public key")

	// ErrRefundLeafNoKey is returned when the refund leaf has no 32-byte push.
	ErrRefundLeafNoKey = script.NewStructureError("refund leaf does not contain a public key")
)

// Leaf is a tapscript leaf: a leaf version and the script it commits to.
type Leaf struct {
	Version uint8
	Output  []byte
}

type leafJSON struct {
	Version uint8  `json:"version"`
	Output  string `json:"output"`
}

// MarshalJSON encodes the script as hex.
func (l Leaf) MarshalJSON() ([]byte, error) {
	return json.Marshal(leafJSON{Version: l.Version, Output: hex.EncodeToString(l.Output)})
}

// UnmarshalJSON decodes a {"version", "output"} object.
func (l *Leaf) UnmarshalJSON(data []byte) error {
	var raw leafJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	output, err := hex.DecodeString(raw.Output)
	if err != nil {
		return fmt.Errorf("leaf output: %w", err)
	}
	l.Version = raw.Version
	l.Output = output
	return nil
}

// Tree is the script tree of a swap output. CovenantClaimLeaf is only set
// for Elements reverse swaps with a covenant.
type Tree struct {
	ClaimLeaf         Leaf  `json:"claimLeaf"`
	RefundLeaf        Leaf  `json:"refundLeaf"`
	CovenantClaimLeaf *Leaf `json:"covenantClaimLeaf,omitempty"`
}

// FundingTree is the single-leaf tree of a funding address, which only has
// a refund path.
type FundingTree struct {
	RefundLeaf Leaf `json:"refundLeaf"`
}

// ParseTree decodes a tree from its JSON form.
func ParseTree(data []byte) (*Tree, error) {
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", script.ErrInvalidScriptStructure, err)
	}
	if len(t.ClaimLeaf.Output) == 0 || len(t.RefundLeaf.Output) == 0 {
		return nil, fmt.Errorf("%w: tree is missing a leaf", script.ErrInvalidScriptStructure)
	}
	return &t, nil
}

// ParseFundingTree decodes a funding tree from its JSON form.
func ParseFundingTree(data []byte) (*FundingTree, error) {
	var t FundingTree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", script.ErrInvalidScriptStructure, err)
	}
	if len(t.RefundLeaf.Output) == 0 {
		return nil, fmt.Errorf("%w: tree is missing a leaf", script.ErrInvalidScriptStructure)
	}
	return &t, nil
}

// ClaimPubKey returns the x-only key of the claim leaf.
func (t *Tree) ClaimPubKey() (*btcec.PublicKey, error) {
	return leafKey(t.ClaimLeaf, ErrClaimLeafNoKey)
}

// RefundPubKey returns the x-only key of the refund leaf.
func (t *Tree) RefundPubKey() (*btcec.PublicKey, error) {
	return leafKey(t.RefundLeaf, ErrRefundLeafNoKey)
}

// RefundPubKey returns the x-only key of the refund leaf.
func (t *FundingTree) RefundPubKey() (*btcec.PublicKey, error) {
	return leafKey(t.RefundLeaf, ErrRefundLeafNoKey)
}

func leafKey(leaf Leaf, missing error) (*btcec.PublicKey, error) {
	raw, ok := script.FirstPushOfLen(leaf.Output, 32)
	if !ok {
		return nil, missing
	}
	key, err := schnorr.ParsePubKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", script.ErrInvalidKey, err)
	}
	return key, nil
}

// Leaves returns the leaves of the tree in a stable order: claim, refund,
// then the covenant claim if present.
func (t *Tree) Leaves() []Leaf {
	leaves := []Leaf{t.ClaimLeaf, t.RefundLeaf}
	if t.CovenantClaimLeaf != nil {
		leaves = append(leaves, *t.CovenantClaimLeaf)
	}
	return leaves
}
