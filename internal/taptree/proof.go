package taptree

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/klingon-exchange/swapcore/internal/script"
)

// leafMask clears the parity bit of the first control block byte.
const leafMask = 0xfe

// node is a script tree node: either a leaf or a branch of two nodes.
type node struct {
	leaf        *Leaf
	left, right *node
}

func leafNode(l Leaf) *node { return &node{leaf: &l} }

func branch(a, b *node) *node { return &node{left: a, right: b} }

func (h Hasher) hashNode(n *node) chainhash.Hash {
	if n.leaf != nil {
		return h.LeafHash(*n.leaf)
	}
	return h.BranchHash(h.hashNode(n.left), h.hashNode(n.right))
}

// path returns the sibling hashes from the matching leaf up to the root.
func (h Hasher) path(n *node, target Leaf) ([]chainhash.Hash, bool) {
	if n.leaf != nil {
		return nil, n.leaf.Version == target.Version && bytes.Equal(n.leaf.Output, target.Output)
	}
	if p, ok := h.path(n.left, target); ok {
		return append(p, h.hashNode(n.right)), true
	}
	if p, ok := h.path(n.right, target); ok {
		return append(p, h.hashNode(n.left)), true
	}
	return nil, false
}

// shape returns the tree layout. Two-leaf trees put both leaves at depth
// one; with a covenant the claim leaf stays at depth one and the covenant
// and refund leaves sit at depth two.
func (t *Tree) shape() *node {
	if t.CovenantClaimLeaf != nil {
		return branch(leafNode(t.ClaimLeaf), branch(leafNode(*t.CovenantClaimLeaf), leafNode(t.RefundLeaf)))
	}
	return branch(leafNode(t.ClaimLeaf), leafNode(t.RefundLeaf))
}

// MerkleRoot returns the root hash of the tree.
func (t *Tree) MerkleRoot(h Hasher) chainhash.Hash {
	return h.hashNode(t.shape())
}

// OutputKey returns the tweaked Taproot output key for an internal key.
func (t *Tree) OutputKey(h Hasher, internal *btcec.PublicKey) *btcec.PublicKey {
	return h.OutputKey(internal, t.MerkleRoot(h))
}

// OutputScript returns the witness v1 scriptPubKey of the tree.
func (t *Tree) OutputScript(h Hasher, internal *btcec.PublicKey) ([]byte, error) {
	return taprootScript(t.OutputKey(h, internal))
}

// ControlBlock returns the serialized control block proving leaf under the
// given internal key.
func (t *Tree) ControlBlock(h Hasher, leaf Leaf, internal *btcec.PublicKey) ([]byte, error) {
	path, ok := h.path(t.shape(), leaf)
	if !ok {
		return nil, fmt.Errorf("%w: leaf is not part of the tree", script.ErrInvalidScriptStructure)
	}
	return controlBlock(leaf.Version, internal, t.OutputKey(h, internal), path), nil
}

// MerkleRoot of a funding tree is the hash of its only leaf.
func (t *FundingTree) MerkleRoot(h Hasher) chainhash.Hash {
	return h.LeafHash(t.RefundLeaf)
}

// OutputKey returns the tweaked Taproot output key for an internal key.
func (t *FundingTree) OutputKey(h Hasher, internal *btcec.PublicKey) *btcec.PublicKey {
	return h.OutputKey(internal, t.MerkleRoot(h))
}

// OutputScript returns the witness v1 scriptPubKey of the tree.
func (t *FundingTree) OutputScript(h Hasher, internal *btcec.PublicKey) ([]byte, error) {
	return taprootScript(t.OutputKey(h, internal))
}

// ControlBlock returns the control block of the refund leaf, which has an
// empty merkle path.
func (t *FundingTree) ControlBlock(h Hasher, internal *btcec.PublicKey) []byte {
	return controlBlock(t.RefundLeaf.Version, internal, t.OutputKey(h, internal), nil)
}

func controlBlock(version uint8, internal, output *btcec.PublicKey, path []chainhash.Hash) []byte {
	cb := make([]byte, 0, 33+32*len(path))
	first := version & leafMask
	if output.SerializeCompressed()[0] == 0x03 {
		first |= 1
	}
	cb = append(cb, first)
	cb = append(cb, schnorr.SerializePubKey(internal)...)
	for _, p := range path {
		cb = append(cb, p[:]...)
	}
	return cb
}

func taprootScript(output *btcec.PublicKey) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_1).
		AddData(schnorr.SerializePubKey(output)).
		Script()
}
