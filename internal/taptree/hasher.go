// Package taptree models the Taproot script trees of swap outputs and
// computes their leaf hashes, merkle roots, control blocks and output keys
// for Bitcoin and Elements.
package taptree

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/vulpemventures/go-elements/taproot"

	"github.com/klingon-exchange/swapcore/internal/chain"
)

// Leaf versions.
const (
	BitcoinLeafVersion  uint8 = 0xc0
	ElementsLeafVersion uint8 = 0xc4
)

// Hasher selects the tagged hashes and tweak function of a chain.
type Hasher struct {
	name        string
	leafTag     []byte
	branchTag   []byte
	tweakTag    []byte
	leafVersion uint8
	tweak       func(internal *btcec.PublicKey, root []byte) *btcec.PublicKey
}

var (
	// Bitcoin hashes with the BIP-341 tags.
	Bitcoin = Hasher{
		name:        "bitcoin",
		leafTag:     chainhash.TagTapLeaf,
		branchTag:   chainhash.TagTapBranch,
		tweakTag:    chainhash.TagTapTweak,
		leafVersion: BitcoinLeafVersion,
		tweak:       txscript.ComputeTaprootOutputKey,
	}

	// Elements hashes with the "/elements" suffixed tags.
	Elements = Hasher{
		name:        "elements",
		leafTag:     []byte("TapLeaf/elements"),
		branchTag:   []byte("TapBranch/elements"),
		tweakTag:    []byte("TapTweak/elements"),
		leafVersion: ElementsLeafVersion,
		tweak:       taproot.ComputeTaprootOutputKey,
	}
)

// ForSymbol returns the hasher used by a chain.
func ForSymbol(s chain.Symbol) Hasher {
	if s.IsLiquid() {
		return Elements
	}
	return Bitcoin
}

// LeafVersion is the default tapscript leaf version of the chain.
func (h Hasher) LeafVersion() uint8 {
	return h.leafVersion
}

// IsElements reports whether h hashes with the Elements tags.
func (h Hasher) IsElements() bool {
	return h.name == "elements"
}

func (h Hasher) String() string {
	return h.name
}

// LeafHash returns the tagged hash of a leaf: H(version || varbytes(script)).
// The stored leaf version is used even when it is not the chain default.
func (h Hasher) LeafHash(leaf Leaf) chainhash.Hash {
	var buf bytes.Buffer
	buf.WriteByte(leaf.Version)
	// Writes to a bytes.Buffer cannot fail.
	_ = wire.WriteVarBytes(&buf, 0, leaf.Output)
	return *chainhash.TaggedHash(h.leafTag, buf.Bytes())
}

// BranchHash combines two child hashes, smaller first.
func (h Hasher) BranchHash(a, b chainhash.Hash) chainhash.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return *chainhash.TaggedHash(h.branchTag, a[:], b[:])
}

// TapTweak returns the scalar tweak H(xonly(internal) || root) that turns
// the internal key into the output key.
func (h Hasher) TapTweak(internal *btcec.PublicKey, root chainhash.Hash) [32]byte {
	return *chainhash.TaggedHash(h.tweakTag, schnorr.SerializePubKey(internal), root[:])
}

// OutputKey tweaks internal with the merkle root.
func (h Hasher) OutputKey(internal *btcec.PublicKey, root chainhash.Hash) *btcec.PublicKey {
	return h.tweak(internal, root[:])
}
