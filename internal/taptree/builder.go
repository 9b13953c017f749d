package taptree

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/vulpemventures/go-elements/address"
	"github.com/vulpemventures/go-elements/network"

	"github.com/klingon-exchange/swapcore/internal/script"
)

// ErrCovenantBitcoin is returned when a covenant tree is requested for a
// chain without introspection opcodes.
var ErrCovenantBitcoin = errors.New("covenants are only supported on elements")

// NewSwapTree builds the tree of a submarine swap lockup.
func NewSwapTree(h Hasher, preimageHash []byte, claimKey, refundKey *btcec.PublicKey, timeout uint32) (*Tree, error) {
	claim, err := script.ClaimLeafScript(preimageHash, schnorr.SerializePubKey(claimKey))
	if err != nil {
		return nil, err
	}
	return newTree(h, claim, refundKey, timeout)
}

// NewReverseSwapTree builds the tree of a reverse swap lockup.
func NewReverseSwapTree(h Hasher, preimageHash []byte, claimKey, refundKey *btcec.PublicKey, timeout uint32) (*Tree, error) {
	claim, err := script.ReverseClaimLeafScript(preimageHash, schnorr.SerializePubKey(claimKey))
	if err != nil {
		return nil, err
	}
	return newTree(h, claim, refundKey, timeout)
}

// NewCovenantSwapTree builds an Elements reverse swap tree with an
// additional covenant claim leaf that lets anyone holding the preimage
// claim into the committed output.
func NewCovenantSwapTree(h Hasher, preimageHash []byte, claimKey, refundKey *btcec.PublicKey, timeout uint32, out script.CovenantOutput) (*Tree, error) {
	if !h.IsElements() {
		return nil, ErrCovenantBitcoin
	}
	tree, err := NewReverseSwapTree(h, preimageHash, claimKey, refundKey, timeout)
	if err != nil {
		return nil, err
	}
	covenant, err := script.CovenantClaimLeafScript(preimageHash, out)
	if err != nil {
		return nil, err
	}
	tree.CovenantClaimLeaf = &Leaf{Version: h.LeafVersion(), Output: covenant}
	return tree, nil
}

// NewFundingTree builds the single-leaf tree of a funding address.
func NewFundingTree(h Hasher, refundKey *btcec.PublicKey, timeout uint32) (*FundingTree, error) {
	refund, err := script.RefundLeafScript(schnorr.SerializePubKey(refundKey), timeout)
	if err != nil {
		return nil, err
	}
	return &FundingTree{RefundLeaf: Leaf{Version: h.LeafVersion(), Output: refund}}, nil
}

func newTree(h Hasher, claim []byte, refundKey *btcec.PublicKey, timeout uint32) (*Tree, error) {
	refund, err := script.RefundLeafScript(schnorr.SerializePubKey(refundKey), timeout)
	if err != nil {
		return nil, err
	}
	return &Tree{
		ClaimLeaf:  Leaf{Version: h.LeafVersion(), Output: claim},
		RefundLeaf: Leaf{Version: h.LeafVersion(), Output: refund},
	}, nil
}

// BitcoinAddress encodes a Taproot output key as a bech32m address.
func BitcoinAddress(outputKey *btcec.PublicKey, params *chaincfg.Params) (string, error) {
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), params)
	if err != nil {
		return "", fmt.Errorf("failed to create taproot address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// LiquidAddress encodes a Taproot output key as a Liquid segwit v1 address.
// With a blinding key the address is confidential (blech32).
func LiquidAddress(outputKey *btcec.PublicKey, net *network.Network, blindingKey *btcec.PublicKey) (string, error) {
	program := schnorr.SerializePubKey(outputKey)
	if blindingKey == nil {
		return address.ToBech32(&address.Bech32{
			Prefix:  net.Bech32,
			Version: 1,
			Program: program,
		})
	}
	return address.ToBlech32(&address.Blech32{
		Prefix:    net.Blech32,
		Version:   1,
		PublicKey: blindingKey.SerializeCompressed(),
		Program:   program,
	})
}
