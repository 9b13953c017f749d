package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/vulpemventures/go-elements/network"
)

// Genesis block hashes of the Liquid networks, in display order. The
// Elements Taproot sighash commits to them.
const (
	liquidMainnetGenesis = "1466275836220db2944ca059a3a10ef6fd2ea684b0688d2c379296888a206003"
	liquidTestnetGenesis = "a771da8e52ee6ad581ed1e9a99825e5b3b7992225534eaa2ae23244fe26ab1c1"
	liquidRegtestGenesis = "00902a6b70c2ca83b5d9c815d96a0e2f4202179316970d14ea1847dae5b1ca21"
)

func init() {
	Register(&Params{
		Symbol:         LBTC,
		Name:           "Liquid Bitcoin",
		Decimals:       8,
		DefaultFeeRate: 0.1,
		Networks:       []Network{Mainnet, Testnet, Regtest},
	})
}

// LiquidParams returns the go-elements network parameters for n. Liquid has
// no signet.
func LiquidParams(n Network) (*network.Network, error) {
	switch n {
	case Mainnet:
		return &network.Liquid, nil
	case Testnet:
		return &network.Testnet, nil
	case Regtest:
		return &network.Regtest, nil
	case Signet:
		return nil, fmt.Errorf("%w: %s on %s", ErrNetworkUnsupported, LBTC, n)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, n)
	}
}

// LiquidGenesisHash returns the genesis block hash of the Liquid network n.
// Regtest chains started with a custom genesis must pass their own hash to
// the transaction builder instead.
func LiquidGenesisHash(n Network) (*chainhash.Hash, error) {
	var h string
	switch n {
	case Mainnet:
		h = liquidMainnetGenesis
	case Testnet:
		h = liquidTestnetGenesis
	case Regtest:
		h = liquidRegtestGenesis
	default:
		return nil, fmt.Errorf("%w: %s on %s", ErrNetworkUnsupported, LBTC, n)
	}
	return chainhash.NewHashFromStr(h)
}
