package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
)

func init() {
	Register(&Params{
		Symbol:         BTC,
		Name:           "Bitcoin",
		Decimals:       8,
		DefaultFeeRate: 2,
		Networks:       []Network{Mainnet, Testnet, Regtest, Signet},
	})
}

// BitcoinParams returns the btcd network parameters for n.
func BitcoinParams(n Network) (*chaincfg.Params, error) {
	switch n {
	case Mainnet:
		return &chaincfg.MainNetParams, nil
	case Testnet:
		return &chaincfg.TestNet3Params, nil
	case Regtest:
		return &chaincfg.RegressionNetParams, nil
	case Signet:
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, n)
	}
}
