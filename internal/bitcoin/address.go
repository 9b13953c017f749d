package bitcoin

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/klingon-exchange/swapcore/internal/swap"
)

var knownNets = []*chaincfg.Params{
	&chaincfg.MainNetParams,
	&chaincfg.TestNet3Params,
	&chaincfg.RegressionNetParams,
	&chaincfg.SigNetParams,
}

// DecodeAddress decodes addr for params. An address that is valid on
// another known network fails with swap.ErrNetworkMismatch.
func DecodeAddress(addr string, params *chaincfg.Params) (btcutil.Address, error) {
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err == nil && decoded.IsForNet(params) {
		return decoded, nil
	}

	for _, net := range knownNets {
		if net.Name == params.Name {
			continue
		}
		if other, otherErr := btcutil.DecodeAddress(addr, net); otherErr == nil && other.IsForNet(net) {
			return nil, fmt.Errorf("%w: %s is a %s address", swap.ErrNetworkMismatch, addr, net.Name)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", addr, err)
	}
	return nil, fmt.Errorf("%w: %s", swap.ErrNetworkMismatch, addr)
}

// AddressScript returns the scriptPubKey paying to addr.
func AddressScript(addr string, params *chaincfg.Params) ([]byte, error) {
	decoded, err := DecodeAddress(addr, params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(decoded)
}
