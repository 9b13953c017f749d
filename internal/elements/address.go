package elements

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/vulpemventures/go-elements/address"
	"github.com/vulpemventures/go-elements/network"

	"github.com/klingon-exchange/swapcore/internal/swap"
)

// Destination is a decoded Liquid segwit address.
type Destination struct {
	Script      []byte
	BlindingKey *btcec.PublicKey
}

// DecodeAddress decodes a bech32 or blech32 address and checks that it
// belongs to net. Base58 addresses are not accepted.
func DecodeAddress(addr string, net *network.Network) (*Destination, error) {
	lower := strings.ToLower(addr)

	if strings.HasPrefix(lower, net.Blech32+"1") {
		decoded, err := address.FromBlech32(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address %s: %w", addr, err)
		}
		key, err := btcec.ParsePubKey(decoded.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("invalid blinding key in %s: %w", addr, err)
		}
		script, err := address.ToOutputScript(addr)
		if err != nil {
			return nil, err
		}
		return &Destination{Script: script, BlindingKey: key}, nil
	}

	if strings.HasPrefix(lower, net.Bech32+"1") {
		if _, err := address.FromBech32(addr); err != nil {
			return nil, fmt.Errorf("invalid address %s: %w", addr, err)
		}
		script, err := address.ToOutputScript(addr)
		if err != nil {
			return nil, err
		}
		return &Destination{Script: script}, nil
	}

	for _, other := range []*network.Network{&network.Liquid, &network.Testnet, &network.Regtest} {
		if other.Name == net.Name {
			continue
		}
		if strings.HasPrefix(lower, other.Bech32+"1") || strings.HasPrefix(lower, other.Blech32+"1") {
			return nil, fmt.Errorf("%w: %s is a %s address", swap.ErrNetworkMismatch, addr, other.Name)
		}
	}
	return nil, fmt.Errorf("unsupported address %s", addr)
}
