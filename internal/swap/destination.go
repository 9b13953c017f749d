package swap

import (
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Output is a fixed payment of a Multiple destination. BlindingKey is only
// used on Elements; a nil key leaves the output explicit unless the
// address itself is confidential.
type Output struct {
	Address     string
	Amount      uint64
	BlindingKey *btcec.PublicKey
}

// Destination is where the swept value goes.
type Destination struct {
	// Address receives everything but the fee when Outputs is empty, and
	// the change otherwise.
	Address string

	// ChangeBlindingKey blinds the Address output on Elements.
	ChangeBlindingKey *btcec.PublicKey

	Outputs []Output
}

// Single sends all input value minus the fee to addr.
func Single(addr string) Destination {
	return Destination{Address: addr}
}

// Multiple pays the listed outputs and sends the remainder to change.
func Multiple(outputs []Output, change string) Destination {
	return Destination{Address: change, Outputs: outputs}
}

// IsSingle reports whether there are no fixed outputs.
func (d Destination) IsSingle() bool {
	return len(d.Outputs) == 0
}

// Validate checks the shape of the destination.
func (d Destination) Validate() error {
	if d.Address == "" {
		if d.IsSingle() {
			return errors.New("destination address is empty")
		}
		return ErrMissingChange
	}
	for i, o := range d.Outputs {
		if o.Address == "" {
			return fmt.Errorf("output %d: address is empty", i)
		}
		if o.Amount == 0 {
			return fmt.Errorf("output %d: amount is zero", i)
		}
	}
	return nil
}

// Fixed returns the sum of the fixed outputs.
func (d Destination) Fixed() uint64 {
	var total uint64
	for _, o := range d.Outputs {
		if total+o.Amount < total {
			return math.MaxUint64
		}
		total += o.Amount
	}
	return total
}

// Remainder is what is left for the change or single output after the fixed
// outputs and the fee.
func (d Destination) Remainder(inputValue, fee uint64) (uint64, error) {
	fixed := d.Fixed()
	if fee > inputValue || fixed > inputValue-fee {
		return 0, fmt.Errorf("%w: need %d fee and %d in outputs, have %d",
			ErrInsufficientFunds, fee, fixed, inputValue)
	}
	return inputValue - fee - fixed, nil
}
