package swap

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/txscript"
)

// Dust limits in satoshis.
const (
	DustWitness  uint64 = 294
	DustLegacy   uint64 = 546
	DustElements uint64 = 1
)

// FeeFor returns ceil(vsize * rate) for a rate in sat/vB. The rate is
// rounded to whole millisatoshis first so results do not depend on float
// representation. A fee that cannot be represented in satoshis fails with
// ErrInsufficientFunds.
func FeeFor(vsize int64, rate float64) (uint64, error) {
	if math.IsNaN(rate) || rate < 0 {
		return 0, fmt.Errorf("%w: fee rate %v", ErrInvalidInput, rate)
	}
	if vsize <= 0 || rate == 0 {
		return 0, nil
	}

	msatPerVB := math.Round(rate * 1000)
	limit := math.MaxUint64 / uint64(vsize) / 2
	if math.IsInf(msatPerVB, 1) || msatPerVB > float64(limit) {
		return 0, fmt.Errorf("%w: fee rate %v sat/vB for %d vbytes", ErrInsufficientFunds, rate, vsize)
	}
	total := uint64(vsize) * uint64(msatPerVB)
	return (total + 999) / 1000, nil
}

// BitcoinDust returns the dust limit for an output script.
func BitcoinDust(pkScript []byte) uint64 {
	if txscript.IsWitnessProgram(pkScript) {
		return DustWitness
	}
	return DustLegacy
}

// CheckDust fails with ErrInsufficientFunds if amount is below limit.
func CheckDust(amount, limit uint64) error {
	if amount < limit {
		return fmt.Errorf("%w: output of %d below dust limit %d", ErrInsufficientFunds, amount, limit)
	}
	return nil
}

// CheckTimelock fails if a refund with the given timeout cannot be mined in
// the block after currentHeight.
func CheckTimelock(timeout, currentHeight uint32) error {
	if timeout > currentHeight {
		return fmt.Errorf("%w: timeout %d, height %d", ErrLocktimeNotReached, timeout, currentHeight)
	}
	return nil
}
