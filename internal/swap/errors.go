// Package swap holds the chain independent part of spending swap outputs:
// input and output descriptions, spend path selection, witness layout and
// fee arithmetic. The bitcoin and elements packages build transactions on
// top of it.
package swap

import "errors"

var (
	// ErrCooperativeNonTaproot is returned when a cooperative input points at
	// an output that has no key path.
	ErrCooperativeNonTaproot = errors.New("cooperative input has to be spent via key-path")

	// ErrInsufficientFunds covers negative change and outputs that end up
	// below the dust limit once the fee is taken.
	ErrInsufficientFunds = errors.New("insufficient funds")

	ErrNoInputs           = errors.New("no inputs to spend")
	ErrBlindingFailure    = errors.New("blinding failed")
	ErrNetworkMismatch    = errors.New("address is for a different network")
	ErrPreimageMismatch   = errors.New("preimage does not match hash lock")
	ErrLocktimeNotReached = errors.New("locktime not reached")
	ErrMissingKeys        = errors.New("input has no signing key")
	ErrMissingChange      = errors.New("multiple outputs require a change address")
	ErrMissingCovenant    = errors.New("tree has no covenant claim leaf")
	ErrInvalidInput       = errors.New("invalid input")
)
