// Package script builds and inspects the HTLC scripts and tapscript leaves
// used by submarine and reverse swaps on Bitcoin and Elements.
package script

import "errors"

var (
	// ErrInvalidScriptStructure is returned when a script does not have the
	// expected swap layout.
	ErrInvalidScriptStructure = errors.New("invalid script structure")

	// ErrInvalidKey is returned for keys of the wrong length or encoding.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidHash is returned when a preimage hash is not 20 bytes.
	ErrInvalidHash = errors.New("preimage hash must be 20 bytes")
)

// StructureError is a script structure failure with a fixed message. It
// matches ErrInvalidScriptStructure under errors.Is.
type StructureError struct {
	msg string
}

// NewStructureError returns a StructureError carrying msg verbatim.
func NewStructureError(msg string) *StructureError {
	return &StructureError{msg: msg}
}

func (e *StructureError) Error() string {
	return e.msg
}

// Is makes StructureError match ErrInvalidScriptStructure.
func (e *StructureError) Is(target error) bool {
	return target == ErrInvalidScriptStructure
}
