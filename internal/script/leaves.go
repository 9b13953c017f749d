package script

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// ClaimLeafScript builds the tapscript claim leaf of a submarine swap:
//
//	OP_HASH160 <hash> OP_EQUALVERIFY <claimXOnly> OP_CHECKSIG
func ClaimLeafScript(preimageHash, claimXOnly []byte) ([]byte, error) {
	if len(preimageHash) != 20 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidHash, len(preimageHash))
	}
	if err := checkXOnlyKey(claimXOnly); err != nil {
		return nil, fmt.Errorf("claim key: %w", err)
	}

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(preimageHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddData(claimXOnly).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// ReverseClaimLeafScript builds the tapscript claim leaf of a reverse swap,
// which additionally pins the preimage to 32 bytes:
//
//	OP_SIZE 32 OP_EQUALVERIFY OP_HASH160 <hash> OP_EQUALVERIFY <claimXOnly> OP_CHECKSIG
func ReverseClaimLeafScript(preimageHash, claimXOnly []byte) ([]byte, error) {
	if len(preimageHash) != 20 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidHash, len(preimageHash))
	}
	if err := checkXOnlyKey(claimXOnly); err != nil {
		return nil, fmt.Errorf("claim key: %w", err)
	}

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_SIZE).
		AddInt64(32).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_HASH160).
		AddData(preimageHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddData(claimXOnly).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// RefundLeafScript builds the tapscript refund leaf:
//
//	<refundXOnly> OP_CHECKSIGVERIFY <timeout> OP_CHECKLOCKTIMEVERIFY
func RefundLeafScript(refundXOnly []byte, timeout uint32) ([]byte, error) {
	if err := checkXOnlyKey(refundXOnly); err != nil {
		return nil, fmt.Errorf("refund key: %w", err)
	}

	return txscript.NewScriptBuilder().
		AddData(refundXOnly).
		AddOp(txscript.OP_CHECKSIGVERIFY).
		AddInt64(int64(timeout)).
		AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).
		Script()
}
