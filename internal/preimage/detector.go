// Package preimage extracts swap preimages that a counterparty revealed on
// chain when claiming an HTLC.
package preimage

import (
	"bytes"
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/vulpemventures/go-elements/transaction"

	"github.com/klingon-exchange/swapcore/internal/script"
)

// FromInput returns the preimage carried by a spending input. The first
// rule that matches wins:
//
//  1. the first witness item is 32 bytes long
//  2. the second witness item is 32 bytes long
//  3. the scriptSig contains a 32-byte push
func FromInput(witness [][]byte, scriptSig []byte) (lntypes.Preimage, bool) {
	var p lntypes.Preimage
	switch {
	case len(witness) > 0 && len(witness[0]) == lntypes.PreimageSize:
		copy(p[:], witness[0])
		return p, true
	case len(witness) > 1 && len(witness[1]) == lntypes.PreimageSize:
		copy(p[:], witness[1])
		return p, true
	}

	data, ok := script.FirstPushOfLen(scriptSig, lntypes.PreimageSize)
	if !ok {
		return p, false
	}
	copy(p[:], data)
	return p, true
}

// FromBitcoinTx applies FromInput to input idx of tx.
func FromBitcoinTx(tx *wire.MsgTx, idx int) (lntypes.Preimage, bool) {
	if tx == nil || idx < 0 || idx >= len(tx.TxIn) {
		return lntypes.Preimage{}, false
	}
	in := tx.TxIn[idx]
	return FromInput(in.Witness, in.SignatureScript)
}

// FromElementsTx applies FromInput to input idx of tx.
func FromElementsTx(tx *transaction.Transaction, idx int) (lntypes.Preimage, bool) {
	if tx == nil || idx < 0 || idx >= len(tx.Inputs) {
		return lntypes.Preimage{}, false
	}
	in := tx.Inputs[idx]
	return FromInput(in.Witness, in.Script)
}

// Matches reports whether p hashes to hash. A 32-byte hash is compared
// against SHA256(p) and a 20-byte hash against HASH160(p).
func Matches(p lntypes.Preimage, hash []byte) bool {
	switch len(hash) {
	case sha256.Size:
		sum := sha256.Sum256(p[:])
		return bytes.Equal(sum[:], hash)
	case 20:
		return bytes.Equal(btcutil.Hash160(p[:]), hash)
	default:
		return false
	}
}

// FindInBitcoinTx scans every input of tx for a preimage of hash and
// returns it with the index of the input that revealed it.
func FindInBitcoinTx(tx *wire.MsgTx, hash []byte) (lntypes.Preimage, int, bool) {
	if tx == nil {
		return lntypes.Preimage{}, -1, false
	}
	for i := range tx.TxIn {
		if p, ok := FromBitcoinTx(tx, i); ok && Matches(p, hash) {
			return p, i, true
		}
	}
	return lntypes.Preimage{}, -1, false
}

// FindInElementsTx is FindInBitcoinTx for Elements transactions.
func FindInElementsTx(tx *transaction.Transaction, hash []byte) (lntypes.Preimage, int, bool) {
	if tx == nil {
		return lntypes.Preimage{}, -1, false
	}
	for i := range tx.Inputs {
		if p, ok := FromElementsTx(tx, i); ok && Matches(p, hash) {
			return p, i, true
		}
	}
	return lntypes.Preimage{}, -1, false
}
