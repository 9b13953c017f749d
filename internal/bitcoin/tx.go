// Package bitcoin assembles and signs transactions that spend swap outputs
// on Bitcoin.
package bitcoin

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/klingon-exchange/swapcore/internal/swap"
	"github.com/klingon-exchange/swapcore/internal/taptree"
	"github.com/klingon-exchange/swapcore/pkg/helpers"
	"github.com/klingon-exchange/swapcore/pkg/logging"
)

// InputDetail describes one swap output to spend.
type InputDetail struct {
	InputType  swap.InputType
	OutputType swap.OutputType
	OutPoint   wire.OutPoint
	TxOut      *wire.TxOut

	// Keys signs script-path and witness v0 spends.
	Keys *btcec.PrivateKey

	// Uncooperative is required for Taproot script-path spends.
	Uncooperative *swap.Uncooperative

	// Cooperative signs key-path spends. Without it the key-path witness
	// is a zero placeholder to be replaced with SetKeyPathSignature.
	Cooperative swap.KeyPathSigner
}

type options struct {
	logger   *logging.Logger
	lockTime uint32
}

// Option configures ConstructTx.
type Option func(*options)

// WithLogger sets the logger used for construction details.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLockTime sets a minimum nLockTime.
func WithLockTime(lockTime uint32) Option {
	return func(o *options) { o.lockTime = lockTime }
}

type plannedInput struct {
	*InputDetail
	spend *swap.Spend
}

type plannedOutput struct {
	amount   uint64
	pkScript []byte
}

// ConstructTx builds and signs a transaction spending inputs to dest at
// feeRate sat/vB. The fee is derived from a draft signed with dummy
// signatures, then every input is signed again over the final outputs.
// It returns the transaction and the fee paid.
func ConstructTx(params *chaincfg.Params, inputs []*InputDetail, dest swap.Destination,
	feeRate float64, opts ...Option) (*wire.MsgTx, uint64, error) {

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	log := logging.OrNop(o.logger)

	if len(inputs) == 0 {
		return nil, 0, swap.ErrNoInputs
	}
	if err := dest.Validate(); err != nil {
		return nil, 0, err
	}

	planned := make([]plannedInput, len(inputs))
	lockTime := o.lockTime
	var inputValue uint64
	for i, in := range inputs {
		if in.TxOut == nil {
			return nil, 0, fmt.Errorf("%w: input %d has no previous output", swap.ErrInvalidInput, i)
		}
		spend, err := swap.Plan(taptree.Bitcoin, in.InputType, in.OutputType, in.Uncooperative)
		if err != nil {
			return nil, 0, fmt.Errorf("input %d: %w", i, err)
		}
		if spend.Path != swap.PathKey && in.Keys == nil {
			return nil, 0, fmt.Errorf("input %d: %w", i, swap.ErrMissingKeys)
		}
		if spend.LockTime > lockTime {
			lockTime = spend.LockTime
		}
		planned[i] = plannedInput{InputDetail: in, spend: spend}
		inputValue += uint64(in.TxOut.Value)
	}

	fixed := make([]plannedOutput, len(dest.Outputs))
	for i, out := range dest.Outputs {
		pkScript, err := AddressScript(out.Address, params)
		if err != nil {
			return nil, 0, err
		}
		if err := swap.CheckDust(out.Amount, swap.BitcoinDust(pkScript)); err != nil {
			return nil, 0, err
		}
		fixed[i] = plannedOutput{amount: out.Amount, pkScript: pkScript}
	}
	remainderScript, err := AddressScript(dest.Address, params)
	if err != nil {
		return nil, 0, err
	}

	build := func(fee uint64) (*wire.MsgTx, error) {
		remainder, err := dest.Remainder(inputValue, fee)
		if err != nil {
			return nil, err
		}
		if err := swap.CheckDust(remainder, swap.BitcoinDust(remainderScript)); err != nil {
			return nil, err
		}

		tx := wire.NewMsgTx(2)
		tx.LockTime = lockTime
		for _, in := range planned {
			txIn := wire.NewTxIn(&in.OutPoint, nil, nil)
			txIn.Sequence = swap.Sequence
			tx.AddTxIn(txIn)
		}
		for _, out := range fixed {
			tx.AddTxOut(wire.NewTxOut(int64(out.amount), out.pkScript))
		}
		tx.AddTxOut(wire.NewTxOut(int64(remainder), remainderScript))
		return tx, nil
	}

	draft, err := build(0)
	if err != nil {
		return nil, 0, err
	}
	if err := signInputs(draft, planned, true); err != nil {
		return nil, 0, err
	}
	vsize := mempool.GetTxVirtualSize(btcutil.NewTx(draft))
	fee, err := swap.FeeFor(vsize, feeRate)
	if err != nil {
		return nil, 0, err
	}

	tx, err := build(fee)
	if err != nil {
		return nil, 0, err
	}
	if err := signInputs(tx, planned, false); err != nil {
		return nil, 0, err
	}

	log.Debug("constructed transaction",
		"txid", tx.TxHash().String(),
		"inputs", len(tx.TxIn),
		"outputs", len(tx.TxOut),
		"vsize", vsize,
		"fee", fee,
		"fee_btc", helpers.SatoshisToBTC(fee),
		"locktime", tx.LockTime,
	)
	return tx, fee, nil
}

func prevOutFetcher(tx *wire.MsgTx, prevOuts []*wire.TxOut) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, txIn := range tx.TxIn {
		fetcher.AddPrevOut(txIn.PreviousOutPoint, prevOuts[i])
	}
	return fetcher
}

func signInputs(tx *wire.MsgTx, inputs []plannedInput, dummy bool) error {
	prevOuts := make([]*wire.TxOut, len(inputs))
	for i, in := range inputs {
		prevOuts[i] = in.TxOut
	}
	fetcher := prevOutFetcher(tx, prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, in := range inputs {
		sig := in.spend.DummySignature()
		if !dummy {
			var err error
			sig, err = signInput(tx, i, in, sigHashes, fetcher)
			if err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
		}

		witness, sigScript, err := in.spend.Unlock(sig)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		tx.TxIn[i].Witness = witness
		tx.TxIn[i].SignatureScript = sigScript
	}
	return nil
}

func signInput(tx *wire.MsgTx, idx int, in plannedInput, sigHashes *txscript.TxSigHashes,
	fetcher txscript.PrevOutputFetcher) ([]byte, error) {

	spend := in.spend
	switch spend.Path {
	case swap.PathKey:
		if in.Cooperative == nil {
			return make([]byte, swap.SchnorrSigLen), nil
		}
		hash, err := txscript.CalcTaprootSignatureHash(sigHashes, txscript.SigHashDefault, tx, idx, fetcher)
		if err != nil {
			return nil, err
		}
		var msg [32]byte
		copy(msg[:], hash)
		return in.Cooperative.SignKeyPath(msg)

	case swap.PathTapClaim, swap.PathTapRefund:
		leaf := txscript.NewTapLeaf(txscript.TapscriptLeafVersion(spend.Leaf.Version), spend.Script)
		hash, err := txscript.CalcTapscriptSignaturehash(sigHashes, txscript.SigHashDefault, tx, idx, fetcher, leaf)
		if err != nil {
			return nil, err
		}
		sig, err := schnorr.Sign(in.Keys, hash)
		if err != nil {
			return nil, err
		}
		return sig.Serialize(), nil

	case swap.PathWitnessV0, swap.PathCompatibility:
		hash, err := txscript.CalcWitnessSigHash(spend.Script, sigHashes, txscript.SigHashAll, tx, idx, in.TxOut.Value)
		if err != nil {
			return nil, err
		}
		return append(ecdsa.Sign(in.Keys, hash).Serialize(), byte(txscript.SigHashAll)), nil

	case swap.PathLegacy:
		hash, err := txscript.CalcSignatureHash(spend.Script, txscript.SigHashAll, tx, idx)
		if err != nil {
			return nil, err
		}
		return append(ecdsa.Sign(in.Keys, hash).Serialize(), byte(txscript.SigHashAll)), nil

	default:
		return nil, fmt.Errorf("%w: cannot sign %s", swap.ErrInvalidInput, spend.Path)
	}
}

// KeyPathSigHash returns the BIP-341 key-path sighash of input idx.
// prevOuts holds the spent outputs in input order.
func KeyPathSigHash(tx *wire.MsgTx, prevOuts []*wire.TxOut, idx int) ([32]byte, error) {
	var msg [32]byte
	if len(prevOuts) != len(tx.TxIn) {
		return msg, fmt.Errorf("%w: %d previous outputs for %d inputs",
			swap.ErrInvalidInput, len(prevOuts), len(tx.TxIn))
	}
	if idx < 0 || idx >= len(tx.TxIn) {
		return msg, fmt.Errorf("%w: input index %d out of range", swap.ErrInvalidInput, idx)
	}
	fetcher := prevOutFetcher(tx, prevOuts)
	hash, err := txscript.CalcTaprootSignatureHash(
		txscript.NewTxSigHashes(tx, fetcher), txscript.SigHashDefault, tx, idx, fetcher)
	if err != nil {
		return msg, err
	}
	copy(msg[:], hash)
	return msg, nil
}

// SetKeyPathSignature replaces the key-path witness of input idx.
func SetKeyPathSignature(tx *wire.MsgTx, idx int, sig []byte) error {
	if idx < 0 || idx >= len(tx.TxIn) {
		return fmt.Errorf("%w: input index %d out of range", swap.ErrInvalidInput, idx)
	}
	if len(sig) != swap.SchnorrSigLen && len(sig) != swap.SchnorrSigLen+1 {
		return fmt.Errorf("%w: signature of %d bytes", swap.ErrInvalidInput, len(sig))
	}
	tx.TxIn[idx].Witness = wire.TxWitness{sig}
	return nil
}

// FindOutput returns the first output of tx paying to pkScript.
func FindOutput(tx *wire.MsgTx, pkScript []byte) (uint32, *wire.TxOut, bool) {
	for i, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, pkScript) {
			return uint32(i), out, true
		}
	}
	return 0, nil, false
}

// SerializeTx serializes a transaction to hex.
func SerializeTx(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// DeserializeTx deserializes a transaction from hex.
func DeserializeTx(hexStr string) (*wire.MsgTx, error) {
	data, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to deserialize: %w", err)
	}
	return tx, nil
}
