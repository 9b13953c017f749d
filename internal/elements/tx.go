// Package elements assembles and signs transactions that spend swap outputs
// on Elements chains such as Liquid. Confidential inputs are unblinded with
// the swap blinding key and confidential destinations are blinded through
// a PSET before signing.
package elements

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/vulpemventures/go-elements/confidential"
	"github.com/vulpemventures/go-elements/elementsutil"
	"github.com/vulpemventures/go-elements/network"
	"github.com/vulpemventures/go-elements/psetv2"
	"github.com/vulpemventures/go-elements/transaction"

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
	TxOut      *transaction.TxOutput

	// BlindingKey unblinds a confidential TxOut.
	BlindingKey *btcec.PrivateKey

	Keys          *btcec.PrivateKey
	Uncooperative *swap.Uncooperative
	Cooperative   swap.KeyPathSigner
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
	owned psetv2.OwnedInput
}

type plannedOutput struct {
	amount      uint64
	script      []byte
	blindingKey *btcec.PublicKey
}

// ConstructTx builds and signs a transaction spending inputs to dest at
// feeRate sat/vB. Elements transactions carry the fee as an explicit output
// with an empty script, appended last. genesis is the chain genesis hash
// the Taproot sighash commits to.
func ConstructTx(net *network.Network, genesis *chainhash.Hash, inputs []*InputDetail,
	dest swap.Destination, feeRate float64, opts ...Option) (*transaction.Transaction, uint64, error) {

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	log := logging.OrNop(o.logger)

	if len(inputs) == 0 {
		return nil, 0, swap.ErrNoInputs
	}
	if genesis == nil {
		return nil, 0, fmt.Errorf("%w: genesis hash is required", swap.ErrInvalidInput)
	}
	if err := dest.Validate(); err != nil {
		return nil, 0, err
	}

	nativeAsset, err := assetBytes(net.AssetID)
	if err != nil {
		return nil, 0, err
	}

	planned := make([]plannedInput, len(inputs))
	lockTime := o.lockTime
	var inputValue uint64
	var confidentialInput bool
	for i, in := range inputs {
		if in.TxOut == nil {
			return nil, 0, fmt.Errorf("%w: input %d has no previous output", swap.ErrInvalidInput, i)
		}
		spend, err := swap.Plan(taptree.Elements, in.InputType, in.OutputType, in.Uncooperative)
		if err != nil {
			return nil, 0, fmt.Errorf("input %d: %w", i, err)
		}
		if spend.NeedsSignature() && spend.Path != swap.PathKey && in.Keys == nil {
			return nil, 0, fmt.Errorf("input %d: %w", i, swap.ErrMissingKeys)
		}
		if spend.LockTime > lockTime {
			lockTime = spend.LockTime
		}

		owned, err := unblindInput(uint32(i), in)
		if err != nil {
			return nil, 0, fmt.Errorf("input %d: %w", i, err)
		}
		if !bytes.Equal(owned.Asset, nativeAsset) {
			return nil, 0, fmt.Errorf("%w: input %d is not the native asset", swap.ErrInvalidInput, i)
		}
		confidentialInput = confidentialInput || isConfidential(in.TxOut)

		planned[i] = plannedInput{InputDetail: in, spend: spend, owned: *owned}
		inputValue += owned.Value
	}

	fixed := make([]plannedOutput, len(dest.Outputs))
	var blind bool
	for i, out := range dest.Outputs {
		decoded, err := DecodeAddress(out.Address, net)
		if err != nil {
			return nil, 0, err
		}
		key := out.BlindingKey
		if key == nil {
			key = decoded.BlindingKey
		}
		if err := swap.CheckDust(out.Amount, swap.DustElements); err != nil {
			return nil, 0, err
		}
		fixed[i] = plannedOutput{amount: out.Amount, script: decoded.Script, blindingKey: key}
		blind = blind || key != nil
	}
	remainderDest, err := DecodeAddress(dest.Address, net)
	if err != nil {
		return nil, 0, err
	}
	remainderKey := dest.ChangeBlindingKey
	if remainderKey == nil {
		remainderKey = remainderDest.BlindingKey
	}
	blind = blind || remainderKey != nil

	if confidentialInput && !blind {
		return nil, 0, fmt.Errorf("%w: confidential inputs need at least one blinded output",
			swap.ErrBlindingFailure)
	}

	build := func(fee uint64) (*transaction.Transaction, error) {
		if err := swap.CheckDust(fee, swap.DustElements); err != nil {
			return nil, err
		}
		remainder, err := dest.Remainder(inputValue, fee)
		if err != nil {
			return nil, err
		}
		if err := swap.CheckDust(remainder, swap.DustElements); err != nil {
			return nil, err
		}

		outputs := make([]plannedOutput, 0, len(fixed)+2)
		outputs = append(outputs, fixed...)
		outputs = append(outputs, plannedOutput{
			amount:      remainder,
			script:      remainderDest.Script,
			blindingKey: remainderKey,
		})

		var tx *transaction.Transaction
		if blind {
			tx, err = buildBlinded(net, planned, outputs, fee)
		} else {
			tx, err = buildExplicit(nativeAsset, planned, outputs, fee)
		}
		if err != nil {
			return nil, err
		}

		tx.Locktime = lockTime
		for _, in := range tx.Inputs {
			in.Sequence = swap.Sequence
		}
		return tx, nil
	}

	draft, err := build(swap.DustElements)
	if err != nil {
		return nil, 0, err
	}
	if err := signInputs(draft, planned, genesis, true); err != nil {
		return nil, 0, err
	}
	vsize := int64(draft.VirtualSize())
	fee, err := swap.FeeFor(vsize, feeRate)
	if err != nil {
		return nil, 0, err
	}
	if fee < swap.DustElements {
		fee = swap.DustElements
	}

	tx, err := build(fee)
	if err != nil {
		return nil, 0, err
	}
	if err := signInputs(tx, planned, genesis, false); err != nil {
		return nil, 0, err
	}

	log.Debug("constructed transaction",
		"txid", tx.TxHash().String(),
		"inputs", len(tx.Inputs),
		"outputs", len(tx.Outputs),
		"blinded", blind,
		"vsize", vsize,
		"fee", fee,
		"fee_btc", helpers.SatoshisToBTC(fee),
		"locktime", tx.Locktime,
	)
	return tx, fee, nil
}

// assetBytes converts a displayed asset id to its 32-byte internal order.
func assetBytes(assetID string) ([]byte, error) {
	h, err := chainhash.NewHashFromStr(assetID)
	if err != nil {
		return nil, fmt.Errorf("invalid asset id %q: %w", assetID, err)
	}
	return h[:], nil
}

// isConfidential reports whether the value of out is a Pedersen commitment.
func isConfidential(out *transaction.TxOutput) bool {
	return len(out.Value) == 33
}

// unblindInput reveals value, asset and blinders of a previous output.
// Explicit outputs get zero blinders.
func unblindInput(index uint32, in *InputDetail) (*psetv2.OwnedInput, error) {
	if !isConfidential(in.TxOut) {
		value, err := elementsutil.ValueFromBytes(in.TxOut.Value)
		if err != nil {
			return nil, err
		}
		return &psetv2.OwnedInput{
			Index:        index,
			Value:        value,
			Asset:        in.TxOut.Asset[1:],
			ValueBlinder: make([]byte, 32),
			AssetBlinder: make([]byte, 32),
		}, nil
	}

	if in.BlindingKey == nil {
		return nil, fmt.Errorf("%w: confidential input without blinding key", swap.ErrBlindingFailure)
	}
	res, err := confidential.UnblindOutputWithKey(in.TxOut, in.BlindingKey.Serialize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", swap.ErrBlindingFailure, err)
	}
	return &psetv2.OwnedInput{
		Index:        index,
		Value:        res.Value,
		Asset:        res.Asset,
		ValueBlinder: res.ValueBlindingFactor,
		AssetBlinder: res.AssetBlindingFactor,
	}, nil
}

func buildExplicit(asset []byte, inputs []plannedInput, outputs []plannedOutput,
	fee uint64) (*transaction.Transaction, error) {

	tx := transaction.NewTx(2)
	for _, in := range inputs {
		tx.AddInput(transaction.NewTxInput(in.OutPoint.Hash[:], in.OutPoint.Index))
	}

	explicitAsset := append([]byte{0x01}, asset...)
	for _, out := range append(outputs, plannedOutput{amount: fee}) {
		value, err := elementsutil.ValueToBytes(out.amount)
		if err != nil {
			return nil, err
		}
		tx.AddOutput(transaction.NewTxOutput(explicitAsset, value, out.script))
	}
	return tx, nil
}

func buildBlinded(net *network.Network, inputs []plannedInput, outputs []plannedOutput,
	fee uint64) (*transaction.Transaction, error) {

	args := make([]psetv2.OutputArgs, 0, len(outputs)+1)
	for _, out := range outputs {
		arg := psetv2.OutputArgs{
			Asset:  net.AssetID,
			Amount: out.amount,
			Script: out.script,
		}
		if out.blindingKey != nil {
			arg.BlindingKey = out.blindingKey.SerializeCompressed()
			arg.BlinderIndex = 0
		}
		args = append(args, arg)
	}
	args = append(args, psetv2.OutputArgs{Asset: net.AssetID, Amount: fee})

	ptx, err := psetv2.New(nil, args, nil)
	if err != nil {
		return nil, err
	}
	updater, err := psetv2.NewUpdater(ptx)
	if err != nil {
		return nil, err
	}

	owned := make([]psetv2.OwnedInput, 0, len(inputs))
	for i, in := range inputs {
		if err := updater.AddInputs([]psetv2.InputArgs{{
			Txid:    in.OutPoint.Hash.String(),
			TxIndex: in.OutPoint.Index,
		}}); err != nil {
			return nil, err
		}
		if err := updater.AddInWitnessUtxo(i, in.TxOut); err != nil {
			return nil, err
		}
		owned = append(owned, in.owned)
	}

	generator := confidential.NewZKPGeneratorFromBlindingKeys(nil, nil)
	blindingArgs, err := generator.BlindOutputs(ptx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", swap.ErrBlindingFailure, err)
	}
	blinder, err := psetv2.NewBlinder(ptx, owned, confidential.NewZKPValidator(), generator)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", swap.ErrBlindingFailure, err)
	}
	if err := blinder.BlindLast(nil, blindingArgs); err != nil {
		return nil, fmt.Errorf("%w: %v", swap.ErrBlindingFailure, err)
	}
	return ptx.UnsignedTx()
}

type prevOuts struct {
	scripts [][]byte
	assets  [][]byte
	values  [][]byte
}

func collectPrevOuts(outs []*transaction.TxOutput) prevOuts {
	p := prevOuts{
		scripts: make([][]byte, len(outs)),
		assets:  make([][]byte, len(outs)),
		values:  make([][]byte, len(outs)),
	}
	for i, out := range outs {
		p.scripts[i] = out.Script
		p.assets[i] = out.Asset
		p.values[i] = out.Value
	}
	return p
}

func signInputs(tx *transaction.Transaction, inputs []plannedInput, genesis *chainhash.Hash, dummy bool) error {
	outs := make([]*transaction.TxOutput, len(inputs))
	for i, in := range inputs {
		outs[i] = in.TxOut
	}
	prev := collectPrevOuts(outs)

	for i, in := range inputs {
		var sig []byte
		if in.spend.NeedsSignature() {
			sig = in.spend.DummySignature()
			if !dummy {
				var err error
				sig, err = signInput(tx, i, in, prev, genesis)
				if err != nil {
					return fmt.Errorf("input %d: %w", i, err)
				}
			}
		}

		witness, sigScript, err := in.spend.Unlock(sig)
		if err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		tx.Inputs[i].Witness = transaction.TxWitness(witness)
		tx.Inputs[i].Script = sigScript
	}
	return nil
}

func signInput(tx *transaction.Transaction, idx int, in plannedInput, prev prevOuts,
	genesis *chainhash.Hash) ([]byte, error) {

	spend := in.spend
	switch spend.Path {
	case swap.PathKey:
		if in.Cooperative == nil {
			return make([]byte, swap.SchnorrSigLen), nil
		}
		hash := tx.HashForWitnessV1(idx, prev.scripts, prev.assets, prev.values,
			txscript.SigHashDefault, genesis, nil, nil)
		return in.Cooperative.SignKeyPath(hash)

	case swap.PathTapClaim, swap.PathTapRefund:
		leafHash := taptree.Elements.LeafHash(spend.Leaf)
		hash := tx.HashForWitnessV1(idx, prev.scripts, prev.assets, prev.values,
			txscript.SigHashDefault, genesis, &leafHash, nil)
		sig, err := schnorr.Sign(in.Keys, hash[:])
		if err != nil {
			return nil, err
		}
		return sig.Serialize(), nil

	case swap.PathWitnessV0, swap.PathCompatibility:
		hash := tx.HashForWitnessV0(idx, spend.Script, in.TxOut.Value, txscript.SigHashAll)
		return append(ecdsa.Sign(in.Keys, hash[:]).Serialize(), byte(txscript.SigHashAll)), nil

	case swap.PathLegacy:
		hash, err := tx.HashForSignature(idx, spend.Script, txscript.SigHashAll)
		if err != nil {
			return nil, err
		}
		return append(ecdsa.Sign(in.Keys, hash[:]).Serialize(), byte(txscript.SigHashAll)), nil

	default:
		return nil, fmt.Errorf("%w: cannot sign %s", swap.ErrInvalidInput, spend.Path)
	}
}

// KeyPathSigHash returns the Elements key-path sighash of input idx.
// prevOuts holds the spent outputs in input order.
func KeyPathSigHash(tx *transaction.Transaction, prevOuts []*transaction.TxOutput, idx int,
	genesis *chainhash.Hash) ([32]byte, error) {

	if len(prevOuts) != len(tx.Inputs) {
		return [32]byte{}, fmt.Errorf("%w: %d previous outputs for %d inputs",
			swap.ErrInvalidInput, len(prevOuts), len(tx.Inputs))
	}
	if idx < 0 || idx >= len(tx.Inputs) {
		return [32]byte{}, fmt.Errorf("%w: input index %d out of range", swap.ErrInvalidInput, idx)
	}
	prev := collectPrevOuts(prevOuts)
	return tx.HashForWitnessV1(idx, prev.scripts, prev.assets, prev.values,
		txscript.SigHashDefault, genesis, nil, nil), nil
}

// SetKeyPathSignature replaces the key-path witness of input idx.
func SetKeyPathSignature(tx *transaction.Transaction, idx int, sig []byte) error {
	if idx < 0 || idx >= len(tx.Inputs) {
		return fmt.Errorf("%w: input index %d out of range", swap.ErrInvalidInput, idx)
	}
	if len(sig) != swap.SchnorrSigLen && len(sig) != swap.SchnorrSigLen+1 {
		return fmt.Errorf("%w: signature of %d bytes", swap.ErrInvalidInput, len(sig))
	}
	tx.Inputs[idx].Witness = transaction.TxWitness{sig}
	return nil
}

// FindOutput returns the first output of tx paying to script.
func FindOutput(tx *transaction.Transaction, script []byte) (uint32, *transaction.TxOutput, bool) {
	for i, out := range tx.Outputs {
		if bytes.Equal(out.Script, script) {
			return uint32(i), out, true
		}
	}
	return 0, nil, false
}

// FeeOutput returns the value of the explicit fee output, if any.
func FeeOutput(tx *transaction.Transaction) (uint64, bool) {
	for _, out := range tx.Outputs {
		if len(out.Script) == 0 && !isConfidential(out) {
			value, err := elementsutil.ValueFromBytes(out.Value)
			if err != nil {
				return 0, false
			}
			return value, true
		}
	}
	return 0, false
}

// SerializeTx serializes a transaction to hex.
func SerializeTx(tx *transaction.Transaction) (string, error) {
	raw, err := tx.ToHex()
	if err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return raw, nil
}

// DeserializeTx deserializes a transaction from hex.
func DeserializeTx(hexStr string) (*transaction.Transaction, error) {
	tx, err := transaction.NewTxFromHex(hexStr)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize: %w", err)
	}
	return tx, nil
}
