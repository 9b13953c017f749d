package bitcoin

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/klingon-exchange/swapcore/internal/script"
	"github.com/klingon-exchange/swapcore/internal/swap"
	"github.com/klingon-exchange/swapcore/internal/taptree"
)

var regtest = &chaincfg.RegressionNetParams

func newKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	return key
}

func testPreimage() lntypes.Preimage {
	var p lntypes.Preimage
	for i := range p {
		p[i] = byte(0x80 + i)
	}
	return p
}

func destAddress(t *testing.T, params *chaincfg.Params) string {
	t.Helper()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(newKey(t).PubKey().SerializeCompressed()), params)
	if err != nil {
		t.Fatalf("NewAddressWitnessPubKeyHash: %v", err)
	}
	return addr.EncodeAddress()
}

func outPoint(n byte) wire.OutPoint {
	var h chainhash.Hash
	h[0] = n
	return wire.OutPoint{Hash: h, Index: uint32(n)}
}

// verifyTx runs every input through the script engine.
func verifyTx(t *testing.T, tx *wire.MsgTx, inputs []*InputDetail) {
	t.Helper()
	prevOuts := make([]*wire.TxOut, len(inputs))
	for i, in := range inputs {
		prevOuts[i] = in.TxOut
	}
	fetcher := prevOutFetcher(tx, prevOuts)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, in := range inputs {
		vm, err := txscript.NewEngine(in.TxOut.PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, sigHashes, in.TxOut.Value, fetcher)
		if err != nil {
			t.Fatalf("NewEngine(%d): %v", i, err)
		}
		if err := vm.Execute(); err != nil {
			t.Fatalf("input %d does not verify: %v", i, err)
		}
	}
}

type taprootFixture struct {
	claim, refund, internal *btcec.PrivateKey
	tree                    *taptree.Tree
	pkScript                []byte
}

func newTaprootFixture(t *testing.T, preimage lntypes.Preimage, timeout uint32) *taprootFixture {
	t.Helper()
	f := &taprootFixture{claim: newKey(t), refund: newKey(t), internal: newKey(t)}
	tree, err := taptree.NewReverseSwapTree(taptree.Bitcoin, script.Hash160(preimage[:]),
		f.claim.PubKey(), f.refund.PubKey(), timeout)
	if err != nil {
		t.Fatalf("NewReverseSwapTree: %v", err)
	}
	f.tree = tree
	f.pkScript, err = tree.OutputScript(taptree.Bitcoin, f.internal.PubKey())
	if err != nil {
		t.Fatalf("OutputScript: %v", err)
	}
	return f
}

func (f *taprootFixture) uncooperative() *swap.Uncooperative {
	return &swap.Uncooperative{Tree: f.tree, InternalKey: f.internal.PubKey()}
}

// localSigner signs key-path spends with the tweaked internal key.
type localSigner struct {
	key  *btcec.PrivateKey
	root []byte
}

func (s *localSigner) SignKeyPath(sigHash [32]byte) ([]byte, error) {
	sig, err := schnorr.Sign(txscript.TweakTaprootPrivKey(*s.key, s.root), sigHash[:])
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

func TestConstructTaprootSpends(t *testing.T) {
	preimage := testPreimage()
	f := newTaprootFixture(t, preimage, 300)
	root := f.tree.MerkleRoot(taptree.Bitcoin)

	tests := []struct {
		name  string
		input *InputDetail
	}{
		{
			name: "script-path claim",
			input: &InputDetail{
				InputType:     swap.Claim(preimage),
				OutputType:    swap.Taproot(),
				Keys:          f.claim,
				Uncooperative: f.uncooperative(),
			},
		},
		{
			name: "script-path refund",
			input: &InputDetail{
				InputType:     swap.Refund(300),
				OutputType:    swap.Taproot(),
				Keys:          f.refund,
				Uncooperative: f.uncooperative(),
			},
		},
		{
			name: "cooperative key-path",
			input: &InputDetail{
				InputType:   swap.Cooperative(),
				OutputType:  swap.Taproot(),
				Cooperative: &localSigner{key: f.internal, root: root[:]},
			},
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.input.OutPoint = outPoint(byte(i + 1))
			tt.input.TxOut = wire.NewTxOut(100_000, f.pkScript)

			inputs := []*InputDetail{tt.input}
			tx, fee, err := ConstructTx(regtest, inputs, swap.Single(destAddress(t, regtest)), 2)
			if err != nil {
				t.Fatalf("ConstructTx: %v", err)
			}
			if got := uint64(tx.TxOut[0].Value) + fee; got != 100_000 {
				t.Errorf("output + fee = %d, want 100000", got)
			}
			if tx.TxIn[0].Sequence != swap.Sequence {
				t.Errorf("sequence = %x", tx.TxIn[0].Sequence)
			}
			verifyTx(t, tx, inputs)
		})
	}
}

func TestConstructRefundLockTime(t *testing.T) {
	f := newTaprootFixture(t, testPreimage(), 300)
	inputs := []*InputDetail{{
		InputType:     swap.Refund(350),
		OutputType:    swap.Taproot(),
		OutPoint:      outPoint(1),
		TxOut:         wire.NewTxOut(50_000, f.pkScript),
		Keys:          f.refund,
		Uncooperative: f.uncooperative(),
	}}

	tx, _, err := ConstructTx(regtest, inputs, swap.Single(destAddress(t, regtest)), 1, WithLockTime(320))
	if err != nil {
		t.Fatalf("ConstructTx: %v", err)
	}
	if tx.LockTime != 350 {
		t.Errorf("locktime = %d, want 350", tx.LockTime)
	}
	verifyTx(t, tx, inputs)

	tx, _, err = ConstructTx(regtest, inputs, swap.Single(destAddress(t, regtest)), 1, WithLockTime(400))
	if err != nil {
		t.Fatalf("ConstructTx: %v", err)
	}
	if tx.LockTime != 400 {
		t.Errorf("locktime = %d, want 400", tx.LockTime)
	}

	root := f.tree.MerkleRoot(taptree.Bitcoin)
	keyPath := []*InputDetail{{
		InputType:   swap.Refund(350),
		OutputType:  swap.Taproot(),
		OutPoint:    outPoint(1),
		TxOut:       wire.NewTxOut(50_000, f.pkScript),
		Cooperative: &localSigner{key: f.internal, root: root[:]},
	}}
	tx, _, err = ConstructTx(regtest, keyPath, swap.Single(destAddress(t, regtest)), 1)
	if err != nil {
		t.Fatalf("ConstructTx: %v", err)
	}
	if w := tx.TxIn[0].Witness; len(w) != 1 {
		t.Fatalf("key-path witness items = %d, want 1", len(w))
	}
	if tx.LockTime != 350 {
		t.Errorf("key-path refund locktime = %d, want 350", tx.LockTime)
	}
	if tx.TxIn[0].Sequence != swap.Sequence {
		t.Errorf("sequence = %x", tx.TxIn[0].Sequence)
	}
	verifyTx(t, tx, keyPath)
}

func TestConstructWitnessV0Spends(t *testing.T) {
	preimage := testPreimage()
	claim, refund := newKey(t), newKey(t)
	htlc, err := script.ReverseSwapScript(script.Hash160(preimage[:]),
		claim.PubKey().SerializeCompressed(), refund.PubKey().SerializeCompressed(), 200)
	if err != nil {
		t.Fatalf("ReverseSwapScript: %v", err)
	}

	p2wsh := append([]byte{txscript.OP_0, txscript.OP_DATA_32}, script.Sha256(htlc)...)
	nested := swap.NestedWitnessProgram(htlc)
	p2shNested, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).AddData(btcutil.Hash160(nested)).AddOp(txscript.OP_EQUAL).Script()
	if err != nil {
		t.Fatalf("p2sh script: %v", err)
	}
	p2sh, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).AddData(btcutil.Hash160(htlc)).AddOp(txscript.OP_EQUAL).Script()
	if err != nil {
		t.Fatalf("p2sh script: %v", err)
	}

	tests := []struct {
		name     string
		in       swap.InputType
		out      swap.OutputType
		pkScript []byte
		key      *btcec.PrivateKey
	}{
		{"segwit claim", swap.Claim(preimage), swap.SegwitV0(htlc), p2wsh, claim},
		{"segwit refund", swap.Refund(200), swap.SegwitV0(htlc), p2wsh, refund},
		{"compatibility claim", swap.Claim(preimage), swap.Compatibility(htlc), p2shNested, claim},
		{"compatibility refund", swap.Refund(250), swap.Compatibility(htlc), p2shNested, refund},
		{"legacy claim", swap.Claim(preimage), swap.Legacy(htlc), p2sh, claim},
		{"legacy refund", swap.Refund(200), swap.Legacy(htlc), p2sh, refund},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inputs := []*InputDetail{{
				InputType:  tt.in,
				OutputType: tt.out,
				OutPoint:   outPoint(byte(i + 1)),
				TxOut:      wire.NewTxOut(75_000, tt.pkScript),
				Keys:       tt.key,
			}}
			tx, _, err := ConstructTx(regtest, inputs, swap.Single(destAddress(t, regtest)), 3)
			if err != nil {
				t.Fatalf("ConstructTx: %v", err)
			}
			verifyTx(t, tx, inputs)
		})
	}
}

func TestConstructMultipleInputsAndOutputs(t *testing.T) {
	preimage := testPreimage()
	a := newTaprootFixture(t, preimage, 300)
	b := newTaprootFixture(t, preimage, 300)

	inputs := []*InputDetail{
		{
			InputType:     swap.Claim(preimage),
			OutputType:    swap.Taproot(),
			OutPoint:      outPoint(1),
			TxOut:         wire.NewTxOut(40_000, a.pkScript),
			Keys:          a.claim,
			Uncooperative: a.uncooperative(),
		},
		{
			InputType:     swap.Refund(310),
			OutputType:    swap.Taproot(),
			OutPoint:      outPoint(2),
			TxOut:         wire.NewTxOut(60_000, b.pkScript),
			Keys:          b.refund,
			Uncooperative: b.uncooperative(),
		},
	}

	dest := swap.Multiple([]swap.Output{
		{Address: destAddress(t, regtest), Amount: 30_000},
		{Address: destAddress(t, regtest), Amount: 20_000},
	}, destAddress(t, regtest))

	tx, fee, err := ConstructTx(regtest, inputs, dest, 1.5)
	if err != nil {
		t.Fatalf("ConstructTx: %v", err)
	}
	if len(tx.TxOut) != 3 {
		t.Fatalf("outputs = %d, want 3", len(tx.TxOut))
	}
	if got := uint64(tx.TxOut[2].Value); got != 100_000-50_000-fee {
		t.Errorf("change = %d", got)
	}
	if tx.LockTime != 310 {
		t.Errorf("locktime = %d, want 310", tx.LockTime)
	}
	verifyTx(t, tx, inputs)
}

func TestConstructKeyPathPlaceholder(t *testing.T) {
	f := newTaprootFixture(t, testPreimage(), 300)
	inputs := []*InputDetail{{
		InputType:  swap.Cooperative(),
		OutputType: swap.Taproot(),
		OutPoint:   outPoint(1),
		TxOut:      wire.NewTxOut(20_000, f.pkScript),
	}}

	tx, _, err := ConstructTx(regtest, inputs, swap.Single(destAddress(t, regtest)), 1)
	if err != nil {
		t.Fatalf("ConstructTx: %v", err)
	}
	if w := tx.TxIn[0].Witness; len(w) != 1 || !bytes.Equal(w[0], make([]byte, 64)) {
		t.Fatalf("placeholder witness = %x", w)
	}

	sigHash, err := KeyPathSigHash(tx, []*wire.TxOut{inputs[0].TxOut}, 0)
	if err != nil {
		t.Fatalf("KeyPathSigHash: %v", err)
	}
	root := f.tree.MerkleRoot(taptree.Bitcoin)
	sig, err := (&localSigner{key: f.internal, root: root[:]}).SignKeyPath(sigHash)
	if err != nil {
		t.Fatalf("SignKeyPath: %v", err)
	}
	if err := SetKeyPathSignature(tx, 0, sig); err != nil {
		t.Fatalf("SetKeyPathSignature: %v", err)
	}
	verifyTx(t, tx, inputs)
}

func TestConstructErrors(t *testing.T) {
	preimage := testPreimage()
	f := newTaprootFixture(t, preimage, 300)
	claim := func(value int64) *InputDetail {
		return &InputDetail{
			InputType:     swap.Claim(preimage),
			OutputType:    swap.Taproot(),
			OutPoint:      outPoint(1),
			TxOut:         wire.NewTxOut(value, f.pkScript),
			Keys:          f.claim,
			Uncooperative: f.uncooperative(),
		}
	}

	tests := []struct {
		name   string
		inputs []*InputDetail
		dest   swap.Destination
		rate   float64
		want   error
	}{
		{
			name:   "no inputs",
			inputs: nil,
			dest:   swap.Single(destAddress(t, regtest)),
			want:   swap.ErrNoInputs,
		},
		{
			name: "cooperative on segwit",
			inputs: []*InputDetail{{
				InputType:  swap.Cooperative(),
				OutputType: swap.SegwitV0([]byte{txscript.OP_TRUE}),
				TxOut:      wire.NewTxOut(1000, nil),
			}},
			dest: swap.Single(destAddress(t, regtest)),
			want: swap.ErrCooperativeNonTaproot,
		},
		{
			name:   "below dust",
			inputs: []*InputDetail{claim(400)},
			dest:   swap.Single(destAddress(t, regtest)),
			want:   swap.ErrInsufficientFunds,
		},
		{
			name:   "fixed outputs exceed inputs",
			inputs: []*InputDetail{claim(10_000)},
			dest:   swap.Multiple([]swap.Output{{Address: destAddress(t, regtest), Amount: 9_900}}, destAddress(t, regtest)),
			want:   swap.ErrInsufficientFunds,
		},
		{
			name:   "wrong network",
			inputs: []*InputDetail{claim(10_000)},
			dest:   swap.Single(destAddress(t, &chaincfg.MainNetParams)),
			want:   swap.ErrNetworkMismatch,
		},
		{
			name: "missing keys",
			inputs: []*InputDetail{{
				InputType:     swap.Claim(preimage),
				OutputType:    swap.Taproot(),
				TxOut:         wire.NewTxOut(10_000, f.pkScript),
				Uncooperative: f.uncooperative(),
			}},
			dest: swap.Single(destAddress(t, regtest)),
			want: swap.ErrMissingKeys,
		},
		{
			name:   "infinite fee rate",
			inputs: []*InputDetail{claim(10_000)},
			dest:   swap.Single(destAddress(t, regtest)),
			rate:   math.Inf(1),
			want:   swap.ErrInsufficientFunds,
		},
		{
			name:   "fee rate overflow",
			inputs: []*InputDetail{claim(10_000)},
			dest:   swap.Single(destAddress(t, regtest)),
			rate:   1e17,
			want:   swap.ErrInsufficientFunds,
		},
		{
			name:   "nan fee rate",
			inputs: []*InputDetail{claim(10_000)},
			dest:   swap.Single(destAddress(t, regtest)),
			rate:   math.NaN(),
			want:   swap.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate := tt.rate
			if rate == 0 {
				rate = 2
			}
			_, _, err := ConstructTx(regtest, tt.inputs, tt.dest, rate)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCooperativeErrorMessage(t *testing.T) {
	inputs := []*InputDetail{{
		InputType:  swap.Cooperative(),
		OutputType: swap.Legacy([]byte{txscript.OP_TRUE}),
		TxOut:      wire.NewTxOut(1000, nil),
	}}
	_, _, err := ConstructTx(regtest, inputs, swap.Single(destAddress(t, regtest)), 1)
	if err == nil || !strings.Contains(err.Error(), "cooperative input has to be spent via key-path") {
		t.Fatalf("err = %v", err)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	f := newTaprootFixture(t, testPreimage(), 300)
	inputs := []*InputDetail{{
		InputType:     swap.Refund(300),
		OutputType:    swap.Taproot(),
		OutPoint:      outPoint(7),
		TxOut:         wire.NewTxOut(30_000, f.pkScript),
		Keys:          f.refund,
		Uncooperative: f.uncooperative(),
	}}
	tx, _, err := ConstructTx(regtest, inputs, swap.Single(destAddress(t, regtest)), 1)
	if err != nil {
		t.Fatalf("ConstructTx: %v", err)
	}

	raw, err := SerializeTx(tx)
	if err != nil {
		t.Fatalf("SerializeTx: %v", err)
	}
	decoded, err := DeserializeTx(raw)
	if err != nil {
		t.Fatalf("DeserializeTx: %v", err)
	}
	if decoded.TxHash() != tx.TxHash() || decoded.WitnessHash() != tx.WitnessHash() {
		t.Fatalf("round trip changed the transaction")
	}

	idx, out, ok := FindOutput(decoded, tx.TxOut[0].PkScript)
	if !ok || idx != 0 || out.Value != tx.TxOut[0].Value {
		t.Fatalf("FindOutput = %d, %v, %v", idx, out, ok)
	}
}
