package musig

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lntypes"

	"github.com/klingon-exchange/swapcore/internal/bitcoin"
	"github.com/klingon-exchange/swapcore/internal/script"
	"github.com/klingon-exchange/swapcore/internal/swap"
	"github.com/klingon-exchange/swapcore/internal/taptree"
)

func newKey(t *testing.T) *btcec.PrivateKey {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	return key
}

type swapFixture struct {
	server, user *btcec.PrivateKey
	tree         *taptree.Tree
	internal     *btcec.PublicKey
}

func newSwapFixture(t *testing.T, h taptree.Hasher) *swapFixture {
	t.Helper()
	f := &swapFixture{server: newKey(t), user: newKey(t)}

	var preimage lntypes.Preimage
	preimage[0] = 1
	tree, err := taptree.NewReverseSwapTree(h, script.Hash160(preimage[:]),
		f.user.PubKey(), f.server.PubKey(), 144)
	if err != nil {
		t.Fatalf("NewReverseSwapTree: %v", err)
	}
	f.tree = tree

	f.internal, err = InternalKey(f.server.PubKey(), f.user.PubKey())
	if err != nil {
		t.Fatalf("InternalKey: %v", err)
	}
	return f
}

// serverCosigner plays the server side of the session.
func (f *swapFixture) serverCosigner(t *testing.T, h taptree.Hasher) Cosigner {
	return CosignerFunc(func(ctx context.Context, id string, sigHash [32]byte,
		nonce [musig2.PubNonceSize]byte) ([musig2.PubNonceSize]byte, []byte, error) {

		keys := []*btcec.PublicKey{f.server.PubKey(), f.user.PubKey()}
		s, err := NewSessionForKeys(h, f.server, keys, f.tree.MerkleRoot(h))
		if err != nil {
			return [musig2.PubNonceSize]byte{}, nil, err
		}
		partial, err := s.Sign(sigHash, nonce)
		if err != nil {
			return [musig2.PubNonceSize]byte{}, nil, err
		}
		return s.PublicNonce(), partial, nil
	})
}

func TestInternalKeyOrder(t *testing.T) {
	a, b := newKey(t).PubKey(), newKey(t).PubKey()

	ab, err := AggregateKey(a, b)
	if err != nil {
		t.Fatalf("AggregateKey: %v", err)
	}
	ba, err := AggregateKey(b, a)
	if err != nil {
		t.Fatalf("AggregateKey: %v", err)
	}
	if ab.IsEqual(ba) {
		t.Error("aggregation must depend on key order")
	}

	internal, err := InternalKey(a, b)
	if err != nil {
		t.Fatalf("InternalKey: %v", err)
	}
	if !internal.IsEqual(ab) {
		t.Error("InternalKey must aggregate [server, user]")
	}
}

func TestCooperativeSignature(t *testing.T) {
	for _, h := range []taptree.Hasher{taptree.Bitcoin, taptree.Elements} {
		t.Run(h.String(), func(t *testing.T) {
			f := newSwapFixture(t, h)
			msg := sha256.Sum256([]byte("cooperative spend"))

			signer := NewCooperativeSigner(context.Background(), h, f.user, f.server.PubKey(),
				f.tree, f.serverCosigner(t, h), nil)
			sigBytes, err := signer.SignKeyPath(msg)
			if err != nil {
				t.Fatalf("SignKeyPath: %v", err)
			}
			if len(sigBytes) != schnorr.SignatureSize {
				t.Fatalf("signature length = %d", len(sigBytes))
			}

			sig, err := schnorr.ParseSignature(sigBytes)
			if err != nil {
				t.Fatalf("ParseSignature: %v", err)
			}
			outputKey := f.tree.OutputKey(h, f.internal)
			if !sig.Verify(msg[:], outputKey) {
				t.Error("signature does not verify against the tree output key")
			}
		})
	}
}

func TestSessionKeys(t *testing.T) {
	f := newSwapFixture(t, taptree.Elements)
	s, err := NewSession(taptree.Elements, f.user, f.server.PubKey(), f.tree.MerkleRoot(taptree.Elements))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if !s.InternalKey().IsEqual(f.internal) {
		t.Error("session internal key differs from InternalKey")
	}
	want := schnorr.SerializePubKey(f.tree.OutputKey(taptree.Elements, f.internal))
	if got := schnorr.SerializePubKey(s.OutputKey()); !bytes.Equal(got, want) {
		t.Errorf("output key = %x, want %x", got, want)
	}

	other, err := NewSession(taptree.Elements, f.user, f.server.PubKey(), f.tree.MerkleRoot(taptree.Elements))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.ID() == other.ID() {
		t.Error("sessions must have distinct ids")
	}
	if s.PublicNonce() == other.PublicNonce() {
		t.Error("sessions must have distinct nonces")
	}
}

func TestSessionMisuse(t *testing.T) {
	f := newSwapFixture(t, taptree.Bitcoin)
	root := f.tree.MerkleRoot(taptree.Bitcoin)
	msg := sha256.Sum256([]byte("msg"))

	if _, err := NewSessionForKeys(taptree.Bitcoin, newKey(t),
		[]*btcec.PublicKey{f.server.PubKey(), f.user.PubKey()}, root); !errors.Is(err, ErrKeyNotInAggregation) {
		t.Errorf("foreign key: err = %v", err)
	}

	user, err := NewSession(taptree.Bitcoin, f.user, f.server.PubKey(), root)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	server, err := NewSessionForKeys(taptree.Bitcoin, f.server,
		[]*btcec.PublicKey{f.server.PubKey(), f.user.PubKey()}, root)
	if err != nil {
		t.Fatalf("NewSessionForKeys: %v", err)
	}

	if _, err := user.Combine(make([]byte, 32)); !errors.Is(err, ErrSessionNotReady) {
		t.Errorf("combine before sign: err = %v", err)
	}

	if _, err := user.Sign(msg, server.PublicNonce()); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := user.Sign(msg, server.PublicNonce()); !errors.Is(err, ErrSessionUsed) {
		t.Errorf("second sign: err = %v", err)
	}

	// A partial signature over another message does not combine.
	other := sha256.Sum256([]byte("other"))
	bad, err := server.Sign(other, user.PublicNonce())
	if err != nil {
		t.Fatalf("server Sign: %v", err)
	}
	if _, err := user.Combine(bad); !errors.Is(err, ErrInvalidPartialSig) {
		t.Errorf("combine wrong partial: err = %v", err)
	}
}

func TestParsePartialSignature(t *testing.T) {
	overflow := bytes.Repeat([]byte{0xff}, 32)
	valid := bytes.Repeat([]byte{0x01}, 32)

	tests := []struct {
		name    string
		in      []byte
		wantErr bool
	}{
		{"valid", valid, false},
		{"zero", make([]byte, 32), false},
		{"short", valid[:31], true},
		{"long", append(valid, 0), true},
		{"overflow", overflow, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := ParsePartialSignature(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidPartialSig) {
					t.Errorf("err = %v, want ErrInvalidPartialSig", err)
				}
				return
			}
			b := sig.S.Bytes()
			if !bytes.Equal(b[:], tt.in) {
				t.Errorf("scalar = %x, want %x", b, tt.in)
			}
		})
	}
}

func TestCooperativeBitcoinSpend(t *testing.T) {
	params := &chaincfg.RegressionNetParams
	f := newSwapFixture(t, taptree.Bitcoin)

	pkScript, err := f.tree.OutputScript(taptree.Bitcoin, f.internal)
	if err != nil {
		t.Fatalf("OutputScript: %v", err)
	}
	dest, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(f.user.PubKey().SerializeCompressed()), params)
	if err != nil {
		t.Fatalf("destination: %v", err)
	}

	prevOut := wire.NewTxOut(75_000, pkScript)
	inputs := []*bitcoin.InputDetail{{
		InputType:  swap.Cooperative(),
		OutputType: swap.Taproot(),
		OutPoint:   wire.OutPoint{Hash: chainhash.Hash{9}, Index: 1},
		TxOut:      prevOut,
		Cooperative: NewCooperativeSigner(context.Background(), taptree.Bitcoin, f.user,
			f.server.PubKey(), f.tree, f.serverCosigner(t, taptree.Bitcoin), nil),
	}}

	tx, _, err := bitcoin.ConstructTx(params, inputs, swap.Single(dest.EncodeAddress()), 3)
	if err != nil {
		t.Fatalf("ConstructTx: %v", err)
	}

	fetcher := txscript.NewCannedPrevOutputFetcher(prevOut.PkScript, prevOut.Value)
	vm, err := txscript.NewEngine(prevOut.PkScript, tx, 0, txscript.StandardVerifyFlags,
		nil, txscript.NewTxSigHashes(tx, fetcher), prevOut.Value, fetcher)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if err := vm.Execute(); err != nil {
		t.Fatalf("cooperative spend does not verify: %v", err)
	}
}

func TestCosignerFailure(t *testing.T) {
	f := newSwapFixture(t, taptree.Bitcoin)
	boom := errors.New("server unavailable")
	signer := NewCooperativeSigner(context.Background(), taptree.Bitcoin, f.user, f.server.PubKey(), f.tree,
		CosignerFunc(func(context.Context, string, [32]byte, [musig2.PubNonceSize]byte) ([musig2.PubNonceSize]byte, []byte, error) {
			return [musig2.PubNonceSize]byte{}, nil, boom
		}), nil)

	if _, err := signer.SignKeyPath([32]byte{1}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want cosigner error", err)
	}
}
