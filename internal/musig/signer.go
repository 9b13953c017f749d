package musig

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/klingon-exchange/swapcore/internal/swap"
	"github.com/klingon-exchange/swapcore/internal/taptree"
	"github.com/klingon-exchange/swapcore/pkg/logging"
)

// Cosigner is the remote half of a cooperative spend, usually the swap
// server's API. Given the sighash and our public nonce it returns its own
// public nonce and partial signature.
type Cosigner interface {
	Cosign(ctx context.Context, sessionID string, sigHash [32]byte,
		nonce [musig2.PubNonceSize]byte) ([musig2.PubNonceSize]byte, []byte, error)
}

// CosignerFunc adapts a function to Cosigner.
type CosignerFunc func(ctx context.Context, sessionID string, sigHash [32]byte,
	nonce [musig2.PubNonceSize]byte) ([musig2.PubNonceSize]byte, []byte, error)

// Cosign calls f.
func (f CosignerFunc) Cosign(ctx context.Context, sessionID string, sigHash [32]byte,
	nonce [musig2.PubNonceSize]byte) ([musig2.PubNonceSize]byte, []byte, error) {

	return f(ctx, sessionID, sigHash, nonce)
}

// CooperativeSigner signs key-path spends of one swap output together with
// the server. It satisfies swap.KeyPathSigner and runs a fresh MuSig2
// session for every sighash.
type CooperativeSigner struct {
	ctx        context.Context
	hasher     taptree.Hasher
	key        *btcec.PrivateKey
	serverPub  *btcec.PublicKey
	merkleRoot chainhash.Hash
	cosigner   Cosigner
	log        *logging.Logger
}

// NewCooperativeSigner creates a signer for an output built from tree with
// the internal key InternalKey(serverPub, key.PubKey()). ctx bounds the
// calls to cosigner.
func NewCooperativeSigner(ctx context.Context, h taptree.Hasher, key *btcec.PrivateKey,
	serverPub *btcec.PublicKey, tree *taptree.Tree, cosigner Cosigner, log *logging.Logger) *CooperativeSigner {

	return &CooperativeSigner{
		ctx:        ctx,
		hasher:     h,
		key:        key,
		serverPub:  serverPub,
		merkleRoot: tree.MerkleRoot(h),
		cosigner:   cosigner,
		log:        logging.OrNop(log),
	}
}

// SignKeyPath returns the aggregated Schnorr signature over sigHash.
func (c *CooperativeSigner) SignKeyPath(sigHash [32]byte) ([]byte, error) {
	session, err := NewSession(c.hasher, c.key, c.serverPub, c.merkleRoot, WithLogger(c.log))
	if err != nil {
		return nil, err
	}

	serverNonce, serverPartial, err := c.cosigner.Cosign(c.ctx, session.ID().String(), sigHash, session.PublicNonce())
	if err != nil {
		return nil, fmt.Errorf("cosign request failed: %w", err)
	}

	if _, err := session.Sign(sigHash, serverNonce); err != nil {
		return nil, err
	}
	return session.Combine(serverPartial)
}

var _ swap.KeyPathSigner = (*CooperativeSigner)(nil)
