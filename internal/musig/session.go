// Package musig implements the cooperative key-path spend of swap outputs.
// The swap server and the user aggregate their keys with MuSig2 in the
// fixed order [server, user], and the aggregate is tweaked with the merkle
// root of the swap tree so that the signature is valid for the output key.
package musig

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcec/v2/schnorr/musig2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	"github.com/klingon-exchange/swapcore/internal/taptree"
	"github.com/klingon-exchange/swapcore/pkg/logging"
)

// MuSig2 errors
var (
	ErrSessionNotReady     = errors.New("session not ready for signing")
	ErrSessionUsed         = errors.New("session already signed")
	ErrInvalidPartialSig   = errors.New("invalid partial signature")
	ErrSigningFailed       = errors.New("signing failed")
	ErrKeyNotInAggregation = errors.New("signing key is not part of the aggregation")
)

// PartialSigSize is the size of a serialized partial signature.
const PartialSigSize = 32

// AggregateKey returns the untweaked MuSig2 aggregate of keys in the given
// order. It is the internal key of the swap output.
func AggregateKey(keys ...*btcec.PublicKey) (*btcec.PublicKey, error) {
	agg, _, _, err := musig2.AggregateKeys(keys, false)
	if err != nil {
		return nil, fmt.Errorf("key aggregation failed: %w", err)
	}
	return agg.PreTweakedKey, nil
}

// InternalKey returns the internal key of a swap between the server and the
// user.
func InternalKey(serverPub, ourPub *btcec.PublicKey) (*btcec.PublicKey, error) {
	return AggregateKey(serverPub, ourPub)
}

// Session is a single MuSig2 signing session. Its nonce is used for exactly
// one signature; create a new session for every message.
type Session struct {
	id       uuid.UUID
	keys     []*btcec.PublicKey
	internal *btcec.PublicKey
	output   *btcec.PublicKey

	context *musig2.Context
	session *musig2.Session
	nonce   [musig2.PubNonceSize]byte
	signed  bool

	log *logging.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *logging.Logger) SessionOption {
	return func(s *Session) { s.log = l }
}

// NewSession creates a session for the user key priv and the server key
// serverPub. merkleRoot is the root of the swap tree, hashed with h.
func NewSession(h taptree.Hasher, priv *btcec.PrivateKey, serverPub *btcec.PublicKey,
	merkleRoot chainhash.Hash, opts ...SessionOption) (*Session, error) {

	return NewSessionForKeys(h, priv, []*btcec.PublicKey{serverPub, priv.PubKey()}, merkleRoot, opts...)
}

// NewSessionForKeys creates a session over keys in the given order. priv
// must belong to one of them.
func NewSessionForKeys(h taptree.Hasher, priv *btcec.PrivateKey, keys []*btcec.PublicKey,
	merkleRoot chainhash.Hash, opts ...SessionOption) (*Session, error) {

	s := &Session{id: uuid.New(), keys: keys}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrNop(s.log).With("session", s.id.String())

	if !containsKey(keys, priv.PubKey()) {
		return nil, ErrKeyNotInAggregation
	}

	internal, err := AggregateKey(keys...)
	if err != nil {
		return nil, err
	}
	s.internal = internal

	// h picks the TapTweak tag, which differs on Elements.
	tweak := musig2.KeyTweakDesc{
		Tweak:   h.TapTweak(internal, merkleRoot),
		IsXOnly: true,
	}
	ctx, err := musig2.NewContext(priv, false,
		musig2.WithKnownSigners(keys),
		musig2.WithTweakedContext(tweak),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	output, err := ctx.CombinedKey()
	if err != nil {
		return nil, err
	}
	session, err := ctx.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.context = ctx
	s.session = session
	s.nonce = session.PublicNonce()
	s.output = output

	s.log.Debug("MuSig2 session created", "hasher", h, "internal_key",
		fmt.Sprintf("%x", schnorr.SerializePubKey(internal)))
	return s, nil
}

// ID identifies the session in logs and between the two signers.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// InternalKey is the untweaked aggregate key.
func (s *Session) InternalKey() *btcec.PublicKey {
	return s.internal
}

// OutputKey is the tweaked aggregate key the final signature verifies
// against.
func (s *Session) OutputKey() *btcec.PublicKey {
	return s.output
}

// PublicNonce is the 66-byte public nonce to send to the other signer.
func (s *Session) PublicNonce() [musig2.PubNonceSize]byte {
	return s.nonce
}

// Sign registers the other signer's public nonce and returns our partial
// signature over msg.
func (s *Session) Sign(msg [32]byte, otherNonce [musig2.PubNonceSize]byte) ([]byte, error) {
	if s.signed {
		return nil, ErrSessionUsed
	}
	if _, err := s.session.RegisterPubNonce(otherNonce); err != nil {
		return nil, fmt.Errorf("failed to register nonce: %w", err)
	}

	partial, err := s.session.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	s.signed = true

	b := partial.S.Bytes()
	return b[:], nil
}

// Combine adds the other signer's partial signature and returns the final
// 64-byte Schnorr signature. The result is verified against OutputKey.
func (s *Session) Combine(otherPartial []byte) ([]byte, error) {
	if !s.signed {
		return nil, ErrSessionNotReady
	}
	partial, err := ParsePartialSignature(otherPartial)
	if err != nil {
		return nil, err
	}

	done, err := s.session.CombineSig(partial)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPartialSig, err)
	}
	if !done {
		return nil, ErrSessionNotReady
	}

	s.log.Debug("MuSig2 signature combined")
	return s.session.FinalSig().Serialize(), nil
}

// ParsePartialSignature decodes the 32-byte scalar of a partial signature.
func ParsePartialSignature(b []byte) (*musig2.PartialSignature, error) {
	if len(b) != PartialSigSize {
		return nil, fmt.Errorf("%w: length %d, want %d", ErrInvalidPartialSig, len(b), PartialSigSize)
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(b); overflow {
		return nil, fmt.Errorf("%w: scalar overflows the group order", ErrInvalidPartialSig)
	}
	return &musig2.PartialSignature{S: &scalar}, nil
}

func containsKey(keys []*btcec.PublicKey, key *btcec.PublicKey) bool {
	for _, k := range keys {
		if k.IsEqual(key) {
			return true
		}
	}
	return false
}
