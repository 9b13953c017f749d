package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs 32-byte digests. Remote signers may block, so the call
// takes a context.
type Signer interface {
	Address() common.Address
	SignHash(ctx context.Context, digest common.Hash) ([]byte, error)
}

// KeySigner signs with a local secp256k1 key.
type KeySigner struct {
	key *ecdsa.PrivateKey
}

// NewKeySigner wraps a btcec key, the same curve Ethereum uses.
func NewKeySigner(key *btcec.PrivateKey) *KeySigner {
	return &KeySigner{key: key.ToECDSA()}
}

// Address returns the Ethereum address of the key.
func (s *KeySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// SignHash returns r || s || v with v in {0, 1}.
func (s *KeySigner) SignHash(_ context.Context, digest common.Hash) ([]byte, error) {
	return crypto.Sign(digest[:], s.key)
}

// Signature is an EIP-712 signature in the form the swap contracts take.
type Signature struct {
	R [32]byte
	S [32]byte
	V uint8
}

// Bytes returns r || s || v.
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// ParseSignature accepts a 65-byte r || s || v signature with v in
// {0, 1} or {27, 28}.
func ParseSignature(raw []byte) (Signature, error) {
	var sig Signature
	if len(raw) != crypto.SignatureLength {
		return sig, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(raw))
	}
	copy(sig.R[:], raw[:32])
	copy(sig.S[:], raw[32:64])
	sig.V = raw[64]
	if sig.V < 27 {
		sig.V += 27
	}
	if sig.V != 27 && sig.V != 28 {
		return sig, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, raw[64])
	}
	return sig, nil
}

// SignCommit signs the Commit digest with signer, which is also the refund
// address.
func SignCommit(ctx context.Context, signer Signer, d *Domain, v CommitValues) (Signature, error) {
	hash, err := CommitHash(d, v, signer.Address())
	if err != nil {
		return Signature{}, err
	}
	return signDigest(ctx, signer, hash)
}

// SignRefund signs the Refund digest.
func SignRefund(ctx context.Context, signer Signer, d *Domain, v RefundValues) (Signature, error) {
	hash, err := RefundHash(d, v)
	if err != nil {
		return Signature{}, err
	}
	return signDigest(ctx, signer, hash)
}

func signDigest(ctx context.Context, signer Signer, digest common.Hash) (Signature, error) {
	raw, err := signer.SignHash(ctx, digest)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrSigner, err)
	}
	sig, err := ParseSignature(raw)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrSigner, err)
	}
	return sig, nil
}

// RecoverAddress returns the address that produced sig over digest.
func RecoverAddress(digest common.Hash, sig Signature) (common.Address, error) {
	raw := sig.Bytes()
	raw[64] -= 27
	pub, err := crypto.SigToPub(digest[:], raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
