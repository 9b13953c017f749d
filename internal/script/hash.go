package script

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcutil"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck
)

// Hash160 returns RIPEMD160(SHA256(preimage)), the hash lock committed to
// by every swap script.
func Hash160(preimage []byte) []byte {
	return btcutil.Hash160(preimage)
}

// Hash160FromSha256 converts the SHA256 payment hash of a swap into the
// 20-byte hash lock, which is RIPEMD160 of the SHA256 digest.
func Hash160FromSha256(paymentHash []byte) []byte {
	h := ripemd160.New()
	h.Write(paymentHash)
	return h.Sum(nil)
}

// Sha256 returns the SHA256 digest of b.
func Sha256(b []byte) []byte {
	h := sha256.Sum256(b)
	return h[:]
}
