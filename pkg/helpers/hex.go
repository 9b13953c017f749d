package helpers

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexToBytes converts a hex string (with or without 0x prefix) to bytes.
func HexToBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

// HexToFixed decodes a hex string that must be exactly n bytes long.
func HexToFixed(s string, n int) ([]byte, error) {
	b, err := HexToBytes(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("expected %d bytes, got %d", n, len(b))
	}
	return b, nil
}

// HexTo32 decodes a 32-byte hex string.
func HexTo32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := HexToFixed(s, 32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}
