package script

import (
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// Pushes returns the data pushed by script, in order. Opcodes that push
// nothing are skipped; small-integer opcodes are not treated as pushes.
func Pushes(script []byte) ([][]byte, error) {
	var pushes [][]byte
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		if tokenizer.Opcode() <= txscript.OP_PUSHDATA4 && tokenizer.Opcode() != txscript.OP_0 {
			pushes = append(pushes, tokenizer.Data())
		}
	}
	if err := tokenizer.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScriptStructure, err)
	}
	return pushes, nil
}

// FirstPushOfLen returns the first data push of exactly n bytes.
func FirstPushOfLen(script []byte, n int) ([]byte, bool) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		if tokenizer.Opcode() <= txscript.OP_PUSHDATA4 && len(tokenizer.Data()) == n && n > 0 {
			return tokenizer.Data(), true
		}
	}
	return nil, false
}

// HashLock returns the 20-byte hash that follows OP_HASH160 in an HTLC or
// claim leaf.
func HashLock(script []byte) ([]byte, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		if tokenizer.Opcode() != txscript.OP_HASH160 {
			continue
		}
		if tokenizer.Next() && len(tokenizer.Data()) == 20 {
			return tokenizer.Data(), nil
		}
		break
	}
	return nil, fmt.Errorf("%w: no hash lock", ErrInvalidScriptStructure)
}

// Locktime returns the absolute timelock checked by OP_CHECKLOCKTIMEVERIFY
// in an HTLC or refund leaf.
func Locktime(script []byte) (uint32, error) {
	var prev []byte
	var havePrev bool
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		if tokenizer.Opcode() == txscript.OP_CHECKLOCKTIMEVERIFY {
			if !havePrev {
				break
			}
			n, err := DecodeScriptNum(prev, 5)
			if err != nil || n < 0 || n > 0xFFFFFFFF {
				return 0, fmt.Errorf("%w: bad locktime", ErrInvalidScriptStructure)
			}
			return uint32(n), nil
		}
		prev, havePrev = tokenNumber(tokenizer.Opcode(), tokenizer.Data())
	}
	return 0, fmt.Errorf("%w: no locktime", ErrInvalidScriptStructure)
}

// DecodeScriptNum decodes a minimally encoded little-endian script number
// of at most maxLen bytes.
func DecodeScriptNum(b []byte, maxLen int) (int64, error) {
	if len(b) > maxLen {
		return 0, fmt.Errorf("script number of %d bytes exceeds %d", len(b), maxLen)
	}
	if len(b) == 0 {
		return 0, nil
	}
	last := b[len(b)-1]
	if last&0x7f == 0 && (len(b) == 1 || b[len(b)-2]&0x80 == 0) {
		return 0, fmt.Errorf("non-minimal script number %x", b)
	}

	var n int64
	for i, v := range b {
		n |= int64(v) << (8 * i)
	}
	if last&0x80 != 0 {
		n &= ^(int64(0x80) << (8 * (len(b) - 1)))
		return -n, nil
	}
	return n, nil
}
