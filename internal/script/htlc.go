package script

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// HTLC holds the components of a legacy or segwit swap script.
type HTLC struct {
	// Reverse is true for the reverse swap layout that checks the preimage
	// size before the hash.
	Reverse      bool
	PreimageHash []byte
	ClaimPubKey  []byte
	RefundPubKey []byte
	Timeout      uint32
}

// SwapScript builds the submarine swap HTLC:
//
//	OP_HASH160 <hash> OP_EQUAL
//	OP_IF
//	    <claimPubKey>
//	OP_ELSE
//	    <timeout> OP_CHECKLOCKTIMEVERIFY OP_DROP <refundPubKey>
//	OP_ENDIF
//	OP_CHECKSIG
func SwapScript(preimageHash, claimPubKey, refundPubKey []byte, timeout uint32) ([]byte, error) {
	if err := checkHTLCParams(preimageHash, claimPubKey, refundPubKey); err != nil {
		return nil, err
	}

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(preimageHash).
		AddOp(txscript.OP_EQUAL).
		AddOp(txscript.OP_IF).
		AddData(claimPubKey).
		AddOp(txscript.OP_ELSE).
		AddInt64(int64(timeout)).
		AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).
		AddOp(txscript.OP_DROP).
		AddData(refundPubKey).
		AddOp(txscript.OP_ENDIF).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// ReverseSwapScript builds the reverse swap HTLC. The claim branch is
// selected by a 32-byte stack item:
//
//	OP_SIZE 32 OP_EQUAL
//	OP_IF
//	    OP_HASH160 <hash> OP_EQUALVERIFY <claimPubKey>
//	OP_ELSE
//	    OP_DROP <timeout> OP_CHECKLOCKTIMEVERIFY OP_DROP <refundPubKey>
//	OP_ENDIF
//	OP_CHECKSIG
func ReverseSwapScript(preimageHash, claimPubKey, refundPubKey []byte, timeout uint32) ([]byte, error) {
	if err := checkHTLCParams(preimageHash, claimPubKey, refundPubKey); err != nil {
		return nil, err
	}

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_SIZE).
		AddInt64(32).
		AddOp(txscript.OP_EQUAL).
		AddOp(txscript.OP_IF).
		AddOp(txscript.OP_HASH160).
		AddData(preimageHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddData(claimPubKey).
		AddOp(txscript.OP_ELSE).
		AddOp(txscript.OP_DROP).
		AddInt64(int64(timeout)).
		AddOp(txscript.OP_CHECKLOCKTIMEVERIFY).
		AddOp(txscript.OP_DROP).
		AddData(refundPubKey).
		AddOp(txscript.OP_ENDIF).
		AddOp(txscript.OP_CHECKSIG).
		Script()
}

// ParseSwapScript recognizes either HTLC layout and extracts its
// components.
func ParseSwapScript(script []byte) (*HTLC, error) {
	for _, tmpl := range []struct {
		reverse bool
		ops     []templateOp
	}{
		{false, swapTemplate},
		{true, reverseSwapTemplate},
	} {
		pushes, ok := matchTemplate(script, tmpl.ops)
		if !ok {
			continue
		}
		timeout, err := DecodeScriptNum(pushes[2], 5)
		if err != nil || timeout < 0 || timeout > 0xFFFFFFFF {
			return nil, fmt.Errorf("%w: bad timeout", ErrInvalidScriptStructure)
		}
		return &HTLC{
			Reverse:      tmpl.reverse,
			PreimageHash: pushes[0],
			ClaimPubKey:  pushes[1],
			Timeout:      uint32(timeout),
			RefundPubKey: pushes[3],
		}, nil
	}

	return nil, fmt.Errorf("%w: not a swap script", ErrInvalidScriptStructure)
}

// templateOp is one element of a script template. A zero opcode with
// a non-zero size matches a data push of exactly that size; size -1
// matches a script number.
type templateOp struct {
	op   byte
	size int
}

func op(o byte) templateOp     { return templateOp{op: o} }
func push(size int) templateOp { return templateOp{size: size} }
func number() templateOp       { return templateOp{size: -1} }

// Token layouts of the two HTLCs. Captured pushes are, in order: hash,
// claim key, timeout, refund key.
var (
	swapTemplate = []templateOp{
		op(txscript.OP_HASH160), push(20), op(txscript.OP_EQUAL),
		op(txscript.OP_IF), push(33),
		op(txscript.OP_ELSE), number(), op(txscript.OP_CHECKLOCKTIMEVERIFY), op(txscript.OP_DROP), push(33),
		op(txscript.OP_ENDIF), op(txscript.OP_CHECKSIG),
	}

	reverseSwapTemplate = []templateOp{
		op(txscript.OP_SIZE), op(txscript.OP_DATA_1), op(txscript.OP_EQUAL),
		op(txscript.OP_IF), op(txscript.OP_HASH160), push(20), op(txscript.OP_EQUALVERIFY), push(33),
		op(txscript.OP_ELSE), op(txscript.OP_DROP), number(), op(txscript.OP_CHECKLOCKTIMEVERIFY), op(txscript.OP_DROP), push(33),
		op(txscript.OP_ENDIF), op(txscript.OP_CHECKSIG),
	}
)

// matchTemplate walks script against tmpl and returns the captured pushes.
func matchTemplate(script []byte, tmpl []templateOp) ([][]byte, bool) {
	var captured [][]byte
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for _, want := range tmpl {
		if !tokenizer.Next() {
			return nil, false
		}
		got := tokenizer.Opcode()
		data := tokenizer.Data()
		switch {
		case want.size == -1:
			num, ok := tokenNumber(got, data)
			if !ok {
				return nil, false
			}
			captured = append(captured, num)
		case want.size > 0:
			if len(data) != want.size || int(got) != want.size {
				return nil, false
			}
			captured = append(captured, data)
		case want.op == txscript.OP_DATA_1:
			// OP_SIZE comparison constant.
			if got != txscript.OP_DATA_1 || !bytes.Equal(data, []byte{32}) {
				return nil, false
			}
		default:
			if got != want.op {
				return nil, false
			}
		}
	}
	if tokenizer.Next() || tokenizer.Err() != nil {
		return nil, false
	}
	return captured, true
}

// tokenNumber returns the script number encoding of a token that pushes a
// number, translating small-integer opcodes into their data form.
func tokenNumber(opcode byte, data []byte) ([]byte, bool) {
	switch {
	case opcode == txscript.OP_0:
		return []byte{}, true
	case opcode == txscript.OP_1NEGATE:
		return []byte{0x81}, true
	case txscript.IsSmallInt(opcode):
		return []byte{byte(txscript.AsSmallInt(opcode))}, true
	case opcode >= txscript.OP_DATA_1 && opcode <= txscript.OP_DATA_5:
		return data, true
	default:
		return nil, false
	}
}

func checkHTLCParams(preimageHash, claimPubKey, refundPubKey []byte) error {
	if len(preimageHash) != 20 {
		return fmt.Errorf("%w, got %d", ErrInvalidHash, len(preimageHash))
	}
	if err := checkCompressedKey(claimPubKey); err != nil {
		return fmt.Errorf("claim key: %w", err)
	}
	if err := checkCompressedKey(refundPubKey); err != nil {
		return fmt.Errorf("refund key: %w", err)
	}
	return nil
}

func checkCompressedKey(key []byte) error {
	if len(key) != 33 || (key[0] != 0x02 && key[0] != 0x03) {
		return fmt.Errorf("%w: expected 33-byte compressed key, got %d bytes", ErrInvalidKey, len(key))
	}
	return nil
}

func checkXOnlyKey(key []byte) error {
	if len(key) != 32 {
		return fmt.Errorf("%w: expected 32-byte x-only key, got %d bytes", ErrInvalidKey, len(key))
	}
	return nil
}
