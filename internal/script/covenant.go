package script

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
)

// Elements introspection opcodes. They occupy bytes that are OP_SUCCESS in
// Bitcoin tapscript.
const (
	OP_INSPECTOUTPUTASSET        = 0xce
	OP_INSPECTOUTPUTVALUE        = 0xcf
	OP_INSPECTOUTPUTNONCE        = 0xd0
	OP_INSPECTOUTPUTSCRIPTPUBKEY = 0xd1
)

// CovenantOutput describes the output a covenant claim must create.
type CovenantOutput struct {
	// Script is the scriptPubKey the claim has to pay to.
	Script []byte

	// AssetID is the asset in display (reversed) hex.
	AssetID string

	// Amount is the exact explicit value of the output.
	Amount uint64
}

// CovenantClaimLeafScript builds the Elements covenant claim leaf. Anyone
// knowing the preimage can claim, but only into output 0 with the committed
// script, asset and amount:
//
//	OP_SIZE 32 OP_EQUALVERIFY OP_HASH160 <hash> OP_EQUALVERIFY
//	0 OP_INSPECTOUTPUTSCRIPTPUBKEY <version> OP_EQUALVERIFY <program> OP_EQUALVERIFY
//	0 OP_INSPECTOUTPUTASSET OP_1 OP_EQUALVERIFY <asset> OP_EQUALVERIFY
//	0 OP_INSPECTOUTPUTVALUE OP_DROP <amount LE64> OP_EQUAL
func CovenantClaimLeafScript(preimageHash []byte, out CovenantOutput) ([]byte, error) {
	if len(preimageHash) != 20 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidHash, len(preimageHash))
	}
	if len(out.Script) == 0 {
		return nil, fmt.Errorf("%w: empty covenant output script", ErrInvalidScriptStructure)
	}

	asset, err := hex.DecodeString(out.AssetID)
	if err != nil || len(asset) != 32 {
		return nil, fmt.Errorf("%w: asset id must be 32 bytes of hex", ErrInvalidScriptStructure)
	}
	internalAsset := make([]byte, 32)
	for i := range asset {
		internalAsset[31-i] = asset[i]
	}

	version, program := ScriptIntrospectionValue(out.Script)

	var amount [8]byte
	binary.LittleEndian.PutUint64(amount[:], out.Amount)

	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_SIZE).
		AddInt64(32).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_HASH160).
		AddData(preimageHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddInt64(0).
		AddOp(OP_INSPECTOUTPUTSCRIPTPUBKEY).
		AddInt64(version).
		AddOp(txscript.OP_EQUALVERIFY).
		AddData(program).
		AddOp(txscript.OP_EQUALVERIFY).
		AddInt64(0).
		AddOp(OP_INSPECTOUTPUTASSET).
		AddOp(txscript.OP_1).
		AddOp(txscript.OP_EQUALVERIFY).
		AddData(internalAsset).
		AddOp(txscript.OP_EQUALVERIFY).
		AddInt64(0).
		AddOp(OP_INSPECTOUTPUTVALUE).
		AddOp(txscript.OP_DROP).
		AddData(amount[:]).
		AddOp(txscript.OP_EQUAL).
		Script()
}

// ScriptIntrospectionValue returns what OP_INSPECTOUTPUTSCRIPTPUBKEY pushes
// for an output script: the witness version and program for v0 and v1
// outputs, or -1 and the SHA256 of the script for everything else.
func ScriptIntrospectionValue(script []byte) (int64, []byte) {
	version, program, err := txscript.ExtractWitnessProgramInfo(script)
	if err == nil && (version == 0 || version == 1) {
		return int64(version), program
	}
	h := sha256.Sum256(script)
	return -1, h[:]
}
