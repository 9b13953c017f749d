package swap

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/txscript"

	"github.com/klingon-exchange/swapcore/internal/script"
	"github.com/klingon-exchange/swapcore/internal/taptree"
)

// Sequence is set on every swap input. It signals replaceability and
// enables the locktime check.
const Sequence uint32 = 0xfffffffd

// Dummy signature sizes used while estimating the transaction size.
const (
	SchnorrSigLen = 64
	ECDSASigLen   = 72
)

// SpendPath is the way an input is unlocked.
type SpendPath uint8

const (
	PathKey SpendPath = iota
	PathTapClaim
	PathTapRefund
	PathTapCovenant
	PathWitnessV0
	PathCompatibility
	PathLegacy
)

func (p SpendPath) String() string {
	switch p {
	case PathKey:
		return "key-path"
	case PathTapClaim:
		return "script-path claim"
	case PathTapRefund:
		return "script-path refund"
	case PathTapCovenant:
		return "covenant claim"
	case PathWitnessV0:
		return "witness v0"
	case PathCompatibility:
		return "nested witness v0"
	case PathLegacy:
		return "legacy"
	default:
		return fmt.Sprintf("SpendPath(%d)", p)
	}
}

// Spend is the planned unlock of one input.
type Spend struct {
	Path SpendPath

	// Leaf is the tapscript leaf for script-path spends.
	Leaf taptree.Leaf

	// Script is the leaf script, witness script or redeem script.
	Script []byte

	// ControlBlock proves Leaf for script-path spends.
	ControlBlock []byte

	// Preimage is pushed by claims; refunds push an empty element on
	// non-Taproot outputs.
	Preimage []byte

	// LockTime is the minimum transaction locktime this input needs.
	LockTime uint32
}

// Plan selects the spend path of an input and prepares everything except
// the signature.
func Plan(h taptree.Hasher, in InputType, out OutputType, unc *Uncooperative) (*Spend, error) {
	if in.Kind == KindCooperative && out.Kind != OutputTaproot {
		return nil, ErrCooperativeNonTaproot
	}

	spend := &Spend{}
	if in.Kind == KindClaim {
		spend.Preimage = in.Preimage[:]
	}
	if in.Kind == KindRefund {
		spend.LockTime = in.TimeoutHeight
	}

	switch out.Kind {
	case OutputTaproot:
		if in.Kind == KindCooperative || unc == nil {
			spend.Path = PathKey
			spend.Preimage = nil
			return spend, nil
		}
		if unc.Tree == nil || unc.InternalKey == nil {
			return nil, fmt.Errorf("%w: script-path spend needs a tree and internal key", ErrInvalidInput)
		}

		switch {
		case in.Kind == KindRefund:
			spend.Path = PathTapRefund
			spend.Leaf = unc.Tree.RefundLeaf
		case unc.Covenant:
			if unc.Tree.CovenantClaimLeaf == nil {
				return nil, ErrMissingCovenant
			}
			spend.Path = PathTapCovenant
			spend.Leaf = *unc.Tree.CovenantClaimLeaf
		default:
			spend.Path = PathTapClaim
			spend.Leaf = unc.Tree.ClaimLeaf
		}
		spend.Script = spend.Leaf.Output

		cb, err := unc.Tree.ControlBlock(h, spend.Leaf, unc.InternalKey)
		if err != nil {
			return nil, err
		}
		spend.ControlBlock = cb

	case OutputSegwitV0, OutputCompatibility, OutputLegacy:
		if len(out.Script) == 0 {
			return nil, fmt.Errorf("%w: %s output without script", ErrInvalidInput, out.Kind)
		}
		spend.Script = out.Script
		spend.Path = map[OutputKind]SpendPath{
			OutputSegwitV0:      PathWitnessV0,
			OutputCompatibility: PathCompatibility,
			OutputLegacy:        PathLegacy,
		}[out.Kind]
		if in.Kind == KindRefund {
			spend.Preimage = []byte{}
		}

	default:
		return nil, fmt.Errorf("%w: unknown output kind %s", ErrInvalidInput, out.Kind)
	}

	if err := spend.check(in); err != nil {
		return nil, err
	}
	return spend, nil
}

// check verifies the preimage against the hash lock of a claim and reads
// the script timelock of a refund. Scripts without a recognizable lock are
// passed through.
func (s *Spend) check(in InputType) error {
	lock, timeout, ok := s.locks()
	if !ok {
		return nil
	}
	switch in.Kind {
	case KindClaim:
		paymentHash := in.Preimage.Hash()
		if !bytes.Equal(lock, script.Hash160FromSha256(paymentHash[:])) {
			return ErrPreimageMismatch
		}
	case KindRefund:
		if timeout > s.LockTime {
			return fmt.Errorf("%w: script locktime %d above refund height %d",
				ErrLocktimeNotReached, timeout, s.LockTime)
		}
	}
	return nil
}

// locks returns the hash lock and timeout of the spent script. Tapscript
// leaves hold one of the two, HTLC scripts hold both.
func (s *Spend) locks() (lock []byte, timeout uint32, ok bool) {
	if !s.IsTaproot() {
		htlc, err := script.ParseSwapScript(s.Script)
		if err != nil {
			return nil, 0, false
		}
		return htlc.PreimageHash, htlc.Timeout, true
	}

	switch s.Path {
	case PathTapRefund:
		lt, err := script.Locktime(s.Script)
		return nil, lt, err == nil
	default:
		h, err := script.HashLock(s.Script)
		return h, 0, err == nil
	}
}

// IsTaproot reports whether the input signs with BIP-340 Schnorr.
func (s *Spend) IsTaproot() bool {
	switch s.Path {
	case PathKey, PathTapClaim, PathTapRefund, PathTapCovenant:
		return true
	}
	return false
}

// NeedsSignature is false only for covenant claims.
func (s *Spend) NeedsSignature() bool {
	return s.Path != PathTapCovenant
}

// SigHashType is SIGHASH_DEFAULT for Taproot and SIGHASH_ALL otherwise.
func (s *Spend) SigHashType() txscript.SigHashType {
	if s.IsTaproot() {
		return txscript.SigHashDefault
	}
	return txscript.SigHashAll
}

// DummySignature returns a zero signature of the final length, used for
// size estimation.
func (s *Spend) DummySignature() []byte {
	if s.IsTaproot() {
		return make([]byte, SchnorrSigLen)
	}
	return make([]byte, ECDSASigLen)
}

// Unlock assembles the witness and scriptSig for a signature. For
// non-Taproot paths sig must already carry the sighash type byte.
func (s *Spend) Unlock(sig []byte) (witness [][]byte, sigScript []byte, err error) {
	switch s.Path {
	case PathKey:
		return [][]byte{sig}, nil, nil

	case PathTapClaim:
		return [][]byte{sig, s.Preimage, s.Script, s.ControlBlock}, nil, nil

	case PathTapRefund:
		return [][]byte{sig, s.Script, s.ControlBlock}, nil, nil

	case PathTapCovenant:
		return [][]byte{s.Preimage, s.Script, s.ControlBlock}, nil, nil

	case PathWitnessV0:
		return [][]byte{sig, s.Preimage, s.Script}, nil, nil

	case PathCompatibility:
		sigScript, err := txscript.NewScriptBuilder().
			AddData(NestedWitnessProgram(s.Script)).
			Script()
		if err != nil {
			return nil, nil, err
		}
		return [][]byte{sig, s.Preimage, s.Script}, sigScript, nil

	case PathLegacy:
		sigScript, err := txscript.NewScriptBuilder().
			AddData(sig).
			AddData(s.Preimage).
			AddData(s.Script).
			Script()
		if err != nil {
			return nil, nil, err
		}
		return nil, sigScript, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown spend path %s", ErrInvalidInput, s.Path)
	}
}

// NestedWitnessProgram returns OP_0 <sha256(script)>, the program a
// compatibility (P2SH-P2WSH) output commits to.
func NestedWitnessProgram(witnessScript []byte) []byte {
	h := sha256.Sum256(witnessScript)
	return append([]byte{txscript.OP_0, txscript.OP_DATA_32}, h[:]...)
}
