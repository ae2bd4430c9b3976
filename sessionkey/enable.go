package sessionkey

import (
	"bytes"
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sessionkit/sessionkit/kernel"
)

// Validation mode words prefixing a user-operation signature. The wallet
// dispatches on this word before the validator ever sees the signature.
var (
	// ModeSudo routes validation to the wallet's root validator.
	ModeSudo = [4]byte{0x00, 0x00, 0x00, 0x01}
	// ModeEnable atomically enables this validator and validates the
	// operation; the signature carries the full enable payload.
	ModeEnable = [4]byte{0x00, 0x00, 0x00, 0x02}
)

// BuildEnableData assembles the enable-data blob establishing this
// delegation on the account. With a nil pinnedNonce the enable nonce is
// resolved from chain (last used + 1), which requires both a configured
// client and a non-zero account; pinning the nonce supports offline
// precomputation before the account exists on-chain.
func (v *Validator) BuildEnableData(ctx context.Context, account common.Address, pinnedNonce *big.Int) ([]byte, error) {
	nonce := pinnedNonce
	if nonce == nil {
		if v.nonces == nil {
			return nil, kernel.Configf("enable nonce resolution requires a chain client or a pinned nonce")
		}
		if account == (common.Address{}) {
			return nil, kernel.Configf("enable nonce resolution requires the account address")
		}
		next, err := v.nonces.Next(ctx, account)
		if err != nil {
			return nil, err
		}
		nonce = next
	}

	return kernel.EnableData{
		Delegate:   v.cfg.Delegate.Address(),
		MerkleRoot: v.tree.Root(),
		ValidAfter: v.cfg.ValidAfter,
		ValidUntil: v.cfg.ValidUntil,
		Paymaster:  v.cfg.Paymaster,
		Nonce:      nonce,
	}.Pack()
}

// IsEnabled reports whether the account currently has exactly this
// delegation enabled. It is advisory: the expected enable state is
// re-derived locally and compared field-for-field against chain state,
// and every failure, whether transport, decoding or mismatch, degrades
// to false.
func (v *Validator) IsEnabled(ctx context.Context, account common.Address) bool {
	if v.reader == nil {
		return false
	}

	exec, err := v.reader.Execution(ctx, account, kernel.ExecuteSelector)
	if err != nil {
		v.log.Debug("enabled check: execution read failed", zap.Error(err))
		return false
	}
	// Address comparison on raw bytes; hex-case differences cannot
	// survive parsing.
	if exec.Validator != v.cfg.ValidatorAddress {
		return false
	}
	if v.cfg.Executor != (common.Address{}) && exec.Executor != v.cfg.Executor {
		return false
	}

	stored, err := v.reader.SessionData(ctx, v.cfg.ValidatorAddress, account)
	if err != nil {
		v.log.Debug("enabled check: session read failed", zap.Error(err))
		return false
	}
	return stored.MerkleRoot == v.tree.Root() &&
		stored.ValidAfter == v.cfg.ValidAfter &&
		stored.ValidUntil == v.cfg.ValidUntil &&
		stored.Paymaster == v.cfg.Paymaster
}

// EnableSignature frames the payload for a ModeEnable operation: the
// enable data, the owner's enable signature over it, and the delegate's
// operation signature, packed behind the mode word.
//
// Layout: mode(4) || validAfter(6) || validUntil(6) || validator(20) ||
// executor(20) || len(enableData)(32) || enableData ||
// len(enableSig)(32) || enableSig || delegateSig.
func (v *Validator) EnableSignature(enableData, enableSig, delegateSig []byte) []byte {
	var buf bytes.Buffer
	buf.Write(ModeEnable[:])
	buf.Write(packUint48(v.cfg.ValidAfter))
	buf.Write(packUint48(v.cfg.ValidUntil))
	buf.Write(v.cfg.ValidatorAddress.Bytes())
	buf.Write(v.cfg.Executor.Bytes())
	buf.Write(lengthWord(len(enableData)))
	buf.Write(enableData)
	buf.Write(lengthWord(len(enableSig)))
	buf.Write(enableSig)
	buf.Write(delegateSig)
	return buf.Bytes()
}

// SudoSignature frames a signature for the wallet's root validator.
func SudoSignature(sig []byte) []byte {
	out := make([]byte, 0, 4+len(sig))
	out = append(out, ModeSudo[:]...)
	return append(out, sig...)
}

func packUint48(v uint64) []byte {
	return []byte{byte(v >> 40), byte(v >> 32), byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func lengthWord(n int) []byte {
	var word [32]byte
	big.NewInt(int64(n)).FillBytes(word[:])
	return word[:]
}
