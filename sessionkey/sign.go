package sessionkey

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"github.com/sessionkit/sessionkit/kernel"
	"github.com/sessionkit/sessionkit/signer"
)

// DummyECDSASignature is a 65-byte placeholder with the exact length of
// a real normalized signature, so gas estimates over a stubbed operation
// match the final one.
var DummyECDSASignature = hexutil.MustDecode(
	"0xffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff" +
		"ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff1c")

// SignUserOperation authorizes the operation with the delegate key and
// returns the full signature payload: delegate identity, normalized
// ECDSA signature, and the matched permissions with their Merkle proofs.
// With rules configured, an operation whose calls match none of them
// fails with an AuthorizationError; with no rules configured the proof
// segment is empty and the operation is gated by nonce only.
func (v *Validator) SignUserOperation(ctx context.Context, op *kernel.UserOperation) ([]byte, error) {
	chainID := v.cfg.ChainID
	if chainID == nil {
		if v.reader == nil {
			return nil, kernel.Configf("signing requires a chain id or a chain client")
		}
		id, err := v.reader.ChainID(ctx)
		if err != nil {
			return nil, err
		}
		chainID = id
	}

	digest := kernel.UserOpHash(op, v.cfg.EntryPoint, chainID)
	raw, err := v.cfg.Delegate.SignHash(ctx, digest)
	if err != nil {
		return nil, &kernel.SignerError{Err: err}
	}
	fixed, err := signer.NormalizeSig(raw)
	if err != nil {
		return nil, &kernel.SignerError{Err: err}
	}

	proofSegment, err := v.proofSegment(op)
	if err != nil {
		return nil, err
	}

	v.log.Debug("signed user operation",
		zap.Stringer("sender", op.Sender),
		zap.Stringer("digest", digest),
		zap.Int("proofBytes", len(proofSegment)))
	return assemble(v.cfg.Delegate.Address(), fixed, proofSegment), nil
}

// DummySignature returns a payload with identical framing and byte
// length to a real one, substituting a fixed dummy signature. The proof
// lookup is real; only the signature bytes are fake, so the result fails
// verification but estimates gas exactly.
func (v *Validator) DummySignature(op *kernel.UserOperation) ([]byte, error) {
	proofSegment, err := v.proofSegment(op)
	if err != nil {
		return nil, err
	}
	return assemble(v.cfg.Delegate.Address(), DummyECDSASignature, proofSegment), nil
}

// proofSegment matches the operation's calls against the rule set and
// encodes the matched permissions with their proofs. An empty rule set
// produces an empty segment; the delegation is ungated.
func (v *Validator) proofSegment(op *kernel.UserOperation) ([]byte, error) {
	return kernel.ProofSegment(v.rules, v.tree, op.CallData)
}

// assemble concatenates the fixed payload framing.
func assemble(delegate common.Address, sig, proofSegment []byte) []byte {
	out := make([]byte, 0, common.AddressLength+len(sig)+len(proofSegment))
	out = append(out, delegate.Bytes()...)
	out = append(out, sig...)
	return append(out, proofSegment...)
}
