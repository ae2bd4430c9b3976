// Package modular implements the policy-composed permission validator:
// instead of one Merkle-committed rule set, a delegate's authority is the
// conjunction of small pluggable policies (call scoping, gas ceilings,
// time windows, rate limits, co-signers). The call-scoping policy reuses
// the same rule encoding, matcher and commitment tree as the session-key
// validator; the variants differ only in how the pieces are framed.
package modular

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/sessionkit/sessionkit/kernel"
	"github.com/sessionkit/sessionkit/merkle"
	"github.com/sessionkit/sessionkit/permission"
)

// Kind tags the closed set of policy variants. Dispatch is always on
// this tag; there are no open-ended policy implementations.
type Kind uint8

const (
	KindSudo Kind = iota
	KindCall
	KindGas
	KindTimestamp
	KindRateLimit
	KindSignature
)

// String returns the lowercase policy name.
func (k Kind) String() string {
	switch k {
	case KindSudo:
		return "sudo"
	case KindCall:
		return "call"
	case KindGas:
		return "gas"
	case KindTimestamp:
		return "timestamp"
	case KindRateLimit:
		return "ratelimit"
	case KindSignature:
		return "signature"
	default:
		return "unknown"
	}
}

// Policy is the capability every variant implements: serialize the
// enable-time configuration, produce the per-operation signature data,
// and produce estimation-grade dummy data of identical byte length.
type Policy interface {
	Kind() Kind

	// InfoBytes is the policy's enable-time configuration blob. It is
	// deterministic: the same policy always serializes identically.
	InfoBytes() ([]byte, error)

	// SignatureData is the per-operation material appended to the
	// authorization payload, empty for policies verified purely from
	// on-chain state.
	SignatureData(op *kernel.UserOperation) ([]byte, error)

	// DummySignatureData mirrors SignatureData byte-for-byte in length
	// for gas estimation. Authorization checks still run; only
	// signature-grade bytes are substituted.
	DummySignatureData(op *kernel.UserOperation) ([]byte, error)
}

// SudoPolicy grants unrestricted authority. Its only use is composing
// with restrictive policies during migration; the validator constructor
// warns whenever one is present.
type SudoPolicy struct{}

func (SudoPolicy) Kind() Kind { return KindSudo }

func (SudoPolicy) InfoBytes() ([]byte, error) { return []byte{byte(KindSudo)}, nil }

func (SudoPolicy) SignatureData(*kernel.UserOperation) ([]byte, error) { return nil, nil }

func (SudoPolicy) DummySignatureData(*kernel.UserOperation) ([]byte, error) { return nil, nil }

// GasPolicy caps the total gas cost a delegate operation may incur.
type GasPolicy struct {
	// MaxGasCost is the ceiling on maxFeePerGas * total gas, in wei.
	MaxGasCost *uint256.Int
}

func (GasPolicy) Kind() Kind { return KindGas }

func (p GasPolicy) InfoBytes() ([]byte, error) {
	max := p.MaxGasCost
	if max == nil {
		max = new(uint256.Int)
	}
	buf := make([]byte, 33)
	buf[0] = byte(KindGas)
	b := max.Bytes32()
	copy(buf[1:], b[:])
	return buf, nil
}

func (GasPolicy) SignatureData(*kernel.UserOperation) ([]byte, error) { return nil, nil }

func (GasPolicy) DummySignatureData(*kernel.UserOperation) ([]byte, error) { return nil, nil }

// TimestampPolicy bounds the delegation to a wall-clock window.
type TimestampPolicy struct {
	ValidAfter uint64
	ValidUntil uint64
}

func (TimestampPolicy) Kind() Kind { return KindTimestamp }

func (p TimestampPolicy) InfoBytes() ([]byte, error) {
	if p.ValidAfter >= 1<<48 || p.ValidUntil >= 1<<48 {
		return nil, errors.New("modular: timestamp outside uint48 range")
	}
	buf := make([]byte, 0, 13)
	buf = append(buf, byte(KindTimestamp))
	buf = appendUint48(buf, p.ValidAfter)
	buf = appendUint48(buf, p.ValidUntil)
	return buf, nil
}

func (TimestampPolicy) SignatureData(*kernel.UserOperation) ([]byte, error) { return nil, nil }

func (TimestampPolicy) DummySignatureData(*kernel.UserOperation) ([]byte, error) { return nil, nil }

// RateLimitPolicy caps how often the delegate may run: at most Count
// operations per Interval seconds, starting at StartAt (0 = first use).
type RateLimitPolicy struct {
	Interval uint64
	Count    uint64
	StartAt  uint64
}

func (RateLimitPolicy) Kind() Kind { return KindRateLimit }

func (p RateLimitPolicy) InfoBytes() ([]byte, error) {
	if p.Interval >= 1<<48 || p.Count >= 1<<48 || p.StartAt >= 1<<48 {
		return nil, errors.New("modular: rate limit field outside uint48 range")
	}
	buf := make([]byte, 0, 19)
	buf = append(buf, byte(KindRateLimit))
	buf = appendUint48(buf, p.Interval)
	buf = appendUint48(buf, p.Count)
	buf = appendUint48(buf, p.StartAt)
	return buf, nil
}

func (RateLimitPolicy) SignatureData(*kernel.UserOperation) ([]byte, error) { return nil, nil }

func (RateLimitPolicy) DummySignatureData(*kernel.UserOperation) ([]byte, error) { return nil, nil }

// SignaturePolicy requires the operation to be co-signed by one of the
// allowed signers; the co-signature travels in the policy data.
type SignaturePolicy struct {
	AllowedSigners []common.Address

	// CoSigner supplies the co-signature at signing time; nil leaves
	// the slot empty (to be filled by an outer coordinator). The digest
	// is the operation's packed-fields hash, so the co-signature binds
	// every operation field; the entry point and chain id are not part
	// of it.
	CoSigner func(digest common.Hash) ([]byte, error)
}

func (SignaturePolicy) Kind() Kind { return KindSignature }

func (p SignaturePolicy) InfoBytes() ([]byte, error) {
	buf := make([]byte, 0, 1+20*len(p.AllowedSigners))
	buf = append(buf, byte(KindSignature))
	for _, a := range p.AllowedSigners {
		buf = append(buf, a.Bytes()...)
	}
	return buf, nil
}

func (p SignaturePolicy) SignatureData(op *kernel.UserOperation) ([]byte, error) {
	if p.CoSigner == nil {
		return make([]byte, 65), nil
	}
	return p.CoSigner(kernel.UserOpFieldsHash(op))
}

func (p SignaturePolicy) DummySignatureData(*kernel.UserOperation) ([]byte, error) {
	return make([]byte, 65), nil
}

// CallPolicy scopes which calls the delegate may make. It is the shared
// core of both validator variants: the same canonical rule encodings,
// the same commitment tree, the same matcher.
type CallPolicy struct {
	rules *permission.RuleSet
	tree  *merkle.Tree
}

// NewCallPolicy resolves the specs into an index-stamped rule set and
// commits it.
func NewCallPolicy(specs []permission.Spec, d permission.Defaults) (*CallPolicy, error) {
	rules, err := permission.NewRuleSet(specs, d)
	if err != nil {
		return nil, err
	}
	return &CallPolicy{rules: rules, tree: merkle.Build(rules.Encodings())}, nil
}

func (*CallPolicy) Kind() Kind { return KindCall }

// Rules returns the committed rule set.
func (p *CallPolicy) Rules() *permission.RuleSet { return p.rules }

// MerkleRoot returns the commitment root over the rule set.
func (p *CallPolicy) MerkleRoot() common.Hash { return p.tree.Root() }

// InfoBytes carries the kind tag and the commitment root.
func (p *CallPolicy) InfoBytes() ([]byte, error) {
	buf := make([]byte, 0, 33)
	buf = append(buf, byte(KindCall))
	root := p.tree.Root()
	return append(buf, root[:]...), nil
}

// SignatureData matches the operation's calls against the rule set and
// returns the matched permissions with their inclusion proofs. With
// rules configured and no match it fails with an AuthorizationError;
// with no rules it returns nothing and gates nothing.
func (p *CallPolicy) SignatureData(op *kernel.UserOperation) ([]byte, error) {
	return kernel.ProofSegment(p.rules, p.tree, op.CallData)
}

// DummySignatureData performs the real proof lookup; there are no
// signature-grade bytes in this policy's data to substitute.
func (p *CallPolicy) DummySignatureData(op *kernel.UserOperation) ([]byte, error) {
	return p.SignatureData(op)
}

func appendUint48(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v>>40), byte(v>>32), byte(v>>24),
		byte(v>>16), byte(v>>8), byte(v))
}
