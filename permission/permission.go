// Package permission models the rule set a delegate key is restricted to:
// which contract functions it may call, with which argument constraints,
// value ceilings and execution windows. Each rule has one canonical binary
// encoding; the commitment root stored on-chain is a Merkle root over these
// encodings, so two semantically equal rules must encode identically.
package permission

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Operation discriminates how the wallet performs the outbound call.
type Operation uint8

const (
	// OperationCall is a regular CALL.
	OperationCall Operation = 0
	// OperationDelegateCall executes the target's code in the wallet's
	// own storage context.
	OperationDelegateCall Operation = 1
)

// ParamOperator is the comparison applied to a call parameter word.
type ParamOperator uint8

const (
	Equal ParamOperator = iota
	GreaterThan
	LessThan
	GreaterThanOrEqual
	LessThanOrEqual
	NotEqual
)

// Rule encoding errors.
var (
	ErrOperatorRange = errors.New("permission: parameter operator out of range")
	ErrWindowRange   = errors.New("permission: execution window field exceeds uint48")
)

// uint48 ceiling for execution-window fields.
const maxUint48 = 1<<48 - 1

// ParamRule constrains one fixed-width parameter word of the call data.
// Offset is a byte offset into the argument region (after the selector);
// static arguments live at offsets 0, 32, 64, ...
type ParamRule struct {
	Offset    uint64
	Condition ParamOperator
	Param     common.Hash
}

// ExecutionRule is the optional time-bound sub-window of a permission:
// first valid timestamp, the interval between runs, and the maximum
// number of runs. All fields zero means no sub-window. Enforcement is
// on-chain; locally it is carried only so the encoding commits to it.
type ExecutionRule struct {
	ValidAfter uint64
	Interval   uint64
	Runs       uint64
}

// IsZero reports whether no sub-window is declared.
func (e ExecutionRule) IsZero() bool {
	return e.ValidAfter == 0 && e.Interval == 0 && e.Runs == 0
}

// Permission is one fully-resolved rule. Index is stamped when the rule
// set is constructed and is part of the canonical encoding; reordering a
// committed set would change every encoding and invalidate the root.
//
// A zero Target matches any call target. A nil ValueLimit encodes as 0,
// which on-chain means no ETH may be sent; callers that want "unlimited"
// must say so explicitly before resolution.
type Permission struct {
	Index         uint32
	Target        common.Address
	Operation     Operation
	ValueLimit    *uint256.Int
	Sig           [4]byte
	ParamRules    []ParamRule
	ExecutionRule ExecutionRule
}

// ABI components of the canonical rule encoding. The verifying contract
// hashes abi.encode of this exact tuple; field order and widths are fixed.
var permissionComponents = []abi.ArgumentMarshaling{
	{Name: "index", Type: "uint32"},
	{Name: "target", Type: "address"},
	{Name: "sig", Type: "bytes4"},
	{Name: "valueLimit", Type: "uint256"},
	{Name: "rules", Type: "tuple[]", Components: []abi.ArgumentMarshaling{
		{Name: "offset", Type: "uint256"},
		{Name: "condition", Type: "uint8"},
		{Name: "param", Type: "bytes32"},
	}},
	{Name: "executionRule", Type: "tuple", Components: []abi.ArgumentMarshaling{
		{Name: "validAfter", Type: "uint48"},
		{Name: "interval", Type: "uint48"},
		{Name: "runs", Type: "uint48"},
	}},
	{Name: "operation", Type: "uint8"},
}

var permissionArgs = abi.Arguments{{Type: mustType("tuple", permissionComponents)}}

// Mirror structs in the exact Go shapes the ABI codec packs from.
type abiParamRule struct {
	Offset    *big.Int
	Condition uint8
	Param     [32]byte
}

type abiExecutionRule struct {
	ValidAfter *big.Int
	Interval   *big.Int
	Runs       *big.Int
}

type abiPermission struct {
	Index         uint32
	Target        common.Address
	Sig           [4]byte
	ValueLimit    *big.Int
	Rules         []abiParamRule
	ExecutionRule abiExecutionRule
	Operation     uint8
}

// Encode produces the canonical byte encoding of the permission. The
// encoding is deterministic and injective over the semantic fields; it is
// what gets hashed into the commitment tree and what travels alongside
// the Merkle proof in the authorization payload.
func (p Permission) Encode() ([]byte, error) {
	for _, r := range p.ParamRules {
		if r.Condition > NotEqual {
			return nil, ErrOperatorRange
		}
	}
	er := p.ExecutionRule
	if er.ValidAfter > maxUint48 || er.Interval > maxUint48 || er.Runs > maxUint48 {
		return nil, ErrWindowRange
	}

	return permissionArgs.Pack(p.toABI())
}

func (p Permission) toABI() abiPermission {
	limit := new(big.Int)
	if p.ValueLimit != nil {
		limit = p.ValueLimit.ToBig()
	}
	rules := make([]abiParamRule, len(p.ParamRules))
	for i, r := range p.ParamRules {
		rules[i] = abiParamRule{
			Offset:    new(big.Int).SetUint64(r.Offset),
			Condition: uint8(r.Condition),
			Param:     r.Param,
		}
	}
	return abiPermission{
		Index:      p.Index,
		Target:     p.Target,
		Sig:        p.Sig,
		ValueLimit: limit,
		Rules:      rules,
		ExecutionRule: abiExecutionRule{
			ValidAfter: new(big.Int).SetUint64(p.ExecutionRule.ValidAfter),
			Interval:   new(big.Int).SetUint64(p.ExecutionRule.Interval),
			Runs:       new(big.Int).SetUint64(p.ExecutionRule.Runs),
		},
		Operation: uint8(p.Operation),
	}
}
