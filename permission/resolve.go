package permission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Resolution errors.
var (
	ErrNoSelector   = errors.New("permission: spec has neither selector nor signature")
	ErrBadSelector  = errors.New("permission: explicit selector must be 4 bytes")
	ErrBadSignature = errors.New("permission: malformed function signature")
)

// Spec is a declarative, partially-specified permission. Optional fields
// left unset are filled from Defaults during resolution; nothing optional
// survives past Resolve, so the encoder only ever sees canonical rules.
type Spec struct {
	Target common.Address

	// Operation overrides the default call kind when non-nil.
	Operation *Operation

	// ValueLimit is the ETH ceiling per call. nil falls back to the
	// default, and an absent default means 0: no ETH allowed. "Unset"
	// and "zero" are therefore distinguishable up to this point and
	// identical afterwards.
	ValueLimit *uint256.Int

	// Selector pins the 4-byte function selector directly.
	Selector []byte

	// Signature derives the selector from a canonical ABI signature,
	// e.g. "transfer(address,uint256)". Ignored when Selector is set.
	Signature string

	// Args constrains static arguments by position; each becomes a
	// ParamRule at offset 32*Position.
	Args []ArgCondition

	// ParamRules are appended after the Args-derived rules for
	// constraints at hand-picked byte offsets.
	ParamRules []ParamRule

	// ExecutionRule declares the optional time-bound sub-window.
	ExecutionRule ExecutionRule
}

// ArgCondition constrains one static argument of the permitted function.
type ArgCondition struct {
	Position  uint64
	Condition ParamOperator
	Value     common.Hash
}

// Defaults carries the optional rule fields shared by a whole rule set.
// Per-spec fields always win over defaults.
type Defaults struct {
	Operation     Operation
	ValueLimit    *uint256.Int
	ExecutionRule ExecutionRule
}

// SelectorFromSignature derives the 4-byte selector of a canonical ABI
// function signature. The derivation is deterministic: whitespace around
// the signature is the only tolerated variation.
func SelectorFromSignature(sig string) ([4]byte, error) {
	var sel [4]byte
	sig = strings.TrimSpace(sig)
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") || strings.ContainsAny(sig, " \t\n") {
		return sel, fmt.Errorf("%w: %q", ErrBadSignature, sig)
	}
	copy(sel[:], crypto.Keccak256([]byte(sig))[:4])
	return sel, nil
}

// Resolve merges a Spec with layered Defaults into one canonical
// Permission. The index is left at zero; NewRuleSet stamps it.
func Resolve(spec Spec, d Defaults) (Permission, error) {
	p := Permission{
		Target:        spec.Target,
		Operation:     d.Operation,
		ValueLimit:    d.ValueLimit,
		ExecutionRule: d.ExecutionRule,
	}
	if spec.Operation != nil {
		p.Operation = *spec.Operation
	}
	if spec.ValueLimit != nil {
		p.ValueLimit = spec.ValueLimit
	}
	if !spec.ExecutionRule.IsZero() {
		p.ExecutionRule = spec.ExecutionRule
	}

	switch {
	case len(spec.Selector) == 4:
		copy(p.Sig[:], spec.Selector)
	case len(spec.Selector) != 0:
		return Permission{}, ErrBadSelector
	case spec.Signature != "":
		sel, err := SelectorFromSignature(spec.Signature)
		if err != nil {
			return Permission{}, err
		}
		p.Sig = sel
	default:
		return Permission{}, ErrNoSelector
	}

	p.ParamRules = make([]ParamRule, 0, len(spec.Args)+len(spec.ParamRules))
	for _, a := range spec.Args {
		p.ParamRules = append(p.ParamRules, ParamRule{
			Offset:    32 * a.Position,
			Condition: a.Condition,
			Param:     a.Value,
		})
	}
	p.ParamRules = append(p.ParamRules, spec.ParamRules...)
	return p, nil
}
