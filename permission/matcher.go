package permission

import (
	"bytes"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Call is one outbound call the wallet is asked to perform. Batched
// operations decompose into one Call per entry before matching.
type Call struct {
	To        common.Address
	Value     *uint256.Int
	Data      []byte
	Operation Operation
}

// RuleSet is an ordered, index-stamped sequence of resolved permissions
// together with their canonical encodings. Construction stamps indices
// once; the set is immutable afterwards and safe for concurrent readers.
type RuleSet struct {
	perms     []Permission
	encodings [][]byte
}

// NewRuleSet resolves each spec against the shared defaults, stamps
// construction-order indices and precomputes the canonical encodings.
// An empty spec list is legal and produces the ungated empty set.
func NewRuleSet(specs []Spec, d Defaults) (*RuleSet, error) {
	rs := &RuleSet{
		perms:     make([]Permission, 0, len(specs)),
		encodings: make([][]byte, 0, len(specs)),
	}
	for i, spec := range specs {
		p, err := Resolve(spec, d)
		if err != nil {
			return nil, err
		}
		p.Index = uint32(i)
		enc, err := p.Encode()
		if err != nil {
			return nil, err
		}
		rs.perms = append(rs.perms, p)
		rs.encodings = append(rs.encodings, enc)
	}
	return rs, nil
}

// NewRuleSetFromPermissions wraps already-resolved permissions, stamping
// indices in the given order.
func NewRuleSetFromPermissions(perms []Permission) (*RuleSet, error) {
	rs := &RuleSet{
		perms:     make([]Permission, len(perms)),
		encodings: make([][]byte, len(perms)),
	}
	for i, p := range perms {
		p.Index = uint32(i)
		enc, err := p.Encode()
		if err != nil {
			return nil, err
		}
		rs.perms[i] = p
		rs.encodings[i] = enc
	}
	return rs, nil
}

// Empty reports whether no rules are configured. An empty set commits to
// the placeholder root and gates nothing: callers must treat "no match
// against an empty set" as allowed, not as unauthorized.
func (rs *RuleSet) Empty() bool {
	return len(rs.perms) == 0
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.perms)
}

// Permissions returns the stamped permissions in index order.
func (rs *RuleSet) Permissions() []Permission {
	return rs.perms
}

// Encodings returns the canonical leaf encodings in index order. These
// are the inputs to the commitment tree builder.
func (rs *RuleSet) Encodings() [][]byte {
	return rs.encodings
}

// Encoding returns the canonical encoding of the permission at the given
// stamped index.
func (rs *RuleSet) Encoding(index uint32) []byte {
	return rs.encodings[index]
}

// Match returns every permission authorizing the call, in index order.
// A call matches a permission iff the target matches (zero target is a
// wildcard), the operation kind matches, the value does not exceed the
// ceiling, the selector matches, and every parameter rule holds.
//
// Against an empty set Match returns nil with no error; the caller
// distinguishes "ungated" from "unauthorized" via Empty.
func (rs *RuleSet) Match(call Call) []Permission {
	if len(rs.perms) == 0 {
		return nil
	}
	var matched []Permission
	for _, p := range rs.perms {
		if matches(p, call) {
			matched = append(matched, p)
		}
	}
	return matched
}

func matches(p Permission, call Call) bool {
	if p.Target != (common.Address{}) && p.Target != call.To {
		return false
	}
	if p.Operation != call.Operation {
		return false
	}

	value := call.Value
	if value == nil {
		value = new(uint256.Int)
	}
	limit := p.ValueLimit
	if limit == nil {
		limit = new(uint256.Int)
	}
	if value.Gt(limit) {
		return false
	}

	if len(call.Data) < 4 || !bytes.Equal(p.Sig[:], call.Data[:4]) {
		return false
	}

	args := call.Data[4:]
	for _, r := range p.ParamRules {
		if !paramHolds(r, args) {
			return false
		}
	}
	return true
}

// paramHolds evaluates one parameter rule against the argument region.
// A declared offset beyond the call data fails the rule rather than
// matching a phantom zero word.
func paramHolds(r ParamRule, args []byte) bool {
	if uint64(len(args)) < 32 || r.Offset > uint64(len(args))-32 {
		return false
	}
	var word common.Hash
	copy(word[:], args[r.Offset:r.Offset+32])

	switch r.Condition {
	case Equal:
		return word == r.Param
	case NotEqual:
		return word != r.Param
	}

	// Ordered comparisons interpret the word as an unsigned 256-bit
	// big-endian integer.
	w := new(uint256.Int).SetBytes(word[:])
	ref := new(uint256.Int).SetBytes(r.Param[:])
	switch r.Condition {
	case GreaterThan:
		return w.Gt(ref)
	case GreaterThanOrEqual:
		return !w.Lt(ref)
	case LessThan:
		return w.Lt(ref)
	case LessThanOrEqual:
		return !w.Gt(ref)
	}
	return false
}
