package kernel

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/sessionkit/sessionkit/merkle"
	"github.com/sessionkit/sessionkit/permission"
)

// ProofSegment is the shared authorization core of both validator
// variants: decode the wallet execute call data, match every call
// against the committed rule set, and encode the matched permissions
// with their inclusion proofs, in match order.
//
// An empty rule set yields an empty segment and gates nothing; the
// delegation then rests on the enable nonce alone. With rules
// configured, a call matching none of them fails with an
// AuthorizationError, and call data that is not an execute call at all
// is equally unauthorized.
func ProofSegment(rules *permission.RuleSet, tree *merkle.Tree, callData []byte) ([]byte, error) {
	if rules.Empty() {
		return nil, nil
	}

	calls, err := DecodeCalls(callData)
	if err != nil {
		return nil, Unauthorizedf("call data is not a wallet execute call: %v", err)
	}

	var (
		perms  []permission.Permission
		proofs [][]common.Hash
		seen   = make(map[uint32]bool)
	)
	for i, call := range calls {
		matched := rules.Match(call)
		if len(matched) == 0 {
			return nil, Unauthorizedf("call %d to %s matches no configured permission", i, call.To)
		}
		for _, p := range matched {
			if seen[p.Index] {
				continue
			}
			seen[p.Index] = true
			proof, err := tree.Proof(rules.Encoding(p.Index))
			if err != nil {
				// Unreachable for a committed non-empty set.
				return nil, err
			}
			perms = append(perms, p)
			proofs = append(proofs, proof)
		}
	}
	return permission.EncodeProofSegment(perms, proofs)
}
