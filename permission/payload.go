package permission

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Proof-segment layout: the matched permissions and one Merkle proof per
// permission, ABI-encoded as (Permission[], bytes32[][]). The verifying
// contract decodes this from the tail of the authorization payload and
// checks each proof against the committed root.
var proofSegmentArgs = abi.Arguments{
	{Type: mustType("tuple[]", permissionComponents)},
	{Type: mustType("bytes32[][]", nil)},
}

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

// EncodeProofSegment encodes matched permissions with their inclusion
// proofs. perms and proofs correspond by position and must have equal
// length; match order is preserved.
func EncodeProofSegment(perms []Permission, proofs [][]common.Hash) ([]byte, error) {
	encPerms := make([]abiPermission, len(perms))
	for i, p := range perms {
		encPerms[i] = p.toABI()
	}

	encProofs := make([][][32]byte, len(proofs))
	for i, proof := range proofs {
		encProofs[i] = make([][32]byte, len(proof))
		for j, h := range proof {
			encProofs[i][j] = h
		}
	}
	return proofSegmentArgs.Pack(encPerms, encProofs)
}
