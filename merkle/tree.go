// Package merkle builds the permission commitment tree: a Merkle tree over
// encoded permission entries whose root is stored on-chain as the compact
// commitment to a delegate's rule set.
//
// Keccak-256 is used for all hashing. The leaf-hash level is sorted before
// any pairing, so the root commits to the set of entries and is invariant
// under permutation of the input order. At every level the two children of
// a pair are additionally sorted before hashing, so H(a,b) == H(b,a) and
// the root can be recomputed from a proof without knowing left/right
// positions. An odd node at any level is promoted unchanged.
//
// Two degenerate shapes are special-cased:
//   - zero leaves: the tree is a single unhashed placeholder node (32 zero
//     bytes) acting as both leaf and root. It means "no call restrictions";
//     requesting a proof against it is a contract violation and errors.
//   - one leaf: the leaf is duplicated so the tree has exactly two leaves
//     and every committed entry has a well-formed one-element proof.
package merkle

import (
	"bytes"
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// Commitment tree errors.
var (
	ErrProofOnPlaceholder = errors.New("merkle: proof requested against placeholder tree")
	ErrLeafNotFound       = errors.New("merkle: leaf not present in tree")
)

// PlaceholderRoot is the root committed for an empty rule set: 32 zero
// bytes, never passed through the hash.
var PlaceholderRoot = common.Hash{}

// Tree is an immutable commitment tree. Build once, then share freely:
// all methods are read-only and safe for concurrent use.
type Tree struct {
	leaves      [][]byte        // original encodings, construction order
	levels      [][]common.Hash // levels[0] = leaf hashes, last = root
	placeholder bool
}

// keccak256 hashes the concatenation of the given byte slices.
func keccak256(data ...[]byte) common.Hash {
	d := sha3.NewLegacyKeccak256()
	for _, b := range data {
		d.Write(b)
	}
	var h common.Hash
	d.Sum(h[:0])
	return h
}

// hashPair hashes two nodes with the smaller hash first.
func hashPair(a, b common.Hash) common.Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return keccak256(a[:], b[:])
}

// Build constructs the commitment tree over the given leaf encodings.
// Leaves are hashed with keccak256 before tree construction. The input
// slices are copied; the caller may reuse them.
func Build(leaves [][]byte) *Tree {
	if len(leaves) == 0 {
		return &Tree{
			levels:      [][]common.Hash{{PlaceholderRoot}},
			placeholder: true,
		}
	}

	t := &Tree{leaves: make([][]byte, 0, len(leaves))}
	for _, l := range leaves {
		t.leaves = append(t.leaves, bytes.Clone(l))
	}

	level := make([]common.Hash, 0, len(leaves)+1)
	for _, l := range t.leaves {
		level = append(level, keccak256(l))
	}
	if len(level) == 1 {
		// Duplicate so a single committed entry still has a sibling.
		level = append(level, level[0])
	}
	// Sort the leaf hashes so the pairing, and therefore the root, does
	// not depend on the order the encodings were passed in.
	sort.Slice(level, func(i, j int) bool {
		return bytes.Compare(level[i][:], level[j][:]) < 0
	})
	t.levels = append(t.levels, level)

	for len(level) > 1 {
		next := make([]common.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t
}

// Root returns the 32-byte commitment root.
func (t *Tree) Root() common.Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// IsPlaceholder reports whether the tree commits to an empty rule set.
func (t *Tree) IsPlaceholder() bool {
	return t.placeholder
}

// Len returns the number of committed leaf encodings. The duplicated
// sibling of a single-leaf tree is not counted.
func (t *Tree) Len() int {
	return len(t.leaves)
}

// Proof returns the sibling hashes proving inclusion of the given leaf
// encoding, ordered leaf-to-root. The leaf is located by its hash in the
// sorted leaf level. Proof requests against the placeholder tree fail
// with ErrProofOnPlaceholder.
func (t *Tree) Proof(leaf []byte) ([]common.Hash, error) {
	if t.placeholder {
		return nil, ErrProofOnPlaceholder
	}

	h := keccak256(leaf)
	idx := -1
	for i, n := range t.levels[0] {
		if n == h {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, ErrLeafNotFound
	}

	proof := make([]common.Hash, 0, len(t.levels)-1)
	for _, level := range t.levels[:len(t.levels)-1] {
		sib := idx ^ 1
		if sib < len(level) {
			proof = append(proof, level[sib])
		}
		idx /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the root from a leaf encoding and its proof and
// compares it to the expected root. Pair ordering during recomputation
// follows the same sorted-pair rule used at build time.
func VerifyProof(root common.Hash, leaf []byte, proof []common.Hash) bool {
	node := keccak256(leaf)
	for _, sib := range proof {
		node = hashPair(node, sib)
	}
	return node == root
}
