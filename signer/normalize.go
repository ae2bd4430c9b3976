package signer

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// Normalization errors.
var (
	ErrSigLength = errors.New("signer: signature must be 65 bytes")
	ErrSigV      = errors.New("signer: recovery byte must be 0, 1, 27 or 28")
	ErrSigS      = errors.New("signer: S outside [1, n-1]")
	ErrSigR      = errors.New("signer: R outside [1, n-1]")
)

var (
	secp256k1N     = crypto.S256().Params().N
	secp256k1HalfN = new(big.Int).Rsh(secp256k1N, 1)
)

// NormalizeSig rewrites a 65-byte R || S || V signature into the single
// convention the verifying contracts accept: S in the lower half of the
// curve order (EIP-2) and V in {27, 28}. Signer implementations disagree
// on both points (raw recovery ids 0/1 versus legacy 27/28, high-s
// versus low-s), so every signature passes through here before it is
// framed into an authorization payload.
//
// The input slice is not modified; a new slice is returned.
func NormalizeSig(sig []byte) ([]byte, error) {
	if len(sig) != 65 {
		return nil, ErrSigLength
	}

	out := make([]byte, 65)
	copy(out, sig)

	r := new(big.Int).SetBytes(out[:32])
	if r.Sign() <= 0 || r.Cmp(secp256k1N) >= 0 {
		return nil, ErrSigR
	}

	v := out[64]
	switch v {
	case 0, 1:
		v += 27
	case 27, 28:
	default:
		return nil, ErrSigV
	}

	s := new(big.Int).SetBytes(out[32:64])
	if s.Sign() <= 0 || s.Cmp(secp256k1N) >= 0 {
		return nil, ErrSigS
	}
	if s.Cmp(secp256k1HalfN) > 0 {
		s.Sub(secp256k1N, s)
		s.FillBytes(out[32:64])
		// Negating S flips the recovery bit.
		if v == 27 {
			v = 28
		} else {
			v = 27
		}
	}

	out[64] = v
	return out, nil
}
