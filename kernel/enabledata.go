package kernel

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EnableDataLength is the exact packed size of EnableData:
// delegate(20) + root(32) + validAfter(6) + validUntil(6) +
// paymaster(20) + nonce(32).
const EnableDataLength = 116

// AnyPaymaster is the sentinel paymaster value meaning "no paymaster
// restriction": any paymaster (or none) is accepted.
var AnyPaymaster = common.HexToAddress("0x0000000000000000000000000000000000000001")

// ErrWindowRange is returned when a validity timestamp does not fit its
// 6-byte wire field.
var ErrWindowRange = errors.New("kernel: validity timestamp exceeds uint48")

// maxUint48 is the ceiling of the 6-byte validity fields.
const maxUint48 = 1<<48 - 1

// EnableData is the payload that establishes a delegate's authority
// on-chain: the delegate identity, the commitment root over its rule
// set, the validity window, the paymaster restriction and the enable
// nonce. The packed byte order is consumed by the verifying contract
// and must not be reordered or resized.
type EnableData struct {
	Delegate   common.Address
	MerkleRoot common.Hash
	ValidAfter uint64 // unix seconds, uint48 range
	ValidUntil uint64 // unix seconds, uint48 range; 0 = no expiry
	Paymaster  common.Address
	Nonce      *big.Int
}

// Pack serializes the enable data into its fixed 116-byte layout. A
// validity timestamp outside the uint48 range is an error, never a
// truncation.
func (e EnableData) Pack() ([]byte, error) {
	if e.ValidAfter > maxUint48 || e.ValidUntil > maxUint48 {
		return nil, ErrWindowRange
	}
	buf := make([]byte, 0, EnableDataLength)
	buf = append(buf, e.Delegate.Bytes()...)
	buf = append(buf, e.MerkleRoot.Bytes()...)
	buf = appendUint48(buf, e.ValidAfter)
	buf = appendUint48(buf, e.ValidUntil)
	buf = append(buf, e.Paymaster.Bytes()...)
	buf = appendBigAs32(buf, e.Nonce)
	return buf, nil
}

// UnpackEnableData parses a packed 116-byte enable-data blob.
func UnpackEnableData(b []byte) (EnableData, error) {
	if len(b) != EnableDataLength {
		return EnableData{}, fmt.Errorf("kernel: enable data must be %d bytes, got %d", EnableDataLength, len(b))
	}
	var e EnableData
	e.Delegate = common.BytesToAddress(b[0:20])
	e.MerkleRoot = common.BytesToHash(b[20:52])
	e.ValidAfter = uint48From(b[52:58])
	e.ValidUntil = uint48From(b[58:64])
	e.Paymaster = common.BytesToAddress(b[64:84])
	e.Nonce = new(big.Int).SetBytes(b[84:116])
	return e, nil
}

// appendUint48 appends v as a 6-byte big-endian value.
func appendUint48(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v>>40), byte(v>>32), byte(v>>24),
		byte(v>>16), byte(v>>8), byte(v))
}

func uint48From(b []byte) uint64 {
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}

// appendBigAs32 appends v as a 32-byte big-endian value. nil counts as zero.
func appendBigAs32(buf []byte, v *big.Int) []byte {
	var word [32]byte
	if v != nil {
		v.FillBytes(word[:])
	}
	return append(buf, word[:]...)
}
