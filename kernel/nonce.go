package kernel

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// 2D nonce layout per the entry-point nonce model: the upper 192 bits
// select an independent authorization lane, the lower 64 bits are the
// sequential counter within that lane.
const (
	nonceKeyBits = 192
	nonceSeqBits = 64
)

// DefaultNonceKey is the lane used when the caller does not pick one.
var DefaultNonceKey = big.NewInt(0)

// EncodeNonce packs a lane key and a sequence number into the 256-bit
// entry-point nonce slot.
func EncodeNonce(key *big.Int, seq uint64) *big.Int {
	n := new(big.Int)
	if key != nil {
		n.Lsh(key, nonceSeqBits)
	}
	return n.Or(n, new(big.Int).SetUint64(seq))
}

// DecodeNonce splits a 256-bit entry-point nonce into lane key and
// sequence number. A nil nonce counts as zero, like the packing helpers.
func DecodeNonce(nonce *big.Int) (key *big.Int, seq uint64) {
	if nonce == nil {
		return new(big.Int), 0
	}
	seqMask := new(big.Int).SetUint64(^uint64(0))
	seq = new(big.Int).And(nonce, seqMask).Uint64()
	key = new(big.Int).Rsh(nonce, nonceSeqBits)
	return key, seq
}

// NonceKey returns the custom lane key verbatim when supplied, else the
// default lane.
func NonceKey(custom *big.Int) *big.Int {
	if custom != nil {
		return custom
	}
	return DefaultNonceKey
}

// NonceTracker resolves the next valid enable nonce for a (validator,
// account) pair. The nonce is re-read from chain on every call; nothing
// is cached across calls, so a restart can never hand out a stale nonce.
type NonceTracker struct {
	reader    *Reader
	validator common.Address
}

// NewNonceTracker builds a tracker for one validator contract.
func NewNonceTracker(reader *Reader, validator common.Address) *NonceTracker {
	return &NonceTracker{reader: reader, validator: validator}
}

// Next returns the pending enable nonce for the account: the last
// observed nonce plus one. Read failures propagate as TransportError.
func (t *NonceTracker) Next(ctx context.Context, account common.Address) (*big.Int, error) {
	last, _, err := t.reader.Nonces(ctx, t.validator, account)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(last, big.NewInt(1)), nil
}

// Invalidated returns the high-water mark of invalidated enable nonces
// for the account.
func (t *NonceTracker) Invalidated(ctx context.Context, account common.Address) (*big.Int, error) {
	_, invalid, err := t.reader.Nonces(ctx, t.validator, account)
	if err != nil {
		return nil, err
	}
	return invalid, nil
}
