package kernel

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserOperation is the entry-point v0.6 operation shape the validators
// sign. Gas and fee fields are big.Ints as they arrive from bundler RPC.
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// UserOpFieldsHash computes the keccak digest of the operation's packed
// fields (dynamic fields enter as their keccak hashes). It binds every
// field of the operation but not the entry point or chain id; UserOpHash
// adds those.
func UserOpFieldsHash(op *UserOperation) common.Hash {
	var buf []byte
	buf = appendAddressAs32(buf, op.Sender)
	buf = appendBigAs32(buf, op.Nonce)
	buf = append(buf, crypto.Keccak256(op.InitCode)...)
	buf = append(buf, crypto.Keccak256(op.CallData)...)
	buf = appendBigAs32(buf, op.CallGasLimit)
	buf = appendBigAs32(buf, op.VerificationGasLimit)
	buf = appendBigAs32(buf, op.PreVerificationGas)
	buf = appendBigAs32(buf, op.MaxFeePerGas)
	buf = appendBigAs32(buf, op.MaxPriorityFeePerGas)
	buf = append(buf, crypto.Keccak256(op.PaymasterAndData)...)
	return crypto.Keccak256Hash(buf)
}

// UserOpHash computes the canonical operation digest the entry point
// verifies signatures against: the packed-fields hash together with the
// entry point address and chain id.
func UserOpHash(op *UserOperation, entryPoint common.Address, chainID *big.Int) common.Hash {
	inner := UserOpFieldsHash(op)

	var outer []byte
	outer = append(outer, inner[:]...)
	outer = appendAddressAs32(outer, entryPoint)
	outer = appendBigAs32(outer, chainID)
	return crypto.Keccak256Hash(outer)
}

// appendAddressAs32 appends a left-padded 32-byte address word.
func appendAddressAs32(buf []byte, a common.Address) []byte {
	var word [32]byte
	copy(word[12:], a.Bytes())
	return append(buf, word[:]...)
}
