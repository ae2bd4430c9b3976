// Package signer defines the signing capability the validators consume
// and the byte-level signature fix-up that makes signatures from
// different signer implementations interchangeable on-chain.
//
// The capability is narrow: sign a raw 32-byte digest, sign
// an EIP-712 typed-data struct, report the signer address. Key custody,
// hardware wallets and remote signers all live behind this interface.
package signer

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
)

// Signer is the opaque signing capability. Both methods return 65-byte
// R || S || V signatures; V conventions vary by implementation and are
// unified by NormalizeSig before on-chain use.
type Signer interface {
	// Address returns the address corresponding to the signing key.
	Address() common.Address

	// SignHash signs a raw 32-byte digest.
	SignHash(ctx context.Context, digest common.Hash) ([]byte, error)

	// SignTypedData signs an EIP-712 typed-data struct.
	SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error)
}

// LocalSigner signs with an in-memory secp256k1 key. Intended for tests
// and offline enable-data precomputation.
type LocalSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewLocalSigner wraps a secp256k1 private key.
func NewLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the key's address.
func (s *LocalSigner) Address() common.Address {
	return s.addr
}

// SignHash signs the digest. The returned V is raw (0 or 1), as
// produced by the underlying library; callers normalize.
func (s *LocalSigner) SignHash(_ context.Context, digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, errors.Wrap(err, "signer: sign hash")
	}
	return sig, nil
}

// SignTypedData hashes the typed-data struct per EIP-712 and signs the
// resulting digest.
func (s *LocalSigner) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, errors.Wrap(err, "signer: typed data hash")
	}
	return s.SignHash(ctx, common.BytesToHash(digest))
}
