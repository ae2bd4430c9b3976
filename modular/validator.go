package modular

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/sessionkit/sessionkit/kernel"
	"github.com/sessionkit/sessionkit/signer"
)

// Config describes one policy-composed delegation.
type Config struct {
	// ValidatorAddress is the permission validator contract.
	ValidatorAddress common.Address

	// Delegate signs operations on the wallet's behalf.
	Delegate signer.Signer

	// Policies compose the delegate's authority; every policy must
	// pass for an operation to validate. Order matters: it enters the
	// permission id and the signature-data framing.
	Policies []Policy

	// EntryPoint the operations are submitted through.
	EntryPoint common.Address

	// Client reads chain state. May be nil for offline flows.
	Client kernel.ChainReader

	// ChainID pins the chain, skipping the ChainID read per signature.
	ChainID *big.Int

	// Logger for debug output. Nil means silent.
	Logger *zap.Logger
}

// Validator authorizes operations for one policy-composed delegation.
// Built once; read-only and safe for concurrent use afterwards.
type Validator struct {
	cfg    Config
	infos  [][]byte
	id     [4]byte
	reader *kernel.Reader
	log    *zap.Logger
}

// New serializes the policies and derives the permission id: the first
// four bytes of keccak256 over the concatenated policy info blobs, so
// the id commits to the policy set and its order.
func New(cfg Config) (*Validator, error) {
	if cfg.Delegate == nil {
		return nil, kernel.Configf("permission delegate signer is required")
	}
	if cfg.ValidatorAddress == (common.Address{}) {
		return nil, kernel.Configf("validator contract address is required")
	}
	if len(cfg.Policies) == 0 {
		return nil, kernel.Configf("at least one policy is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	v := &Validator{cfg: cfg, log: log}
	var concat []byte
	for i, p := range cfg.Policies {
		info, err := p.InfoBytes()
		if err != nil {
			return nil, err
		}
		v.infos = append(v.infos, info)
		concat = append(concat, info...)
		if p.Kind() == KindSudo {
			log.Warn("sudo policy composed into delegation; it removes all restrictions",
				zap.Int("position", i))
		}
	}
	copy(v.id[:], crypto.Keccak256(concat)[:4])

	if cfg.Client != nil {
		v.reader = kernel.NewReader(cfg.Client, log)
	}
	log.Debug("permission validator composed",
		zap.Stringer("delegate", cfg.Delegate.Address()),
		zap.Int("policies", len(cfg.Policies)),
		zap.String("permissionId", common.Bytes2Hex(v.id[:])))
	return v, nil
}

// PermissionID identifies this policy composition on-chain.
func (v *Validator) PermissionID() [4]byte {
	return v.id
}

// Delegate returns the delegate identity.
func (v *Validator) Delegate() common.Address {
	return v.cfg.Delegate.Address()
}

// Enable payload layout: delegate address plus the tagged policy blobs,
// in composition order.
var enableArgs = abi.Arguments{
	{Type: mustType("address", nil)},
	{Type: mustType("tuple[]", []abi.ArgumentMarshaling{
		{Name: "kind", Type: "uint8"},
		{Name: "data", Type: "bytes"},
	})},
}

func mustType(t string, components []abi.ArgumentMarshaling) abi.Type {
	typ, err := abi.NewType(t, "", components)
	if err != nil {
		panic(err)
	}
	return typ
}

type taggedPolicy struct {
	Kind uint8
	Data []byte
}

// BuildEnableData serializes the delegate identity and the policy set
// into the enable payload the validator contract stores (hashed) under
// the permission id.
func (v *Validator) BuildEnableData() ([]byte, error) {
	tagged := make([]taggedPolicy, len(v.cfg.Policies))
	for i, p := range v.cfg.Policies {
		tagged[i] = taggedPolicy{Kind: uint8(p.Kind()), Data: v.infos[i]}
	}
	return enableArgs.Pack(v.cfg.Delegate.Address(), tagged)
}

// IsEnabled reports whether the account has exactly this composition
// enabled: the stored hash under the permission id must equal the hash
// of the locally re-derived enable payload. Advisory only; every
// failure degrades to false.
func (v *Validator) IsEnabled(ctx context.Context, account common.Address) bool {
	if v.reader == nil {
		return false
	}
	stored, err := v.reader.PermissionHash(ctx, v.cfg.ValidatorAddress, v.id, account)
	if err != nil {
		v.log.Debug("enabled check: permission read failed", zap.Error(err))
		return false
	}
	expected, err := v.BuildEnableData()
	if err != nil {
		return false
	}
	return stored == crypto.Keccak256Hash(expected)
}

// SignUserOperation authorizes the operation: permission id, normalized
// delegate signature, then each policy's signature data framed with a
// 32-byte length prefix, in composition order. Any policy refusing the
// operation fails the whole signature with its error.
func (v *Validator) SignUserOperation(ctx context.Context, op *kernel.UserOperation) ([]byte, error) {
	chainID := v.cfg.ChainID
	if chainID == nil {
		if v.reader == nil {
			return nil, kernel.Configf("signing requires a chain id or a chain client")
		}
		id, err := v.reader.ChainID(ctx)
		if err != nil {
			return nil, err
		}
		chainID = id
	}

	digest := kernel.UserOpHash(op, v.cfg.EntryPoint, chainID)
	raw, err := v.cfg.Delegate.SignHash(ctx, digest)
	if err != nil {
		return nil, &kernel.SignerError{Err: err}
	}
	fixed, err := signer.NormalizeSig(raw)
	if err != nil {
		return nil, &kernel.SignerError{Err: err}
	}

	return v.assemble(op, fixed, Policy.SignatureData)
}

// DummySignature mirrors SignUserOperation byte-for-byte in length with
// a fixed dummy signature and each policy's dummy data. Policies still
// run their authorization checks.
func (v *Validator) DummySignature(op *kernel.UserOperation) ([]byte, error) {
	return v.assemble(op, dummyECDSASignature, Policy.DummySignatureData)
}

func (v *Validator) assemble(op *kernel.UserOperation, sig []byte, data func(Policy, *kernel.UserOperation) ([]byte, error)) ([]byte, error) {
	out := make([]byte, 0, 4+len(sig))
	out = append(out, v.id[:]...)
	out = append(out, sig...)
	for _, p := range v.cfg.Policies {
		d, err := data(p, op)
		if err != nil {
			return nil, err
		}
		out = append(out, lengthWord(len(d))...)
		out = append(out, d...)
	}
	return out, nil
}

func lengthWord(n int) []byte {
	var word [32]byte
	big.NewInt(int64(n)).FillBytes(word[:])
	return word[:]
}

// dummyECDSASignature matches the byte length of a real normalized
// signature for estimation.
var dummyECDSASignature = func() []byte {
	sig := make([]byte, 65)
	for i := range sig[:64] {
		sig[i] = 0xff
	}
	sig[64] = 0x1c
	return sig
}()
