// Package sessionkey implements the rule-based session key validator: a
// delegate key whose authority over a smart-contract wallet is scoped to
// a Merkle-committed set of call permissions, bound to a validity window
// and an enable nonce.
//
// A Validator is built once from its configuration; the rule set is
// resolved, index-stamped and committed to its tree at construction, and
// everything is read-only afterwards, so one Validator serves any number
// of concurrent authorization requests.
package sessionkey

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sessionkit/sessionkit/kernel"
	"github.com/sessionkit/sessionkit/merkle"
	"github.com/sessionkit/sessionkit/permission"
	"github.com/sessionkit/sessionkit/signer"
)

// maxUint48 is the ceiling of the 6-byte validity fields.
const maxUint48 = 1<<48 - 1

// Config describes one session-key delegation.
type Config struct {
	// ValidatorAddress is the session key validator contract.
	ValidatorAddress common.Address

	// Executor is the module the wallet routes execution through; zero
	// when the default execution path is used.
	Executor common.Address

	// Delegate signs operations on the wallet's behalf.
	Delegate signer.Signer

	// Specs declare the permitted calls. An empty list is legal and
	// produces an ungated delegate restricted by nonce only.
	Specs    []permission.Spec
	Defaults permission.Defaults

	// ValidAfter and ValidUntil bound the delegation in unix seconds.
	// Zero ValidUntil means no expiry.
	ValidAfter uint64
	ValidUntil uint64

	// Paymaster restricts which paymaster may sponsor delegate
	// operations. Zero means no restriction (the on-chain sentinel).
	Paymaster common.Address

	// EntryPoint the operations are submitted through.
	EntryPoint common.Address

	// Client reads chain state. May be nil for fully-pinned offline
	// flows; operations that need a read then fail with a ConfigError.
	Client kernel.ChainReader

	// ChainID pins the chain, skipping the ChainID read per signature.
	ChainID *big.Int

	// Logger for debug output. Nil means silent.
	Logger *zap.Logger
}

// Validator authorizes operations for one session-key delegation.
type Validator struct {
	cfg    Config
	rules  *permission.RuleSet
	tree   *merkle.Tree
	reader *kernel.Reader
	nonces *kernel.NonceTracker
	log    *zap.Logger
}

// New resolves the configured permission specs, stamps their indices and
// builds the commitment tree.
func New(cfg Config) (*Validator, error) {
	if cfg.Delegate == nil {
		return nil, kernel.Configf("session key delegate signer is required")
	}
	if cfg.ValidatorAddress == (common.Address{}) {
		return nil, kernel.Configf("validator contract address is required")
	}
	if cfg.ValidAfter > maxUint48 || cfg.ValidUntil > maxUint48 {
		return nil, kernel.Configf("validity window must fit uint48")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Paymaster == (common.Address{}) {
		cfg.Paymaster = kernel.AnyPaymaster
	}

	rules, err := permission.NewRuleSet(cfg.Specs, cfg.Defaults)
	if err != nil {
		return nil, err
	}
	tree := merkle.Build(rules.Encodings())

	v := &Validator{
		cfg:   cfg,
		rules: rules,
		tree:  tree,
		log:   log,
	}
	if cfg.Client != nil {
		v.reader = kernel.NewReader(cfg.Client, log)
		v.nonces = kernel.NewNonceTracker(v.reader, cfg.ValidatorAddress)
	}

	if rules.Empty() {
		// Gated by nonce and validity window only.
		log.Warn("session key configured with no call permissions; every call is authorized",
			zap.Stringer("delegate", cfg.Delegate.Address()))
	} else {
		log.Debug("session key rule set committed",
			zap.Stringer("delegate", cfg.Delegate.Address()),
			zap.Int("rules", rules.Len()),
			zap.Stringer("root", tree.Root()))
	}
	return v, nil
}

// Delegate returns the delegate identity.
func (v *Validator) Delegate() common.Address {
	return v.cfg.Delegate.Address()
}

// MerkleRoot returns the commitment root over the rule set; the
// placeholder root when no rules are configured.
func (v *Validator) MerkleRoot() common.Hash {
	return v.tree.Root()
}

// Rules returns the committed rule set.
func (v *Validator) Rules() *permission.RuleSet {
	return v.rules
}

// NonceKey returns the authorization lane for the wallet's entry-point
// nonce: the custom key verbatim when supplied, else the default lane.
func (v *Validator) NonceKey(custom *big.Int) *big.Int {
	return kernel.NonceKey(custom)
}
