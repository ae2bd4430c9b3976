package kernel

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ChainReader is the read-only view of the chain this package needs.
// *ethclient.Client satisfies it; tests supply a stub. Transport,
// retries and caching all live behind this interface.
type ChainReader interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Read surface of the validator and wallet contracts. Only the views the
// validators consume are declared.
const readerABIJSON = `[
	{"type":"function","name":"nonces","stateMutability":"view",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"lastNonce","type":"uint256"},{"name":"invalidNonce","type":"uint256"}]},
	{"type":"function","name":"sessionData","stateMutability":"view",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[
			{"name":"merkleRoot","type":"bytes32"},
			{"name":"validAfter","type":"uint48"},
			{"name":"validUntil","type":"uint48"},
			{"name":"paymaster","type":"address"},
			{"name":"nonce","type":"uint256"}]},
	{"type":"function","name":"getExecution","stateMutability":"view",
		"inputs":[{"name":"selector","type":"bytes4"}],
		"outputs":[
			{"name":"validAfter","type":"uint48"},
			{"name":"validUntil","type":"uint48"},
			{"name":"executor","type":"address"},
			{"name":"validator","type":"address"}]},
	{"type":"function","name":"permissions","stateMutability":"view",
		"inputs":[{"name":"permissionId","type":"bytes4"},{"name":"account","type":"address"}],
		"outputs":[{"name":"dataHash","type":"bytes32"}]}
]`

var readerABI = mustParseABI(readerABIJSON)

func mustParseABI(js string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(js))
	if err != nil {
		panic(err)
	}
	return parsed
}

// StoredSession is the session state the validator contract holds for
// one (delegate, account) pair, as read back from chain.
type StoredSession struct {
	MerkleRoot common.Hash
	ValidAfter uint64
	ValidUntil uint64
	Paymaster  common.Address
	Nonce      *big.Int
}

// ExecutionDetail is the wallet's per-selector execution config: which
// executor and validator serve a selector, and in which window.
type ExecutionDetail struct {
	ValidAfter uint64
	ValidUntil uint64
	Executor   common.Address
	Validator  common.Address
}

// Reader performs the read-only contract queries. Every failure comes
// back as a TransportError; no retries, no defaults.
type Reader struct {
	client ChainReader
	log    *zap.Logger
}

// NewReader wraps a ChainReader. A nil logger falls back to zap.NewNop.
func NewReader(client ChainReader, log *zap.Logger) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reader{client: client, log: log}
}

// ChainID returns the chain identifier of the connected network.
func (r *Reader) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := r.client.ChainID(ctx)
	if err != nil {
		return nil, &TransportError{Op: "chainId", Err: err}
	}
	return id, nil
}

func (r *Reader) call(ctx context.Context, contract common.Address, method string, args ...interface{}) ([]interface{}, error) {
	input, err := readerABI.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "kernel: pack %s", method)
	}
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		return nil, &TransportError{Op: method, Err: err}
	}
	vals, err := readerABI.Unpack(method, out)
	if err != nil {
		return nil, &TransportError{Op: method, Err: errors.Wrap(err, "unpack")}
	}
	return vals, nil
}

// Nonces reads the last-used and last-invalidated enable nonces the
// validator contract tracks for the account.
func (r *Reader) Nonces(ctx context.Context, validator, account common.Address) (last, invalid *big.Int, err error) {
	vals, err := r.call(ctx, validator, "nonces", account)
	if err != nil {
		return nil, nil, err
	}
	last, invalid = vals[0].(*big.Int), vals[1].(*big.Int)
	r.log.Debug("read enable nonces",
		zap.Stringer("validator", validator),
		zap.Stringer("account", account),
		zap.Stringer("last", last),
		zap.Stringer("invalid", invalid))
	return last, invalid, nil
}

// SessionData reads the session state currently enabled for the account.
func (r *Reader) SessionData(ctx context.Context, validator, account common.Address) (StoredSession, error) {
	vals, err := r.call(ctx, validator, "sessionData", account)
	if err != nil {
		return StoredSession{}, err
	}
	return StoredSession{
		MerkleRoot: vals[0].([32]byte),
		ValidAfter: vals[1].(*big.Int).Uint64(),
		ValidUntil: vals[2].(*big.Int).Uint64(),
		Paymaster:  vals[3].(common.Address),
		Nonce:      vals[4].(*big.Int),
	}, nil
}

// Execution reads the wallet's execution config for a selector.
func (r *Reader) Execution(ctx context.Context, account common.Address, selector [4]byte) (ExecutionDetail, error) {
	vals, err := r.call(ctx, account, "getExecution", selector)
	if err != nil {
		return ExecutionDetail{}, err
	}
	return ExecutionDetail{
		ValidAfter: vals[0].(*big.Int).Uint64(),
		ValidUntil: vals[1].(*big.Int).Uint64(),
		Executor:   vals[2].(common.Address),
		Validator:  vals[3].(common.Address),
	}, nil
}

// PermissionHash reads the stored enable-payload hash for a modular
// permission id on the account.
func (r *Reader) PermissionHash(ctx context.Context, validator common.Address, id [4]byte, account common.Address) (common.Hash, error) {
	vals, err := r.call(ctx, validator, "permissions", id, account)
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(vals[0].([32]byte)), nil
}
