package modular

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessionkit/sessionkit/kernel"
	"github.com/sessionkit/sessionkit/permission"
	"github.com/sessionkit/sessionkit/signer"
)

var (
	validatorAddr = common.HexToAddress("0x2A9e8fa175F45b235efDdD97d2727741EF4Eee63")
	entryPoint    = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	accountAddr   = common.HexToAddress("0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0")
	tokenAddr     = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	recipient     = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

type stubChain struct {
	chainID *big.Int
	outputs map[string][]byte
	failAll error
}

func (s *stubChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if s.failAll != nil {
		return nil, s.failAll
	}
	out, ok := s.outputs[string(msg.Data[:4])]
	if !ok {
		return nil, errors.New("unexpected contract call")
	}
	return out, nil
}

func (s *stubChain) ChainID(context.Context) (*big.Int, error) {
	if s.failAll != nil {
		return nil, s.failAll
	}
	return s.chainID, nil
}

func selector(sig string) string {
	return string(crypto.Keccak256([]byte(sig))[:4])
}

func newTestSigner(t *testing.T) *signer.LocalSigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return signer.NewLocalSigner(key)
}

func transferCallPolicy(t *testing.T) *CallPolicy {
	t.Helper()
	p, err := NewCallPolicy([]permission.Spec{{
		Target:    tokenAddr,
		Signature: "transfer(address,uint256)",
		Args: []permission.ArgCondition{
			{Position: 1, Condition: permission.LessThanOrEqual, Value: common.HexToHash("0x64")},
		},
	}}, permission.Defaults{})
	require.NoError(t, err)
	return p
}

func transferOp(t *testing.T, amount uint64) *kernel.UserOperation {
	t.Helper()
	data := crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	data = append(data, common.LeftPadBytes(recipient.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(uint256.NewInt(amount).Bytes(), 32)...)

	callData, err := kernel.EncodeExecute(permission.Call{To: tokenAddr, Data: data})
	require.NoError(t, err)
	return &kernel.UserOperation{
		Sender:               accountAddr,
		Nonce:                big.NewInt(0),
		CallData:             callData,
		CallGasLimit:         big.NewInt(100000),
		VerificationGasLimit: big.NewInt(150000),
		PreVerificationGas:   big.NewInt(21000),
		MaxFeePerGas:         big.NewInt(2e9),
		MaxPriorityFeePerGas: big.NewInt(1e9),
	}
}

func baseConfig(t *testing.T, policies ...Policy) Config {
	return Config{
		ValidatorAddress: validatorAddr,
		Delegate:         newTestSigner(t),
		Policies:         policies,
		EntryPoint:       entryPoint,
		ChainID:          big.NewInt(1),
	}
}

func TestNew_ConfigErrors(t *testing.T) {
	cfg := baseConfig(t, SudoPolicy{})
	cfg.Delegate = nil
	_, err := New(cfg)
	assert.True(t, kernel.IsConfig(err))

	cfg = baseConfig(t, SudoPolicy{})
	cfg.ValidatorAddress = common.Address{}
	_, err = New(cfg)
	assert.True(t, kernel.IsConfig(err))

	cfg = baseConfig(t)
	_, err = New(cfg)
	assert.True(t, kernel.IsConfig(err))
}

func TestPermissionID_OrderDependent(t *testing.T) {
	gas := GasPolicy{MaxGasCost: uint256.NewInt(1e15)}
	ts := TimestampPolicy{ValidAfter: 1700000000, ValidUntil: 1800000000}

	a, err := New(baseConfig(t, gas, ts))
	require.NoError(t, err)
	b, err := New(baseConfig(t, gas, ts))
	require.NoError(t, err)
	c, err := New(baseConfig(t, ts, gas))
	require.NoError(t, err)

	assert.Equal(t, a.PermissionID(), b.PermissionID())
	assert.NotEqual(t, a.PermissionID(), c.PermissionID())
}

func TestPermissionID_MatchesInfoConcat(t *testing.T) {
	p := transferCallPolicy(t)
	v, err := New(baseConfig(t, p, TimestampPolicy{ValidUntil: 1800000000}))
	require.NoError(t, err)

	callInfo, err := p.InfoBytes()
	require.NoError(t, err)
	tsInfo, err := TimestampPolicy{ValidUntil: 1800000000}.InfoBytes()
	require.NoError(t, err)

	var want [4]byte
	copy(want[:], crypto.Keccak256(append(callInfo, tsInfo...))[:4])
	assert.Equal(t, want, v.PermissionID())
}

func TestPolicyInfoLayouts(t *testing.T) {
	gasInfo, err := GasPolicy{MaxGasCost: uint256.NewInt(0x0102)}.InfoBytes()
	require.NoError(t, err)
	require.Len(t, gasInfo, 33)
	assert.Equal(t, byte(KindGas), gasInfo[0])
	assert.Equal(t, []byte{0x01, 0x02}, gasInfo[31:])

	tsInfo, err := TimestampPolicy{ValidAfter: 0x0a, ValidUntil: 0x0b}.InfoBytes()
	require.NoError(t, err)
	require.Len(t, tsInfo, 13)
	assert.Equal(t, byte(KindTimestamp), tsInfo[0])
	assert.Equal(t, byte(0x0a), tsInfo[6])
	assert.Equal(t, byte(0x0b), tsInfo[12])

	rlInfo, err := RateLimitPolicy{Interval: 3600, Count: 5}.InfoBytes()
	require.NoError(t, err)
	require.Len(t, rlInfo, 19)
	assert.Equal(t, byte(KindRateLimit), rlInfo[0])

	_, err = TimestampPolicy{ValidUntil: 1 << 48}.InfoBytes()
	assert.Error(t, err)
	_, err = RateLimitPolicy{Count: 1 << 48}.InfoBytes()
	assert.Error(t, err)

	p := transferCallPolicy(t)
	callInfo, err := p.InfoBytes()
	require.NoError(t, err)
	require.Len(t, callInfo, 33)
	assert.Equal(t, byte(KindCall), callInfo[0])
	assert.Equal(t, p.MerkleRoot().Bytes(), callInfo[1:])
}

func TestBuildEnableData_RoundTrips(t *testing.T) {
	gas := GasPolicy{MaxGasCost: uint256.NewInt(1e15)}
	v, err := New(baseConfig(t, gas, transferCallPolicy(t)))
	require.NoError(t, err)

	blob, err := v.BuildEnableData()
	require.NoError(t, err)

	vals, err := enableArgs.Unpack(blob)
	require.NoError(t, err)
	assert.Equal(t, v.Delegate(), vals[0].(common.Address))

	tagged := vals[1].([]struct {
		Kind uint8  `json:"kind"`
		Data []byte `json:"data"`
	})
	require.Len(t, tagged, 2)
	assert.Equal(t, uint8(KindGas), tagged[0].Kind)
	assert.Equal(t, uint8(KindCall), tagged[1].Kind)

	gasInfo, err := gas.InfoBytes()
	require.NoError(t, err)
	assert.Equal(t, gasInfo, tagged[0].Data)
}

func TestSignUserOperation_Framing(t *testing.T) {
	gas := GasPolicy{MaxGasCost: uint256.NewInt(1e15)}
	call := transferCallPolicy(t)
	cfg := baseConfig(t, gas, call)
	v, err := New(cfg)
	require.NoError(t, err)

	op := transferOp(t, 100)
	sig, err := v.SignUserOperation(context.Background(), op)
	require.NoError(t, err)

	id := v.PermissionID()
	assert.Equal(t, id[:], sig[:4])

	// The delegate signature recovers to the delegate over the userOpHash.
	digest := kernel.UserOpHash(op, entryPoint, big.NewInt(1))
	raw := make([]byte, 65)
	copy(raw, sig[4:69])
	raw[64] -= 27
	pub, err := crypto.SigToPub(digest.Bytes(), raw)
	require.NoError(t, err)
	assert.Equal(t, cfg.Delegate.Address(), crypto.PubkeyToAddress(*pub))

	// Gas policy contributes no data, so its length word is zero.
	rest := sig[69:]
	assert.Equal(t, make([]byte, 32), rest[:32])

	// Call policy data follows, length-prefixed, and is non-empty.
	callLen := new(big.Int).SetBytes(rest[32:64]).Int64()
	require.Greater(t, callLen, int64(0))
	assert.Len(t, rest[64:], int(callLen))
}

func TestSignUserOperation_UnmatchedCallFails(t *testing.T) {
	v, err := New(baseConfig(t, transferCallPolicy(t)))
	require.NoError(t, err)

	_, err = v.SignUserOperation(context.Background(), transferOp(t, 101))
	assert.True(t, kernel.IsAuthorization(err))
}

func TestDummySignature_LengthMatchesReal(t *testing.T) {
	v, err := New(baseConfig(t,
		GasPolicy{MaxGasCost: uint256.NewInt(1e15)},
		transferCallPolicy(t),
		SignaturePolicy{AllowedSigners: []common.Address{recipient}},
	))
	require.NoError(t, err)

	op := transferOp(t, 42)
	real, err := v.SignUserOperation(context.Background(), op)
	require.NoError(t, err)
	dummy, err := v.DummySignature(op)
	require.NoError(t, err)
	assert.Len(t, dummy, len(real))

	// Dummy still runs the call policy's authorization check.
	_, err = v.DummySignature(transferOp(t, 101))
	assert.True(t, kernel.IsAuthorization(err))
}

func TestIsEnabled(t *testing.T) {
	v, err := New(baseConfig(t, TimestampPolicy{ValidUntil: 1800000000}))
	require.NoError(t, err)

	// No client configured: advisory false.
	assert.False(t, v.IsEnabled(context.Background(), accountAddr))

	blob, err := v.BuildEnableData()
	require.NoError(t, err)

	hashOut := func(h common.Hash) []byte {
		return common.LeftPadBytes(h.Bytes(), 32)
	}

	cfg := baseConfig(t, TimestampPolicy{ValidUntil: 1800000000})
	cfg.Client = &stubChain{
		chainID: big.NewInt(1),
		outputs: map[string][]byte{
			selector("permissions(bytes4,address)"): hashOut(crypto.Keccak256Hash(blob)),
		},
	}
	v, err = New(cfg)
	require.NoError(t, err)
	assert.True(t, v.IsEnabled(context.Background(), accountAddr))

	// Stored hash differs: not enabled.
	cfg.Client = &stubChain{
		chainID: big.NewInt(1),
		outputs: map[string][]byte{
			selector("permissions(bytes4,address)"): hashOut(common.HexToHash("0x01")),
		},
	}
	v, err = New(cfg)
	require.NoError(t, err)
	assert.False(t, v.IsEnabled(context.Background(), accountAddr))

	// Transport failure degrades to false.
	cfg.Client = &stubChain{failAll: errors.New("rpc down")}
	v, err = New(cfg)
	require.NoError(t, err)
	assert.False(t, v.IsEnabled(context.Background(), accountAddr))
}

func TestSignaturePolicy_CoSigner(t *testing.T) {
	co := newTestSigner(t)
	p := SignaturePolicy{
		AllowedSigners: []common.Address{co.Address()},
		CoSigner: func(digest common.Hash) ([]byte, error) {
			return co.SignHash(context.Background(), digest)
		},
	}
	op := transferOp(t, 1)
	data, err := p.SignatureData(op)
	require.NoError(t, err)
	require.Len(t, data, 65)

	digest := kernel.UserOpFieldsHash(op)
	pub, err := crypto.SigToPub(digest.Bytes(), data)
	require.NoError(t, err)
	assert.Equal(t, co.Address(), crypto.PubkeyToAddress(*pub))

	dummy, err := p.DummySignatureData(op)
	require.NoError(t, err)
	assert.Len(t, dummy, len(data))
}

func TestSignaturePolicy_CoSignBindsWholeOperation(t *testing.T) {
	co := newTestSigner(t)
	p := SignaturePolicy{
		AllowedSigners: []common.Address{co.Address()},
		CoSigner: func(digest common.Hash) ([]byte, error) {
			return co.SignHash(context.Background(), digest)
		},
	}

	op := transferOp(t, 1)
	data, err := p.SignatureData(op)
	require.NoError(t, err)

	// Same calldata under a different nonce must demand a different
	// co-signature.
	replay := transferOp(t, 1)
	replay.Nonce = big.NewInt(99)
	pub, err := crypto.SigToPub(kernel.UserOpFieldsHash(replay).Bytes(), data)
	if err == nil {
		assert.NotEqual(t, co.Address(), crypto.PubkeyToAddress(*pub))
	}
}
