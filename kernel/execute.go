package kernel

import (
	"bytes"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/sessionkit/sessionkit/permission"
)

// ErrNotExecuteCallData is returned when user-operation call data does
// not target the wallet's execute or executeBatch entry.
var ErrNotExecuteCallData = errors.New("kernel: call data is not an execute call")

// Wallet execution ABI: the two entries a delegate-signed operation may
// target. Batched entries carry the same (to, value, data, operation)
// shape as the single-call form.
const executeABIJSON = `[
	{"type":"function","name":"execute",
		"inputs":[
			{"name":"to","type":"address"},
			{"name":"value","type":"uint256"},
			{"name":"data","type":"bytes"},
			{"name":"operation","type":"uint8"}]},
	{"type":"function","name":"executeBatch",
		"inputs":[{"name":"calls","type":"tuple[]","components":[
			{"name":"to","type":"address"},
			{"name":"value","type":"uint256"},
			{"name":"data","type":"bytes"},
			{"name":"operation","type":"uint8"}]}]}
]`

var executeABI = mustParseABI(executeABIJSON)

// ExecuteSelector and ExecuteBatchSelector identify the wallet entries
// delegate operations are validated for.
var (
	ExecuteSelector      = selectorOf("execute")
	ExecuteBatchSelector = selectorOf("executeBatch")
)

func selectorOf(method string) [4]byte {
	var sel [4]byte
	copy(sel[:], executeABI.Methods[method].ID)
	return sel
}

type executeCall struct {
	To        common.Address
	Value     *big.Int
	Data      []byte
	Operation uint8
}

// DecodeCalls extracts the outbound calls from wallet execute call data.
// A single execute yields one call; executeBatch yields one per entry in
// batch order. Anything else fails with ErrNotExecuteCallData.
func DecodeCalls(callData []byte) ([]permission.Call, error) {
	if len(callData) < 4 {
		return nil, ErrNotExecuteCallData
	}

	switch {
	case bytes.Equal(callData[:4], ExecuteSelector[:]):
		vals, err := executeABI.Methods["execute"].Inputs.Unpack(callData[4:])
		if err != nil {
			return nil, err
		}
		return []permission.Call{toCall(executeCall{
			To:        vals[0].(common.Address),
			Value:     vals[1].(*big.Int),
			Data:      vals[2].([]byte),
			Operation: vals[3].(uint8),
		})}, nil

	case bytes.Equal(callData[:4], ExecuteBatchSelector[:]):
		vals, err := executeABI.Methods["executeBatch"].Inputs.Unpack(callData[4:])
		if err != nil {
			return nil, err
		}
		raw := vals[0].([]struct {
			To        common.Address `json:"to"`
			Value     *big.Int       `json:"value"`
			Data      []byte         `json:"data"`
			Operation uint8          `json:"operation"`
		})
		calls := make([]permission.Call, len(raw))
		for i, c := range raw {
			calls[i] = toCall(executeCall(c))
		}
		return calls, nil
	}
	return nil, ErrNotExecuteCallData
}

// EncodeExecute packs a single execute call; used by tests and by
// callers assembling operations to sign.
func EncodeExecute(call permission.Call) ([]byte, error) {
	value := new(big.Int)
	if call.Value != nil {
		value = call.Value.ToBig()
	}
	return executeABI.Pack("execute", call.To, value, call.Data, uint8(call.Operation))
}

// EncodeExecuteBatch packs a batched execute call.
func EncodeExecuteBatch(calls []permission.Call) ([]byte, error) {
	raw := make([]executeCall, len(calls))
	for i, c := range calls {
		value := new(big.Int)
		if c.Value != nil {
			value = c.Value.ToBig()
		}
		raw[i] = executeCall{To: c.To, Value: value, Data: c.Data, Operation: uint8(c.Operation)}
	}
	return executeABI.Pack("executeBatch", raw)
}

func toCall(c executeCall) permission.Call {
	v, _ := uint256.FromBig(c.Value)
	if v == nil {
		v = new(uint256.Int)
	}
	return permission.Call{
		To:        c.To,
		Value:     v,
		Data:      c.Data,
		Operation: permission.Operation(c.Operation),
	}
}
