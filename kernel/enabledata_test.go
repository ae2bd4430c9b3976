package kernel

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func sampleEnableData() EnableData {
	return EnableData{
		Delegate:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		MerkleRoot: common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222"),
		ValidAfter: 1700000000,
		ValidUntil: 1800000000,
		Paymaster:  AnyPaymaster,
		Nonce:      big.NewInt(7),
	}
}

func TestEnableData_PackLength(t *testing.T) {
	packed, err := sampleEnableData().Pack()
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if len(packed) != EnableDataLength {
		t.Fatalf("expected %d bytes, got %d", EnableDataLength, len(packed))
	}
}

func TestEnableData_PackLayout(t *testing.T) {
	e := sampleEnableData()
	packed, err := e.Pack()
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}

	if !bytes.Equal(packed[0:20], e.Delegate.Bytes()) {
		t.Fatal("delegate not at offset 0")
	}
	if !bytes.Equal(packed[20:52], e.MerkleRoot.Bytes()) {
		t.Fatal("merkle root not at offset 20")
	}
	if !bytes.Equal(packed[64:84], e.Paymaster.Bytes()) {
		t.Fatal("paymaster not at offset 64")
	}
	if new(big.Int).SetBytes(packed[84:116]).Cmp(e.Nonce) != 0 {
		t.Fatal("nonce not at offset 84")
	}
}

func TestEnableData_RoundTrip(t *testing.T) {
	e := sampleEnableData()
	packed, err := e.Pack()
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	got, err := UnpackEnableData(packed)
	if err != nil {
		t.Fatalf("UnpackEnableData failed: %v", err)
	}
	if got.Delegate != e.Delegate || got.MerkleRoot != e.MerkleRoot ||
		got.ValidAfter != e.ValidAfter || got.ValidUntil != e.ValidUntil ||
		got.Paymaster != e.Paymaster || got.Nonce.Cmp(e.Nonce) != 0 {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, e)
	}
}

func TestEnableData_UnpackRejectsWrongLength(t *testing.T) {
	if _, err := UnpackEnableData(make([]byte, 115)); err == nil {
		t.Fatal("expected error for short blob")
	}
	if _, err := UnpackEnableData(make([]byte, 117)); err == nil {
		t.Fatal("expected error for long blob")
	}
}

func TestEnableData_NilNonceIsZero(t *testing.T) {
	e := sampleEnableData()
	e.Nonce = nil
	packed, err := e.Pack()
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if new(big.Int).SetBytes(packed[84:116]).Sign() != 0 {
		t.Fatal("nil nonce should pack as zero")
	}
}

func TestEnableData_PackRejectsOversizedWindow(t *testing.T) {
	e := sampleEnableData()
	e.ValidAfter = 1 << 48
	if _, err := e.Pack(); err != ErrWindowRange {
		t.Fatalf("expected ErrWindowRange for oversized ValidAfter, got %v", err)
	}

	e = sampleEnableData()
	e.ValidUntil = 1 << 48
	if _, err := e.Pack(); err != ErrWindowRange {
		t.Fatalf("expected ErrWindowRange for oversized ValidUntil, got %v", err)
	}

	// The full uint48 range itself is fine.
	e = sampleEnableData()
	e.ValidUntil = 1<<48 - 1
	if _, err := e.Pack(); err != nil {
		t.Fatalf("Pack failed at the uint48 ceiling: %v", err)
	}
}

func TestUint48RoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 1 << 20, 1<<48 - 1} {
		buf := appendUint48(nil, v)
		if len(buf) != 6 {
			t.Fatalf("expected 6 bytes, got %d", len(buf))
		}
		if got := uint48From(buf); got != v {
			t.Fatalf("round trip %d -> %d", v, got)
		}
	}
}
