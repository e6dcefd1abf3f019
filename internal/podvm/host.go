package podvm

import (
	"context"
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/tetratelabs/wazero/api"

	"deltavm/internal/aggregator"
	"deltavm/internal/natives"
)

// Status codes returned to WASM callers by aggregator host functions.
const (
	StatusOK        uint32 = 0
	StatusOverflow  uint32 = 1
	StatusUnderflow uint32 = 2
	StatusUnknown   uint32 = 3
	StatusDuplicate uint32 = 4
	StatusOutOfGas  uint32 = 5
	StatusOther     uint32 = 6
)

// hostKeyWidth is the widest key the (hi, lo) calling convention can carry.
const hostKeyWidth = 16

// ErrKeyTooWide is returned when the context derives keys wider than the host ABI.
var ErrKeyTooWide = errors.New("derived keys do not fit the host ABI")

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// Invocation holds the state of one WASM invocation: the transaction's aggregator context and its gas meter.
// Every u128 crosses the boundary as two i64 halves (hi, lo).
type Invocation struct {
	natives      *natives.Context // natives is the transaction's aggregator context
	gasLimit     uint64           // gasLimit is the maximum gas allowed
	gasUsed      uint64           // gasUsed tracks consumed gas
	gasExhausted bool             // gasExhausted is true once the limit was exceeded
}

// NewInvocation binds an aggregator context to a gas limit.
func NewInvocation(nc *natives.Context, gasLimit uint64) (*Invocation, error) {
	if nc.KeyWidth() > hostKeyWidth {
		return nil, fmt.Errorf("key width %d:\n%w", nc.KeyWidth(), ErrKeyTooWide)
	}

	return &Invocation{natives: nc, gasLimit: gasLimit}, nil
}

// GasUsed returns the gas consumed so far.
func (inv *Invocation) GasUsed() uint64 {
	return inv.gasUsed
}

// Exhausted reports whether the gas limit was exceeded.
func (inv *Invocation) Exhausted() bool {
	return inv.gasExhausted
}

// buildHostModule creates the "env" module exposing the aggregator natives of inv.
func (p *Pool) buildHostModule(ctx context.Context, inv *Invocation) (api.Module, error) {
	return p.runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, cost uint32) {
			hostGas(inv, cost)
		}).
		Export("gas").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			hostNew(inv, stack)
		}), []api.ValueType{i64, i64, i64, i64}, []api.ValueType{i64, i64, i32}).
		Export("aggregator_new").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			hostAdd(inv, stack)
		}), []api.ValueType{i64, i64, i64, i64, i64, i64}, []api.ValueType{i32}).
		Export("aggregator_add").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			hostSub(inv, stack)
		}), []api.ValueType{i64, i64, i64, i64, i64, i64}, []api.ValueType{i32}).
		Export("aggregator_sub").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			hostRead(inv, stack)
		}), []api.ValueType{i64, i64, i64, i64}, []api.ValueType{i64, i64, i32}).
		Export("aggregator_read").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			hostDestroy(inv, stack)
		}), []api.ValueType{i64, i64, i64, i64}, []api.ValueType{i32}).
		Export("aggregator_destroy").
		Instantiate(ctx)
}

// hostGas handles instruction metering.
// Panics if gas limit is exceeded to abort execution.
func hostGas(inv *Invocation, cost uint32) {
	if !inv.charge(natives.Gas(cost)) {
		panic("gas exhausted")
	}
}

// hostNew creates an aggregator: (h_hi, h_lo, l_hi, l_lo) -> (k_hi, k_lo, status).
func hostNew(inv *Invocation, stack []uint64) {
	if inv.gasExhausted {
		stack[0], stack[1], stack[2] = 0, 0, api.EncodeU32(StatusOutOfGas)
		return
	}

	handle := readU128(stack, 0)
	limit := readU128(stack, 2)

	desc, cost, err := inv.natives.Create(handle, limit)
	status := inv.status(cost, err)

	hi, lo := aggregator.Split(&desc.Key)
	stack[0], stack[1], stack[2] = hi, lo, api.EncodeU32(status)
}

// hostAdd adds to an aggregator: (h_hi, h_lo, k_hi, k_lo, v_hi, v_lo) -> status.
func hostAdd(inv *Invocation, stack []uint64) {
	if inv.gasExhausted {
		stack[0] = api.EncodeU32(StatusOutOfGas)
		return
	}

	cost, err := inv.natives.Add(readID(stack), readU128(stack, 4))
	stack[0] = api.EncodeU32(inv.status(cost, err))
}

// hostSub subtracts from an aggregator: (h_hi, h_lo, k_hi, k_lo, v_hi, v_lo) -> status.
func hostSub(inv *Invocation, stack []uint64) {
	if inv.gasExhausted {
		stack[0] = api.EncodeU32(StatusOutOfGas)
		return
	}

	cost, err := inv.natives.Subtract(readID(stack), readU128(stack, 4))
	stack[0] = api.EncodeU32(inv.status(cost, err))
}

// hostRead reads an aggregator: (h_hi, h_lo, k_hi, k_lo) -> (v_hi, v_lo, status).
func hostRead(inv *Invocation, stack []uint64) {
	if inv.gasExhausted {
		stack[0], stack[1], stack[2] = 0, 0, api.EncodeU32(StatusOutOfGas)
		return
	}

	v, cost, err := inv.natives.Read(readID(stack))
	status := inv.status(cost, err)

	hi, lo := aggregator.Split(&v)
	stack[0], stack[1], stack[2] = hi, lo, api.EncodeU32(status)
}

// hostDestroy destroys an aggregator: (h_hi, h_lo, k_hi, k_lo) -> status.
func hostDestroy(inv *Invocation, stack []uint64) {
	if inv.gasExhausted {
		stack[0] = api.EncodeU32(StatusOutOfGas)
		return
	}

	cost, err := inv.natives.Destroy(readID(stack))
	stack[0] = api.EncodeU32(inv.status(cost, err))
}

// charge adds cost to the meter. Returns false once the limit is exceeded.
func (inv *Invocation) charge(cost natives.Gas) bool {
	inv.gasUsed += uint64(cost)

	if inv.gasUsed > inv.gasLimit {
		inv.gasExhausted = true
	}

	return !inv.gasExhausted
}

// status charges cost and maps err to a status code.
// Out of gas takes precedence; the caller discards the transaction either way.
func (inv *Invocation) status(cost natives.Gas, err error) uint32 {
	if !inv.charge(cost) {
		return StatusOutOfGas
	}

	switch natives.Kind(err) {
	case "":
		return StatusOK
	case "overflow":
		return StatusOverflow
	case "underflow":
		return StatusUnderflow
	case "unknown":
		return StatusUnknown
	case "duplicate":
		return StatusDuplicate
	default:
		return StatusOther
	}
}

// readU128 decodes the (hi, lo) pair at stack[i], stack[i+1].
func readU128(stack []uint64, i int) uint256.Int {
	return aggregator.U128(stack[i], stack[i+1])
}

// readID decodes (h_hi, h_lo, k_hi, k_lo) from the start of the stack.
func readID(stack []uint64) aggregator.ID {
	return aggregator.NewID(readU128(stack, 0), readU128(stack, 2))
}
