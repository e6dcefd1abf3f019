package podvm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/zeebo/blake3"
)

var (
	// ErrModuleNotFound is returned when a module ID is not found in the pool.
	ErrModuleNotFound = errors.New("module not found")

	// ErrGasExhausted is returned when execution runs out of gas.
	ErrGasExhausted = errors.New("gas exhausted")
)

// Pool holds compiled WASM modules and runs them against aggregator contexts.
// Modules are compiled once and kept hot-loaded for fast instantiation.
type Pool struct {
	runtime wazero.Runtime                     // runtime is the wazero runtime instance
	modules map[[32]byte]wazero.CompiledModule // modules maps blake3 hash to compiled module
	mu      sync.RWMutex                       // mu protects modules map
	execMu  sync.Mutex                         // execMu serializes use of the "env" module name
}

// New creates a new Pool with an initialized wazero runtime.
func New(ctx context.Context) *Pool {
	return &Pool{
		runtime: wazero.NewRuntime(ctx),
		modules: make(map[[32]byte]wazero.CompiledModule),
	}
}

// Load compiles and stores a WASM module under the blake3 hash of its bytes.
// Loading the same bytes twice is a no-op.
func (p *Pool) Load(ctx context.Context, wasmBytes []byte) ([32]byte, error) {
	id := blake3.Sum256(wasmBytes)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.modules[id]; exists {
		return id, nil
	}

	compiled, err := p.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return [32]byte{}, fmt.Errorf("compile module:\n%w", err)
	}

	p.modules[id] = compiled

	return id, nil
}

// Execute instantiates a module with inv bound as its "env" imports and calls its "execute" export.
// Executions are serialized because each one instantiates its own "env" host module.
func (p *Pool) Execute(ctx context.Context, id [32]byte, inv *Invocation) error {
	p.mu.RLock()
	compiled, exists := p.modules[id]
	p.mu.RUnlock()

	if !exists {
		return ErrModuleNotFound
	}

	p.execMu.Lock()
	defer p.execMu.Unlock()

	hostModule, err := p.buildHostModule(ctx, inv)
	if err != nil {
		return fmt.Errorf("build host module:\n%w", err)
	}
	defer hostModule.Close(ctx)

	instance, err := p.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return fmt.Errorf("instantiate module:\n%w", err)
	}
	defer instance.Close(ctx)

	return callExecute(ctx, instance, inv)
}

// callExecute calls the execute function on the WASM instance.
func callExecute(ctx context.Context, instance api.Module, inv *Invocation) error {
	executeFn := instance.ExportedFunction("execute")
	if executeFn == nil {
		return fmt.Errorf("execute function not exported")
	}

	if _, err := executeFn.Call(ctx); err != nil {
		if inv.Exhausted() {
			return ErrGasExhausted
		}

		return fmt.Errorf("execute:\n%w", err)
	}

	if inv.Exhausted() {
		return ErrGasExhausted
	}

	return nil
}

// Unload removes a module from the pool.
func (p *Pool) Unload(ctx context.Context, id [32]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if compiled, exists := p.modules[id]; exists {
		compiled.Close(ctx)
		delete(p.modules, id)
	}
}

// Close releases all resources held by the pool.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, compiled := range p.modules {
		compiled.Close(ctx)
		delete(p.modules, id)
	}

	return p.runtime.Close(ctx)
}
