package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/opcore/codec"
	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/runtime"
)

const (
	// ModuleName is the import module the guest links op_call from.
	ModuleName = "opcore"

	ExportAlloc   = "alloc"
	ExportResolve = "op_resolve"
	ExportMemory  = "memory"
	exportInit    = "_initialize"
)

// op_call status codes.
const (
	StatusImmediate uint32 = 0
	StatusPending   uint32 = 1
	StatusProtocol  uint32 = 2
)

// Config holds configuration for host creation
type Config struct {
	// Stdout and Stderr receive the guest's WASI output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// Args are passed to the guest through WASI.
	Args []string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means the wazero default (65536 pages = 4GB).
	MemoryLimitPages uint32
}

// WazeroHost owns a wazero runtime with the opcore host module and WASI
// installed, and routes every op_call into one opcore runtime.
type WazeroHost struct {
	runtime   wazero.Runtime
	rt        *runtime.Runtime
	cfg       Config
	instances map[*Instance]struct{}
	mu        sync.Mutex
	seq       atomic.Uint64
}

// NewWazeroHost creates a host dispatching into rt.
func NewWazeroHost(ctx context.Context, rt *runtime.Runtime, cfg *Config) (*WazeroHost, error) {
	if rt == nil {
		return nil, errors.InvalidInput(errors.PhaseHost, "runtime cannot be nil")
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	var c Config
	if cfg != nil {
		c = *cfg
		if c.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
		}
	}

	h := &WazeroHost{
		runtime:   wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		rt:        rt,
		cfg:       c,
		instances: make(map[*Instance]struct{}),
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, h.runtime); err != nil {
		return nil, multierr.Append(
			errors.Wrap(errors.PhaseHost, errors.KindRegistration, err, "instantiate WASI"),
			h.runtime.Close(ctx))
	}

	i32 := api.ValueTypeI32
	params := []api.ValueType{i32, i32, i32, i32, i32, i32, i32, i32, i32}
	_, err := h.runtime.NewHostModuleBuilder(ModuleName).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(h.opCall), params, []api.ValueType{i32}).
		WithParameterNames("name_ptr", "name_len", "pid_ptr", "pid_len", "a_ptr", "a_len", "b_ptr", "b_len", "out_ptr").
		Export("op_call").
		Instantiate(ctx)
	if err != nil {
		return nil, multierr.Append(
			errors.Wrap(errors.PhaseHost, errors.KindRegistration, err, "instantiate host module"),
			h.runtime.Close(ctx))
	}

	return h, nil
}

// Runtime returns the opcore runtime calls are dispatched into.
func (h *WazeroHost) Runtime() *runtime.Runtime {
	return h.rt
}

func (h *WazeroHost) opCall(ctx context.Context, mod api.Module, stack []uint64) {
	mem := mod.Memory()
	outPtr := api.DecodeU32(stack[8])

	name, err := readBytes(mem, stack[0], stack[1])
	if err != nil {
		stack[0] = uint64(h.fail(ctx, mod, outPtr, err))
		return
	}
	pid, err := readBytes(mem, stack[2], stack[3])
	if err != nil {
		stack[0] = uint64(h.fail(ctx, mod, outPtr, err))
		return
	}
	a, err := readBytes(mem, stack[4], stack[5])
	if err != nil {
		stack[0] = uint64(h.fail(ctx, mod, outPtr, err))
		return
	}
	b, err := readBytes(mem, stack[6], stack[7])
	if err != nil {
		stack[0] = uint64(h.fail(ctx, mod, outPtr, err))
		return
	}

	var promiseID any
	if pid != nil {
		promiseID = codec.Raw(pid)
	}

	res, err := h.rt.Call(string(name), promiseID, a, b)
	if err != nil {
		stack[0] = uint64(h.fail(ctx, mod, outPtr, err))
		return
	}
	if res.Pending {
		stack[0] = uint64(StatusPending)
		return
	}

	payload, err := res.Envelope.Marshal()
	if err != nil {
		stack[0] = uint64(h.fail(ctx, mod, outPtr, err))
		return
	}
	if err := writeOut(ctx, mod, outPtr, payload); err != nil {
		Logger().Warn("write op result", zap.String("op", string(name)), zap.Error(err))
		stack[0] = uint64(StatusProtocol)
		return
	}
	stack[0] = uint64(StatusImmediate)
}

// fail reports err to the guest as a protocol error message.
func (h *WazeroHost) fail(ctx context.Context, mod api.Module, outPtr uint32, err error) uint32 {
	if werr := writeOut(ctx, mod, outPtr, []byte(err.Error())); werr != nil {
		Logger().Warn("write protocol error", zap.NamedError("protocol", err), zap.Error(werr))
	}
	return StatusProtocol
}

// Instantiate compiles and instantiates a guest. The guest must export
// memory, alloc and op_resolve; a reactor's _initialize runs if present.
func (h *WazeroHost) Instantiate(ctx context.Context, wasm []byte) (*Instance, error) {
	compiled, err := h.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseHost, errors.KindInvalidData, err, "compile guest")
	}

	modCfg := wazero.NewModuleConfig().
		WithName(fmt.Sprintf("guest-%d", h.seq.Add(1))).
		WithStartFunctions().
		WithArgs(h.cfg.Args...)
	if h.cfg.Stdout != nil {
		modCfg = modCfg.WithStdout(h.cfg.Stdout)
	}
	if h.cfg.Stderr != nil {
		modCfg = modCfg.WithStderr(h.cfg.Stderr)
	}

	mod, err := h.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, multierr.Append(
			errors.Wrap(errors.PhaseHost, errors.KindInvalidData, err, "instantiate guest"),
			compiled.Close(ctx))
	}

	inst := &Instance{host: h, mod: mod, compiled: compiled, ctx: context.Background()}
	for _, name := range []string{ExportAlloc, ExportResolve} {
		if mod.ExportedFunction(name) == nil {
			return nil, multierr.Append(errors.NotFound(errors.PhaseHost, "guest export", name), inst.Close(ctx))
		}
	}
	if mod.Memory() == nil {
		return nil, multierr.Append(errors.NotFound(errors.PhaseHost, "guest export", ExportMemory), inst.Close(ctx))
	}
	inst.alloc = mod.ExportedFunction(ExportAlloc)
	inst.resolve = mod.ExportedFunction(ExportResolve)

	if fn := mod.ExportedFunction(exportInit); fn != nil {
		if _, err := fn.Call(ctx); err != nil {
			return nil, multierr.Append(
				errors.Wrap(errors.PhaseHost, errors.KindInvalidData, err, "initialize guest"),
				inst.Close(ctx))
		}
	}

	h.mu.Lock()
	h.instances[inst] = struct{}{}
	h.mu.Unlock()

	Logger().Debug("guest instantiated", zap.String("module", mod.Name()))
	return inst, nil
}

// Close closes every instance and the wazero runtime.
func (h *WazeroHost) Close(ctx context.Context) error {
	h.mu.Lock()
	insts := make([]*Instance, 0, len(h.instances))
	for inst := range h.instances {
		insts = append(insts, inst)
	}
	h.mu.Unlock()

	var errs error
	for _, inst := range insts {
		errs = multierr.Append(errs, inst.Close(ctx))
	}
	return multierr.Append(errs, h.runtime.Close(ctx))
}

func (h *WazeroHost) forget(inst *Instance) {
	h.mu.Lock()
	delete(h.instances, inst)
	h.mu.Unlock()
}

// readBytes copies a guest range. A zero length yields nil.
func readBytes(mem api.Memory, ptr, length uint64) ([]byte, error) {
	if api.DecodeU32(length) == 0 {
		return nil, nil
	}
	data, ok := mem.Read(api.DecodeU32(ptr), api.DecodeU32(length))
	if !ok {
		return nil, errors.New(errors.PhaseProtocol, errors.KindInvalidInput).
			Detail("guest range %d+%d out of bounds", uint32(ptr), uint32(length)).
			Build()
	}
	return bytes.Clone(data), nil
}

// writeGuest copies data into memory obtained from the guest allocator.
func writeGuest(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	alloc := mod.ExportedFunction(ExportAlloc)
	if alloc == nil {
		return 0, errors.NotFound(errors.PhaseHost, "guest export", ExportAlloc)
	}

	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseHost, errors.KindInvalidData, err, "guest alloc")
	}
	ptr := api.DecodeU32(res[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, errors.New(errors.PhaseHost, errors.KindInvalidData).
			Detail("guest alloc returned out of bounds pointer %d for %d bytes", ptr, len(data)).
			Build()
	}
	return ptr, nil
}

// writeOut places data in guest memory and stores its location at outPtr.
func writeOut(ctx context.Context, mod api.Module, outPtr uint32, data []byte) error {
	ptr, err := writeGuest(ctx, mod, data)
	if err != nil {
		return err
	}
	mem := mod.Memory()
	if !mem.WriteUint32Le(outPtr, ptr) || !mem.WriteUint32Le(outPtr+4, uint32(len(data))) {
		return errors.New(errors.PhaseProtocol, errors.KindInvalidInput).
			Detail("out pointer %d out of bounds", outPtr).
			Build()
	}
	return nil
}
