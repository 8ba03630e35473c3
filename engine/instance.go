package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/op"
)

// Instance is one instantiated guest.
// It is driven from the runtime's loop goroutine only.
type Instance struct {
	ctx      context.Context
	host     *WazeroHost
	mod      api.Module
	compiled wazero.CompiledModule
	alloc    api.Function
	resolve  api.Function
	once     sync.Once
	closeErr error
}

// Call invokes a guest export. The context also becomes the one used by
// Resolve until the next Call.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseHost, "guest export", name)
	}
	i.ctx = ctx
	return fn.Call(ctx, params...)
}

// Memory exposes the guest's linear memory.
func (i *Instance) Memory() api.Memory {
	return i.mod.Memory()
}

// Resolve delivers a completion to the guest through op_resolve.
func (i *Instance) Resolve(c op.Completion) error {
	return i.ResolveContext(i.ctx, c)
}

// ResolveContext is Resolve with an explicit context.
func (i *Instance) ResolveContext(ctx context.Context, c op.Completion) error {
	payload, err := c.Envelope.Marshal()
	if err != nil {
		return err
	}

	ptr, err := writeGuest(ctx, i.mod, payload)
	if err != nil {
		return err
	}

	if _, err := i.resolve.Call(ctx, uint64(c.PromiseID), uint64(ptr), uint64(len(payload))); err != nil {
		Logger().Warn("op_resolve failed", zap.Uint64("promise_id", uint64(c.PromiseID)), zap.Error(err))
		return errors.Wrap(errors.PhaseDispatch, errors.KindInvalidData, err, "op_resolve")
	}
	return nil
}

// Close releases the guest module.
func (i *Instance) Close(ctx context.Context) error {
	i.once.Do(func() {
		i.host.forget(i)
		i.closeErr = multierr.Combine(i.mod.Close(ctx), i.compiled.Close(ctx))
	})
	return i.closeErr
}
