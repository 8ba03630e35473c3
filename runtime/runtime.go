package runtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/opcore"
	"github.com/wippyai/opcore/codec"
	"github.com/wippyai/opcore/config"
	"github.com/wippyai/opcore/envelope"
	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/pending"
	"github.com/wippyai/opcore/state"
)

// Result is the boundary's answer to one call.
// Pending results carry no envelope; the completion arrives through Poll.
type Result struct {
	Envelope  envelope.Envelope
	PromiseID opcore.PromiseID
	Pending   bool
}

// Stats is a snapshot of runtime counters.
type Stats struct {
	Session        string
	Calls          uint64
	Immediate      uint64
	Deferred       uint64
	ProtocolErrors uint64
	Queues         pending.Stats
}

type options struct {
	logger      *zap.Logger
	state       *state.State
	registry    *Registry
	maxInflight int64
}

// Option configures a Runtime.
type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithState supplies the shared state instead of a fresh one.
func WithState(st *state.State) Option {
	return func(o *options) { o.state = st }
}

// WithMaxInflight bounds how many asynchronous ops run at once.
func WithMaxInflight(n int64) Option {
	return func(o *options) { o.maxInflight = n }
}

// WithRegistry supplies a prepared registry, e.g. one shared by several runtimes.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithConfig applies the runtime-related settings of cfg.
func WithConfig(cfg config.Config) Option {
	return func(o *options) { o.maxInflight = cfg.MaxInflight }
}

// Runtime is one engine session: the op registry, the shared state and the
// pending queues, driven by a single loop goroutine.
type Runtime struct {
	registry *Registry
	handle   *state.Handle
	queues   *pending.Queues
	log      *zap.Logger
	session  string

	// ids of tasks enqueued but not yet drained
	inflight   map[opcore.PromiseID]struct{}
	inflightMu sync.Mutex

	calls          atomic.Uint64
	immediate      atomic.Uint64
	deferred       atomic.Uint64
	protocolErrors atomic.Uint64
	closed         atomic.Bool
}

func New(opts ...Option) *Runtime {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = Logger()
	}
	if o.state == nil {
		o.state = state.New()
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}

	session := uuid.NewString()
	r := &Runtime{
		registry: o.registry,
		handle:   state.NewHandle(o.state),
		queues:   pending.New(pending.Config{MaxInflight: o.maxInflight}),
		log:      o.logger.With(zap.String("session", session)),
		session:  session,
		inflight: make(map[opcore.PromiseID]struct{}),
	}

	r.log.Debug("runtime created", zap.Int64("max_inflight", o.maxInflight))
	return r
}

// Register adds an op. Ops must be registered before the first Call.
func (r *Runtime) Register(name string, fn op.Fn) error {
	return r.registry.Register(name, fn)
}

func (r *Runtime) Registry() *Registry {
	return r.registry
}

// Handle returns the exclusive-access handle for the shared state.
func (r *Runtime) Handle() *state.Handle {
	return r.handle
}

// Session returns the runtime's session id.
func (r *Runtime) Session() string {
	return r.session
}

// Call dispatches one op invocation.
//
// Protocol errors (a malformed promise id, an unknown op, an async op called
// without a promise id or with one that is still pending) are returned as err and nothing is enqueued. Every
// other failure is reported inside Result.Envelope.
func (r *Runtime) Call(name string, promiseID any, a, b codec.Raw) (Result, error) {
	if r.closed.Load() {
		return Result{}, errors.Closed("runtime")
	}
	r.calls.Add(1)

	id, err := ParsePromiseID(promiseID)
	if err != nil {
		return Result{}, r.protocolError(name, err)
	}

	r.registry.Seal()
	fn, ok := r.registry.Lookup(name)
	if !ok {
		return Result{}, r.protocolError(name, errors.UnknownOp(name))
	}

	out := fn(r.handle, op.Payload{Name: name, A: a, B: b, PromiseID: id})

	switch out.Kind {
	case op.Immediate:
		r.immediate.Add(1)
		return Result{Envelope: out.Envelope, PromiseID: id}, nil

	case op.Tracked, op.TrackedUnref:
		if id == opcore.NoPromise {
			return Result{}, r.protocolError(name, errors.MissingPromiseID(name))
		}
		if out.Task == nil {
			return Result{}, r.protocolError(name, errors.New(errors.PhaseProtocol, errors.KindTypeError).
				Op(name).
				Detail("tracked outcome without a task").
				Build())
		}

		if !r.claim(id) {
			return Result{}, r.protocolError(name, errors.DuplicatePromiseID(name, uint64(id)))
		}

		kind, _ := pending.KindOf(out.Kind)
		if err := r.queues.Enqueue(out.Task, kind); err != nil {
			r.unclaim(id)
			return Result{}, err
		}
		r.deferred.Add(1)
		r.log.Debug("op deferred",
			zap.String("op", name),
			zap.Uint64("promise_id", uint64(id)),
			zap.Stringer("queue", kind))
		return Result{PromiseID: id, Pending: true}, nil

	default:
		return Result{}, r.protocolError(name, errors.UnknownOp(name))
	}
}

// claim marks id as in flight. It fails if id is already in flight.
func (r *Runtime) claim(id opcore.PromiseID) bool {
	r.inflightMu.Lock()
	defer r.inflightMu.Unlock()
	if _, busy := r.inflight[id]; busy {
		return false
	}
	r.inflight[id] = struct{}{}
	return true
}

func (r *Runtime) unclaim(id opcore.PromiseID) {
	r.inflightMu.Lock()
	delete(r.inflight, id)
	r.inflightMu.Unlock()
}

func (r *Runtime) protocolError(name string, err error) error {
	r.protocolErrors.Add(1)
	r.log.Debug("protocol error", zap.String("op", name), zap.Error(err))
	return err
}

// Poll runs one drain step. Every ready completion is handed to res in the
// order it was drained; resolver errors are combined and returned after the
// step. idle reports whether no kept-alive work remains.
func (r *Runtime) Poll(ctx context.Context, res Resolver) (idle bool, err error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	ready := r.queues.DrainReady()
	r.inflightMu.Lock()
	for _, c := range ready {
		delete(r.inflight, c.PromiseID)
	}
	r.inflightMu.Unlock()

	for _, c := range ready {
		if rerr := res.Resolve(c); rerr != nil {
			r.log.Warn("resolve failed",
				zap.Uint64("promise_id", uint64(c.PromiseID)),
				zap.Error(rerr))
			err = multierr.Append(err, rerr)
		}
	}
	return r.queues.Idle(), err
}

// RunEventLoop polls until no kept-alive work remains, ctx is done, or a
// resolver fails. Not-kept-alive work does not keep it running.
func (r *Runtime) RunEventLoop(ctx context.Context, res Resolver) error {
	wake := r.queues.Waker().C()
	for {
		idle, err := r.Poll(ctx, res)
		if err != nil {
			return err
		}
		if idle {
			return nil
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Idle reports whether no kept-alive work remains.
func (r *Runtime) Idle() bool {
	return r.queues.Idle()
}

func (r *Runtime) Stats() Stats {
	return Stats{
		Session:        r.session,
		Calls:          r.calls.Load(),
		Immediate:      r.immediate.Load(),
		Deferred:       r.deferred.Load(),
		ProtocolErrors: r.protocolErrors.Load(),
		Queues:         r.queues.Stats(),
	}
}

// Close abandons all pending work and closes every resource in the state.
// Running handlers see their context canceled; their results are discarded.
func (r *Runtime) Close() error {
	if r.closed.Swap(true) {
		return nil
	}

	r.queues.Close()
	r.inflightMu.Lock()
	clear(r.inflight)
	r.inflightMu.Unlock()

	var errs error
	errs = multierr.Append(errs, r.handle.With(func(st *state.State) error {
		return st.Resources.CloseAll()
	}))

	s := r.queues.Stats()
	r.log.Debug("runtime closed",
		zap.Uint64("discarded", s.Discarded),
		zap.Uint64("drained", s.Drained))
	return errs
}

// Wait blocks until every handler abandoned by Close has returned or ctx is done.
func (r *Runtime) Wait(ctx context.Context) error {
	return r.queues.Wait(ctx)
}
