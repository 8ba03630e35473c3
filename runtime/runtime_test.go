package runtime

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/opcore"
	"github.com/wippyai/opcore/codec"
	"github.com/wippyai/opcore/envelope"
	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/state"
)

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newRuntime(t *testing.T, opts ...Option) *Runtime {
	t.Helper()
	rt := New(opts...)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func mustRegister(t *testing.T, rt *Runtime, name string, fn op.Fn) {
	t.Helper()
	if err := rt.Register(name, fn); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

// gated returns an async op that completes with its first argument once the
// gate for that argument is closed.
func gated(gates map[int]chan struct{}) op.Fn {
	return op.Async(func(ctx context.Context, _ *state.Handle, n int, _ op.Unit) (int, error) {
		select {
		case <-gates[n]:
			return n, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})
}

func TestCall_EchoImmediate(t *testing.T) {
	rt := newRuntime(t)
	mustRegister(t, rt, "op_echo", op.Sync(func(_ *state.State, a int, _ string) (int, error) {
		return a, nil
	}))

	res, err := rt.Call("op_echo", nil, codec.MustEncode(5), codec.MustEncode("x"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Pending {
		t.Fatal("sync op must not be pending")
	}

	var got int
	if err := res.Envelope.Decode(&got); err != nil || got != 5 {
		t.Fatalf("got %d, %v; want 5", got, err)
	}
}

func TestCall_EchoMissingSecondArgument(t *testing.T) {
	rt := newRuntime(t)
	called := false
	mustRegister(t, rt, "op_echo", op.Sync(func(_ *state.State, a int, _ string) (int, error) {
		called = true
		return a, nil
	}))

	res, err := rt.Call("op_echo", nil, codec.MustEncode(5), nil)
	if err != nil {
		t.Fatalf("decode errors are not protocol errors: %v", err)
	}
	if called {
		t.Fatal("handler must not run")
	}
	if res.Envelope.IsOK() {
		t.Fatal("expected failure envelope")
	}
	if !strings.Contains(res.Envelope.Err.Message, "position 1") {
		t.Errorf("message %q should name position 1", res.Envelope.Err.Message)
	}
}

func TestCall_AsyncFailureBoom(t *testing.T) {
	rt := newRuntime(t)
	mustRegister(t, rt, "op_throw", op.Async(func(context.Context, *state.Handle, op.Unit, op.Unit) (op.Unit, error) {
		return op.Unit{}, stderrors.New("boom")
	}))

	res, err := rt.Call("op_throw", 7, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Pending || res.PromiseID != 7 {
		t.Fatalf("result = %+v, want pending id 7", res)
	}

	var got []op.Completion
	err = rt.RunEventLoop(testCtx(t), ResolverFunc(func(c op.Completion) error {
		got = append(got, c)
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 1 {
		t.Fatalf("got %d completions, want 1", len(got))
	}
	if got[0].PromiseID != 7 || got[0].Envelope.IsOK() || got[0].Envelope.Err.Message != "boom" {
		t.Errorf("completion = %d %+v, want (7, failure boom)", got[0].PromiseID, got[0].Envelope.Err)
	}
}

func TestPoll_LaterCallFinishesFirst(t *testing.T) {
	rt := newRuntime(t)
	gates := map[int]chan struct{}{1: make(chan struct{}), 2: make(chan struct{})}
	mustRegister(t, rt, "op_wait", gated(gates))

	for _, id := range []int{1, 2} {
		if _, err := rt.Call("op_wait", id, codec.MustEncode(id), nil); err != nil {
			t.Fatal(err)
		}
	}

	ctx := testCtx(t)
	var order []opcore.PromiseID
	collect := ResolverFunc(func(c op.Completion) error {
		order = append(order, c.PromiseID)
		return nil
	})

	close(gates[2])
	for len(order) == 0 {
		idle, err := rt.Poll(ctx, collect)
		if err != nil {
			t.Fatal(err)
		}
		if idle {
			t.Fatal("runtime idle while id 1 is pending")
		}
		if len(order) == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	if len(order) != 1 || order[0] != 2 {
		t.Fatalf("first drain = %v, want [2]", order)
	}

	close(gates[1])
	if err := rt.RunEventLoop(ctx, collect); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[1] != 1 {
		t.Fatalf("order = %v, want [2 1]", order)
	}
}

func TestCall_ProtocolErrors(t *testing.T) {
	rt := newRuntime(t)
	asyncCalled := false
	mustRegister(t, rt, "op_async", op.Async(func(context.Context, *state.Handle, op.Unit, op.Unit) (op.Unit, error) {
		asyncCalled = true
		return op.Unit{}, nil
	}))
	mustRegister(t, rt, "op_missing", func(*state.Handle, op.Payload) op.Outcome {
		return op.NotFoundOutcome()
	})

	tests := []struct {
		promiseID any
		name      string
		op        string
	}{
		{name: "unknown op", op: "op_nope"},
		{name: "op reports not found", op: "op_missing"},
		{name: "negative id", op: "op_async", promiseID: -1},
		{name: "string id", op: "op_async", promiseID: "abc"},
		{name: "fractional id", op: "op_async", promiseID: 2.5},
		{name: "async without id", op: "op_async", promiseID: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := rt.Call(tt.op, tt.promiseID, nil, nil)
			if err == nil {
				t.Fatal("expected protocol error")
			}
			if !errors.IsProtocol(err) {
				t.Errorf("error %v should be a protocol error", err)
			}
			if k, _ := errors.KindOf(err); k != errors.KindTypeError {
				t.Errorf("kind = %q, want type_error", k)
			}
		})
	}

	if s := rt.Stats(); s.Queues.Enqueued != 0 {
		t.Errorf("protocol errors enqueued %d tasks", s.Queues.Enqueued)
	}
	if s := rt.Stats(); s.ProtocolErrors != uint64(len(tests)) {
		t.Errorf("ProtocolErrors = %d, want %d", s.ProtocolErrors, len(tests))
	}

	time.Sleep(10 * time.Millisecond)
	if asyncCalled {
		t.Error("no handler may run after a protocol error")
	}
}

func TestCall_UnknownOpNamesOp(t *testing.T) {
	rt := newRuntime(t)
	_, err := rt.Call("op_ghost", nil, nil, nil)
	if err == nil || !strings.Contains(err.Error(), `"op_ghost"`) {
		t.Fatalf("error %v should name the op", err)
	}
}

func TestCall_AsyncDecodeFailureIsImmediate(t *testing.T) {
	rt := newRuntime(t)
	mustRegister(t, rt, "op_read", op.Async(func(context.Context, *state.Handle, string, op.Unit) (string, error) {
		return "", nil
	}))

	res, err := rt.Call("op_read", 4, codec.MustEncode(12), nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Pending || res.Envelope.IsOK() {
		t.Fatalf("result = %+v, want immediate failure", res)
	}
	if rt.Stats().Queues.Enqueued != 0 {
		t.Error("decode failure must not enqueue")
	}
	if !rt.Idle() {
		t.Error("runtime should be idle")
	}
}

func TestRunEventLoop_IgnoresNotKeptAlive(t *testing.T) {
	rt := newRuntime(t)
	release := make(chan struct{})
	defer close(release)
	mustRegister(t, rt, "op_bg", op.AsyncUnref(func(ctx context.Context, _ *state.Handle, _ op.Unit, _ op.Unit) (op.Unit, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return op.Unit{}, nil
	}))

	if _, err := rt.Call("op_bg", 1, nil, nil); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- rt.RunEventLoop(testCtx(t), ResolverFunc(func(op.Completion) error { return nil }))
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event loop kept running for a not-kept-alive op")
	}
}

func TestRunEventLoop_ContextCanceled(t *testing.T) {
	rt := newRuntime(t)
	gates := map[int]chan struct{}{1: make(chan struct{})}
	mustRegister(t, rt, "op_wait", gated(gates))

	if _, err := rt.Call("op_wait", 1, codec.MustEncode(1), nil); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := rt.RunEventLoop(ctx, ResolverFunc(func(op.Completion) error { return nil }))
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestRunEventLoop_ResolverError(t *testing.T) {
	rt := newRuntime(t)
	mustRegister(t, rt, "op_ok", op.Async(func(context.Context, *state.Handle, op.Unit, op.Unit) (int, error) {
		return 1, nil
	}))

	if _, err := rt.Call("op_ok", 3, nil, nil); err != nil {
		t.Fatal(err)
	}

	fail := stderrors.New("continuation gone")
	err := rt.RunEventLoop(testCtx(t), ResolverFunc(func(op.Completion) error { return fail }))
	if !stderrors.Is(err, fail) {
		t.Fatalf("err = %v, want resolver error", err)
	}
}

func TestRunEventLoop_ResolverCanCallAgain(t *testing.T) {
	rt := newRuntime(t)
	mustRegister(t, rt, "op_tick", op.Async(func(_ context.Context, _ *state.Handle, n int, _ op.Unit) (int, error) {
		return n, nil
	}))

	conts := NewContinuations()
	var ticks []int
	var next func(id opcore.PromiseID, n int)
	next = func(id opcore.PromiseID, n int) {
		if err := conts.Store(id, func(env envelope.Envelope) error {
			var got int
			if err := env.Decode(&got); err != nil {
				return err
			}
			ticks = append(ticks, got)
			if got < 3 {
				next(id+1, got+1)
			}
			return nil
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := rt.Call("op_tick", id, codec.MustEncode(n), nil); err != nil {
			t.Fatal(err)
		}
	}
	next(1, 1)

	if err := rt.RunEventLoop(testCtx(t), conts); err != nil {
		t.Fatal(err)
	}
	if len(ticks) != 3 || ticks[2] != 3 {
		t.Fatalf("ticks = %v, want [1 2 3]", ticks)
	}
	if conts.Pending() != 0 {
		t.Errorf("Pending() = %d after loop, want 0", conts.Pending())
	}
}

func TestSharedState_SyncAndAsyncInterleave(t *testing.T) {
	type counter struct{ n int }

	st := state.New()
	state.Put(st, &counter{})
	rt := newRuntime(t, WithState(st))

	mustRegister(t, rt, "op_inc", op.Sync(func(st *state.State, _ op.Unit, _ op.Unit) (int, error) {
		c, _ := state.Borrow[*counter](st)
		c.n++
		return c.n, nil
	}))
	mustRegister(t, rt, "op_inc_async", op.Async(func(_ context.Context, h *state.Handle, _ op.Unit, _ op.Unit) (int, error) {
		var n int
		err := h.With(func(st *state.State) error {
			c, _ := state.Borrow[*counter](st)
			c.n++
			n = c.n
			return nil
		})
		return n, err
	}))

	for i := 1; i <= 20; i++ {
		if _, err := rt.Call("op_inc_async", i, nil, nil); err != nil {
			t.Fatal(err)
		}
		if _, err := rt.Call("op_inc", nil, nil, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := rt.RunEventLoop(testCtx(t), ResolverFunc(func(op.Completion) error { return nil })); err != nil {
		t.Fatal(err)
	}

	c, _ := state.Borrow[*counter](st)
	if c.n != 40 {
		t.Errorf("counter = %d, want 40", c.n)
	}
}

func TestEveryTaskCompletesExactlyOnce(t *testing.T) {
	rt := newRuntime(t, WithMaxInflight(4))
	mustRegister(t, rt, "op_id", op.Async(func(_ context.Context, _ *state.Handle, n int, _ op.Unit) (int, error) {
		time.Sleep(time.Duration(n%3) * time.Millisecond)
		return n, nil
	}))

	const n = 50
	for i := 1; i <= n; i++ {
		if _, err := rt.Call("op_id", i, codec.MustEncode(i), nil); err != nil {
			t.Fatal(err)
		}
	}

	var mu sync.Mutex
	seen := make(map[opcore.PromiseID]int)
	err := rt.RunEventLoop(testCtx(t), ResolverFunc(func(c op.Completion) error {
		mu.Lock()
		defer mu.Unlock()
		seen[c.PromiseID]++
		var got int
		if err := c.Envelope.Decode(&got); err != nil {
			return err
		}
		if opcore.PromiseID(got) != c.PromiseID {
			t.Errorf("completion %d carried %d", c.PromiseID, got)
		}
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}

	if len(seen) != n {
		t.Fatalf("saw %d ids, want %d", len(seen), n)
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("id %d completed %d times", id, count)
		}
	}
}

func TestClose_CancelsPendingWork(t *testing.T) {
	rt := New()
	started := make(chan struct{})
	mustRegister(t, rt, "op_hang", op.Async(func(ctx context.Context, _ *state.Handle, _ op.Unit, _ op.Unit) (op.Unit, error) {
		close(started)
		<-ctx.Done()
		return op.Unit{}, ctx.Err()
	}))

	if _, err := rt.Call("op_hang", 1, nil, nil); err != nil {
		t.Fatal(err)
	}
	<-started

	if err := rt.Close(); err != nil {
		t.Fatal(err)
	}
	if err := rt.Wait(testCtx(t)); err != nil {
		t.Fatalf("handler did not exit after Close: %v", err)
	}
	if rt.Stats().Queues.Discarded != 1 {
		t.Errorf("Discarded = %d, want 1", rt.Stats().Queues.Discarded)
	}

	if _, err := rt.Call("op_hang", 2, nil, nil); err == nil {
		t.Error("call after close should fail")
	}
	if err := rt.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestRegisterAfterFirstCall(t *testing.T) {
	rt := newRuntime(t)
	mustRegister(t, rt, "op_a", noop)
	_, _ = rt.Call("op_a", nil, nil, nil)

	if err := rt.Register("op_b", noop); err == nil {
		t.Error("registering after the first call should fail")
	}
}

func TestStats(t *testing.T) {
	rt := newRuntime(t)
	mustRegister(t, rt, "op_sync", op.Sync(func(*state.State, op.Unit, op.Unit) (op.Unit, error) {
		return op.Unit{}, nil
	}))
	mustRegister(t, rt, "op_async", op.Async(func(context.Context, *state.Handle, op.Unit, op.Unit) (op.Unit, error) {
		return op.Unit{}, nil
	}))

	_, _ = rt.Call("op_sync", nil, nil, nil)
	_, _ = rt.Call("op_async", 1, nil, nil)
	_, _ = rt.Call("op_none", nil, nil, nil)
	if err := rt.RunEventLoop(testCtx(t), ResolverFunc(func(op.Completion) error { return nil })); err != nil {
		t.Fatal(err)
	}

	s := rt.Stats()
	if s.Session == "" || s.Session != rt.Session() {
		t.Errorf("Session = %q", s.Session)
	}
	if s.Calls != 3 || s.Immediate != 1 || s.Deferred != 1 || s.ProtocolErrors != 1 {
		t.Errorf("stats = %+v", s)
	}
	if s.Queues.Drained != 1 {
		t.Errorf("Drained = %d, want 1", s.Queues.Drained)
	}
}

func TestCall_PendingIDCannotBeReused(t *testing.T) {
	rt := newRuntime(t)
	gates := map[int]chan struct{}{1: make(chan struct{})}
	mustRegister(t, rt, "op_wait", gated(gates))

	if _, err := rt.Call("op_wait", 3, codec.MustEncode(1), nil); err != nil {
		t.Fatal(err)
	}
	_, err := rt.Call("op_wait", 3, codec.MustEncode(1), nil)
	if !errors.IsProtocol(err) {
		t.Fatalf("second call with a pending id: err = %v, want protocol error", err)
	}
	if k, _ := errors.KindOf(err); k != errors.KindTypeError {
		t.Errorf("kind = %q, want type_error", k)
	}
	if s := rt.Stats(); s.Deferred != 1 || s.Queues.Enqueued != 1 {
		t.Errorf("stats = %+v, want one deferred task", s)
	}

	conts := NewContinuations()
	var got []int
	if err := conts.Store(3, func(env envelope.Envelope) error {
		var n int
		if err := env.Decode(&n); err != nil {
			return err
		}
		got = append(got, n)
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	close(gates[1])
	if err := rt.RunEventLoop(testCtx(t), conts); err != nil {
		t.Fatalf("RunEventLoop: %v", err)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("completions = %v, want exactly one", got)
	}

	// Once drained, the id is free again.
	if _, err := rt.Call("op_wait", 3, codec.MustEncode(1), nil); err != nil {
		t.Fatalf("reuse after drain: %v", err)
	}
}
