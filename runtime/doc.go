// Package runtime is the boundary between a script engine and the op
// dispatch core.
//
// A Runtime owns the op Registry, the shared state handle and the pending
// queues of one engine session. The engine calls Runtime.Call for every op
// invocation; synchronous results come back at once, asynchronous ones are
// queued and later handed to a Resolver by Poll or RunEventLoop.
//
//	rt := runtime.New(runtime.WithLogger(log))
//	defer rt.Close()
//
//	builtin.Register(rt.Registry())
//	res, err := rt.Call("op_sleep", 1, codec.MustEncode(10), nil)
//
//	conts := runtime.NewContinuations()
//	conts.Store(res.PromiseID, onWake)
//	err = rt.RunEventLoop(ctx, conts)
//
// Call, Poll and RunEventLoop must be used from one goroutine.
package runtime
