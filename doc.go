// Package opcore provides the op dispatch core of an embedded script engine.
//
// Script code invokes host-provided operations ("ops") by name. An op either
// completes synchronously and hands its result back to the call site, or it
// starts an asynchronous unit of work whose result is delivered later to the
// continuation registered under a promise id.
//
// # Architecture Overview
//
//	opcore/              Root package with PromiseID
//	├── errors/          Structured error taxonomy (decode, protocol, handler)
//	├── codec/           CBOR argument decoding and value encoding
//	├── envelope/        Result envelope (ok payload or structured failure)
//	├── resource/        Resource table reachable from op state
//	├── state/           Shared state and its exclusive-access handle
//	├── op/              Payload, Outcome and the typed dispatchers
//	├── pending/         Pending task queues and the waker
//	├── runtime/         Registry, call boundary and the host event loop
//	├── engine/          wazero boundary for engines compiled to WebAssembly
//	├── builtin/         Built-in ops (echo, print, timers, buffers)
//	└── config/          Environment configuration
//
// # Quick Start
//
//	rt := runtime.New()
//	defer rt.Close()
//
//	rt.Register("op_add", op.Sync(func(_ *state.State, a, b int) (int, error) {
//	    return a + b, nil
//	}))
//	rt.Register("op_fetch", op.Async(func(ctx context.Context, h *state.Handle, url string, _ op.Unit) ([]byte, error) {
//	    return fetch(ctx, url)
//	}))
//
//	res, err := rt.Call("op_add", nil, codec.MustEncode(1), codec.MustEncode(2))
//	// res.Envelope holds 3
//
//	conts := runtime.NewContinuations()
//	conts.Store(7, func(env envelope.Envelope) error { ... })
//	rt.Call("op_fetch", 7, codec.MustEncode("https://example.com"), nil)
//	err = rt.RunEventLoop(ctx, conts)
//
// # Thread Safety
//
// Runtime.Call, Runtime.Poll and Runtime.RunEventLoop belong to the single
// loop goroutine. Asynchronous ops run on their own goroutines and reach shared
// state only through state.Handle.With.
package opcore
