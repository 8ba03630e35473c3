// Package engine binds the op dispatch core to script engines compiled to
// WebAssembly.
//
// The host module "opcore" exports a single import for the guest:
//
//	op_call(name_ptr, name_len, pid_ptr, pid_len, a_ptr, a_len, b_ptr, b_len, out_ptr i32) -> i32
//
// All byte ranges live in guest memory. The promise id and both arguments are
// CBOR; a zero length means absent. The status result is one of:
//
//	0  immediate: a CBOR envelope was written back
//	1  pending:   the result arrives later through op_resolve
//	2  protocol:  a UTF-8 error message was written back
//
// Data written back is placed in memory obtained from the guest export
// alloc(len) -> ptr, and its location is stored at out_ptr as two
// little-endian u32 values: ptr then len.
//
// Completions are delivered by calling the guest export
//
//	op_resolve(pid i64, ptr i32, len i32)
//
// with a CBOR envelope allocated the same way. Instance implements
// runtime.Resolver, so it can be passed straight to Runtime.RunEventLoop.
package engine
