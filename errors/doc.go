// Package errors provides structured error types for opcore.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries the op name, the argument position for
// decode failures, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseHandler, errors.KindInvalidArgument).
//		Op("op_sleep").
//		Arg(0).
//		Detail("negative duration %dms", ms).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.MissingArgument(1, "string")
//	err := errors.UnknownOp("op_fetch")
//
// Protocol errors (PhaseProtocol) abort a single call at the engine
// boundary. All other errors end up inside a result envelope.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
