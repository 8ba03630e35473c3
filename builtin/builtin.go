// Package builtin provides the ops every opcore session starts with.
//
//	op_echo          sync   returns its first argument
//	op_print         sync   writes a string to stdout, or stderr when the second argument is true
//	op_now           sync   milliseconds since the session started
//	op_sleep         async  resolves after the given milliseconds
//	op_sleep_unref   async  op_sleep that does not keep the loop alive
//	op_resources     sync   live resource ids and names
//	op_close         sync   closes a resource
//	op_buffer_new    sync   creates a byte buffer resource
//	op_buffer_write  async  appends bytes to a buffer
//	op_buffer_read   sync   returns a buffer's contents
package builtin

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/resource"
	"github.com/wippyai/opcore/runtime"
	"github.com/wippyai/opcore/state"
)

// Output is the state slot op_print writes to.
type Output struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Clock is the state slot op_now measures from.
type Clock struct {
	Start time.Time
}

// Install puts the slots the built-in ops read into st. Nil writers
// default to the process's stdout and stderr.
func Install(st *state.State, stdout, stderr io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	state.Put(st, &Output{Stdout: stdout, Stderr: stderr})
	state.Put(st, &Clock{Start: time.Now()})
}

// Register installs every built-in op into reg.
func Register(reg *runtime.Registry) error {
	ops := []struct {
		fn   op.Fn
		name string
	}{
		{name: "op_echo", fn: op.Sync(echo)},
		{name: "op_print", fn: op.Sync(printText)},
		{name: "op_now", fn: op.Sync(now)},
		{name: "op_sleep", fn: op.Async(sleep)},
		{name: "op_sleep_unref", fn: op.AsyncUnref(sleep)},
		{name: "op_resources", fn: op.Sync(resources)},
		{name: "op_close", fn: op.Sync(closeResource)},
		{name: "op_buffer_new", fn: op.Sync(bufferNew)},
		{name: "op_buffer_write", fn: op.Async(bufferWrite)},
		{name: "op_buffer_read", fn: op.Sync(bufferRead)},
	}

	for _, o := range ops {
		if err := reg.Register(o.name, o.fn); err != nil {
			return err
		}
	}
	return nil
}

func echo(_ *state.State, v any, _ op.Unit) (any, error) {
	return v, nil
}

func printText(st *state.State, msg string, toStderr *bool) (op.Unit, error) {
	out, ok := state.Borrow[*Output](st)
	if !ok {
		out = &Output{Stdout: os.Stdout, Stderr: os.Stderr}
	}

	w := out.Stdout
	if toStderr != nil && *toStderr {
		w = out.Stderr
	}
	if _, err := io.WriteString(w, msg); err != nil {
		return op.Unit{}, errors.Wrap(errors.PhaseHandler, errors.KindInterrupted, err, "print")
	}
	return op.Unit{}, nil
}

func now(st *state.State, _ op.Unit, _ op.Unit) (float64, error) {
	clock, ok := state.Borrow[*Clock](st)
	if !ok {
		clock = &Clock{Start: time.Now()}
		state.Put(st, clock)
	}
	return float64(time.Since(clock.Start).Microseconds()) / 1000, nil
}

func sleep(ctx context.Context, _ *state.Handle, ms int64, _ op.Unit) (op.Unit, error) {
	if ms < 0 {
		return op.Unit{}, errors.New(errors.PhaseHandler, errors.KindInvalidArgument).
			Op("op_sleep").
			Arg(0).
			Detail("negative duration %dms", ms).
			Build()
	}

	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()

	select {
	case <-t.C:
		return op.Unit{}, nil
	case <-ctx.Done():
		return op.Unit{}, errors.Wrap(errors.PhaseHandler, errors.KindInterrupted, ctx.Err(), "sleep")
	}
}

func resources(st *state.State, _ op.Unit, _ op.Unit) (map[resource.ID]string, error) {
	return st.Resources.Names(), nil
}

func closeResource(st *state.State, id resource.ID, _ op.Unit) (op.Unit, error) {
	return op.Unit{}, st.Resources.Close(id)
}
