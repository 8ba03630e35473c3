package builtin

import (
	"bytes"
	"context"
	"sync"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/resource"
	"github.com/wippyai/opcore/state"
)

// Buffer is a growable byte buffer resource.
type Buffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (b *Buffer) Name() string { return "buffer" }

func (b *Buffer) Close() {
	b.mu.Lock()
	b.buf.Reset()
	b.mu.Unlock()
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// Bytes returns a copy of the contents.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

func bufferNew(st *state.State, _ op.Unit, _ op.Unit) (resource.ID, error) {
	return st.Resources.Add(&Buffer{})
}

// bufferWrite holds the handle only to borrow and release the buffer; the
// write itself runs outside the exclusive section.
func bufferWrite(_ context.Context, h *state.Handle, id resource.ID, data []byte) (int, error) {
	var buf *Buffer
	err := h.With(func(st *state.State) error {
		r, err := st.Resources.Borrow(id)
		if err != nil {
			return err
		}
		b, ok := r.(*Buffer)
		if !ok {
			st.Resources.Release(id)
			return errors.BadResource(uint32(id), "not a buffer")
		}
		buf = b
		return nil
	})
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = h.With(func(st *state.State) error {
			st.Resources.Release(id)
			return nil
		})
	}()

	return buf.Write(data)
}

func bufferRead(st *state.State, id resource.ID, _ op.Unit) ([]byte, error) {
	buf, err := resource.Get[*Buffer](st.Resources, id)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
