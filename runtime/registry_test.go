package runtime

import (
	"slices"
	"testing"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/state"
)

func noop(*state.Handle, op.Payload) op.Outcome {
	return op.NotFoundOutcome()
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		fn      op.Fn
		name    string
		op      string
		wantErr bool
	}{
		{name: "valid", op: "op_a", fn: noop},
		{name: "empty name", op: "", fn: noop, wantErr: true},
		{name: "nil fn", op: "op_b", fn: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tt.op, tt.fn)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Register() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if k, _ := errors.KindOf(err); k != errors.KindRegistration {
					t.Errorf("kind = %q, want registration", k)
				}
			}
		})
	}
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("op_a", noop)
	if err := r.Register("op_a", noop); err == nil {
		t.Fatal("duplicate registration should fail")
	}
}

func TestRegistry_Sealed(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("op_a", noop)
	r.Seal()

	if !r.Sealed() {
		t.Fatal("Sealed() = false after Seal")
	}
	if err := r.Register("op_b", noop); err == nil {
		t.Fatal("register after seal should fail")
	}
	if _, ok := r.Lookup("op_a"); !ok {
		t.Error("lookup should keep working after seal")
	}
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"op_c", "op_a", "op_b"} {
		r.MustRegister(n, noop)
	}

	got := r.Names()
	want := []string{"op_a", "op_b", "op_c"}
	if !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	NewRegistry().MustRegister("", noop)
}
