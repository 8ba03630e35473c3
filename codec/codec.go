// Package codec converts between script-side argument values and Go values.
//
// Arguments cross the boundary as CBOR items. An empty Raw means the argument
// was not supplied; CBOR null and undefined are treated the same way. Decoding
// an absent argument succeeds only for types that can represent absence:
// pointers, interfaces, maps, slices and Unit.
package codec

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/wippyai/opcore/errors"
)

// Raw is one encoded argument slot.
type Raw = cbor.RawMessage

// Unit is the argument type of ops that ignore a slot.
type Unit struct{}

const (
	cborNull      = 0xf6
	cborUndefined = 0xf7
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		IntDec:         cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// Encode serializes v to CBOR.
func Encode(v any) (Raw, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidData, err,
			fmt.Sprintf("encode %T", v))
	}
	return b, nil
}

// MustEncode is Encode for values known to be encodable. It panics otherwise.
func MustEncode(v any) Raw {
	b, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode deserializes raw into v.
func Decode(raw Raw, v any) error {
	if err := decMode.Unmarshal(raw, v); err != nil {
		return errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err,
			fmt.Sprintf("decode into %T", v))
	}
	return nil
}

// IsAbsent reports whether raw carries no value.
func IsAbsent(raw Raw) bool {
	return len(raw) == 0 || (len(raw) == 1 && (raw[0] == cborNull || raw[0] == cborUndefined))
}

// DecodeArg decodes the argument in slot pos into a T.
func DecodeArg[T any](pos int, raw Raw) (T, error) {
	var v T
	if IsAbsent(raw) {
		if acceptsAbsent(reflect.TypeOf(&v).Elem()) {
			return v, nil
		}
		return v, errors.MissingArgument(pos, reflect.TypeOf(&v).Elem().String())
	}
	if _, unit := any(v).(Unit); unit {
		return v, nil
	}
	if err := decMode.Unmarshal(raw, &v); err != nil {
		return v, errors.InvalidArgument(pos, err)
	}
	return v, nil
}

func acceptsAbsent(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	case reflect.Struct:
		return t.NumField() == 0
	default:
		return false
	}
}
