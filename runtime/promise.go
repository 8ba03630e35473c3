package runtime

import (
	"math"

	"github.com/wippyai/opcore"
	"github.com/wippyai/opcore/codec"
	"github.com/wippyai/opcore/errors"
)

const cborMajorUint = 0

// ParsePromiseID validates the correlation id supplied with a call.
//
// nil and an absent CBOR value (null or undefined) mean no promise. Otherwise
// the value must be a non-negative integer: a Go integer, an integral float,
// or CBOR bytes holding one.
func ParsePromiseID(v any) (opcore.PromiseID, error) {
	switch id := v.(type) {
	case nil:
		return opcore.NoPromise, nil
	case opcore.PromiseID:
		return id, nil
	case codec.Raw:
		return parseRawPromiseID(id)
	case []byte:
		return parseRawPromiseID(id)
	case int:
		return signedPromiseID(int64(id))
	case int8:
		return signedPromiseID(int64(id))
	case int16:
		return signedPromiseID(int64(id))
	case int32:
		return signedPromiseID(int64(id))
	case int64:
		return signedPromiseID(id)
	case uint:
		return opcore.PromiseID(id), nil
	case uint8:
		return opcore.PromiseID(id), nil
	case uint16:
		return opcore.PromiseID(id), nil
	case uint32:
		return opcore.PromiseID(id), nil
	case uint64:
		return opcore.PromiseID(id), nil
	case float32:
		return floatPromiseID(float64(id))
	case float64:
		return floatPromiseID(id)
	default:
		return 0, errors.InvalidPromiseID(v, nil)
	}
}

func parseRawPromiseID(raw codec.Raw) (opcore.PromiseID, error) {
	if codec.IsAbsent(raw) {
		return opcore.NoPromise, nil
	}

	// Unsigned integers decode directly so the full uint64 range survives.
	if raw[0]>>5 == cborMajorUint {
		var id uint64
		if err := codec.Decode(raw, &id); err != nil {
			return 0, errors.InvalidPromiseID(raw, err)
		}
		return opcore.PromiseID(id), nil
	}

	var v any
	if err := codec.Decode(raw, &v); err != nil {
		return 0, errors.InvalidPromiseID(raw, err)
	}
	switch v.(type) {
	case codec.Raw, []byte:
		return 0, errors.InvalidPromiseID(v, nil)
	}
	return ParsePromiseID(v)
}

func signedPromiseID(n int64) (opcore.PromiseID, error) {
	if n < 0 {
		return 0, errors.InvalidPromiseID(n, nil)
	}
	return opcore.PromiseID(n), nil
}

func floatPromiseID(f float64) (opcore.PromiseID, error) {
	if f < 0 || f != math.Trunc(f) || f >= math.MaxUint64 || math.IsNaN(f) {
		return 0, errors.InvalidPromiseID(f, nil)
	}
	return opcore.PromiseID(f), nil
}
