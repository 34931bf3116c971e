package value

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/wippyai/wasm-hotswap/errors"
)

// Largest integers every wider float represents exactly.
const (
	maxExactFloat32 = 1 << 24
	maxExactFloat64 = 1 << 53
)

// ToVM converts a host value to a Value of the expected kind. It never
// touches VM state. Kind mismatches fail with a type_mismatch error and
// integers outside the target width with out_of_range.
func ToVM(host any, expected Kind) (Value, error) {
	return ToVMPath(host, expected, nil)
}

// ToVMPath is ToVM with a symbol/argument path attached to any error.
func ToVMPath(host any, expected Kind, path []string) (Value, error) {
	switch v := host.(type) {
	case Value:
		if v.kind == expected {
			return v, nil
		}
		if v.kind == KindVoid {
			return Value{}, mismatch(path, "value.Void", expected)
		}
		return ToVMPath(FromVM(v), expected, path)
	case nil:
		switch expected {
		case KindVoid:
			return Void(), nil
		case KindObject:
			return Object(Ref{}), nil
		}
		return Value{}, mismatch(path, "nil", expected)
	case int:
		return fromInt(int64(v), host, expected, path)
	case int8:
		return fromInt(int64(v), host, expected, path)
	case int16:
		return fromInt(int64(v), host, expected, path)
	case int32:
		return fromInt(int64(v), host, expected, path)
	case int64:
		return fromInt(v, host, expected, path)
	case uint:
		return fromUint(uint64(v), host, expected, path)
	case uint8:
		return fromUint(uint64(v), host, expected, path)
	case uint16:
		return fromUint(uint64(v), host, expected, path)
	case uint32:
		return fromUint(uint64(v), host, expected, path)
	case uint64:
		return fromUint(v, host, expected, path)
	case float32:
		switch expected {
		case KindFloat32:
			return Float32(v), nil
		case KindFloat64:
			return Float64(float64(v)), nil
		}
	case float64:
		switch expected {
		case KindFloat64:
			return Float64(v), nil
		case KindFloat32:
			f := float32(v)
			if float64(f) != v && !math.IsNaN(v) {
				return Value{}, errors.OutOfRange(errors.PhaseMarshal, path, v, expected.String())
			}
			return Float32(f), nil
		}
	case bool:
		if expected == KindBool {
			return Bool(v), nil
		}
	case string:
		if expected == KindString {
			if !utf8.ValidString(v) {
				return Value{}, errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
					Path(path...).GoType("string").VMKind(expected.String()).
					Detail("invalid UTF-8").Build()
			}
			return String(v), nil
		}
	case Ref:
		if expected == KindObject {
			return Object(v), nil
		}
	}
	return Value{}, mismatch(path, fmt.Sprintf("%T", host), expected)
}

func fromInt(v int64, host any, expected Kind, path []string) (Value, error) {
	switch expected {
	case KindInt32:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return Value{}, errors.OutOfRange(errors.PhaseMarshal, path, host, expected.String())
		}
		return Int32(int32(v)), nil
	case KindInt64:
		return Int64(v), nil
	case KindFloat32:
		if v < -maxExactFloat32 || v > maxExactFloat32 {
			return Value{}, errors.OutOfRange(errors.PhaseMarshal, path, host, expected.String())
		}
		return Float32(float32(v)), nil
	case KindFloat64:
		if v < -maxExactFloat64 || v > maxExactFloat64 {
			return Value{}, errors.OutOfRange(errors.PhaseMarshal, path, host, expected.String())
		}
		return Float64(float64(v)), nil
	}
	return Value{}, mismatch(path, fmt.Sprintf("%T", host), expected)
}

func fromUint(v uint64, host any, expected Kind, path []string) (Value, error) {
	if v > math.MaxInt64 {
		if expected.isNumeric() {
			return Value{}, errors.OutOfRange(errors.PhaseMarshal, path, host, expected.String())
		}
		return Value{}, mismatch(path, fmt.Sprintf("%T", host), expected)
	}
	return fromInt(int64(v), host, expected, path)
}

func (k Kind) isNumeric() bool {
	return k >= KindInt32 && k <= KindFloat64
}

func mismatch(path []string, goType string, expected Kind) error {
	return errors.TypeMismatch(errors.PhaseMarshal, path, goType, expected.String())
}

// FromVM converts a Value to its host-native Go form: int32, int64,
// float32, float64, bool, string, Ref, or nil for void.
func FromVM(v Value) any {
	switch v.kind {
	case KindInt32:
		return v.Int32()
	case KindInt64:
		return v.Int64()
	case KindFloat32:
		return v.Float32()
	case KindFloat64:
		return v.Float64()
	case KindBool:
		return v.Bool()
	case KindString:
		return v.str
	case KindObject:
		return v.ref
	default:
		return nil
	}
}
