package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-hotswap/image"
	"github.com/wippyai/wasm-hotswap/runtime"
	"github.com/wippyai/wasm-hotswap/value"
)

// stringList collects a repeatable flag.
type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// convertArg parses command line text as a value of kind k.
func convertArg(text string, k value.Kind) (any, error) {
	switch k {
	case value.KindString:
		return text, nil
	case value.KindInt32:
		v, err := strconv.ParseInt(text, 0, 32)
		if err != nil {
			return nil, err
		}
		return int32(v), nil
	case value.KindInt64:
		return strconv.ParseInt(text, 0, 64)
	case value.KindFloat32:
		v, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return nil, err
		}
		return float32(v), nil
	case value.KindFloat64:
		return strconv.ParseFloat(text, 64)
	case value.KindBool:
		return strconv.ParseBool(text)
	default:
		return nil, fmt.Errorf("%s arguments cannot be given as text", k)
	}
}

func convertArgs(fn *image.Function, texts []string) ([]any, error) {
	if len(texts) != fn.Arity() {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", fn.Name, fn.Arity(), len(texts))
	}
	args := make([]any, len(texts))
	for i, text := range texts {
		v, err := convertArg(text, fn.Signature.Params[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d of %s: %w", i, fn.Name, err)
		}
		args[i] = v
	}
	return args, nil
}

// findFunction locates name in the loaded modules, in load order.
func findFunction(s *runtime.Session, name string) (string, *image.Function, error) {
	for _, mod := range s.Modules() {
		fns, err := s.Functions(mod)
		if err != nil {
			return "", nil, err
		}
		for _, fn := range fns {
			if fn.Name == name {
				return mod, fn, nil
			}
		}
	}
	return "", nil, fmt.Errorf("function %s not found", name)
}

func formatValue(v value.Value) string {
	switch v.Kind() {
	case value.KindVoid:
		return "(void)"
	case value.KindString:
		return strconv.Quote(v.Str())
	default:
		return v.String()
	}
}
