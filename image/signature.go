package image

import (
	"fmt"
	"regexp"
	"strings"

	"go.bytecodealliance.org/wit"

	"github.com/wippyai/wasm-hotswap/errors"
	"github.com/wippyai/wasm-hotswap/value"
)

// SignaturesSection is the custom section carrying declared signatures.
const SignaturesSection = "hotswap.signatures"

var (
	funcPattern   = regexp.MustCompile(`^([A-Za-z_$][\w.$:-]*)\s*:\s*func\s*\(([^)]*)\)(?:\s*->\s*([^;]+?))?\s*;?$`)
	staticPattern = regexp.MustCompile(`^([A-Za-z_$][\w.$:-]*)\s*:\s*static\s+([^;]+?)\s*;?$`)
)

// Signature is the declared (or derived) shape of a callable symbol.
type Signature struct {
	Params []value.Kind
	Names  []string
	Result value.Kind

	// Declared is false when the kinds were derived from the core type.
	Declared bool

	// Unsupported explains why the core type cannot be marshalled, if it can't.
	Unsupported string
}

// Arity returns the number of declared parameters.
func (s Signature) Arity() int {
	return len(s.Params)
}

// Equal compares parameter and result kinds.
func (s Signature) Equal(o Signature) bool {
	if len(s.Params) != len(o.Params) || s.Result != o.Result {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

func (s Signature) String() string {
	var b strings.Builder
	b.WriteString("func(")
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		if i < len(s.Names) && s.Names[i] != "" {
			b.WriteString(s.Names[i])
			b.WriteString(": ")
		}
		b.WriteString(p.String())
	}
	b.WriteByte(')')
	if s.Result != value.KindVoid {
		b.WriteString(" -> ")
		b.WriteString(s.Result.String())
	}
	return b.String()
}

type declarations struct {
	funcs   map[string]Signature
	statics map[string]value.Kind
}

// parseDeclarations reads the signatures section. One declaration per line;
// blank lines and lines starting with # are ignored.
func parseDeclarations(text string) (*declarations, error) {
	d := &declarations{
		funcs:   make(map[string]Signature),
		statics: make(map[string]value.Kind),
	}

	for lineNo, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := staticPattern.FindStringSubmatch(line); m != nil {
			k, err := parseKind(m[2])
			if err != nil {
				return nil, declError(lineNo, err)
			}
			if k == value.KindString || k == value.KindVoid {
				return nil, declError(lineNo, fmt.Errorf("static %s cannot hold %s", m[1], k))
			}
			d.statics[m[1]] = k
			continue
		}

		m := funcPattern.FindStringSubmatch(line)
		if m == nil {
			return nil, declError(lineNo, fmt.Errorf("unrecognized declaration %q", line))
		}
		sig := Signature{Declared: true}
		for _, p := range splitParams(m[2]) {
			name, typ := "", p
			if idx := strings.LastIndex(p, ":"); idx != -1 {
				name, typ = strings.TrimSpace(p[:idx]), p[idx+1:]
			}
			k, err := parseKind(typ)
			if err != nil {
				return nil, declError(lineNo, err)
			}
			if k == value.KindVoid {
				return nil, declError(lineNo, fmt.Errorf("parameter %q has no type", p))
			}
			sig.Params = append(sig.Params, k)
			sig.Names = append(sig.Names, name)
		}
		if res := strings.TrimSpace(m[3]); res != "" && res != "()" {
			k, err := parseKind(res)
			if err != nil {
				return nil, declError(lineNo, err)
			}
			sig.Result = k
		}
		if _, dup := d.funcs[m[1]]; dup {
			return nil, declError(lineNo, fmt.Errorf("duplicate declaration of %s", m[1]))
		}
		d.funcs[m[1]] = sig
	}
	return d, nil
}

func declError(lineNo int, cause error) error {
	return errors.Parse(fmt.Sprintf("%s line %d", SignaturesSection, lineNo+1), cause)
}

// splitParams splits a parameter list on top-level commas.
func splitParams(s string) []string {
	var result []string
	depth := 0
	start := 0
	for i, ch := range s {
		switch ch {
		case '<', '(':
			depth++
		case '>', ')':
			depth--
		case ',':
			if depth == 0 {
				if p := strings.TrimSpace(s[start:i]); p != "" {
					result = append(result, p)
				}
				start = i + 1
			}
		}
	}
	if p := strings.TrimSpace(s[start:]); p != "" {
		result = append(result, p)
	}
	return result
}

// parseKind maps a WIT type name onto a value kind. own<T> and borrow<T>
// denote opaque object references.
func parseKind(s string) (value.Kind, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "own<") || strings.HasPrefix(s, "borrow<") {
		if !strings.HasSuffix(s, ">") {
			return value.KindVoid, fmt.Errorf("malformed handle type %q", s)
		}
		return value.KindObject, nil
	}

	t, err := wit.ParseType(s)
	if err != nil {
		return value.KindVoid, err
	}
	switch t.(type) {
	case wit.S32:
		return value.KindInt32, nil
	case wit.S64:
		return value.KindInt64, nil
	case wit.F32:
		return value.KindFloat32, nil
	case wit.F64:
		return value.KindFloat64, nil
	case wit.Bool:
		return value.KindBool, nil
	case wit.String:
		return value.KindString, nil
	default:
		return value.KindVoid, fmt.Errorf("type %q has no marshalling", s)
	}
}
