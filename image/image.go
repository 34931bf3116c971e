package image

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/wippyai/wasm-hotswap/errors"
	"github.com/wippyai/wasm-hotswap/value"
	"github.com/wippyai/wasm-hotswap/wasm"
)

// DefaultModuleName is used when the binary carries no name section.
const DefaultModuleName = "main"

// abiPrefix marks canonical ABI plumbing exports (cabi_realloc,
// cabi_post_*). They are not part of the symbol table.
const abiPrefix = "cabi_"

// Fingerprint identifies a compiled function body.
type Fingerprint [sha256.Size]byte

// String returns the first 8 bytes in hex.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:8])
}

// Function is one exported, qualified function of an image.
type Function struct {
	Name        string
	Index       uint32
	Order       int
	Type        wasm.FuncType
	Signature   Signature
	Fingerprint Fingerprint
}

// Arity returns the declared parameter count.
func (f *Function) Arity() int {
	return f.Signature.Arity()
}

// Static is one module-level global. Exported statics are keyed by their
// export name. A private global named in the name section is keyed by "$"
// and that name; an unnamed one by "#" and its position among the unnamed
// private globals.
type Static struct {
	Key          string
	Exported     bool
	Positional   bool
	GlobalIndex  uint32
	DefinedIndex int
	Type         wasm.GlobalType
	Kind         value.Kind
	Init         uint64
}

// Image is a parsed, validated module binary.
type Image struct {
	Name       string
	Generation uint64
	Module     *wasm.Module
	Functions  []*Function
	Statics    []*Static
	Memory     *wasm.MemoryType
	Digest     [sha256.Size]byte
	Size       int

	funcs   map[string]*Function
	statics map[string]*Static
}

// Options control parsing.
type Options struct {
	// DefaultName overrides DefaultModuleName for unnamed binaries.
	DefaultName string
}

// Parse decodes and validates data. Every failure is a parse error.
func Parse(data []byte, opts Options) (*Image, error) {
	if len(data) == 0 {
		return nil, errors.Parse("empty module image", nil)
	}
	m, err := wasm.ParseModule(data)
	if err != nil {
		return nil, errors.Parse("decode module", err)
	}

	img := &Image{
		Module:  m,
		Digest:  sha256.Sum256(data),
		Size:    len(data),
		funcs:   make(map[string]*Function),
		statics: make(map[string]*Static),
	}

	img.Name, _ = m.ModuleName()
	if img.Name == "" {
		img.Name = opts.DefaultName
	}
	if img.Name == "" {
		img.Name = DefaultModuleName
	}

	decls := &declarations{funcs: map[string]Signature{}, statics: map[string]value.Kind{}}
	if data, ok := m.Custom(SignaturesSection); ok {
		if decls, err = parseDeclarations(string(data)); err != nil {
			return nil, err
		}
	}

	if err := img.loadMemory(); err != nil {
		return nil, err
	}
	if err := img.loadStatics(decls); err != nil {
		return nil, err
	}
	if err := img.loadFunctions(decls); err != nil {
		return nil, err
	}

	for name := range decls.funcs {
		if _, ok := img.funcs[name]; !ok {
			return nil, errors.Parsef("signature declared for %s which is not an exported function", name)
		}
	}
	for name := range decls.statics {
		if _, ok := img.statics[name]; !ok {
			return nil, errors.Parsef("static declared for %s which is not an exported global", name)
		}
	}
	return img, nil
}

func (img *Image) loadMemory() error {
	m := img.Module
	total := int(m.NumImportedMemories()) + len(m.Memories)
	if total > 1 {
		return errors.Parsef("module declares %d memories, at most one is supported", total)
	}
	if len(m.Memories) == 1 {
		mem := m.Memories[0]
		if mem.Limits.Shared {
			return errors.Parse("shared memory is not supported", nil)
		}
		img.Memory = &mem
	}
	return nil
}

func (img *Image) loadStatics(decls *declarations) error {
	m := img.Module
	exported := make(map[uint32]string)
	for _, e := range m.Exports {
		if e.Kind == wasm.KindGlobal {
			if _, seen := exported[e.Idx]; !seen {
				exported[e.Idx] = e.Name
			}
		}
	}

	names, err := m.GlobalNames()
	if err != nil {
		return errors.Parse("name section", err)
	}
	keys := make(map[string]bool)
	positional := 0

	imported := m.NumImportedGlobals()
	for i, g := range m.Globals {
		idx := imported + uint32(i)
		kind, ok := value.FromCore(g.Type.ValType)
		if !ok {
			return errors.Parsef("global %d has unsupported type %s", idx, g.Type.ValType)
		}
		bits, vt, err := wasm.EvalConst(g.Init)
		if err != nil {
			return errors.Parse(fmt.Sprintf("global %d initializer", idx), err)
		}
		if vt != g.Type.ValType {
			return errors.Parsef("global %d initializer yields %s, declared %s", idx, vt, g.Type.ValType)
		}

		s := &Static{
			GlobalIndex:  idx,
			DefinedIndex: i,
			Type:         g.Type,
			Kind:         kind,
			Init:         bits,
		}
		if name, ok := exported[idx]; ok {
			s.Key = name
			s.Exported = true
			if dk, ok := decls.statics[name]; ok {
				if !coreMatches(dk, g.Type.ValType) {
					return errors.Parsef("static %s declared %s but global is %s", name, dk, g.Type.ValType)
				}
				s.Kind = dk
			}
			img.statics[name] = s
		} else if name := names[idx]; name != "" {
			s.Key = "$" + name
		} else {
			s.Key = fmt.Sprintf("#%d", positional)
			s.Positional = true
			positional++
		}
		if keys[s.Key] {
			return errors.Parsef("global %d reuses static key %s", idx, s.Key)
		}
		keys[s.Key] = true
		img.Statics = append(img.Statics, s)
	}
	return nil
}

func coreMatches(k value.Kind, vt wasm.ValType) bool {
	flat := k.Flat()
	return len(flat) == 1 && flat[0] == vt
}

func (img *Image) loadFunctions(decls *declarations) error {
	m := img.Module
	graph := newCallGraph(m)
	for _, e := range m.Exports {
		if e.Kind != wasm.KindFunc || strings.HasPrefix(e.Name, abiPrefix) {
			continue
		}
		if _, dup := img.funcs[e.Name]; dup {
			return errors.Parsef("duplicate export %s", e.Name)
		}
		ft, ok := m.FuncTypeOf(e.Idx)
		if !ok {
			return errors.Parsef("export %s references missing function %d", e.Name, e.Idx)
		}

		fn := &Function{
			Name:  e.Name,
			Index: e.Idx,
			Order: len(img.Functions),
			Type:  ft,
		}

		if sig, ok := decls.funcs[e.Name]; ok {
			if err := checkDeclared(e.Name, sig, ft); err != nil {
				return err
			}
			fn.Signature = sig
		} else {
			fn.Signature = deriveSignature(ft)
		}

		fn.Fingerprint = graph.fingerprint(e.Idx)

		img.funcs[e.Name] = fn
		img.Functions = append(img.Functions, fn)
	}
	return nil
}

func checkDeclared(name string, sig Signature, ft wasm.FuncType) error {
	params := value.FlattenParams(sig.Params)
	if !equalTypes(params, ft.Params) {
		return errors.Parsef("%s declared %s but core params are %v", name, sig, ft.Params)
	}
	if !equalTypes(sig.Result.FlatResult(), ft.Results) {
		return errors.Parsef("%s declared %s but core results are %v", name, sig, ft.Results)
	}
	return nil
}

func equalTypes(a, b []wasm.ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func deriveSignature(ft wasm.FuncType) Signature {
	var sig Signature
	for i, p := range ft.Params {
		k, ok := value.FromCore(p)
		if !ok {
			return Signature{Unsupported: fmt.Sprintf("parameter %d has core type %s", i, p)}
		}
		sig.Params = append(sig.Params, k)
	}
	switch len(ft.Results) {
	case 0:
	case 1:
		k, ok := value.FromCore(ft.Results[0])
		if !ok {
			return Signature{Unsupported: fmt.Sprintf("result has core type %s", ft.Results[0])}
		}
		sig.Result = k
	default:
		return Signature{Unsupported: fmt.Sprintf("%d results", len(ft.Results))}
	}
	return sig
}

// bodyFingerprint hashes the core type, local declarations and instruction
// bytes of a body. Index operands are hashed as-is, so a body that calls a
// function whose index shifted counts as changed.
func bodyFingerprint(ft wasm.FuncType, body *wasm.FuncBody) Fingerprint {
	h := sha256.New()
	h.Write([]byte(ft.String()))
	var buf []byte
	for _, l := range body.Locals {
		buf = wasm.AppendU32(buf[:0], l.Count)
		buf = append(buf, byte(l.ValType))
		h.Write(buf)
	}
	h.Write([]byte{0})
	h.Write(body.Code)
	var fp Fingerprint
	h.Sum(fp[:0])
	return fp
}

func importFingerprint(m *wasm.Module, idx uint32, ft wasm.FuncType) Fingerprint {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind != wasm.KindFunc {
			continue
		}
		if n == idx {
			return sha256.Sum256([]byte("import:" + imp.Module + "#" + imp.Name + ft.String()))
		}
		n++
	}
	return Fingerprint{}
}

// Function looks up an exported function by qualified name.
func (img *Image) Function(name string) (*Function, bool) {
	f, ok := img.funcs[name]
	return f, ok
}

// Static looks up an exported static by name.
func (img *Image) Static(name string) (*Static, bool) {
	s, ok := img.statics[name]
	return s, ok
}

// StaticByKey looks up any static, exported or private.
func (img *Image) StaticByKey(key string) (*Static, bool) {
	if s, ok := img.statics[key]; ok {
		return s, true
	}
	for _, s := range img.Statics {
		if s.Key == key {
			return s, true
		}
	}
	return nil, false
}

// ExportedStatics returns the exported statics in definition order.
func (img *Image) ExportedStatics() []*Static {
	out := make([]*Static, 0, len(img.statics))
	for _, s := range img.Statics {
		if s.Exported {
			out = append(out, s)
		}
	}
	return out
}
