package image

import (
	"bytes"
	"crypto/sha256"
	"sort"

	"github.com/wippyai/wasm-hotswap/wasm"
)

// callGraph records which functions each defined function can reach, so
// that an exported function's fingerprint also covers the private helpers
// it runs.
type callGraph struct {
	imported uint32
	total    uint32
	own      []Fingerprint // by function index

	calls    [][]uint32 // by defined index
	indirect []bool
	opaque   []bool // body could not be scanned: reaches everything
	taken    []uint32
}

func newCallGraph(m *wasm.Module) *callGraph {
	g := &callGraph{
		imported: m.NumImportedFuncs(),
		calls:    make([][]uint32, len(m.Code)),
		indirect: make([]bool, len(m.Code)),
		opaque:   make([]bool, len(m.Code)),
	}
	g.total = g.imported + uint32(len(m.Code))
	g.own = make([]Fingerprint, g.total)

	for idx := uint32(0); idx < g.total; idx++ {
		ft, _ := m.FuncTypeOf(idx)
		if body, ok := m.Body(idx); ok {
			g.own[idx] = bodyFingerprint(ft, body)
		} else {
			g.own[idx] = importFingerprint(m, idx, ft)
		}
	}

	taken := make(map[uint32]bool)
	elems, err := m.ElementFuncRefs()
	if err != nil {
		// unreadable tables: any function may sit behind an indirect call
		for idx := uint32(0); idx < g.total; idx++ {
			taken[idx] = true
		}
	}
	for _, idx := range elems {
		taken[idx] = true
	}

	for i := range m.Code {
		refs, indirect, err := wasm.FuncRefs(m.Code[i].Code)
		if err != nil {
			g.opaque[i] = true
			continue
		}
		g.calls[i] = refs
		g.indirect[i] = indirect
		for _, idx := range refs {
			// ref.func operands are indistinguishable from calls here, and
			// taking a reference makes the target reachable indirectly too
			taken[idx] = true
		}
	}

	for idx := range taken {
		if idx < g.total {
			g.taken = append(g.taken, idx)
		}
	}
	return g
}

// reach returns every function reachable from root, root excluded unless
// it is reachable from itself.
func (g *callGraph) reach(root uint32) map[uint32]bool {
	seen := make(map[uint32]bool)
	queue := []uint32{root}
	visit := func(idx uint32) {
		if idx < g.total && !seen[idx] {
			seen[idx] = true
			queue = append(queue, idx)
		}
	}
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		if idx < g.imported {
			continue
		}
		d := idx - g.imported
		if g.opaque[d] {
			for i := uint32(0); i < g.total; i++ {
				visit(i)
			}
			continue
		}
		for _, callee := range g.calls[d] {
			visit(callee)
		}
		if g.indirect[d] {
			for _, callee := range g.taken {
				visit(callee)
			}
		}
	}
	return seen
}

// fingerprint combines idx's own fingerprint with the sorted fingerprints
// of everything it reaches. A helper edited in place changes the
// fingerprint of every function that can run it.
func (g *callGraph) fingerprint(idx uint32) Fingerprint {
	if idx >= g.total {
		return Fingerprint{}
	}
	reached := g.reach(idx)
	delete(reached, idx)
	if len(reached) == 0 {
		return g.own[idx]
	}

	deps := make([]Fingerprint, 0, len(reached))
	for callee := range reached {
		deps = append(deps, g.own[callee])
	}
	sort.Slice(deps, func(i, j int) bool { return bytes.Compare(deps[i][:], deps[j][:]) < 0 })

	h := sha256.New()
	h.Write(g.own[idx][:])
	for _, d := range deps {
		h.Write(d[:])
	}
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}
