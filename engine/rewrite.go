package engine

import (
	"github.com/wippyai/wasm-hotswap/errors"
	"github.com/wippyai/wasm-hotswap/image"
	"github.com/wippyai/wasm-hotswap/wasm"
)

// relink rewrites img so that it owns no state: every defined global and
// the defined memory become imports from the arena parts in plan.
//
// Global imports are appended after the module's own global imports, so
// the global index space is unchanged. Reload generations also lose their
// start function and have every active data segment turned passive; the
// arena seeds fresh and edited ranges itself on commit.
func relink(img *image.Image, plan *ArenaPlan, gen uint64) ([]byte, error) {
	m := img.Module.Clone()

	for _, s := range img.Statics {
		part, ok := plan.imports[s.Key]
		if !ok {
			return nil, errors.Inconsistent(s.Key, "static has no arena slot")
		}
		gt := s.Type
		m.Imports = append(m.Imports, wasm.Import{
			Module: part,
			Name:   s.Key,
			Desc:   wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &gt},
		})
	}
	m.Globals = nil

	if len(m.Memories) == 1 {
		if plan.memPart == "" {
			return nil, errors.Inconsistent(img.Name, "memory has no arena part")
		}
		mt := wasm.MemoryType{Limits: plan.limits}
		m.Imports = append(m.Imports, wasm.Import{
			Module: plan.memPart,
			Name:   memoryName,
			Desc:   wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &mt},
		})
		m.Memories = nil
	}

	if gen > 0 {
		m.Start = nil
		for i := range m.Data {
			if m.Data[i].Active() {
				m.Data[i] = wasm.DataSegment{Flags: wasm.DataPassive, Init: m.Data[i].Init}
			}
		}
	}

	return m.Encode(), nil
}
