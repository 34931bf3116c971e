package wasm

import (
	"fmt"
	"sort"
)

// NameSectionName is the custom section holding debug names.
const NameSectionName = "name"

// nameSubsection returns the payload of one name section subsection.
func (m *Module) nameSubsection(want byte) ([]byte, bool) {
	data, ok := m.Custom(NameSectionName)
	if !ok {
		return nil, false
	}
	r := newReader(data)
	for !r.eof() {
		id, err := r.byte()
		if err != nil {
			return nil, false
		}
		size, err := r.u32()
		if err != nil {
			return nil, false
		}
		sub, err := r.bytes(int(size))
		if err != nil {
			return nil, false
		}
		if id == want {
			return sub, true
		}
	}
	return nil, false
}

// ModuleName returns the module-name subsection of the name section, if any.
func (m *Module) ModuleName() (string, bool) {
	sub, ok := m.nameSubsection(NameSubModule)
	if !ok {
		return "", false
	}
	name, err := newReader(sub).name()
	return name, err == nil
}

// GlobalNames returns the global-names subsection keyed by global index.
func (m *Module) GlobalNames() (map[uint32]string, error) {
	return m.nameMap(NameSubGlobals)
}

func (m *Module) nameMap(id byte) (map[uint32]string, error) {
	sub, ok := m.nameSubsection(id)
	if !ok {
		return nil, nil
	}
	names := make(map[uint32]string)
	err := readVec(newReader(sub), func(r *reader) error {
		idx, err := r.u32()
		if err != nil {
			return err
		}
		name, err := r.name()
		if err != nil {
			return err
		}
		if _, dup := names[idx]; dup {
			return fmt.Errorf("index %d named twice", idx)
		}
		names[idx] = name
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("name subsection %d: %w", id, err)
	}
	return names, nil
}

// SetModuleName replaces the name section with one that carries only the
// module-name subsection.
func (m *Module) SetModuleName(name string) {
	m.SetNames(name, nil)
}

// SetNames replaces the name section with the module name (if not empty)
// and a global-names subsection (if globals is not empty).
func (m *Module) SetNames(module string, globals map[uint32]string) {
	var data []byte
	if module != "" {
		data = appendSubsection(data, NameSubModule, AppendName(nil, module))
	}
	if len(globals) > 0 {
		idxs := make([]uint32, 0, len(globals))
		for idx := range globals {
			idxs = append(idxs, idx)
		}
		sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
		sub := AppendU32(nil, uint32(len(idxs)))
		for _, idx := range idxs {
			sub = AppendU32(sub, idx)
			sub = AppendName(sub, globals[idx])
		}
		data = appendSubsection(data, NameSubGlobals, sub)
	}

	for i, cs := range m.CustomSections {
		if cs.Name == NameSectionName {
			m.CustomSections[i].Data = data
			return
		}
	}
	m.CustomSections = append(m.CustomSections, CustomSection{Name: NameSectionName, Data: data})
}

func appendSubsection(dst []byte, id byte, payload []byte) []byte {
	dst = append(dst, id)
	dst = AppendU32(dst, uint32(len(payload)))
	return append(dst, payload...)
}
