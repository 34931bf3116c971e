package runtime

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-hotswap/errors"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("runtime: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Snapshot holds the exported mutable statics of every loaded module.
type Snapshot struct {
	Modules map[string]ModuleSnapshot `cbor:"modules"`
}

// ModuleSnapshot holds one module's statics, keyed by export name.
type ModuleSnapshot struct {
	Generation uint64                 `cbor:"generation"`
	Statics    map[string]StaticValue `cbor:"statics"`
}

// StaticValue is a raw global value with the core type it was read as.
type StaticValue struct {
	Type string `cbor:"type"`
	Bits uint64 `cbor:"bits"`
}

// Snapshot captures the exported mutable statics of every loaded module.
func (s *Session) Snapshot() (*Snapshot, error) {
	if err := s.require("snapshot", StateLoaded); err != nil {
		return nil, err
	}
	snap := &Snapshot{Modules: make(map[string]ModuleSnapshot, len(s.order))}
	for _, name := range s.order {
		m := s.modules[name]
		ms := ModuleSnapshot{Generation: m.gen, Statics: make(map[string]StaticValue)}
		for _, st := range m.current().ExportedStatics() {
			if !st.Type.Mutable {
				continue
			}
			slot, ok := m.rt.Arena().Slot(st.Key)
			if !ok {
				continue
			}
			ms.Statics[st.Key] = StaticValue{Type: st.Type.ValType.String(), Bits: slot.Get()}
		}
		snap.Modules[name] = ms
	}
	return snap, nil
}

// Restore writes snapshot values back into matching statics and returns
// how many were restored. Modules and statics the session does not have,
// or whose core type changed, are skipped.
func (s *Session) Restore(snap *Snapshot) (int, error) {
	if err := s.require("restore", StateLoaded); err != nil {
		return 0, err
	}
	if snap == nil {
		return 0, errors.InvalidInput(errors.PhaseStatic, "nil snapshot")
	}
	restored := 0
	for name, ms := range snap.Modules {
		m, ok := s.modules[name]
		if !ok {
			s.log.Debug("snapshot module not loaded", zap.String("module", name))
			continue
		}
		for key, sv := range ms.Statics {
			slot, ok := m.rt.Arena().Slot(key)
			if !ok || !slot.Type.Mutable || slot.Type.ValType.String() != sv.Type {
				s.log.Debug("snapshot static skipped", zap.String("module", name), zap.String("static", key))
				continue
			}
			if err := slot.Set(sv.Bits); err != nil {
				return restored, err
			}
			restored++
		}
	}
	return restored, nil
}

// MarshalSnapshot encodes snap as canonical CBOR.
func MarshalSnapshot(snap *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(snap)
}

// UnmarshalSnapshot decodes a snapshot produced by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("runtime: unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
