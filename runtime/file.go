package runtime

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-hotswap/errors"
)

// fileStamp remembers where a module came from and what the file looked
// like when it was last read.
type fileStamp struct {
	path    string
	size    int64
	modTime time.Time
}

func (f fileStamp) changed(info os.FileInfo) bool {
	return info.Size() != f.size || !info.ModTime().Equal(f.modTime)
}

func readStamped(path string) ([]byte, fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileStamp{}, errors.Wrap(errors.PhaseLoad, errors.KindNotFound, err, "stat "+path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileStamp{}, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "read "+path)
	}
	return data, fileStamp{path: path, size: info.Size(), modTime: info.ModTime()}, nil
}

// LoadFile loads the module stored at path and remembers the path for
// ReloadFile and CheckReload.
func (s *Session) LoadFile(ctx context.Context, path string) (string, error) {
	if err := s.require("load", StateCreated, StateLoaded); err != nil {
		return "", err
	}
	data, stamp, err := readStamped(path)
	if err != nil {
		return "", err
	}
	name, err := s.LoadModule(ctx, data)
	if err != nil {
		return "", err
	}
	s.modules[name].file = stamp
	return name, nil
}

// ReloadFile reloads a module from the path it was loaded from.
func (s *Session) ReloadFile(ctx context.Context, name string) (*ReloadEvent, error) {
	if err := s.require("reload", StateLoaded); err != nil {
		return nil, err
	}
	m, err := s.module(name)
	if err != nil {
		return nil, err
	}
	if m.file.path == "" {
		return nil, errors.InvalidInput(errors.PhaseReload, "module "+name+" was not loaded from a file")
	}
	return s.ReloadPath(ctx, m.file.path)
}

// ReloadPath reloads from the module file at path. The file's module
// remembers path afterwards.
func (s *Session) ReloadPath(ctx context.Context, path string) (*ReloadEvent, error) {
	if err := s.require("reload", StateLoaded); err != nil {
		return nil, err
	}
	data, stamp, err := readStamped(path)
	if err != nil {
		return nil, err
	}
	ev, err := s.Reload(ctx, data)
	if err != nil {
		return nil, err
	}
	// the reload callback may have destroyed the session
	if m, ok := s.modules[ev.Module]; ok {
		m.file = stamp
	}
	return ev, nil
}

// CheckReload reloads every file-backed module whose file changed size or
// modification time since it was last read. It reports whether any module
// was reloaded. A file that fails to reload is not retried until it
// changes again; the first such error is returned after all modules are
// checked.
func (s *Session) CheckReload(ctx context.Context) (bool, error) {
	if err := s.require("check reload", StateLoaded); err != nil {
		return false, err
	}
	var (
		reloaded bool
		first    error
	)
	for _, name := range s.order {
		m := s.modules[name]
		if m.file.path == "" {
			continue
		}
		info, err := os.Stat(m.file.path)
		if err != nil {
			s.log.Debug("stat module file", zap.String("path", m.file.path), zap.Error(err))
			continue
		}
		if !m.file.changed(info) {
			continue
		}
		m.file.size = info.Size()
		m.file.modTime = info.ModTime()

		if _, err := s.ReloadPath(ctx, m.file.path); err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		reloaded = true
		if s.state != StateLoaded {
			break
		}
	}
	return reloaded, first
}
