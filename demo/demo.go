// Package demo builds the Counter module pair used by the CLI demo, the
// hot reload example and the end-to-end tests.
//
// Version 1 and version 2 differ in every way a reload can observe:
//
//	Counter.increment  modified   (+1 becomes +10)
//	Counter.describe   modified   (new text at a new address)
//	Counter.legacy     removed
//	Counter.reset      added
//	Counter.add        unchanged
//	Counter.count      static, keeps its value
//	Counter.version    immutable static, keeps version 1's value
package demo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wippyai/wasm-hotswap/image"
	"github.com/wippyai/wasm-hotswap/wasm"
)

// ModuleName is the logical name of both versions.
const ModuleName = "Counter"

// Files written by WriteFiles.
const (
	ActiveFile = "counter.wasm"
	V1File     = "counter_v1.wasm"
	V2File     = "counter_v2.wasm"
)

var (
	i32     = []wasm.ValType{wasm.ValI32}
	nullary = wasm.FuncType{Results: i32}
	binary  = wasm.FuncType{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: i32}
)

type layout struct {
	step   int32
	retptr uint32
	text   uint32
}

var versions = map[int]layout{
	1: {step: 1, retptr: 32, text: 64},
	2: {step: 10, retptr: 160, text: 192},
}

// Module returns the binary of version 1 or 2.
func Module(version int) ([]byte, error) {
	l, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("demo: no version %d", version)
	}

	b := wasm.NewBuilder(ModuleName)
	b.Memory(1, nil)
	b.BumpAllocator(4096)

	count := b.Global("Counter.count", wasm.ValI32, true, wasm.I32Expr(0))
	ver := b.Global("Counter.version", wasm.ValI32, false, wasm.I32Expr(int32(version)))

	b.Func("Counter.increment", nullary, nil, wasm.NewCode().
		GlobalGet(count).I32Const(l.step).I32Add().GlobalSet(count).
		GlobalGet(count))
	b.Func("Counter.add", binary, nil, wasm.NewCode().LocalGet(0).LocalGet(1).I32Add())
	b.Func("Counter.getVersion", nullary, nil, wasm.NewCode().GlobalGet(ver))
	b.Func("Counter.describe", nullary, nil, wasm.NewCode().I32Const(int32(l.retptr)))
	switch version {
	case 1:
		b.Func("Counter.legacy", nullary, nil, wasm.NewCode().I32Const(-1))
	case 2:
		b.Func("Counter.reset", nullary, nil, wasm.NewCode().
			GlobalGet(count).I32Const(0).GlobalSet(count))
	}

	text := []byte(fmt.Sprintf("counter v%d, step %d", version, l.step))
	b.Data(l.retptr, le32pair(l.text, uint32(len(text))))
	b.Data(l.text, text)

	b.Custom(image.SignaturesSection, []byte(strings.Join([]string{
		"Counter.add: func(a: s32, b: s32) -> s32",
		"Counter.describe: func() -> string",
		"Counter.count: static s32",
	}, "\n")))
	return b.Bytes(), nil
}

func le32pair(a, b uint32) []byte {
	return []byte{
		byte(a), byte(a >> 8), byte(a >> 16), byte(a >> 24),
		byte(b), byte(b >> 8), byte(b >> 16), byte(b >> 24),
	}
}

// WriteFiles writes both versions into dir, plus version 1 as the active
// file to load and watch. It returns the active file's path.
func WriteFiles(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	v1, err := Module(1)
	if err != nil {
		return "", err
	}
	v2, err := Module(2)
	if err != nil {
		return "", err
	}
	for name, data := range map[string][]byte{ActiveFile: v1, V1File: v1, V2File: v2} {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, ActiveFile), nil
}
