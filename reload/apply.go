package reload

import (
	"github.com/wippyai/wasm-hotswap/errors"
	"github.com/wippyai/wasm-hotswap/image"
)

// Resolver produces the call target for a function of the new generation.
type Resolver[T any] func(fn *image.Function) (T, error)

type plan[T any] struct {
	slot   int // -1 allocates
	fn     *image.Function
	target T
	remove bool
}

// Apply installs next into t according to diff and returns the number of
// changes applied, which always equals diff.Len(). Every change is
// validated and every target resolved before the table is touched; on
// error the table is unchanged.
//
// Slots of functions absent from diff are rebound to next as well. Their
// bodies are identical, so this is not counted as a change.
func Apply[T any](t *Table[T], diff *Result, next *image.Image, resolve Resolver[T]) (int, error) {
	if next == nil {
		return 0, errors.InvalidInput(errors.PhaseReload, "nil image")
	}

	kinds := make(map[string]ChangeKind, diff.Len())
	for _, c := range diff.Changes {
		if _, dup := kinds[c.Name]; dup {
			return 0, errors.Inconsistent(c.Name, "listed twice in diff")
		}
		kinds[c.Name] = c.Kind
	}

	var steps []plan[T]

	for _, c := range diff.Changes {
		if c.Kind != Removed {
			continue
		}
		idx, live := t.Lookup(c.Name)
		if !live {
			return 0, errors.Inconsistent(c.Name, "removed function has no live slot")
		}
		if _, ok := next.Function(c.Name); ok {
			return 0, errors.Inconsistent(c.Name, "removed function is present in new image")
		}
		steps = append(steps, plan[T]{slot: idx, remove: true})
	}

	for _, fn := range next.Functions {
		idx, live := t.Lookup(fn.Name)
		kind, changed := kinds[fn.Name]
		switch {
		case changed && kind == Added && live:
			return 0, errors.Inconsistent(fn.Name, "added function already has a live slot")
		case changed && kind == Modified && !live:
			return 0, errors.Inconsistent(fn.Name, "modified function has no live slot")
		case changed && kind == Removed:
			return 0, errors.Inconsistent(fn.Name, "removed function is present in new image")
		case !changed && !live:
			return 0, errors.Inconsistent(fn.Name, "function missing from diff and table")
		}

		target, err := resolve(fn)
		if err != nil {
			return 0, errors.Wrap(errors.PhaseReload, errors.KindInconsistent, err, "resolve "+fn.Name)
		}
		if !live {
			idx = -1
		}
		steps = append(steps, plan[T]{slot: idx, fn: fn, target: target})
	}

	for name, kind := range kinds {
		if kind == Removed {
			continue
		}
		if _, ok := next.Function(name); !ok {
			return 0, errors.Inconsistent(name, kind.String()+" function is absent from new image")
		}
	}
	for _, name := range t.Live() {
		if _, ok := next.Function(name); !ok && kinds[name] != Removed {
			return 0, errors.Inconsistent(name, "function vanished without a removal record")
		}
	}

	for _, s := range steps {
		switch {
		case s.remove:
			t.tombstone(s.slot)
		case s.slot < 0:
			t.Install(s.fn.Name, s.fn, next.Generation, s.target)
		default:
			t.redirect(s.slot, s.fn, next.Generation, s.target)
		}
	}
	return diff.Len(), nil
}
