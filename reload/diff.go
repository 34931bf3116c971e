package reload

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-hotswap/image"
	"github.com/wippyai/wasm-hotswap/value"
)

// ChangeKind classifies one difference between two images.
type ChangeKind uint8

const (
	Modified ChangeKind = iota + 1
	Added
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Modified:
		return "modified"
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one function-level difference.
type Change struct {
	Name string
	Kind ChangeKind

	// Signature is set for a Modified function whose declared kinds
	// also differ. It does not affect classification.
	Signature *SignatureDiff
}

func (c Change) String() string {
	if c.Signature != nil {
		return fmt.Sprintf("%s %s (%v)", c.Kind, c.Name, c.Signature.Error())
	}
	return c.Kind.String() + " " + c.Name
}

// Result is the ordered list of changes between two images: Modified
// and Added in the new image's declaration order, then Removed in the
// old image's declaration order.
type Result struct {
	Changes []Change
}

// Len returns the number of changes.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Changes)
}

// Count returns the number of changes of kind k.
func (r *Result) Count(k ChangeKind) int {
	n := 0
	for _, c := range r.Changes {
		if c.Kind == k {
			n++
		}
	}
	return n
}

// Names returns the changed names in order.
func (r *Result) Names() []string {
	out := make([]string, len(r.Changes))
	for i, c := range r.Changes {
		out[i] = c.Name
	}
	return out
}

// Diff compares function fingerprints of prev and next. Statics never
// take part. The result is deterministic for a given pair of images.
func Diff(prev, next *image.Image) *Result {
	r := &Result{}
	for _, fn := range next.Functions {
		old, ok := prev.Function(fn.Name)
		if !ok {
			r.Changes = append(r.Changes, Change{Name: fn.Name, Kind: Added})
			continue
		}
		if old.Fingerprint == fn.Fingerprint {
			continue
		}
		c := Change{Name: fn.Name, Kind: Modified}
		if !old.Signature.Equal(fn.Signature) {
			c.Signature = diffSignatures(old.Signature, fn.Signature)
		}
		r.Changes = append(r.Changes, c)
	}
	for _, fn := range prev.Functions {
		if _, ok := next.Function(fn.Name); !ok {
			r.Changes = append(r.Changes, Change{Name: fn.Name, Kind: Removed})
		}
	}
	return r
}

// SignatureDiff records per-position kind differences. A nil entry means
// the position is unchanged.
type SignatureDiff struct {
	Params []*KindDifference
	Result *KindDifference
}

// KindDifference is one changed position. Void on either side means the
// position does not exist there.
type KindDifference struct {
	A value.Kind
	B value.Kind
}

// Error joins the differences into a single error, or nil.
func (d *SignatureDiff) Error() error {
	var errs []error
	for i, p := range d.Params {
		if p != nil {
			errs = append(errs, fmt.Errorf("parameter %d: %v != %v", i, p.A, p.B))
		}
	}
	if d.Result != nil {
		errs = append(errs, fmt.Errorf("result: %v != %v", d.Result.A, d.Result.B))
	}
	return errors.Join(errs...)
}

func diffSignatures(a, b image.Signature) *SignatureDiff {
	n := max(len(a.Params), len(b.Params))
	d := &SignatureDiff{Params: make([]*KindDifference, n)}
	for i := range n {
		var ka, kb value.Kind
		if i < len(a.Params) {
			ka = a.Params[i]
		}
		if i < len(b.Params) {
			kb = b.Params[i]
		}
		if ka != kb {
			d.Params[i] = &KindDifference{A: ka, B: kb}
		}
	}
	if a.Result != b.Result {
		d.Result = &KindDifference{A: a.Result, B: b.Result}
	}
	return d
}
