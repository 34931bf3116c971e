package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in the bridge the error occurred
type Phase string

const (
	PhaseParse   Phase = "parse"   // module image decoding
	PhaseLoad    Phase = "load"    // generation 0 installation
	PhaseReload  Phase = "reload"  // diff, arena preparation, patch
	PhaseResolve Phase = "resolve" // symbol and static lookup
	PhaseMarshal Phase = "marshal" // host value to VM value
	PhaseInvoke  Phase = "invoke"  // native call
	PhaseStatic  Phase = "static"  // static field access
	PhaseSession Phase = "session" // lifecycle transitions
	PhaseHost    Phase = "host"    // host function registration
	PhaseRuntime Phase = "runtime" // wazero runtime operations
)

// Kind says what went wrong, independent of where.
type Kind string

const (
	KindParse          Kind = "parse"
	KindNotFound       Kind = "not_found"
	KindArityMismatch  Kind = "arity_mismatch"
	KindTypeMismatch   Kind = "type_mismatch"
	KindOutOfRange     Kind = "out_of_range"
	KindVMFault        Kind = "vm_fault"
	KindStaleBinding   Kind = "stale_binding"
	KindInvalidState   Kind = "invalid_state"
	KindInvalidInput   Kind = "invalid_input"
	KindInvalidData    Kind = "invalid_data"
	KindUnsupported    Kind = "unsupported"
	KindAllocation     Kind = "allocation"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindInstantiation  Kind = "instantiation"
	KindInconsistent   Kind = "inconsistent"
	KindIncompatible   Kind = "incompatible"
	KindRegistration   Kind = "registration"
	KindNotInitialized Kind = "not_initialized"
)

// Sentinels for errors.Is. A sentinel without a phase matches any phase.
var (
	ErrParse         = &Error{Kind: KindParse}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrArityMismatch = &Error{Kind: KindArityMismatch}
	ErrTypeMismatch  = &Error{Kind: KindTypeMismatch}
	ErrOutOfRange    = &Error{Kind: KindOutOfRange}
	ErrVMFault       = &Error{Kind: KindVMFault}
	ErrStaleBinding  = &Error{Kind: KindStaleBinding}
	ErrInvalidState  = &Error{Kind: KindInvalidState}
	ErrInvalidInput  = &Error{Kind: KindInvalidInput}
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	VMKind string
	Detail string
	Path   []string
}

// Error renders "[phase] kind at path: detail (caused by: ...)".
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	typed := e.GoType != "" || e.VMKind != ""
	if typed {
		b.WriteString(": ")
		switch {
		case e.GoType != "" && e.VMKind != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", VM kind ")
			b.WriteString(e.VMKind)
		case e.GoType != "":
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		default:
			b.WriteString("VM kind ")
			b.WriteString(e.VMKind)
		}
	}

	if e.Detail != "" {
		if typed {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap exposes Cause to errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Kinds must be equal; the
// phase is compared only when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Phase == "" || e.Phase == t.Phase
}

// Builder assembles an Error field by field.
type Builder struct {
	err Error
}

// New starts a Builder for phase and kind.
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the symbol or argument path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType names the host type involved in a conversion.
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// VMKind sets the expected VM value kind
func (b *Builder) VMKind(k string) *Builder {
	b.err.VMKind = k
	return b
}

// Value attaches the rejected host value.
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause records the wrapped error.
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail formats the message shown after the kind.
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build finishes the chain.
func (b *Builder) Build() *Error {
	return &b.err
}

// Shorthand constructors, one per recurring failure.

// Parse creates a malformed module image error
func Parse(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindParse,
		Detail: detail,
		Cause:  cause,
	}
}

// Parsef creates a malformed module image error with a formatted detail
func Parsef(format string, args ...any) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindParse,
		Detail: fmt.Sprintf(format, args...),
	}
}

// NotFound reports an unknown symbol, module or static.
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Path:   []string{name},
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// ArityMismatch creates an arity mismatch error
func ArityMismatch(phase Phase, name string, want, got int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindArityMismatch,
		Path:   []string{name},
		Detail: fmt.Sprintf("declared %d parameter(s), got %d", want, got),
		Value:  got,
	}
}

// TypeMismatch reports a host value whose kind does not fit the expected one.
func TypeMismatch(phase Phase, path []string, goType, vmKind string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Path:   path,
		GoType: goType,
		VMKind: vmKind,
	}
}

// OutOfRange creates an out of range conversion error
func OutOfRange(phase Phase, path []string, value any, vmKind string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfRange,
		Path:   path,
		VMKind: vmKind,
		Detail: fmt.Sprintf("value %v is not representable as %s", value, vmKind),
		Value:  value,
	}
}

// Fault creates a VM fault raised during a call
func Fault(name, message string, cause error) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindVMFault,
		Path:   []string{name},
		Detail: message,
		Cause:  cause,
	}
}

// StaleBinding creates an error for a binding whose symbol was removed
func StaleBinding(name string, generation uint64) *Error {
	return &Error{
		Phase:  PhaseInvoke,
		Kind:   KindStaleBinding,
		Path:   []string{name},
		Detail: fmt.Sprintf("symbol removed in generation %d", generation),
	}
}

// InvalidState creates a lifecycle error
func InvalidState(op, state string) *Error {
	return &Error{
		Phase:  PhaseSession,
		Kind:   KindInvalidState,
		Detail: fmt.Sprintf("%s not allowed in state %s", op, state),
	}
}

// InvalidInput reports a caller-supplied value the bridge cannot accept.
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData reports malformed bytes at path.
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Unsupported reports a feature the bridge does not handle.
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds memory access error
func OutOfBounds(phase Phase, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("%d bytes at offset %d out of bounds", length, offset),
		Value:  offset,
	}
}

// AllocationFailed reports that the guest allocator could not serve a request.
func AllocationFailed(phase Phase, size, align uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
		Cause:  cause,
	}
}

// Inconsistent reports a reload delta that cannot be applied
func Inconsistent(name, detail string) *Error {
	return &Error{
		Phase:  PhaseReload,
		Kind:   KindInconsistent,
		Path:   []string{name},
		Detail: detail,
	}
}

// Incompatible reports a static redeclared with a different layout
func Incompatible(name, detail string) *Error {
	return &Error{
		Phase:  PhaseReload,
		Kind:   KindIncompatible,
		Path:   []string{name},
		Detail: detail,
	}
}

// NotInitialized reports use of a component before it exists.
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// Registration creates a host function registration error
func Registration(namespace, name string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %s#%s", namespace, name),
		Cause:  cause,
	}
}

// Instantiation reports a wazero instantiation failure.
func Instantiation(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindInstantiation,
		Detail: fmt.Sprintf("instantiate %s", name),
		Cause:  cause,
	}
}

// Wrap attaches phase and kind to a foreign error.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingImport represents a single unresolved function import
type MissingImport struct {
	Namespace string // e.g., "env"
	Function  string // e.g., "log_score"
}

// MissingImportsError is returned when a module imports host functions that
// were never registered on the session
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError groups "namespace#function" strings by namespace.
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		ns, fn, _ := strings.Cut(imp, "#")
		result.Imports = append(result.Imports, MissingImport{
			Namespace: ns,
			Function:  fn,
		})
	}
	return result
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[load] missing_import: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "missing %d host function(s):\n", len(e.Imports))

	byNS := make(map[string][]string)
	var nsOrder []string
	for _, imp := range e.Imports {
		if _, exists := byNS[imp.Namespace]; !exists {
			nsOrder = append(nsOrder, imp.Namespace)
		}
		byNS[imp.Namespace] = append(byNS[imp.Namespace], imp.Function)
	}

	for _, ns := range nsOrder {
		b.WriteString("\n  ")
		b.WriteString(ns)
		b.WriteString(":\n")
		for _, fn := range byNS[ns] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is matches any *MissingImportsError.
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
