package errors

import (
	"fmt"
	"strings"
	"time"
)

// Phase indicates where in the load pipeline the error occurred
type Phase string

const (
	PhaseResolve  Phase = "resolve"  // resolver chain
	PhaseFetch    Phase = "fetch"    // transport and cache
	PhaseExecute  Phase = "execute"  // bundle evaluation and factories
	PhaseShare    Phase = "share"    // shared-scope registry
	PhaseManifest Phase = "manifest" // manifest parsing/validation
	PhaseLoader   Phase = "loader"   // public API orchestration
	PhaseConfig   Phase = "config"   // configuration loading
)

// Kind categorizes the error
type Kind string

const (
	KindUnknownScriptID Kind = "unknown_script_id"
	KindFetchFailed     Kind = "fetch_failed"
	KindFetchTimeout    Kind = "fetch_timeout"
	KindExecutionFailed Kind = "execution_failed"
	KindVersionMismatch Kind = "version_mismatch"
	KindInvalidManifest Kind = "invalid_manifest"
	KindNotFound        Kind = "not_found"
	KindInvalidInput    Kind = "invalid_input"
	KindIsolation       Kind = "isolation"
	KindClosed          Kind = "closed"
)

// Error is the structured error type used throughout the loader
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	ScriptID string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.ScriptID != "" {
		b.WriteString(" ")
		b.WriteString(fmt.Sprintf("%q", e.ScriptID))
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "/"))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// An empty Phase on the target matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && t.Phase != e.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is checks against the error table.
var (
	ErrUnknownScriptID = &Error{Phase: PhaseResolve, Kind: KindUnknownScriptID}
	ErrFetchFailed     = &Error{Phase: PhaseFetch, Kind: KindFetchFailed}
	ErrFetchTimeout    = &Error{Phase: PhaseFetch, Kind: KindFetchTimeout}
	ErrExecutionFailed = &Error{Phase: PhaseExecute, Kind: KindExecutionFailed}
	ErrVersionMismatch = &Error{Phase: PhaseShare, Kind: KindVersionMismatch}
	ErrInvalidManifest = &Error{Phase: PhaseManifest, Kind: KindInvalidManifest}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrIsolation       = &Error{Phase: PhaseExecute, Kind: KindIsolation}
	ErrClosed          = &Error{Kind: KindClosed}
)

// Retryable reports whether re-invoking the failed operation without changing
// its inputs can succeed. Only transport failures qualify.
func Retryable(err error) bool {
	var e *Error
	for err != nil {
		if fe, ok := err.(*Error); ok {
			e = fe
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	if e == nil {
		return false
	}
	return e.Kind == KindFetchFailed || e.Kind == KindFetchTimeout
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// ScriptID sets the script id the error relates to
func (b *Builder) ScriptID(id string) *Builder {
	b.err.ScriptID = id
	return b
}

// Path sets the container/module path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// UnknownScriptID creates the error returned when every resolver declines an id
func UnknownScriptID(id string) *Error {
	return &Error{
		Phase:    PhaseResolve,
		Kind:     KindUnknownScriptID,
		ScriptID: id,
		Detail:   "no resolver accepted the script id",
	}
}

// FetchFailed wraps a transport error for a script id
func FetchFailed(id string, cause error) *Error {
	return &Error{
		Phase:    PhaseFetch,
		Kind:     KindFetchFailed,
		ScriptID: id,
		Cause:    cause,
	}
}

// FetchTimeout creates the error returned when a fetch exceeds its deadline
func FetchTimeout(id string, timeout time.Duration) *Error {
	return &Error{
		Phase:    PhaseFetch,
		Kind:     KindFetchTimeout,
		ScriptID: id,
		Detail:   fmt.Sprintf("fetch exceeded %s", timeout),
		Value:    timeout,
	}
}

// ExecutionFailed wraps an evaluation or factory failure
func ExecutionFailed(id string, cause error) *Error {
	return &Error{
		Phase:    PhaseExecute,
		Kind:     KindExecutionFailed,
		ScriptID: id,
		Cause:    cause,
	}
}

// VersionMismatch creates a singleton version disagreement error
func VersionMismatch(name, registered, requested, registeredBy string) *Error {
	return &Error{
		Phase:  PhaseShare,
		Kind:   KindVersionMismatch,
		Path:   []string{name},
		Detail: fmt.Sprintf("singleton %s@%s registered by %s, requested %s", name, registered, registeredBy, requested),
		Value:  requested,
	}
}

// InvalidManifest creates a manifest validation error
func InvalidManifest(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseManifest,
		Kind:   KindInvalidManifest,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Isolation creates an error for a bundle that reaches outside its sandbox
func Isolation(id, detail string) *Error {
	return &Error{
		Phase:    PhaseExecute,
		Kind:     KindIsolation,
		ScriptID: id,
		Detail:   detail,
	}
}

// Closed creates an error for operations on a closed component
func Closed(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s closed", component),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
