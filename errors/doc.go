// Package errors provides structured error types for the federation loader.
//
// Errors are categorized by Phase (where in the pipeline the error occurred)
// and Kind (error category). The Error type carries the script id, a
// container/module path and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseExecute, errors.KindNotFound).
//		ScriptID("Remote").
//		Path("./Widget", "default").
//		Detail("export not declared").
//		Build()
//
// Or use the constructors that mirror the loader's error table:
//
//	err := errors.UnknownScriptID("Remote")
//	err := errors.FetchTimeout("Remote", 50*time.Millisecond)
//
// All errors implement the standard error interface and support errors.Is/As.
// The package-level sentinels (ErrFetchFailed, ErrVersionMismatch, ...)
// match any error of the same kind:
//
//	if errors.Is(err, errors.ErrFetchTimeout) { ... }
//
// Transport failures are retryable by the caller because failed fetches are
// never cached; see Retryable.
package errors
