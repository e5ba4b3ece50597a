// Package bundle reads and writes the WebAssembly container format.
//
// A WebAssembly container is a core module that imports only from the
// "federation" host module. It describes itself either by calling
// federation.register with its manifest during initialization or, as a
// fallback, through a custom section named "federation" holding the manifest
// JSON.
//
// SetCustomSection and ReadCustomSection embed and extract that section.
// Builder emits minimal containers directly in the binary format; the CLI
// uses it to scaffold stubs and the tests use it to produce fixtures.
package bundle
