// Package engine evaluates WebAssembly container bundles on wazero.
//
// A bundle is a core WebAssembly module that imports nothing but the
// "federation" host module:
//
//	register(ptr, len i32)        hand the JSON manifest to the host
//	shared(ptr, len i32) -> i32   handle for a bound shared dependency, 0 if absent
//	log(level, ptr, len i32)      write a message to the engine logger
//
// Any other import, including WASI, is rejected before instantiation so a
// container can only reach the outside world through the shared view it is
// given.
//
// # Registration
//
// The module's "_initialize" export runs during instantiation and is
// expected to call register exactly once. Modules that cannot call the host
// may instead embed the manifest in a "federation" custom section.
//
// # Export naming
//
//	"<ref>"              optional init hook run on first access to the module
//	"<ref>.<export>"     export of the exposed module, returned as *Function
//	"shared:<dep>.<fn>"  function of a provided shared dependency, grouped into *Library
//
// Shared handles identify an instance only: a guest can test that a
// dependency is bound and compare handles, but there is no import that
// dereferences a handle. Host code reaches the instance through the
// container's bindings.
//
// Calls into a single container are serialized; distinct containers run
// independently. A call whose context is already done is refused, and a
// started call is not interrupted by its caller's cancellation, since the
// instance is shared by every importer.
package engine
