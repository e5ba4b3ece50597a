// Package resource provides the handle table behind guest-visible host
// values.
//
// WebAssembly guests cannot hold Go pointers. When a guest asks for a shared
// dependency the engine stores the instance in the container's Table and
// passes back an integer handle:
//
//	table := resource.NewTable()
//	h := table.Intern(resource.KindShared, "ui", instance)
//
//	// later, when the guest passes h back
//	v, ok := table.GetKind(h, resource.KindShared)
//
// Handle 0 is reserved and always invalid, so guests can treat 0 as "not
// bound". Removed handles go on a free list and are reused.
//
// Intern keys handles by name: repeated lookups of the same shared name
// return the same handle until it is removed.
//
// Values implementing Dropper are notified when their handle is removed or
// the table is closed. Close is called when the owning container closes.
package resource
