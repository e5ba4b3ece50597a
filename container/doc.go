// Package container models a live federated container.
//
// An execution bridge evaluates a bundle and fills a Container with exposed
// module factories and shared declarations. Exposed modules are built lazily:
// the first Get for a path runs its factory and memoizes the export bag, so
// repeated Gets return the identical value. A failing factory is not
// memoized.
//
// After evaluation the loader binds each declared shared dependency to the
// instance chosen by the shared registry; bundle code reads those bindings
// through Shared.
package container
