// Package shared implements the shared scope of a federation session.
//
// The registry maps dependency names to instances. Singleton declarations
// resolve to exactly one instance for the whole session: the first
// registration wins and later participants bind to it without running their
// own provider. Hosts register eager dependencies before any container
// loads, which is how a host pins the version everybody uses.
//
// When a later participant asks for a different version of a singleton the
// registry reports a mismatch. PolicyWarn logs it and binds to the existing
// instance; PolicyStrict fails the registration.
//
// Non-singleton declarations keep one instance per distinct version, and
// Resolve can pick among them by exact version or semver constraint.
package shared
