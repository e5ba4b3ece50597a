// Package resolver maps logical script ids to fetchable locations.
//
// A Chain holds resolver functions in registration order. Resolve asks each
// in turn and stops at the first descriptor; if all decline it fails with
// UnknownScriptID, a configuration error that is never retried.
//
//	chain := resolver.NewChain()
//	chain.Add(resolver.Prefixed("dev:", resolver.Template("http://localhost:3001/{id}.wasm", false)))
//	chain.Add(table.Resolver())
//	d, err := chain.Resolve("Remote", resolver.Caller{})
//
// Resolvers are pure: they compute a URL and a cache policy and never touch
// the network. Decoupling lookup from loading lets one loader serve a dev
// server, a CDN or an offline mirror.
package resolver
