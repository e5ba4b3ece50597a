// Package federation loads code containers published by independently
// deployed applications at runtime and shares singleton dependencies
// between them.
//
// A container is a bundle (a WebAssembly module or a JavaScript file) that
// registers a manifest naming the modules it exposes and the dependencies
// it shares. The host asks for "Container/path" and the loader resolves the
// container id to a URL, fetches it once, executes it in an isolated
// runtime and hands out the exposed module's exports.
//
// # Architecture Overview
//
//	federation/
//	├── loader/     Public API: ImportModule, Load, Prefetch, Share, Reset
//	├── resolver/   Container id to URL resolution chain, TOML tables
//	├── fetch/      HTTP and file transports
//	├── cache/      One fetch per URL, waiters, timeouts, disk store
//	├── bridge/     Execution interface and content-sniffing mux
//	├── engine/     wazero bridge with the "federation" host module
//	├── jsengine/   goja bridge, one realm per container
//	├── container/  Exposed modules, memoized exports, shared bindings
//	├── shared/     Singleton registry with semver policy
//	├── manifest/   Manifest parsing and CUE validation
//	├── bundle/     WebAssembly section helpers and a container builder
//	├── resource/   Handle table for instances passed to guests
//	├── metrics/    Prometheus collectors
//	├── config/     viper configuration for hosts and the CLI
//	└── errors/     Structured Phase and Kind errors
//
// # Quick Start
//
//	wasm, err := engine.NewWazeroEngine(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	l := loader.New(&bridge.Mux{Wasm: wasm, Script: jsengine.New()})
//	defer l.Close(ctx)
//
//	l.AddResolver(resolver.Template("https://cdn.example.com/{id}/remote.wasm", true))
//
//	button, err := l.ImportModule(ctx, "Shop", "./Button", "default")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Error Handling
//
// Every failure is an *errors.Error carrying the phase it happened in
// (resolve, fetch, execute, share) and a kind, and matches the sentinels
// in the errors package with errors.Is.
package federation
