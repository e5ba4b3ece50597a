// Package loader is the public entry point for importing modules from remote
// containers at runtime.
//
//	eng, _ := engine.NewWazeroEngine(ctx)
//	l := loader.New(&bridge.Mux{Wasm: eng, Script: jsengine.New()},
//	    loader.WithTimeout(10*time.Second),
//	    loader.WithLogger(logger))
//	l.AddResolver(resolver.Template("https://cdn.example.com/{id}/remoteEntry.wasm", true))
//	l.Share(ctx, manifest.SharedDecl{Name: "ui", Version: "2.0.0", Singleton: true, Eager: true}, uiProvider)
//
//	widget, err := l.ImportModule(ctx, "Remote", "./Widget", "default")
//
// Each container id moves through NotLoaded, Resolving, Fetching, Executing
// and Ready. A failure in any middle step leaves the id Failed for that call
// only; the next import starts again from resolution.
//
// Concurrent imports of the same id share one fetch and one evaluation. A
// caller whose context ends stops waiting but does not cancel the shared
// load.
package loader
