// Package jsengine evaluates JavaScript container bundles on goja.
//
// Every bundle runs in its own goja.Runtime. The only host global is
// federation:
//
//	federation.register({
//	    name: "Remote",
//	    exposes: { "./Widget": () => ({ default: render }) },
//	    shared: { ui: { version: "1.2.0", singleton: true, get: () => ui } },
//	});
//	const ui = federation.shared("ui");    // bound instance or undefined
//	federation.log("info", "loaded");
//
// Exposed factories run lazily on first access to the path. Their results
// are wrapped in *Value so a host can call functions and read data without
// touching the runtime directly; every access to one runtime is serialized.
//
// Evaluation and calls are interrupted when the context is done or the
// engine timeout elapses.
package jsengine
