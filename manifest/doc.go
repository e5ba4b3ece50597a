// Package manifest models the federation manifest a container publishes:
// its name, the module paths it exposes and the dependencies it wants shared.
//
//	{
//	  "name": "Remote",
//	  "exposes": { "./Widget": "widget" },
//	  "shared": { "ui": { "version": "1.1.0", "singleton": true } }
//	}
//
// Parse validates the document against an embedded CUE schema before
// decoding, then applies checks the schema cannot express (exposed path
// shape, semver versions and constraints).
package manifest
