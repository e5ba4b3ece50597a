// Package config loads host and CLI configuration with viper.
//
// Values come from defaults, an optional TOML, YAML or JSON file and
// FEDERATION_* environment variables, in increasing precedence:
//
//	[fetch]
//	timeout = "10s"
//	max_concurrent = 4
//
//	[cache]
//	dir = "/var/cache/federation"
//
//	[shared]
//	strict = false
//
//	[remotes.Remote]
//	url = "https://cdn.example.com/remote/remoteEntry.wasm"
//	cacheable = true
package config
