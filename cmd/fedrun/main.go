// Command fedrun loads federated containers from the command line.
//
// Usage:
//
//	fedrun import <container> <path> [export] [--call] [--arg v]...
//	fedrun browse <container>
//	fedrun inspect <file>
//	fedrun pack --manifest m.json --wasm in.wasm -o out.wasm
//	fedrun scaffold --manifest m.cue -o remote.wasm
//
// Remotes come from the config file (--config), a TOML remotes table
// (--remotes) or a one-off --url on import and browse.
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
)

var version = "dev"

func main() {
	if err := fang.Execute(
		context.Background(),
		newRootCmd(),
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}
