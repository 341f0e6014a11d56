// Package main is the single-binary entrypoint for tutu-infer: a
// priority-batched inference scheduler that runs as a standalone daemon.
package main

import "github.com/tutu-network/tutu-infer/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
