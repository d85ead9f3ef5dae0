// Package main is the single-binary entrypoint for the makeparallel
// daemon and its CLI.
package main

import "github.com/amiyamandal-dev/makeParallel/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
