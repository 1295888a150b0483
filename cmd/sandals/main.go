// Command sandals runs a single sandboxed process per invocation: it
// reads a JSON job request from stdin and writes a single JSON result
// to stdout, as described by the sandals package.
package main

import (
	"os"

	"github.com/docker/docker/pkg/reexec"
	"github.com/pkg/profile"

	"github.com/nestybox/sandals/internal/sandals"
)

func main() {
	if reexec.Init() {
		return
	}

	os.Exit(run())
}

// run keeps the profiler's deferred Stop ahead of os.Exit, which skips
// deferred calls.
func run() int {
	if os.Getenv("SANDALS_PROFILE") != "" {
		defer profile.Start(profile.CPUProfile).Stop()
	}
	return sandals.Run(os.Stdin, os.Stdout)
}
