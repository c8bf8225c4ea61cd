// Command agent is this module's CLI entrypoint (spec.md §4, supplementing
// the distilled spec with the handful of operator actions a real deployment
// needs: registering a model, recording an inference, running the
// long-lived event loop, driving one demo dispute end to end, and running
// the zk trusted setup). Argument
// parsing itself stays minimal by design — spec.md never specifies a CLI
// surface — so this just dispatches to RunCLI the way the teacher's
// cmd/bls-zk-setup/main.go dispatches straight into its package function.
package main

import (
	"fmt"
	"os"

	"github.com/certen/zk-opml/pkg/agent"
)

func main() {
	if err := agent.RunCLI(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
