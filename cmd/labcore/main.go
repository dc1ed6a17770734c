// Command labcore is the operator CLI for the worklist core: it inspects the
// status catalog, resolves worklist stages and runs reconciliation batches
// against the store selected by the LABCORE_* environment.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var exitFunc = os.Exit

func main() {
	exitFunc(run(os.Args[1:]))
}

// run executes the CLI and maps the outcome to a process exit code.
func run(args []string) int {
	if err := execute(context.Background(), args, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitCode(err)
	}
	return 0
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errPartialBatch):
		return 2
	default:
		return 1
	}
}
