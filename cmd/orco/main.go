// Command orco drives a dependency-aware JSON task queue to completion.
package main

import (
	"fmt"
	"os"

	"github.com/orco-dev/orco/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
