// Package main provides the entry point for the traceoor application.
package main

import (
	"os"

	"github.com/ethpandaops/traceoor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
