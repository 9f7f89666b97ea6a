// Package main is the entry point for indexctl, the command line client for
// the indexing API.
package main

import (
	"os"

	"fhirindex/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
