// Package main is the entry point for the indexing service. One process runs
// the HTTP API and the worker pool against a shared job store.
package main

import (
	"os"

	"fhirindex/cmd/indexer/cmd"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
