// Package cmd holds the indexing service's commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "fhirindex",
	Short: "Bulk indexing of FHIR clinical documents into Solr",
	Long: `fhirindex pulls clinical notes from a FHIR server and indexes them, along
with the owning patient's demographics, into Solr.

Jobs are submitted over the HTTP API as identifier lists (MRNs, patient ids
or document ids), persisted in PostgreSQL and worked through by a pool of
workers that survive restarts, suspends and aborts.

Configuration is read from indexer.yaml in the working directory (or --config)
and from environment variables such as DATABASE_URL and FHIR_BASE_URL.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./indexer.yaml)")
}
