package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "indexctl",
	Short: "indexctl is a command line client for the FHIR document indexing service",
	Long: `indexctl talks to the indexing API to queue, run and manage bulk jobs that
copy clinical documents from a FHIR server into Solr.

Common workflows:

  Queue a job from a file of MRNs:
    indexctl submit mrns.txt

  Index a list of document ids right away:
    indexctl submit --type DOCID --immediate ids.txt

  Index one patient by FHIR id:
    indexctl index --type PATID 8f2c1e

  Check or manage a job:
    indexctl status <job-id>
    indexctl act <job-id> suspend

Configuration:
  Set the API endpoint and key via flags, environment variables or a config file:
    FHIRINDEX_URL      API endpoint (default: http://localhost:6161)
    FHIRINDEX_TOKEN    API key`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".indexctl"
		viper.AddConfigPath(home)
		viper.SetConfigName(".indexctl")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "FHIRINDEX_VARNAME"
	viper.SetEnvPrefix("FHIRINDEX")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newClient builds a client from the resolved url and token settings.
func newClient() *IndexClient {
	return NewIndexClient(viper.GetString("url"), viper.GetString("token"))
}

// reportError prints err, with the status code when it came from the API.
func reportError(cmd *cobra.Command, what string, err error) {
	if apiErr, ok := err.(*APIError); ok {
		cmd.Printf("%s failed (%d): %s\n", what, apiErr.StatusCode, apiErr.Message)
		return
	}
	cmd.Printf("%s failed: %v\n", what, err)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.indexctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:6161", "Indexing API URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API key for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
