package cmd

import (
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index [identifier]",
	Short: "Index a single identifier right away",
	Long: `Index one MRN, patient id or document id without creating a job.

Example:
  indexctl index 1001
  indexctl index --type DOCID 4d1f0c`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		identifierType, _ := cmd.Flags().GetString("type")

		result, err := newClient().Index(args[0], identifierType)
		if err != nil {
			reportError(cmd, "Index", err)
			return
		}
		cmd.Printf("✓ %s %s: %d documents indexed, %d failed\n",
			result.IdentifierType, result.Identifier, result.Result.Succeeded, result.Result.Failed)
	},
}

func init() {
	indexCmd.Flags().String("type", "", "Identifier type: MRN, PATID or DOCID (default MRN)")
	rootCmd.AddCommand(indexCmd)
}
