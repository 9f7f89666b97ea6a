package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List indexing jobs",
	Run: func(cmd *cobra.Command, args []string) {
		jobs, err := newClient().ListJobs()
		if err != nil {
			reportError(cmd, "List", err)
			return
		}

		if len(jobs) == 0 {
			cmd.Println("No jobs found.")
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		defer w.Flush()

		fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tPROGRESS\tSUBMITTED\tERROR")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				j.ID, j.Status, j.IdentifierType, progress(j.Processed, j.Total),
				j.SubmittedAt.Local().Format("2006-01-02 15:04"), j.Error)
		}
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
