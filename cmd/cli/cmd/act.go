package cmd

import (
	"strings"

	"github.com/spf13/cobra"
)

var actions = []string{"suspend", "resume", "restart", "abort", "delete"}

var actCmd = &cobra.Command{
	Use:       "act [job_id] [action]",
	Short:     "Suspend, resume, restart, abort or delete a job",
	Long:      `Apply an action to a job. A running job picks the change up after its current identifier.`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: actions,
	Run: func(cmd *cobra.Command, args []string) {
		id, action := args[0], strings.ToLower(args[1])

		valid := false
		for _, a := range actions {
			if a == action {
				valid = true
				break
			}
		}
		if !valid {
			cmd.Printf("Error: unknown action %q (want one of %s)\n", args[1], strings.Join(actions, ", "))
			return
		}

		summary, err := newClient().Act(id, action)
		if err != nil {
			reportError(cmd, "Action", err)
			return
		}
		cmd.Printf("✓ %s applied to job %s, now %s\n", strings.ToUpper(action), summary.ID, colorizeStatus(summary.Status))
	},
}

func init() {
	rootCmd.AddCommand(actCmd)
}
