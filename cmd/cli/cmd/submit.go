package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit [file]",
	Short: "Submit an identifier list for indexing",
	Long: `Submit a newline separated list of identifiers. The list is read from the
given file, or from stdin when no file (or "-") is given.

By default the job is queued and its id printed. With --immediate the
service indexes the list before answering and the tally is printed.

Example:
  indexctl submit mrns.txt
  cat docids.txt | indexctl submit --type DOCID --immediate`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		immediate, _ := flags.GetBool("immediate")
		identifierType, _ := flags.GetString("type")

		var src io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				cmd.Printf("Error: %v\n", err)
				return
			}
			defer f.Close()
			src = f
		}

		body, err := submissionBody(src, identifierType)
		if err != nil {
			cmd.Printf("Error: %v\n", err)
			return
		}

		result, err := newClient().Submit(body, immediate)
		if err != nil {
			reportError(cmd, "Submit", err)
			return
		}

		if !immediate {
			cmd.Printf("✓ Job queued!\nJob ID: %s\nIdentifiers: %d (%s)\n",
				result.Job.ID, result.Job.Total, result.Job.IdentifierType)
			return
		}

		printSummary(cmd, result.Job)
		cmd.Printf("%sIndexed:%s     %d succeeded, %d failed (%.1f%%)\n", colorDim, colorReset,
			result.Result.Succeeded, result.Result.Failed, result.Result.PercentSucceeded)
	},
}

// submissionBody prefixes the list with a type directive when one is given.
func submissionBody(src io.Reader, identifierType string) (io.Reader, error) {
	identifierType = strings.ToUpper(strings.TrimSpace(identifierType))
	if identifierType == "" {
		return src, nil
	}
	switch identifierType {
	case "MRN", "PATID", "DOCID":
	default:
		return nil, fmt.Errorf("unknown identifier type %q (want MRN, PATID or DOCID)", identifierType)
	}
	return io.MultiReader(bytes.NewBufferString(identifierType+"\n"), src), nil
}

func init() {
	flags := submitCmd.Flags()
	flags.Bool("immediate", false, "Index the list before returning instead of queueing it")
	flags.String("type", "", "Identifier type: MRN, PATID or DOCID (default: from the list, else MRN)")

	rootCmd.AddCommand(submitCmd)
}
