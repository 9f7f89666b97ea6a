package cmd

import (
	"fmt"
	"time"

	"fhirindex/pkg/api"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Get status of an indexing job",
	Long:  `Retrieve a job's state (QUEUED, RUNNING, SUSPENDED, COMPLETED, ABORTED, ERROR), progress and timestamps.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		summary, err := newClient().GetJob(args[0])
		if err != nil {
			reportError(cmd, "Status", err)
			return
		}
		printSummary(cmd, *summary)
	},
}

func printSummary(cmd *cobra.Command, job api.JobSummary) {
	icon := statusIcon(job.Status)
	cmd.Printf("%s %sJob Details%s\n", icon, colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %s\n", colorDim, colorReset, job.ID)
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(job.Status))
	cmd.Printf("%sType:%s        %s\n", colorDim, colorReset, job.IdentifierType)
	cmd.Printf("%sProgress:%s    %s\n", colorDim, colorReset, progress(job.Processed, job.Total))

	if job.Error != "" {
		cmd.Printf("%sError:%s       %s%s%s\n", colorDim, colorReset, colorRed, job.Error, colorReset)
	}

	cmd.Printf("%sSubmitted:%s   %s\n", colorDim, colorReset, formatTimeWithRelative(&job.SubmittedAt))
	if job.CompletedAt != nil {
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(job.CompletedAt),
			colorCyan, formatDuration(time.Duration(job.ElapsedMillis)*time.Millisecond), colorReset)
	} else {
		cmd.Printf("%sFinished:%s    -\n", colorDim, colorReset)
	}
}

func progress(processed, total int) string {
	if total == 0 {
		return "0/0"
	}
	return fmt.Sprintf("%d/%d (%.0f%%)", processed, total, float64(processed)*100/float64(total))
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

func statusIcon(status string) string {
	switch status {
	case "COMPLETED":
		return colorGreen + "✓" + colorReset
	case "ERROR", "ABORTED":
		return colorRed + "✗" + colorReset
	case "RUNNING":
		return colorYellow + "⏳" + colorReset
	case "QUEUED":
		return colorCyan + "◯" + colorReset
	case "SUSPENDED":
		return colorYellow + "‖" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "COMPLETED":
		return icon + " " + colorGreen + status + colorReset
	case "ERROR", "ABORTED":
		return icon + " " + colorRed + status + colorReset
	case "RUNNING", "SUSPENDED":
		return icon + " " + colorYellow + status + colorReset
	case "QUEUED":
		return icon + " " + colorCyan + status + colorReset
	default:
		return status
	}
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s %s(%s ago)%s", t.Local().Format(time.DateTime), colorDim, ago(time.Since(*t)), colorReset)
}

// ago renders an elapsed time at a single unit of precision.
func ago(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%d days", int(d.Hours())/24)
}

// formatDuration renders a job's run time.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return d.Round(100 * time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
