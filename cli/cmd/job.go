package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect evaluation jobs",
}

var jobGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id %q: %w", args[0], err)
		}

		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer s.Close()

		job, err := s.service.Job(cmd.Context(), id)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if jsonOutput() {
			return printJSON(out, job)
		}

		fmt.Fprintf(out, "%s  %s  %s  %d%%\n", job.ID, job.Kind, job.Status, job.Progress)
		if job.Error != "" {
			fmt.Fprintf(out, "error: %s (retryable: %t)\n", job.Error, job.Retryable)
		}
		if job.ResultRef != "" {
			fmt.Fprintf(out, "result: %s\n", job.ResultRef)
		}
		return nil
	},
}

func init() {
	jobCmd.AddCommand(jobGetCmd)
}
