package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Fail jobs with an expired lease and republish stale pending jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := s.service.Reconcile(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(cmd.OutOrStdout(), result)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "expired %d, republished %d\n", result.Expired, result.Republished)
		return nil
	},
}
