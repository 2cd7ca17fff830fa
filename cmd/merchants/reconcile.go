package merchants

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/marketcore/gatekeeper/cmd/cmdutil"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Replay Keycloak group assignments that previously failed",
	RunE: func(cmd *cobra.Command, args []string) error {
		if limitFlag <= 0 {
			return fmt.Errorf("--limit must be positive")
		}

		bundle, err := cmdutil.OpenServiceBundle()
		if err != nil {
			return err
		}
		defer bundle.Close()

		report, err := bundle.Identity.ReconcilePending(cmd.Context(), limitFlag)
		if err != nil {
			return fmt.Errorf("reconciliation aborted: %w", err)
		}

		if report.Attempted == 0 {
			pterm.Info.Println("No open sync failures.")
			return nil
		}

		pterm.Printf("Attempted: %d  Resolved: %d  Failed: %d\n", report.Attempted, report.Resolved, report.Failed)
		if report.Failed == 0 {
			pterm.Success.Println("All pending group assignments reached Keycloak.")
			return nil
		}

		table := pterm.TableData{{"ID", "EMAIL", "GROUP", "ATTEMPTS", "ERROR"}}
		for _, f := range report.Failures {
			table = append(table, []string{f.ID, f.Email, f.Group, strconv.Itoa(f.Attempts), f.Error})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(table).Render()
		return fmt.Errorf("%d sync failure(s) remain open", report.Failed)
	},
}
