package merchants

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/marketcore/gatekeeper/cmd/cmdutil"
)

var approveCmd = &cobra.Command{
	Use:   "approve <user-id>",
	Short: "Approve a pending merchant application",
	Long: `Marks the merchant profile APPROVED, grants the MERCHANT role locally and adds
the account to the Keycloak merchant group. A failed group assignment does not
undo the approval; it is queued for 'merchants reconcile'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenServiceBundle()
		if err != nil {
			return err
		}
		defer bundle.Close()

		result, err := bundle.Identity.Approve(cmd.Context(), args[0], actorFlag)
		if err != nil {
			return fmt.Errorf("failed to approve merchant %s: %w", args[0], err)
		}

		pterm.Success.Printf("Approved %s (%s)\n", result.Profile.ShopName, result.Profile.UserID)
		if !result.ProviderSynced {
			pterm.Warning.Printf("Keycloak group assignment queued for reconciliation (sync failure %s)\n", result.SyncFailureID)
		} else {
			pterm.Info.Println("The merchant must sign in again for the new group to appear in their token.")
		}
		return nil
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <user-id>",
	Short: "Reject a pending merchant application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenServiceBundle()
		if err != nil {
			return err
		}
		defer bundle.Close()

		profile, err := bundle.Identity.Reject(cmd.Context(), args[0], actorFlag)
		if err != nil {
			return fmt.Errorf("failed to reject merchant %s: %w", args[0], err)
		}

		pterm.Success.Printf("Rejected %s (%s)\n", profile.ShopName, profile.UserID)
		return nil
	},
}
