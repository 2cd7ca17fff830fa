package merchants

import (
	"github.com/spf13/cobra"
)

var (
	actorFlag  string
	limitFlag  int
	outputFlag string
)

// MerchantsCmd is the parent command for merchant onboarding operations
var MerchantsCmd = &cobra.Command{
	Use:   "merchants",
	Short: "Review merchant applications and repair provider sync",
	Long: `Commands for listing pending merchant applications, approving or rejecting
them, and replaying group assignments that did not reach Keycloak.`,
}

func init() {
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().StringVar(&actorFlag, "actor", "cli", "Actor recorded on the lifecycle event")
	}
	pendingCmd.Flags().StringVarP(&outputFlag, "output", "o", "table", "Output format: table or json")
	reconcileCmd.Flags().IntVar(&limitFlag, "limit", 100, "Maximum number of open sync failures to replay")

	MerchantsCmd.AddCommand(pendingCmd)
	MerchantsCmd.AddCommand(approveCmd)
	MerchantsCmd.AddCommand(rejectCmd)
	MerchantsCmd.AddCommand(reconcileCmd)
}
