package realm

import "github.com/spf13/cobra"

var extraGroups []string

// RealmCmd is the parent command for Keycloak realm setup
var RealmCmd = &cobra.Command{
	Use:   "realm",
	Short: "Prepare the Keycloak realm used by the marketplace",
}

func init() {
	bootstrapCmd.Flags().StringSliceVar(&extraGroups, "group", nil, "Additional group(s) to ensure besides client, merchant and the privileged group")
	RealmCmd.AddCommand(bootstrapCmd)
}
