package realm

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/marketcore/gatekeeper/cmd/cmdutil"
	"github.com/marketcore/gatekeeper/internal/auth"
	"github.com/marketcore/gatekeeper/internal/keycloak"
)

// bootstrapCmd makes sure every group the marketplace relies on exists
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the client, merchant and privileged groups in the realm",
	Long: `Ensures the groups used for capability checks exist in the configured realm.

Group membership is what authorization decisions are made from:
  client    every registered account
  merchant  accounts whose merchant application was approved
  owner     marketplace operators (configurable via authz.privileged_group)

Existing groups are left untouched, so the command is safe to re-run.

Example:
  gatekeeper realm bootstrap --group support
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := cmdutil.Current()
		if err != nil {
			return err
		}

		client := keycloak.New(cfg.Keycloak, log, nil)
		groups := ensureList(cfg.Authz.PrivilegedGroup, extraGroups)

		pterm.Info.Printf("Bootstrapping realm '%s' at %s\n", cfg.Keycloak.Realm, cfg.Keycloak.URL)
		table := pterm.TableData{{"GROUP", "ID", "STATUS"}}
		for _, name := range groups {
			id, created, err := client.EnsureGroup(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("failed to ensure group '%s': %w", name, err)
			}
			status := "exists"
			if created {
				status = "created"
			}
			table = append(table, []string{name, id, status})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(table).Render()

		pterm.Success.Println("Realm bootstrap complete")
		pterm.Println("\nSend SIGHUP to running gatekeeper processes to drop cached group ids:")
		pterm.Println("  Example: pkill -SIGHUP gatekeeper")
		return nil
	},
}

// ensureList returns the normalized, de-duplicated groups to create.
func ensureList(privileged string, extra []string) []string {
	candidates := append([]string{auth.GroupClient, auth.GroupMerchant, privileged}, extra...)
	if privileged == "" {
		candidates[2] = auth.GroupOwner
	}
	return auth.NormalizeGroups(candidates)
}
