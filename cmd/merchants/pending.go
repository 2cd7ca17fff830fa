package merchants

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/marketcore/gatekeeper/cmd/cmdutil"
	"github.com/marketcore/gatekeeper/internal/db/models"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List merchant applications awaiting review",
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenServiceBundle()
		if err != nil {
			return err
		}
		defer bundle.Close()

		profiles, err := bundle.Identity.ListPending(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list pending merchants: %w", err)
		}

		if outputFlag == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(profiles)
		}

		if len(profiles) == 0 {
			pterm.Info.Println("No pending merchant applications.")
			return nil
		}

		_ = pterm.DefaultTable.WithHasHeader().WithData(pendingTable(profiles)).Render()
		return nil
	},
}

func pendingTable(profiles []models.MerchantProfile) pterm.TableData {
	table := pterm.TableData{{"USER_ID", "EMAIL", "SHOP", "MVOLA", "SUBMITTED"}}
	for _, p := range profiles {
		email := ""
		if p.User != nil {
			email = p.User.Email
		}
		table = append(table, []string{
			p.UserID,
			email,
			p.ShopName,
			p.MvolaNumber,
			p.UpdatedAt.Format(time.RFC3339),
		})
	}
	return table
}
