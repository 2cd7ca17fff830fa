package users

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

var outputFlag string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local user records",
	Long: `Lists the local user shadows, newest first. A missing Keycloak ID means the
account was created before its provider subject was linked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bundle, err := cmdutil.OpenServiceBundle()
		if err != nil {
			return err
		}
		defer bundle.Close()

		users, err := bundle.Store.Users().List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}

		if outputFlag == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(users)
		}

		if len(users) == 0 {
			pterm.Info.Println("No users found.")
			return nil
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(usersTable(users)).Render()
		return nil
	},
}

func usersTable(users []models.User) pterm.TableData {
	table := pterm.TableData{{"ID", "EMAIL", "NAME", "ROLE", "KEYCLOAK_ID", "CREATED"}}
	for _, u := range users {
		subject := "-"
		if u.Subject != nil && *u.Subject != "" {
			subject = *u.Subject
		}
		table = append(table, []string{
			u.ID,
			u.Email,
			u.Name,
			string(u.Role),
			subject,
			u.CreatedAt.Format(time.RFC3339),
		})
	}
	return table
}
