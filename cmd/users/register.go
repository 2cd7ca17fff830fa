package users

import (
	"bufio"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/marketcore/gatekeeper/cmd/cmdutil"
	"github.com/marketcore/gatekeeper/internal/apperr"
	"github.com/marketcore/gatekeeper/internal/db/models"
	"github.com/marketcore/gatekeeper/internal/services/identity"
)

var (
	emailFlag    string
	nameFlag     string
	passwordFlag string
	stdinFlag    bool
	shopNameFlag string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a client or merchant account",
	Long: `Creates the account in Keycloak, adds it to the client group and records the
local user. With --shop-name a PENDING merchant profile is created as well.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if emailFlag == "" {
			return fmt.Errorf("--email flag is required")
		}
		if nameFlag == "" {
			return fmt.Errorf("--name flag is required")
		}

		password := passwordFlag
		if stdinFlag {
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Print("Enter password: ")
			if scanner.Scan() {
				password = scanner.Text()
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
		}
		if password == "" {
			return fmt.Errorf("password is required (use --password or --stdin)")
		}

		bundle, err := cmdutil.OpenServiceBundle()
		if err != nil {
			return err
		}
		defer bundle.Close()

		ctx := cmd.Context()
		req := identity.RegisterRequest{Email: emailFlag, Password: password, Name: nameFlag}

		var (
			user    *models.User
			profile *models.MerchantProfile
		)
		if shopNameFlag != "" {
			user, profile, err = bundle.Identity.RegisterMerchant(ctx, identity.RegisterMerchantRequest{
				RegisterRequest: req,
				ShopInfo:        models.ShopInfo{ShopName: shopNameFlag},
			})
		} else {
			user, err = bundle.Identity.RegisterClient(ctx, req)
		}

		switch {
		case err == nil:
		case user != nil && apperr.IsKind(err, apperr.KindPartialSync):
			pterm.Warning.Printf("Account created but group assignment is pending: %v\n", err)
			pterm.Info.Println("Run 'gatekeeper merchants reconcile' once Keycloak is reachable.")
		default:
			return fmt.Errorf("failed to register user: %w", err)
		}

		pterm.Success.Printf("Registered %s\n", user.Email)
		pterm.Printf("  User ID:     %s\n", user.ID)
		pterm.Printf("  Keycloak ID: %s\n", user.PrincipalSubject())
		pterm.Printf("  Role:        %s\n", user.Role)
		if profile != nil {
			pterm.Printf("  Shop:        %s (%s)\n", profile.ShopName, profile.Status)
		}
		return nil
	},
}
