package users

import "github.com/spf13/cobra"

// UsersCmd is the parent command for user management operations
var UsersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage marketplace accounts",
	Long:  `Commands for creating and listing marketplace accounts in Keycloak and the local database.`,
}

func init() {
	registerCmd.Flags().StringVar(&emailFlag, "email", "", "Email address of the user")
	registerCmd.Flags().StringVar(&nameFlag, "name", "", "Full name of the user")
	registerCmd.Flags().StringVar(&passwordFlag, "password", "", "Password for the user (use --stdin to avoid shell history)")
	registerCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "Read password from stdin instead of --password flag")
	registerCmd.Flags().StringVar(&shopNameFlag, "shop-name", "", "Register as a merchant with this shop name")

	listCmd.Flags().StringVarP(&outputFlag, "output", "o", "table", "Output format (table|json)")

	UsersCmd.AddCommand(registerCmd)
	UsersCmd.AddCommand(listCmd)
}
