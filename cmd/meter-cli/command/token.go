package command

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"meterhub/internal/adminapi"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the admin API",
	Long: `Print an HS256 token accepted by the admin API when ADMIN_JWT_SECRET is set.
Use it as "Authorization: Bearer <token>".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, _ := cmd.Flags().GetString("secret")
		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		if secret == "" {
			return fmt.Errorf("--secret or ADMIN_JWT_SECRET is required")
		}
		token, err := adminapi.IssueToken(secret, subject, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().String("secret", envOr("ADMIN_JWT_SECRET", ""), "admin JWT secret")
	tokenCmd.Flags().String("subject", "meter-cli", "token subject")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}
