package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/isdelr/safeback/internal/auth"
)

func tokenCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)

	command := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed API token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := auth.NewAuthenticator(cfg.JWTSecret, "").GenerateJWT(userID, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	command.Flags().StringVarP(&userID, "user", "u", "", "user id to embed in the token")
	command.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = command.MarkFlagRequired("user")

	return command
}
